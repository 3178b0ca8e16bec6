package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/specforge/specforge/pkg/logger"
	"github.com/specforge/specforge/pkg/providers"
	"github.com/specforge/specforge/pkg/tools"
)

// Reflection checkpoints are advisory prompt content. Only the iteration
// ceiling is structurally enforced.
var reflectionCheckpoints = map[int]bool{5: true, 10: true}

// ExecuteResearch fans every assignment out as an independent bounded agent
// loop. A failed loop yields a zero-confidence diagnostic result; it never
// takes its siblings down or loses accrued cost.
func (o *Orchestrator) ExecuteResearch(ctx context.Context, userInput string, assignments []ExpertAssignment) (*ResearchResponse, error) {
	start := time.Now()
	emit(o.emitter, EventStageStarted, "research", "", map[string]any{"agents": len(assignments)})

	settledResults := settleAll(ctx, assignments, func(ctx context.Context, _ int, a ExpertAssignment) (AgentResearchResult, error) {
		return o.runAgentLoop(ctx, userInput, a), nil
	})

	var metadata StageMetadata
	results := make([]AgentResearchResult, 0, len(assignments))
	for _, s := range settledResults {
		result := s.Value
		if s.Err != nil {
			// Only panics land here; loop-level failures are already
			// folded into the result by runAgentLoop.
			a := assignments[s.Index]
			result = failedResult(a, 0, 0, 0, s.Err)
		}
		metadata.add(result.Cost, result.TokensUsed)
		results = append(results, result)
	}
	metadata.Failures = zeroConfidenceCount(results)

	metadata.DurationMS = time.Since(start).Milliseconds()
	emit(o.emitter, EventStageCompleted, "research", "", map[string]any{
		"results":  len(results),
		"failures": metadata.Failures,
	})

	return &ResearchResponse{
		ResearchResults: results,
		Assignments:     assignments,
		Metadata:        metadata,
	}, nil
}

func zeroConfidenceCount(results []AgentResearchResult) int {
	n := 0
	for _, r := range results {
		if r.Confidence == 0 {
			n++
		}
	}
	return n
}

// runAgentLoop drives one expert agent to a terminal state: completion,
// iteration exhaustion, or unrecoverable error. It always returns a result;
// failures surface as confidence 0 with whatever cost already accrued.
func (o *Orchestrator) runAgentLoop(ctx context.Context, userInput string, a ExpertAssignment) AgentResearchResult {
	start := time.Now()
	maxIterations := o.cfg.Pipeline.MaxIterations
	expert, _ := o.cfg.Expert(a.ExpertID)

	emit(o.emitter, EventAgentStarted, "research", a.ExpertID, map[string]any{
		"questions": len(a.Questions),
		"model":     a.Model,
	})

	result := AgentResearchResult{
		ExpertID:   a.ExpertID,
		ExpertName: a.ExpertName,
		Questions:  a.Questions,
		Model:      a.Model,
		ToolsUsed:  []tools.Invocation{},
	}

	systemPrompt, err := o.render("research_system", map[string]any{
		"ExpertName":   a.ExpertName,
		"ExpertPrompt": expert.SystemPrompt,
		"Idea":         userInput,
		"Question":     questionList(a.Questions),
		"ToolList":     strings.Join(o.tools.Summaries(), "\n"),
	})
	if err != nil {
		return o.finishAgent(failedResult(a, 0, 0, 0, err), start)
	}

	transcript := []providers.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: "Begin your research. Respond with exactly one structured JSON signal per turn."},
	}

	lastRaw := ""
	for iteration := 1; iteration <= maxIterations; iteration++ {
		result.IterationsUsed = iteration

		if reflectionCheckpoints[iteration] && iteration < maxIterations {
			reflection, rerr := o.render("research_reflection", map[string]any{
				"Iteration":     iteration,
				"MaxIterations": maxIterations,
			})
			if rerr == nil {
				transcript = append(transcript, providers.Message{Role: "user", Content: reflection})
				emit(o.emitter, EventAgentReflected, "research", a.ExpertID, map[string]any{"iteration": iteration})
			}
		}
		if iteration == maxIterations {
			forced, ferr := o.render("research_force_complete", nil)
			if ferr == nil {
				transcript = append(transcript, providers.Message{Role: "user", Content: forced})
			}
		}

		invokeResult, err := o.invoke(ctx, a.Model, "research_system", transcript,
			map[string]any{"temperature": expert.Temperature})
		if err != nil {
			logger.ErrorCF("pipeline", "agent model call failed", map[string]any{
				"expert":    a.ExpertID,
				"iteration": iteration,
				"error":     err.Error(),
			})
			emit(o.emitter, EventAgentError, "research", a.ExpertID, map[string]any{"error": err.Error()})
			return o.finishAgent(failedResult(a, result.Cost, result.TokensUsed, iteration, err), start)
		}

		result.Cost += invokeResult.Cost
		result.TokensUsed += resultTokens(invokeResult)
		lastRaw = resultContent(invokeResult)
		transcript = append(transcript, providers.Message{Role: "assistant", Content: lastRaw})

		emit(o.emitter, EventAgentIteration, "research", a.ExpertID, map[string]any{"iteration": iteration})

		signal := parseAgentSignal(lastRaw)
		switch {
		case signal.complete != nil:
			result.Findings = signal.complete.findingsText(lastRaw)
			result.Confidence = completionConfidence(signal.complete)
			result.Duration = time.Since(start)
			emit(o.emitter, EventAgentCompleted, "research", a.ExpertID, map[string]any{
				"iterations": iteration,
				"confidence": result.Confidence,
			})
			return o.finishAgent(result, start)

		case signal.spawn != nil:
			outcome := o.runSubAgents(ctx, userInput, a, expert, signal.spawn.Tasks, transcript)
			result.Cost += outcome.cost
			result.TokensUsed += outcome.tokens
			result.SubAgentsSpawned += outcome.spawned
			result.ToolsUsed = append(result.ToolsUsed, outcome.toolsUsed...)
			transcript = append(transcript, providers.Message{
				Role:    "user",
				Content: "[Sub-Agent Findings]\n" + outcome.findings,
			})
			emit(o.emitter, EventSubAgentsSpawned, "research", a.ExpertID, map[string]any{"count": outcome.spawned})

		case signal.toolCall != nil:
			toolResult, invocation := o.tools.Execute(ctx, signal.toolCall.Name, signal.toolCall.Args)
			result.ToolsUsed = append(result.ToolsUsed, invocation)
			transcript = append(transcript, providers.Message{Role: "user", Content: renderToolResult(toolResult)})
			emit(o.emitter, EventToolUsed, "research", a.ExpertID, map[string]any{
				"tool":    signal.toolCall.Name,
				"success": invocation.Success,
			})

		default:
			// Unstructured prose. Keep it in the transcript and steer the
			// agent back to the protocol.
			transcript = append(transcript, providers.Message{
				Role:    "user",
				Content: "Respond with exactly one structured JSON signal: tool_call, spawn_subagents, or research_complete.",
			})
		}
	}

	// Iteration budget exhausted without a completion signal. Whatever the
	// agent last said becomes the findings; never return empty findings
	// here.
	result.Findings = stripMarkdown(lastRaw)
	if result.Findings == "" {
		result.Findings = fmt.Sprintf("Research incomplete: %s produced no findings within %d iterations.",
			a.ExpertName, maxIterations)
	}
	result.Confidence = 30
	emit(o.emitter, EventAgentCompleted, "research", a.ExpertID, map[string]any{
		"iterations": maxIterations,
		"exhausted":  true,
	})
	return o.finishAgent(result, start)
}

func (o *Orchestrator) finishAgent(result AgentResearchResult, start time.Time) AgentResearchResult {
	result.Duration = time.Since(start)
	return result
}

// failedResult is the terminal result for an unrecoverable loop failure.
// Cost accounting is preserved even on failure.
func failedResult(a ExpertAssignment, cost float64, tokens, iterations int, err error) AgentResearchResult {
	return AgentResearchResult{
		ExpertID:       a.ExpertID,
		ExpertName:     a.ExpertName,
		Questions:      a.Questions,
		Findings:       fmt.Sprintf("Research failed: %v", err),
		Confidence:     0,
		Model:          a.Model,
		Cost:           cost,
		TokensUsed:     tokens,
		IterationsUsed: iterations,
		ToolsUsed:      []tools.Invocation{},
	}
}

func completionConfidence(sig *completeSignal) int {
	if sig == nil || len(sig.Findings) == 0 {
		return 60
	}
	total := 0
	for _, f := range sig.Findings {
		total += clamp(f.Confidence, 0, 100)
	}
	confidence := total / len(sig.Findings)
	if confidence == 0 {
		confidence = 1 // zero is reserved for failures
	}
	return confidence
}

func renderToolResult(result *tools.ToolResult) string {
	if result == nil {
		return "[Tool Error] tool returned no result"
	}
	if result.IsError {
		return "[Tool Error] " + result.Content
	}
	payload, err := json.Marshal(map[string]any{"success": true, "data": result.Content})
	if err != nil {
		return "[Tool Result] " + result.Content
	}
	return "[Tool Result] " + string(payload)
}

func questionList(questions []ResearchQuestion) string {
	var b strings.Builder
	for _, q := range questions {
		fmt.Fprintf(&b, "- [%s, priority %d] %s\n", q.Domain, q.Priority, q.Question)
	}
	return strings.TrimSpace(b.String())
}
