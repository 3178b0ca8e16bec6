package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/specforge/specforge/pkg/config"
	"github.com/specforge/specforge/pkg/logger"
	"github.com/specforge/specforge/pkg/providers"
	"github.com/specforge/specforge/pkg/tools"
)

// How much of the parent transcript a sub-agent sees as context.
const parentContextMessages = 4

// subAgentOutcome is the folded total of one spawn request.
type subAgentOutcome struct {
	findings  string
	cost      float64
	tokens    int
	spawned   int
	toolsUsed []tools.Invocation
}

// runSubAgents executes a parent's spawn request: up to MaxSubAgents
// concurrent focused loops, each with the smaller sub-agent iteration
// budget and no spawning rights of its own. Recursion depth is hard-capped
// at one level.
func (o *Orchestrator) runSubAgents(ctx context.Context, userInput string, a ExpertAssignment, expert config.ExpertConfig, tasks []string, parentTranscript []providers.Message) subAgentOutcome {
	maxSubAgents := o.cfg.Pipeline.MaxSubAgents
	if len(tasks) > maxSubAgents {
		tasks = tasks[:maxSubAgents]
	}

	parentContext := transcriptTail(parentTranscript, parentContextMessages)

	results := settleAll(ctx, tasks, func(ctx context.Context, i int, task string) (subAgentResult, error) {
		return o.runSubAgentLoop(ctx, userInput, a, expert, task, parentContext)
	})

	outcome := subAgentOutcome{spawned: len(tasks)}
	var sections []string
	for i, s := range results {
		if s.Err != nil {
			logger.WarnCF("pipeline", "sub-agent failed", map[string]any{
				"expert": a.ExpertID,
				"task":   tasks[i],
				"error":  s.Err.Error(),
			})
			sections = append(sections, fmt.Sprintf("Sub-task %q failed: %v", tasks[i], s.Err))
			outcome.cost += s.Value.cost
			outcome.tokens += s.Value.tokens
			continue
		}
		sections = append(sections, fmt.Sprintf("Sub-task %q:\n%s", tasks[i], s.Value.findings))
		outcome.cost += s.Value.cost
		outcome.tokens += s.Value.tokens
		outcome.toolsUsed = append(outcome.toolsUsed, s.Value.toolsUsed...)
	}
	outcome.findings = strings.Join(sections, "\n\n")
	return outcome
}

type subAgentResult struct {
	findings  string
	cost      float64
	tokens    int
	toolsUsed []tools.Invocation
}

// runSubAgentLoop is the shallow variant of the research loop: tool calls
// and completion only, no reflection checkpoints, no nested spawning.
func (o *Orchestrator) runSubAgentLoop(ctx context.Context, userInput string, a ExpertAssignment, expert config.ExpertConfig, task, parentContext string) (subAgentResult, error) {
	maxIterations := o.cfg.Pipeline.SubAgentIterations
	result := subAgentResult{toolsUsed: []tools.Invocation{}}

	systemPrompt, err := o.render("subagent_task", map[string]any{
		"Task":     task,
		"Question": questionList(a.Questions) + "\n\nRecent parent context:\n" + parentContext,
		"ToolList": strings.Join(o.tools.Summaries(), "\n"),
	})
	if err != nil {
		return result, err
	}

	transcript := []providers.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: "Begin. Respond with exactly one structured JSON signal per turn."},
	}

	lastRaw := ""
	for iteration := 1; iteration <= maxIterations; iteration++ {
		if iteration == maxIterations {
			forced, ferr := o.render("research_force_complete", nil)
			if ferr == nil {
				transcript = append(transcript, providers.Message{Role: "user", Content: forced})
			}
		}

		invokeResult, err := o.invoke(ctx, a.Model, "subagent_task", transcript,
			map[string]any{"temperature": expert.Temperature})
		if err != nil {
			return result, fmt.Errorf("sub-agent model call failed: %w", err)
		}
		result.cost += invokeResult.Cost
		result.tokens += resultTokens(invokeResult)
		lastRaw = resultContent(invokeResult)
		transcript = append(transcript, providers.Message{Role: "assistant", Content: lastRaw})

		signal := parseAgentSignal(lastRaw)
		switch {
		case signal.complete != nil:
			result.findings = signal.complete.findingsText(lastRaw)
			return result, nil

		case signal.toolCall != nil:
			toolRes, invocation := o.tools.Execute(ctx, signal.toolCall.Name, signal.toolCall.Args)
			result.toolsUsed = append(result.toolsUsed, invocation)
			transcript = append(transcript, providers.Message{Role: "user", Content: renderToolResult(toolRes)})

		default:
			// Sub-agents may not spawn; anything unstructured gets the
			// same nudge the parent loop uses.
			transcript = append(transcript, providers.Message{
				Role:    "user",
				Content: "Respond with exactly one structured JSON signal: tool_call or research_complete.",
			})
		}
	}

	result.findings = stripMarkdown(lastRaw)
	if result.findings == "" {
		result.findings = fmt.Sprintf("Sub-task produced no findings within %d iterations.", maxIterations)
	}
	return result, nil
}

// transcriptTail renders the last n transcript messages as plain text.
func transcriptTail(transcript []providers.Message, n int) string {
	if len(transcript) > n {
		transcript = transcript[len(transcript)-n:]
	}
	var b strings.Builder
	for _, m := range transcript {
		if m.Role == "system" {
			continue
		}
		fmt.Fprintf(&b, "[%s] %s\n", m.Role, m.Content)
	}
	return strings.TrimSpace(b.String())
}
