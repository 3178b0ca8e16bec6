package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/specforge/specforge/pkg/logger"
	"github.com/specforge/specforge/pkg/providers"
)

// Synthesize produces one reconciled position per research result,
// incorporating that expert's debate resolution when one exists. Matching
// is by expert id, never array position. Failures are isolated: a smaller
// synthesis set still proceeds.
func (o *Orchestrator) Synthesize(ctx context.Context, userInput, userComment string, results []AgentResearchResult, resolutions []DebateResolution) (*SynthesisResponse, error) {
	start := time.Now()
	emit(o.emitter, EventStageStarted, "synthesis", "", nil)

	resolutionByExpert := make(map[string]DebateResolution, len(resolutions))
	for _, r := range resolutions {
		resolutionByExpert[r.ExpertID] = r
	}

	settledSyntheses := settleAll(ctx, results, func(ctx context.Context, _ int, r AgentResearchResult) (synthesisOutcome, error) {
		resolution, debated := resolutionByExpert[r.ExpertID]
		return o.synthesizeOne(ctx, userInput, userComment, r, resolution, debated)
	})

	var metadata StageMetadata
	syntheses := make([]ExpertSynthesis, 0, len(results))
	for _, s := range settledSyntheses {
		if s.Err != nil {
			metadata.Failures++
			logger.WarnCF("pipeline", "synthesis failed for expert", map[string]any{
				"expert": results[s.Index].ExpertID,
				"error":  s.Err.Error(),
			})
			continue
		}
		metadata.add(s.Value.cost, s.Value.tokens)
		syntheses = append(syntheses, s.Value.synthesis)
	}

	metadata.DurationMS = time.Since(start).Milliseconds()
	emit(o.emitter, EventStageCompleted, "synthesis", "", map[string]any{
		"syntheses": len(syntheses),
		"failures":  metadata.Failures,
	})

	if len(syntheses) == 0 {
		return nil, fmt.Errorf("all synthesis calls failed")
	}
	return &SynthesisResponse{Syntheses: syntheses, Metadata: metadata}, nil
}

type synthesisOutcome struct {
	synthesis ExpertSynthesis
	cost      float64
	tokens    int
}

func (o *Orchestrator) synthesizeOne(ctx context.Context, userInput, userComment string, r AgentResearchResult, resolution DebateResolution, debated bool) (synthesisOutcome, error) {
	expert, _ := o.cfg.Expert(r.ExpertID)

	resolutionText := ""
	battleTested := false
	confidenceBoost := 0
	if debated && len(resolution.Challenges) > 0 {
		resolutionText = resolution.Resolution
		battleTested = true
		confidenceBoost = resolution.ConfidenceChange
	}

	prompt, err := o.render("synthesis", map[string]any{
		"ExpertName":   r.ExpertName,
		"ExpertPrompt": expert.SystemPrompt,
		"Idea":         userInput,
		"Findings":     r.Findings,
		"Resolution":   resolutionText,
		"UserComment":  userComment,
	})
	if err != nil {
		return synthesisOutcome{}, err
	}

	invokeResult, err := o.invoke(ctx, o.cfg.ModelForRole("synthesis"), "synthesis",
		[]providers.Message{{Role: "user", Content: prompt}},
		map[string]any{"temperature": expert.Temperature})
	if err != nil {
		return synthesisOutcome{}, err
	}

	synthesis := ExpertSynthesis{
		ExpertID:   r.ExpertID,
		ExpertName: r.ExpertName,
		Synthesis:  stripMarkdown(resultContent(invokeResult)),
		Timestamp:  time.Now().UTC(),
		ResearchQuality: ResearchQuality{
			ToolsUsed:       len(r.ToolsUsed),
			Cost:            r.Cost,
			Duration:        r.Duration.Milliseconds(),
			BattleTested:    battleTested,
			ConfidenceBoost: confidenceBoost,
		},
	}
	if synthesis.Synthesis == "" {
		return synthesisOutcome{}, fmt.Errorf("model returned empty synthesis")
	}

	return synthesisOutcome{
		synthesis: synthesis,
		cost:      invokeResult.Cost,
		tokens:    resultTokens(invokeResult),
	}, nil
}
