package pipeline

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/specforge/specforge/pkg/providers"
)

// GenerateSpec folds the approved expert conclusions into the final
// long-form specification. Contributions are weighted deterministically by
// each expert's tool-usage depth relative to the average, and the consensus
// lists come straight from the voting stage's booleans.
func (o *Orchestrator) GenerateSpec(ctx context.Context, userInput string, syntheses []ExpertSynthesis, votes []ExpertVote) (*SpecResponse, error) {
	start := time.Now()
	emit(o.emitter, EventStageStarted, "spec", "", nil)

	if len(syntheses) == 0 {
		return nil, fmt.Errorf("no syntheses to assemble a spec from")
	}

	approvedBy, dissentedBy := tallyVotes(votes)

	prompt, err := o.render("spec_generation", map[string]any{
		"Idea":        userInput,
		"Conclusions": weightedConclusions(syntheses),
		"ApprovedBy":  joinOrNone(approvedBy),
		"DissentedBy": joinOrNone(dissentedBy),
		"MaxTokens":   o.cfg.Pipeline.SpecMaxTokens,
	})
	if err != nil {
		return nil, err
	}

	invokeResult, err := o.invoke(ctx, o.cfg.ModelForRole("spec"), "spec_generation",
		[]providers.Message{{Role: "user", Content: prompt}},
		map[string]any{
			"temperature": 0.5,
			"max_tokens":  o.cfg.Pipeline.SpecMaxTokens,
		})
	if err != nil {
		return nil, fmt.Errorf("spec generation failed: %w", err)
	}

	spec := strings.TrimSpace(resultContent(invokeResult))
	if spec == "" {
		return nil, fmt.Errorf("spec generation returned empty output")
	}

	metadata := StageMetadata{
		TotalCost:   invokeResult.Cost,
		TotalTokens: resultTokens(invokeResult),
		DurationMS:  time.Since(start).Milliseconds(),
	}
	emit(o.emitter, EventStageCompleted, "spec", "", map[string]any{"chars": len(spec)})

	return &SpecResponse{
		Spec:           spec,
		ApprovedBy:     approvedBy,
		DissentedBy:    dissentedBy,
		ConsensusScore: consensusScore(votes),
		Metadata:       metadata,
	}, nil
}

func tallyVotes(votes []ExpertVote) (approvedBy, dissentedBy []string) {
	for _, v := range votes {
		if v.Approved {
			approvedBy = append(approvedBy, v.Agent)
		} else {
			dissentedBy = append(dissentedBy, v.Agent)
		}
	}
	return approvedBy, dissentedBy
}

// consensusScore is the confidence-weighted approval share, 0..100. With no
// recorded confidence it falls back to the plain approval ratio.
func consensusScore(votes []ExpertVote) int {
	if len(votes) == 0 {
		return 0
	}

	totalConfidence := 0
	approvedConfidence := 0
	approvedCount := 0
	for _, v := range votes {
		totalConfidence += v.Confidence
		if v.Approved {
			approvedConfidence += v.Confidence
			approvedCount++
		}
	}
	if totalConfidence == 0 {
		return int(math.Round(100 * float64(approvedCount) / float64(len(votes))))
	}
	return int(math.Round(100 * float64(approvedConfidence) / float64(totalConfidence)))
}

// weightedConclusions renders each synthesis with its research-depth
// weight, deepest research first.
func weightedConclusions(syntheses []ExpertSynthesis) string {
	totalTools := 0
	for _, s := range syntheses {
		totalTools += s.ResearchQuality.ToolsUsed
	}
	avgTools := float64(totalTools) / float64(len(syntheses))

	type weighted struct {
		synthesis ExpertSynthesis
		weight    float64
	}
	items := make([]weighted, 0, len(syntheses))
	for _, s := range syntheses {
		items = append(items, weighted{synthesis: s, weight: depthWeight(s, avgTools)})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].weight > items[j].weight })

	var b strings.Builder
	for _, item := range items {
		s := item.synthesis
		fmt.Fprintf(&b, "## %s (research depth weight %.1f", s.ExpertName, item.weight)
		if s.ResearchQuality.BattleTested {
			b.WriteString(", battle-tested")
		}
		fmt.Fprintf(&b, ")\n%s\n\n", s.Synthesis)
	}
	return strings.TrimSpace(b.String())
}

// depthWeight maps an expert's tool usage relative to the mean into a
// bounded multiplier, so a tool-heavy expert counts more without drowning
// the rest.
func depthWeight(s ExpertSynthesis, avgTools float64) float64 {
	if avgTools <= 0 {
		return 1.0
	}
	w := float64(s.ResearchQuality.ToolsUsed) / avgTools
	return math.Max(0.5, math.Min(2.0, w))
}

func joinOrNone(ids []string) string {
	if len(ids) == 0 {
		return "none"
	}
	return strings.Join(ids, ", ")
}
