package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/specforge/specforge/pkg/config"
	"github.com/specforge/specforge/pkg/logger"
	"github.com/specforge/specforge/pkg/providers"
)

const (
	voteSummaryLimit          = 1500 // per-synthesis excerpt in the voting prompt
	heuristicConfidence       = 70   // confidence assigned by the keyword fallback
	heuristicRejectConfidence = 30
)

// Vote collects an approve/reject vote from every enabled expert over a
// truncated summary of all syntheses. Malformed model output degrades to a
// keyword heuristic instead of failing the vote.
func (o *Orchestrator) Vote(ctx context.Context, userInput string, syntheses []ExpertSynthesis) (*VotingResponse, error) {
	emit(o.emitter, EventStageStarted, "voting", "", nil)

	if len(syntheses) == 0 {
		return nil, fmt.Errorf("no syntheses to vote on")
	}

	experts := o.cfg.EnabledExperts()
	summary := voteSummary(syntheses)

	settledVotes := settleAll(ctx, experts, func(ctx context.Context, _ int, e config.ExpertConfig) (ExpertVote, error) {
		return o.castVote(ctx, userInput, e, summary)
	})

	votes := make([]ExpertVote, 0, len(experts))
	for _, s := range settledVotes {
		vote := s.Value
		if s.Err != nil {
			// A vote that could not be cast at all counts as a low-trust
			// rejection, so consensus math still sees every expert.
			e := experts[s.Index]
			logger.WarnCF("pipeline", "vote failed", map[string]any{
				"expert": e.ID,
				"error":  s.Err.Error(),
			})
			vote = ExpertVote{
				Agent:      e.ID,
				Approved:   false,
				Confidence: 0,
				Reasoning:  fmt.Sprintf("Vote unavailable: %v", s.Err),
				Timestamp:  time.Now().UTC(),
			}
		}
		votes = append(votes, vote)
	}

	emit(o.emitter, EventStageCompleted, "voting", "", map[string]any{"votes": len(votes)})
	return &VotingResponse{Votes: votes}, nil
}

func (o *Orchestrator) castVote(ctx context.Context, userInput string, e config.ExpertConfig, summary string) (ExpertVote, error) {
	prompt, err := o.render("voting", map[string]any{
		"ExpertName": e.Name,
		"Idea":       userInput,
		"Summary":    summary,
	})
	if err != nil {
		return ExpertVote{}, err
	}

	model := e.Model
	if model == "" {
		model = o.cfg.ModelForRole("voting")
	}

	invokeResult, err := o.invoke(ctx, model, "voting",
		[]providers.Message{{Role: "user", Content: prompt}},
		map[string]any{"temperature": e.Temperature})
	if err != nil {
		return ExpertVote{}, err
	}

	vote := ExpertVote{Agent: e.ID, Timestamp: time.Now().UTC()}

	var decoded struct {
		Approved        bool     `json:"approved"`
		Confidence      int      `json:"confidence"`
		Reasoning       string   `json:"reasoning"`
		KeyRequirements []string `json:"keyRequirements"`
	}
	raw := resultContent(invokeResult)
	if err := decodeInto(raw, &decoded, "approved"); err != nil {
		return heuristicVote(e.ID, raw), nil
	}

	vote.Approved = decoded.Approved
	vote.Confidence = clamp(decoded.Confidence, 0, 100)
	vote.Reasoning = decoded.Reasoning
	vote.KeyRequirements = decoded.KeyRequirements
	return vote, nil
}

// heuristicVote is the keyword fallback for unparsable vote output:
// agreement words mean approval at fixed confidence 70.
func heuristicVote(expertID, raw string) ExpertVote {
	text := strings.ToLower(raw)
	approved := strings.Contains(text, "yes") || strings.Contains(text, "approve")

	confidence := heuristicRejectConfidence
	if approved {
		confidence = heuristicConfidence
	}
	return ExpertVote{
		Agent:      expertID,
		Approved:   approved,
		Confidence: confidence,
		Reasoning:  strings.TrimSpace(truncateText(stripMarkdown(raw), 500)),
		Timestamp:  time.Now().UTC(),
	}
}

func voteSummary(syntheses []ExpertSynthesis) string {
	var b strings.Builder
	for _, s := range syntheses {
		fmt.Fprintf(&b, "%s: %s\n\n", s.ExpertName, truncateText(s.Synthesis, voteSummaryLimit))
	}
	return strings.TrimSpace(b.String())
}
