package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/specforge/specforge/pkg/providers"
)

// Chat answers a free-form user message as one expert persona, grounded in
// whatever round context the caller carries.
func (o *Orchestrator) Chat(ctx context.Context, targetAgent, userMessage string, round *RoundData) (*ChatResponse, error) {
	expert, ok := o.enabledExpert(targetAgent)
	if !ok {
		return nil, fmt.Errorf("unknown or disabled agent %q", targetAgent)
	}

	idea := ""
	if round != nil {
		idea = round.UserInput
	}

	systemPrompt, err := o.render("chat_system", map[string]any{
		"ExpertName":   expert.Name,
		"ExpertPrompt": expert.SystemPrompt,
		"Idea":         idea,
		"Context":      chatContext(round),
	})
	if err != nil {
		return nil, err
	}

	model := expert.Model
	if model == "" {
		model = o.cfg.LLM.Model
	}

	invokeResult, err := o.invoke(ctx, model, "chat_system",
		[]providers.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userMessage},
		},
		map[string]any{"temperature": expert.Temperature})
	if err != nil {
		return nil, fmt.Errorf("chat failed: %w", err)
	}

	response := strings.TrimSpace(resultContent(invokeResult))
	if response == "" {
		return nil, fmt.Errorf("chat model returned empty response")
	}

	return &ChatResponse{
		Response:  response,
		Agent:     expert.ID,
		Timestamp: time.Now().UTC(),
	}, nil
}

// chatContext digests the round's accumulated outputs for the chat system
// prompt. Nothing here is required; an empty round chats on the idea alone.
func chatContext(round *RoundData) string {
	if round == nil {
		return "No prior research context."
	}

	var b strings.Builder
	for _, r := range round.ResearchResults {
		fmt.Fprintf(&b, "Research by %s:\n%s\n\n", r.ExpertName, truncateText(r.Findings, 800))
	}
	for _, s := range round.Syntheses {
		fmt.Fprintf(&b, "Synthesis by %s:\n%s\n\n", s.ExpertName, truncateText(s.Synthesis, 800))
	}
	if round.Review != nil {
		fmt.Fprintf(&b, "Review score: %d (passed: %t)\n", round.Review.OverallScore, round.Review.Passed)
	}
	if b.Len() == 0 {
		return "No prior research context."
	}
	return strings.TrimSpace(b.String())
}
