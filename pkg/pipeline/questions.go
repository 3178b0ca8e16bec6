package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/specforge/specforge/pkg/logger"
	"github.com/specforge/specforge/pkg/providers"
)

const questionCount = 7

// GenerateQuestions breaks the user's idea into exactly 7 domain-tagged
// research questions. Any failure, model or parse, degrades to the static
// fallback set so the pipeline can always proceed.
func (o *Orchestrator) GenerateQuestions(ctx context.Context, userInput string) (*QuestionsResponse, error) {
	emit(o.emitter, EventStageStarted, "questions", "", nil)

	questions, err := o.generateQuestions(ctx, userInput)
	if err != nil {
		logger.WarnCF("pipeline", "question generation failed, using fallback set", map[string]any{
			"error": err.Error(),
		})
		questions = fallbackQuestions(userInput)
	}

	emit(o.emitter, EventStageCompleted, "questions", "", map[string]any{"count": len(questions)})
	return &QuestionsResponse{Questions: questions}, nil
}

func (o *Orchestrator) generateQuestions(ctx context.Context, userInput string) ([]ResearchQuestion, error) {
	prompt, err := o.render("question_generation", map[string]any{"Idea": userInput})
	if err != nil {
		return nil, err
	}

	result, err := o.invoke(ctx, o.cfg.ModelForRole("questions"), "question_generation",
		[]providers.Message{{Role: "user", Content: prompt}},
		map[string]any{"temperature": 0.7})
	if err != nil {
		return nil, err
	}

	var decoded struct {
		Questions []struct {
			Question          string `json:"question"`
			Domain            string `json:"domain"`
			Priority          int    `json:"priority"`
			RequiredExpertise any    `json:"requiredExpertise"`
		} `json:"questions"`
	}
	if err := decodeInto(resultContent(result), &decoded, "questions"); err != nil {
		return nil, err
	}
	if len(decoded.Questions) == 0 {
		return nil, fmt.Errorf("model returned no questions")
	}

	questions := make([]ResearchQuestion, 0, questionCount)
	for _, q := range decoded.Questions {
		if strings.TrimSpace(q.Question) == "" {
			continue
		}
		questions = append(questions, ResearchQuestion{
			ID:                uuid.NewString(),
			Question:          strings.TrimSpace(q.Question),
			Domain:            normalizeDomain(q.Domain),
			Priority:          clamp(q.Priority, 1, 10),
			RequiredExpertise: normalizeExpertise(q.RequiredExpertise),
		})
		if len(questions) == questionCount {
			break
		}
	}

	// Pad short sets from the fallback pool so the stage always yields 7.
	for _, fq := range fallbackQuestions(userInput) {
		if len(questions) >= questionCount {
			break
		}
		questions = append(questions, fq)
	}
	return questions, nil
}

func normalizeDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	for _, d := range Domains {
		if domain == d {
			return d
		}
	}
	return DomainTechnical
}

// normalizeExpertise tolerates both a single string and a list, since
// models emit either.
func normalizeExpertise(v any) []string {
	switch x := v.(type) {
	case string:
		if x = strings.TrimSpace(x); x != "" {
			return []string{x}
		}
	case []any:
		var out []string
		for _, item := range x {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	}
	return nil
}

// fallbackQuestions is the static question set used when generation fails.
func fallbackQuestions(userInput string) []ResearchQuestion {
	idea := strings.TrimSpace(userInput)
	if idea == "" {
		idea = "the proposed product"
	}

	seeds := []struct {
		question string
		domain   string
		priority int
	}{
		{"What is the minimal technical architecture needed to deliver %s?", DomainTechnical, 9},
		{"Who are the direct competitors to %s and how are they differentiated?", DomainMarket, 8},
		{"What user experience patterns best fit the core workflow of %s?", DomainDesign, 7},
		{"What regulatory or compliance constraints apply to %s?", DomainLegal, 6},
		{"What acquisition channels could realistically grow %s to its first thousand users?", DomainGrowth, 7},
		{"What are the main security and data-privacy risks of %s?", DomainSecurity, 8},
		{"What would make %s defensible once competitors notice it?", DomainMarket, 6},
	}

	questions := make([]ResearchQuestion, 0, len(seeds))
	for _, s := range seeds {
		questions = append(questions, ResearchQuestion{
			ID:       uuid.NewString(),
			Question: fmt.Sprintf(s.question, idea),
			Domain:   s.domain,
			Priority: s.priority,
		})
	}
	return questions
}
