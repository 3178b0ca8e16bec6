package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specforge/specforge/pkg/providers"
)

func TestGenerateQuestionsHappyPath(t *testing.T) {
	client := staticClient(`{"questions": [
		{"question": "How to scale?", "domain": "technical", "priority": 9},
		{"question": "Who pays?", "domain": "market", "priority": 8, "requiredExpertise": "analyst"},
		{"question": "GDPR impact?", "domain": "LEGAL", "priority": 15},
		{"question": "Onboarding flow?", "domain": "design", "priority": 0},
		{"question": "Growth loops?", "domain": "growth", "priority": 6},
		{"question": "Threat model?", "domain": "security", "priority": 7},
		{"question": "Moat?", "domain": "somethingelse", "priority": 5}
	]}`)
	o := newTestOrchestrator(client, newMockTools())

	resp, err := o.GenerateQuestions(context.Background(), "Build an AI-powered task manager")
	require.NoError(t, err)
	require.Len(t, resp.Questions, 7)

	for _, q := range resp.Questions {
		assert.NotEmpty(t, q.ID)
		assert.Contains(t, Domains, q.Domain)
		assert.GreaterOrEqual(t, q.Priority, 1)
		assert.LessOrEqual(t, q.Priority, 10)
	}
	assert.Equal(t, DomainLegal, resp.Questions[2].Domain, "domain is case-normalized")
	assert.Equal(t, 10, resp.Questions[2].Priority, "priority clamps to 10")
	assert.Equal(t, 1, resp.Questions[3].Priority, "priority clamps to 1")
	assert.Equal(t, []string{"analyst"}, resp.Questions[1].RequiredExpertise)
	assert.Equal(t, DomainTechnical, resp.Questions[6].Domain, "unknown domain falls back to technical")
}

func TestGenerateQuestionsFallbackOnModelError(t *testing.T) {
	client := &mockClient{fn: func(int, string, []providers.Message) (string, error) {
		return "", errors.New("provider down")
	}}
	o := newTestOrchestrator(client, newMockTools())

	resp, err := o.GenerateQuestions(context.Background(), "a meal planning app")
	require.NoError(t, err, "question generation never fails the stage")
	require.Len(t, resp.Questions, 7)
	for _, q := range resp.Questions {
		assert.Contains(t, Domains, q.Domain)
		assert.Contains(t, q.Question, "a meal planning app")
	}
}

func TestGenerateQuestionsFallbackOnUnparsableOutput(t *testing.T) {
	o := newTestOrchestrator(staticClient("I cannot answer in JSON, sorry."), newMockTools())

	resp, err := o.GenerateQuestions(context.Background(), "an idea")
	require.NoError(t, err)
	assert.Len(t, resp.Questions, 7)
}

func TestGenerateQuestionsPadsShortSets(t *testing.T) {
	client := staticClient(`{"questions": [
		{"question": "Only one?", "domain": "market", "priority": 5}
	]}`)
	o := newTestOrchestrator(client, newMockTools())

	resp, err := o.GenerateQuestions(context.Background(), "an idea")
	require.NoError(t, err)
	require.Len(t, resp.Questions, 7, "short sets are padded from the fallback pool")
	assert.Equal(t, "Only one?", resp.Questions[0].Question)
}
