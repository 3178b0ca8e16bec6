package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specforge/specforge/pkg/providers"
)

func TestChatAnswersAsEnabledExpert(t *testing.T) {
	var sawSystem, sawUser string
	client := &mockClient{fn: func(_ int, _ string, messages []providers.Message) (string, error) {
		sawSystem = messages[0].Content
		sawUser = messages[1].Content
		return "Start with a CLI, not a web app.", nil
	}}
	o := newTestOrchestrator(client, newMockTools())

	resp, err := o.Chat(context.Background(), "engineer", "Where would you start?", nil)
	require.NoError(t, err)
	assert.Equal(t, "Start with a CLI, not a web app.", resp.Response)
	assert.Equal(t, "engineer", resp.Agent)
	assert.False(t, resp.Timestamp.IsZero())
	assert.Contains(t, sawSystem, "chat_system")
	assert.Equal(t, "Where would you start?", sawUser)
}

func TestChatRejectsUnknownAgent(t *testing.T) {
	o := newTestOrchestrator(staticClient("hi"), newMockTools())
	_, err := o.Chat(context.Background(), "ghostwriter", "hello?", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown or disabled agent "ghostwriter"`)
}

func TestChatContextDigestsRound(t *testing.T) {
	round := &RoundData{
		UserInput:       "an idea",
		ResearchResults: []AgentResearchResult{researchResult("analyst", "big market", 80)},
		Syntheses:       []ExpertSynthesis{synthesisFor("analyst", "go upmarket")},
		Review:          &ReviewResult{OverallScore: 82, Passed: true},
	}

	digest := chatContext(round)
	assert.Contains(t, digest, "Research by analyst")
	assert.Contains(t, digest, "big market")
	assert.Contains(t, digest, "Synthesis by analyst")
	assert.Contains(t, digest, "Review score: 82 (passed: true)")

	assert.Equal(t, "No prior research context.", chatContext(nil))
	assert.Equal(t, "No prior research context.", chatContext(&RoundData{UserInput: "bare idea"}))
}

func TestChatEmptyResponseIsAnError(t *testing.T) {
	o := newTestOrchestrator(staticClient("  \n"), newMockTools())
	_, err := o.Chat(context.Background(), "engineer", "hello?", nil)
	require.Error(t, err)
}
