package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specforge/specforge/pkg/providers"
)

func voteFor(agent string, approved bool, confidence int) ExpertVote {
	return ExpertVote{Agent: agent, Approved: approved, Confidence: confidence}
}

func TestGenerateSpecTalliesVotes(t *testing.T) {
	o := newTestOrchestrator(staticClient("# Product Specification\n\nBuild it."), newMockTools())

	votes := []ExpertVote{
		voteFor("analyst", true, 80),
		voteFor("engineer", true, 60),
		voteFor("counsel", false, 90),
	}
	resp, err := o.GenerateSpec(context.Background(), "an idea",
		[]ExpertSynthesis{synthesisFor("analyst", "findings")}, votes)
	require.NoError(t, err)

	assert.Equal(t, "# Product Specification\n\nBuild it.", resp.Spec)
	assert.Equal(t, []string{"analyst", "engineer"}, resp.ApprovedBy)
	assert.Equal(t, []string{"counsel"}, resp.DissentedBy)
	// (80+60) / (80+60+90) = 0.6087 -> 61
	assert.Equal(t, 61, resp.ConsensusScore)
}

func TestConsensusScore(t *testing.T) {
	assert.Equal(t, 0, consensusScore(nil))
	assert.Equal(t, 100, consensusScore([]ExpertVote{voteFor("a", true, 50)}))
	assert.Equal(t, 0, consensusScore([]ExpertVote{voteFor("a", false, 50)}))
	assert.Equal(t, 50, consensusScore([]ExpertVote{
		voteFor("a", true, 0),
		voteFor("b", false, 0),
	}), "zero recorded confidence falls back to the approval ratio")
	assert.Equal(t, 75, consensusScore([]ExpertVote{
		voteFor("a", true, 90),
		voteFor("b", false, 30),
	}))
}

func TestWeightedConclusionsOrderAndBounds(t *testing.T) {
	syntheses := []ExpertSynthesis{
		{ExpertID: "visionary", ExpertName: "Visionary", Synthesis: "vision text",
			ResearchQuality: ResearchQuality{ToolsUsed: 0}},
		{ExpertID: "analyst", ExpertName: "Analyst", Synthesis: "analysis text",
			ResearchQuality: ResearchQuality{ToolsUsed: 10, BattleTested: true}},
		{ExpertID: "engineer", ExpertName: "Engineer", Synthesis: "engineering text",
			ResearchQuality: ResearchQuality{ToolsUsed: 5}},
	}

	rendered := weightedConclusions(syntheses)

	// Deepest research first; the tool-heavy analyst clamps at 2.0, the
	// tool-free visionary floors at 0.5.
	analystAt := strings.Index(rendered, "## Analyst")
	engineerAt := strings.Index(rendered, "## Engineer")
	visionaryAt := strings.Index(rendered, "## Visionary")
	require.True(t, analystAt >= 0 && engineerAt >= 0 && visionaryAt >= 0)
	assert.Less(t, analystAt, engineerAt)
	assert.Less(t, engineerAt, visionaryAt)

	assert.Contains(t, rendered, "## Analyst (research depth weight 2.0, battle-tested)")
	assert.Contains(t, rendered, "## Visionary (research depth weight 0.5)")
}

func TestDepthWeightDefaultsWithoutTools(t *testing.T) {
	s := ExpertSynthesis{ResearchQuality: ResearchQuality{ToolsUsed: 3}}
	assert.Equal(t, 1.0, depthWeight(s, 0), "no average means no weighting")
}

func TestGenerateSpecErrors(t *testing.T) {
	t.Run("no syntheses", func(t *testing.T) {
		o := newTestOrchestrator(staticClient("spec"), newMockTools())
		_, err := o.GenerateSpec(context.Background(), "an idea", nil, nil)
		require.Error(t, err)
	})

	t.Run("model failure", func(t *testing.T) {
		client := &mockClient{fn: func(_ int, _ string, _ []providers.Message) (string, error) {
			return "", errors.New("quota exceeded")
		}}
		o := newTestOrchestrator(client, newMockTools())
		_, err := o.GenerateSpec(context.Background(), "an idea",
			[]ExpertSynthesis{synthesisFor("analyst", "findings")}, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "spec generation failed")
	})

	t.Run("empty output", func(t *testing.T) {
		o := newTestOrchestrator(staticClient("   "), newMockTools())
		_, err := o.GenerateSpec(context.Background(), "an idea",
			[]ExpertSynthesis{synthesisFor("analyst", "findings")}, nil)
		require.Error(t, err)
	})
}
