package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONStrict(t *testing.T) {
	obj, ok := extractJSON(`  {"a": 1}  `)
	require.True(t, ok)
	assert.JSONEq(t, `{"a": 1}`, obj)
}

func TestExtractJSONFencedBlock(t *testing.T) {
	raw := "Here is my answer:\n```json\n{\"approved\": true}\n```\nHope that helps."
	obj, ok := extractJSON(raw)
	require.True(t, ok)
	assert.JSONEq(t, `{"approved": true}`, obj)
}

func TestExtractJSONPlainFence(t *testing.T) {
	raw := "```\n{\"score\": 4}\n```"
	obj, ok := extractJSON(raw)
	require.True(t, ok)
	assert.JSONEq(t, `{"score": 4}`, obj)
}

func TestExtractJSONMarkerScan(t *testing.T) {
	raw := `I think I'm done now. {"research_complete": {"summary": "all set with {braces} inside"}} Thanks!`
	obj, ok := extractJSON(raw, "research_complete")
	require.True(t, ok)
	assert.Contains(t, obj, "all set")
}

func TestExtractJSONMarkerScanNestedStrings(t *testing.T) {
	raw := `prose {"tool_call": {"name": "web_search", "args": {"query": "a \"quoted\" term}"}}} more prose`
	obj, ok := extractJSON(raw, "tool_call")
	require.True(t, ok)
	assert.Contains(t, obj, "web_search")
}

func TestExtractJSONNothingFound(t *testing.T) {
	_, ok := extractJSON("just prose, no structure", "research_complete")
	assert.False(t, ok)
}

func TestDecodeOrderPrefersStrictOverFence(t *testing.T) {
	// A whole-string valid object wins even when it contains a fenced one.
	raw := "{\"outer\": \"```json {\\\"inner\\\": 1} ```\"}"
	obj, ok := extractJSON(raw)
	require.True(t, ok)
	assert.Contains(t, obj, "outer")
}

func TestParseAgentSignalComplete(t *testing.T) {
	sig := parseAgentSignal(completeJSON)
	require.NotNil(t, sig.complete)
	assert.Nil(t, sig.toolCall)
	assert.Len(t, sig.complete.Findings, 1)
	assert.Equal(t, 80, sig.complete.Findings[0].Confidence)
}

func TestParseAgentSignalToolCall(t *testing.T) {
	sig := parseAgentSignal("Let me check.\n" + toolCallJSON)
	require.NotNil(t, sig.toolCall)
	assert.Equal(t, "web_search", sig.toolCall.Name)
	assert.Equal(t, "competitors", sig.toolCall.Args["query"])
}

func TestParseAgentSignalSpawn(t *testing.T) {
	sig := parseAgentSignal(spawnJSON)
	require.NotNil(t, sig.spawn)
	assert.Equal(t, []string{"pricing deep dive"}, sig.spawn.Tasks)
}

func TestParseAgentSignalCompletionWinsOverToolCall(t *testing.T) {
	raw := `{"research_complete": {"summary": "done"}, "tool_call": {"name": "web_search"}}`
	sig := parseAgentSignal(raw)
	assert.NotNil(t, sig.complete)
	assert.Nil(t, sig.toolCall)
}

func TestParseAgentSignalProse(t *testing.T) {
	sig := parseAgentSignal("I am still thinking about this question.")
	assert.Nil(t, sig.complete)
	assert.Nil(t, sig.spawn)
	assert.Nil(t, sig.toolCall)
}

func TestFindingsTextFlattens(t *testing.T) {
	sig := &completeSignal{
		Findings: []ResearchFinding{{
			Claim:    "A",
			Evidence: "B",
			Sources:  []string{"https://example.com"},
		}},
		Summary: "Overall C",
	}
	text := sig.findingsText("raw fallback")
	assert.Contains(t, text, "- A")
	assert.Contains(t, text, "Evidence: B")
	assert.Contains(t, text, "Source: https://example.com")
	assert.Contains(t, text, "Overall C")
}

func TestFindingsTextRawFallback(t *testing.T) {
	sig := &completeSignal{}
	text := sig.findingsText("## Findings\n```\nplain notes\n```")
	assert.Equal(t, "Findings\n\nplain notes", text)
}

func TestStripMarkdown(t *testing.T) {
	out := stripMarkdown("### Heading\n```json\n{\"x\":1}\n```\ntail")
	assert.NotContains(t, out, "```")
	assert.NotContains(t, out, "#")
	assert.Contains(t, out, "tail")
}

func TestDecodeIntoError(t *testing.T) {
	var v map[string]any
	err := decodeInto("no json here", &v, "marker")
	assert.Error(t, err)
}
