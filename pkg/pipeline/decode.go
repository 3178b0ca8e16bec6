package pipeline

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Models emit JSON inside prose, markdown fences, or nothing at all. Every
// call site decodes through this one path with a fixed order: strict parse,
// fenced block, marker-keyed balanced-object scan. Callers that can accept
// prose fall back to the raw text themselves; decoding never throws past
// this file.

var fencedJSONPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// extractJSON returns the first JSON object found in raw, preferring the
// strictest interpretation. markerKeys guide the last-resort scan: only
// objects containing one of them are accepted there.
func extractJSON(raw string, markerKeys ...string) (string, bool) {
	trimmed := strings.TrimSpace(raw)

	if strings.HasPrefix(trimmed, "{") && json.Valid([]byte(trimmed)) {
		return trimmed, true
	}

	for _, match := range fencedJSONPattern.FindAllStringSubmatch(raw, -1) {
		candidate := strings.TrimSpace(match[1])
		if json.Valid([]byte(candidate)) {
			return candidate, true
		}
	}

	for _, key := range markerKeys {
		if obj, ok := scanMarkedObject(raw, key); ok {
			return obj, true
		}
	}
	return "", false
}

// scanMarkedObject finds a balanced JSON object containing `"key"` anywhere
// in s. It walks opening braces left of the marker, nearest first, and
// returns the first one that balances out to valid JSON.
func scanMarkedObject(s, key string) (string, bool) {
	markerIdx := strings.Index(s, `"`+key+`"`)
	if markerIdx < 0 {
		return "", false
	}

	for i := markerIdx; i >= 0; i-- {
		if s[i] != '{' {
			continue
		}
		candidate, ok := scanBalanced(s, i)
		if ok && json.Valid([]byte(candidate)) {
			return candidate, true
		}
	}
	return "", false
}

// scanBalanced reads one brace-balanced span starting at s[start] == '{',
// tracking string literals and escapes.
func scanBalanced(s string, start int) (string, bool) {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		}
	}
	return "", false
}

// decodeInto extracts a JSON object from raw and unmarshals it into v.
func decodeInto(raw string, v any, markerKeys ...string) error {
	obj, ok := extractJSON(raw, markerKeys...)
	if !ok {
		return fmt.Errorf("no JSON object found in model output")
	}
	if err := json.Unmarshal([]byte(obj), v); err != nil {
		return fmt.Errorf("failed to decode model output: %w", err)
	}
	return nil
}

// stripMarkdown removes code fences and heading markers so raw model prose
// can serve as a findings fallback.
func stripMarkdown(raw string) string {
	out := strings.ReplaceAll(raw, "```json", "")
	out = strings.ReplaceAll(out, "```", "")
	lines := strings.Split(out, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimLeft(line, "#")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// Agent loop signals. Exactly one is expected per iteration; priority order
// when several appear is completion, spawn, tool call.

const (
	markerComplete = "research_complete"
	markerSpawn    = "spawn_subagents"
	markerToolCall = "tool_call"
)

// ResearchFinding is one claim inside a completion signal.
type ResearchFinding struct {
	Claim      string   `json:"claim"`
	Evidence   string   `json:"evidence"`
	Confidence int      `json:"confidence"`
	Sources    []string `json:"sources"`
}

type completeSignal struct {
	Findings []ResearchFinding `json:"findings"`
	Summary  string            `json:"summary"`
}

type spawnSignal struct {
	Tasks []string `json:"tasks"`
}

type toolCallSignal struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// agentSignal is the decoded instruction from one agent iteration. At most
// one field is set; all nil means the output was unstructured prose.
type agentSignal struct {
	complete *completeSignal
	spawn    *spawnSignal
	toolCall *toolCallSignal
}

func parseAgentSignal(raw string) agentSignal {
	obj, ok := extractJSON(raw, markerComplete, markerSpawn, markerToolCall)
	if !ok {
		return agentSignal{}
	}

	var envelope struct {
		Complete json.RawMessage `json:"research_complete"`
		Spawn    json.RawMessage `json:"spawn_subagents"`
		ToolCall json.RawMessage `json:"tool_call"`
	}
	if err := json.Unmarshal([]byte(obj), &envelope); err != nil {
		return agentSignal{}
	}

	if len(envelope.Complete) > 0 {
		var sig completeSignal
		if json.Unmarshal(envelope.Complete, &sig) == nil {
			return agentSignal{complete: &sig}
		}
		// A malformed completion body still means "I am done": callers
		// fall back to the raw text as findings.
		return agentSignal{complete: &completeSignal{}}
	}
	if len(envelope.Spawn) > 0 {
		var sig spawnSignal
		if json.Unmarshal(envelope.Spawn, &sig) == nil && len(sig.Tasks) > 0 {
			return agentSignal{spawn: &sig}
		}
	}
	if len(envelope.ToolCall) > 0 {
		var sig toolCallSignal
		if json.Unmarshal(envelope.ToolCall, &sig) == nil && sig.Name != "" {
			return agentSignal{toolCall: &sig}
		}
	}
	return agentSignal{}
}

// findingsText flattens a completion signal into the findings string stored
// on the research result. rawFallback is used when the signal carried no
// usable content.
func (s *completeSignal) findingsText(rawFallback string) string {
	if s == nil || (len(s.Findings) == 0 && s.Summary == "") {
		return stripMarkdown(rawFallback)
	}

	var b strings.Builder
	for _, f := range s.Findings {
		b.WriteString("- ")
		b.WriteString(f.Claim)
		if f.Evidence != "" {
			b.WriteString("\n  Evidence: ")
			b.WriteString(f.Evidence)
		}
		for _, src := range f.Sources {
			b.WriteString("\n  Source: ")
			b.WriteString(src)
		}
		b.WriteString("\n")
	}
	if s.Summary != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(s.Summary)
	}
	return strings.TrimSpace(b.String())
}
