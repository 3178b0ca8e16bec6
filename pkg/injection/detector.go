// Package injection flags prompt-override phrasing in user-supplied text
// before it is interpolated into any model prompt. Flagged requests are
// rejected at the gateway; nothing here rewrites input.
package injection

import (
	"regexp"
	"strings"
)

// Core override phrasings. The list is deliberately narrow: a product idea
// is free-form prose, and broad delimiter or markdown patterns would flag
// legitimate input.
var defaultPatterns = []string{
	`(?i)ignore\s+(all\s+)?(previous|above|prior)\s+(instructions|prompts?|rules)`,
	`(?i)disregard\s+(all|any|previous|your)\s+(instructions|rules|guidelines)`,
	`(?i)forget\s+(everything|all\s+previous|your\s+instructions)`,
	`(?i)new\s+instructions?\s*:`,
	`(?i)override\s+(previous|default|your)\s+(instructions|settings|prompt)`,
	`(?i)you\s+are\s+now\s+(a|an|the)\s+`,
	`(?i)pretend\s+(to\s+be|you\s+are)\s+`,
	`(?i)(reveal|print|show|repeat)\s+(your|the)\s+system\s+prompt`,
	`(?i)^\s*(system|assistant)\s*:`,
	`(?i)do\s+anything\s+now`,
	`(?i)developer\s+mode`,
	`(?i)jailbreak`,
	`<\|`,
	`<\s*/?\s*(system|im_start|im_end)\s*>`,
}

// Detector matches input against the override pattern set.
type Detector struct {
	patterns []*regexp.Regexp
}

// Result reports what a scan matched. Matched holds human-readable pattern
// sources for logging; they are never echoed back to the caller.
type Result struct {
	Flagged bool
	Matched []string
}

// NewDetector builds a detector with the default pattern set plus any extra
// patterns. Invalid extra patterns are skipped.
func NewDetector(extra ...string) *Detector {
	d := &Detector{patterns: make([]*regexp.Regexp, 0, len(defaultPatterns)+len(extra))}
	for _, p := range defaultPatterns {
		d.patterns = append(d.patterns, regexp.MustCompile(p))
	}
	for _, p := range extra {
		if re, err := regexp.Compile(p); err == nil {
			d.patterns = append(d.patterns, re)
		}
	}
	return d
}

// Scan checks one field of user input. Empty input never flags.
func (d *Detector) Scan(input string) Result {
	if strings.TrimSpace(input) == "" {
		return Result{}
	}
	var matched []string
	for _, re := range d.patterns {
		if re.MatchString(input) {
			matched = append(matched, re.String())
		}
	}
	return Result{Flagged: len(matched) > 0, Matched: matched}
}
