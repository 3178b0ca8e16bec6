package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/specforge/specforge/pkg/logger"
	"github.com/specforge/specforge/pkg/providers"
)

const reviewPassScore = 70

var citationPattern = regexp.MustCompile(`https?://[^\s)\]>"']+`)

// Review audits the syntheses with the heavy model. The stage fails open:
// when even the fallback chain is exhausted it returns a passed:false,
// score-0 result with a critical issue rather than an error, so the caller
// routes to human review instead of seeing a 5xx.
func (o *Orchestrator) Review(ctx context.Context, userInput string, syntheses []ExpertSynthesis, results []AgentResearchResult) (*ReviewResponse, error) {
	start := time.Now()
	emit(o.emitter, EventStageStarted, "review", "", nil)

	if len(syntheses) == 0 {
		return nil, fmt.Errorf("no syntheses to review")
	}

	var metadata StageMetadata
	review := o.runReview(ctx, userInput, syntheses, results, &metadata)

	// Never trust the model's own pass verdict: recompute the conjunction
	// from its score and issue list.
	review.Passed = review.OverallScore >= reviewPassScore && !hasCritical(review.Issues)

	var escalation *Escalation
	if hasCritical(review.Issues) {
		escalation = o.escalate(ctx, review, syntheses, &metadata)
	}

	metadata.DurationMS = time.Since(start).Milliseconds()
	emit(o.emitter, EventStageCompleted, "review", "", map[string]any{
		"score":  review.OverallScore,
		"passed": review.Passed,
	})

	return &ReviewResponse{Review: review, Escalation: escalation, Metadata: metadata}, nil
}

func (o *Orchestrator) runReview(ctx context.Context, userInput string, syntheses []ExpertSynthesis, results []AgentResearchResult, metadata *StageMetadata) *ReviewResult {
	prompt, err := o.render("review", map[string]any{
		"Idea":            userInput,
		"Syntheses":       synthesesDigest(syntheses),
		"ResearchSummary": researchSummary(results),
	})
	if err != nil {
		return failedReview(fmt.Sprintf("review prompt unavailable: %v", err))
	}

	invokeResult, err := o.invoke(ctx, o.reviewModel(), "review",
		[]providers.Message{{Role: "user", Content: prompt}},
		map[string]any{"temperature": 0.1})
	if err != nil {
		logger.ErrorCF("pipeline", "review stage failed after retries", map[string]any{"error": err.Error()})
		return failedReview("review model unavailable; research requires human review")
	}
	metadata.add(invokeResult.Cost, resultTokens(invokeResult))

	var decoded struct {
		OverallScore    int           `json:"overallScore"`
		Issues          []ReviewIssue `json:"issues"`
		Recommendations []string      `json:"recommendations"`
	}
	if err := decodeInto(resultContent(invokeResult), &decoded, "overallScore", "issues"); err != nil {
		// Parse failure degrades to a conservative default, never a crash.
		return &ReviewResult{
			OverallScore: 55,
			Issues: []ReviewIssue{{
				Severity:    SeverityMajor,
				Category:    CategoryConsistency,
				Description: "Review output could not be parsed; verdict is a conservative default.",
				Remediation: "Re-run the review stage.",
			}},
			CitationAnalysis: analyzeCitations(syntheses),
		}
	}

	review := &ReviewResult{
		OverallScore:     clamp(decoded.OverallScore, 0, 100),
		Issues:           normalizeIssues(decoded.Issues),
		Recommendations:  decoded.Recommendations,
		CitationAnalysis: analyzeCitations(syntheses),
	}
	enforceCitationIssues(review, syntheses)
	return review
}

// reviewModel picks the heavy audit model: explicit review role, then the
// configured Anthropic model, then the primary.
func (o *Orchestrator) reviewModel() string {
	if o.cfg.Models.Review != "" {
		return o.cfg.Models.Review
	}
	if o.cfg.Anthropic.Model != "" {
		return o.cfg.Anthropic.Model
	}
	return o.cfg.LLM.Model
}

func failedReview(description string) *ReviewResult {
	return &ReviewResult{
		OverallScore: 0,
		Issues: []ReviewIssue{{
			Severity:    SeverityCritical,
			Category:    CategoryCompleteness,
			Description: description,
			Remediation: "Escalate to manual review.",
		}},
		CitationAnalysis: CitationAnalysis{ExpertCoverage: map[string]CitationStats{}},
	}
}

func hasCritical(issues []ReviewIssue) bool {
	for _, issue := range issues {
		if issue.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

func normalizeIssues(issues []ReviewIssue) []ReviewIssue {
	out := make([]ReviewIssue, 0, len(issues))
	for _, issue := range issues {
		switch issue.Severity {
		case SeverityCritical, SeverityMajor, SeverityMinor:
		default:
			issue.Severity = SeverityMinor
		}
		switch issue.Category {
		case CategoryAccuracy, CategoryCompleteness, CategoryCitation,
			CategoryFeasibility, CategoryConsistency:
		default:
			issue.Category = CategoryConsistency
		}
		if strings.TrimSpace(issue.Description) == "" {
			continue
		}
		out = append(out, issue)
	}
	return out
}

// analyzeCitations counts URL citations per synthesis.
func analyzeCitations(syntheses []ExpertSynthesis) CitationAnalysis {
	analysis := CitationAnalysis{ExpertCoverage: make(map[string]CitationStats, len(syntheses))}
	for _, s := range syntheses {
		citations := citationPattern.FindAllString(s.Synthesis, -1)
		// Verification against live sources is out of reach here; a
		// well-formed absolute URL counts as verified.
		stats := CitationStats{Citations: len(citations), Verified: len(citations)}
		analysis.ExpertCoverage[s.ExpertID] = stats
		analysis.TotalCitations += stats.Citations
		analysis.VerifiedCitations += stats.Verified
		if stats.Citations == 0 {
			analysis.MissingCitations++
		}
	}
	return analysis
}

// enforceCitationIssues guarantees every citation-free synthesis carries at
// least a major citation issue, whatever the model said.
func enforceCitationIssues(review *ReviewResult, syntheses []ExpertSynthesis) {
	flagged := make(map[string]bool)
	for _, issue := range review.Issues {
		if issue.Category == CategoryCitation && issue.AffectedExpert != "" {
			flagged[issue.AffectedExpert] = true
		}
	}

	for _, s := range syntheses {
		stats := review.CitationAnalysis.ExpertCoverage[s.ExpertID]
		if stats.Citations > 0 || flagged[s.ExpertID] {
			continue
		}
		review.Issues = append(review.Issues, ReviewIssue{
			Severity:       SeverityMajor,
			Category:       CategoryCitation,
			Description:    fmt.Sprintf("Synthesis from %s cites no sources.", s.ExpertName),
			AffectedExpert: s.ExpertID,
			Remediation:    "Request citations or re-run research for this expert.",
		})
	}
}

// escalate runs the advisory fallback-model pass over critical issues. Its
// output recommends retry/proceed/manual; it never retries anything itself.
func (o *Orchestrator) escalate(ctx context.Context, review *ReviewResult, syntheses []ExpertSynthesis, metadata *StageMetadata) *Escalation {
	var critical []string
	for _, issue := range review.Issues {
		if issue.Severity == SeverityCritical {
			critical = append(critical, issue.Description)
		}
	}

	manual := &Escalation{Recommendation: "manual"}

	prompt, err := o.render("escalation", map[string]any{
		"Issues":    "- " + strings.Join(critical, "\n- "),
		"Syntheses": synthesesDigest(syntheses),
	})
	if err != nil {
		return manual
	}

	invokeResult, err := o.invoke(ctx, o.reviewModel(), "escalation",
		[]providers.Message{{Role: "user", Content: prompt}},
		map[string]any{"temperature": 0.2})
	if err != nil {
		logger.WarnCF("pipeline", "escalation pass failed", map[string]any{"error": err.Error()})
		return manual
	}
	metadata.add(invokeResult.Cost, resultTokens(invokeResult))

	var decoded Escalation
	if err := decodeInto(resultContent(invokeResult), &decoded, "recommendation", "classifications"); err != nil {
		return manual
	}
	switch decoded.Recommendation {
	case "retry", "proceed", "manual":
	default:
		decoded.Recommendation = "manual"
	}
	for i := range decoded.Classifications {
		switch decoded.Classifications[i].Status {
		case EscalationConfirmed, EscalationDismissed, EscalationMitigated:
		default:
			decoded.Classifications[i].Status = EscalationConfirmed
		}
	}
	return &decoded
}

func synthesesDigest(syntheses []ExpertSynthesis) string {
	var b strings.Builder
	for _, s := range syntheses {
		fmt.Fprintf(&b, "## %s (%s)\n%s\n\n", s.ExpertName, s.ExpertID, truncateText(s.Synthesis, 3000))
	}
	return strings.TrimSpace(b.String())
}

func researchSummary(results []AgentResearchResult) string {
	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "- %s: %d tool calls, %d iterations, confidence %d\n",
			r.ExpertName, len(r.ToolsUsed), r.IterationsUsed, r.Confidence)
	}
	return strings.TrimSpace(b.String())
}
