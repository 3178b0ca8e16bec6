// Package pipeline implements the multi-expert research and debate
// orchestrator. Stages are stateless: callers pass accumulated RoundData
// forward between invocations and nothing survives a call except prompt
// templates in their own store.
package pipeline

import (
	"time"

	"github.com/specforge/specforge/pkg/tools"
)

// Question domains. Every generated question is tagged with exactly one.
const (
	DomainTechnical = "technical"
	DomainDesign    = "design"
	DomainMarket    = "market"
	DomainLegal     = "legal"
	DomainGrowth    = "growth"
	DomainSecurity  = "security"
)

// Domains lists the valid question domains.
var Domains = []string{
	DomainTechnical, DomainDesign, DomainMarket,
	DomainLegal, DomainGrowth, DomainSecurity,
}

// ResearchQuestion is one domain-tagged research question. Immutable once
// generated.
type ResearchQuestion struct {
	ID                string   `json:"id"`
	Question          string   `json:"question"`
	Domain            string   `json:"domain"`
	Priority          int      `json:"priority"` // 1..10
	RequiredExpertise []string `json:"requiredExpertise,omitempty"`
}

// ExpertAssignment is the work package for one expert: the questions it
// researches and the model it runs on. Rebalancing moves questions between
// assignments, never copies them.
type ExpertAssignment struct {
	ExpertID   string             `json:"expertId"`
	ExpertName string             `json:"expertName"`
	Questions  []ResearchQuestion `json:"questions"`
	Model      string             `json:"model"`
}

// AgentResearchResult is what one expert's research loop produced.
// Confidence is self-reported by the agent and only a heuristic.
type AgentResearchResult struct {
	ExpertID         string             `json:"expertId"`
	ExpertName       string             `json:"expertName"`
	Questions        []ResearchQuestion `json:"questions"`
	Findings         string             `json:"findings"`
	Confidence       int                `json:"confidence"` // 0..100
	ToolsUsed        []tools.Invocation `json:"toolsUsed"`
	Duration         time.Duration      `json:"duration"`
	Model            string             `json:"model"`
	Cost             float64            `json:"cost"`
	TokensUsed       int                `json:"tokensUsed"`
	IterationsUsed   int                `json:"iterationsUsed"`
	SubAgentsSpawned int                `json:"subAgentsSpawned,omitempty"`
}

// Challenge types and the candidate challenger pool per type.
const (
	ChallengeFeasibility = "feasibility"
	ChallengeRisk        = "risk"
	ChallengeAlternative = "alternative"
	ChallengeAssumption  = "assumption"
	ChallengeVision      = "vision"
	ChallengeCost        = "cost"
)

// ChallengeQuestion is one adversarial question aimed at a specific
// expert's findings.
type ChallengeQuestion struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	Question       string `json:"question"`
	TargetFindings string `json:"targetFindings"` // expert id of the attacked findings
	Challenger     string `json:"challenger"`     // expert id of the assigned contrarian
	Priority       int    `json:"priority"`
}

// ChallengeResponse is a challenger's contrarian argument.
type ChallengeResponse struct {
	ChallengeID         string   `json:"challengeId"`
	Challenger          string   `json:"challenger"`
	Challenge           string   `json:"challenge"`
	EvidenceAgainst     []string `json:"evidenceAgainst"`
	AlternativeApproach string   `json:"alternativeApproach,omitempty"`
	RiskScore           int      `json:"riskScore"` // 0..10
	Model               string   `json:"model"`
	Cost                float64  `json:"cost"`
}

// DebateResolution reconciles one expert's findings with the challenges
// raised against them. With zero relevant challenges the resolution is the
// identity case: Resolution == OriginalPosition, ConfidenceChange == 0.
type DebateResolution struct {
	ExpertID            string   `json:"expertId"`
	OriginalPosition    string   `json:"originalPosition"`
	Challenges          []string `json:"challenges"`
	Resolution          string   `json:"resolution"`
	ConfidenceChange    int      `json:"confidenceChange"` // -100..100
	AdoptedAlternatives []string `json:"adoptedAlternatives,omitempty"`
}

// ResearchQuality summarizes how hard-won one synthesis is.
type ResearchQuality struct {
	ToolsUsed       int     `json:"toolsUsed"`
	Cost            float64 `json:"cost"`
	Duration        int64   `json:"durationMs"`
	BattleTested    bool    `json:"battleTested"`
	ConfidenceBoost int     `json:"confidenceBoost"`
}

// ExpertSynthesis is one expert's reconciled final position.
type ExpertSynthesis struct {
	ExpertID        string          `json:"expertId"`
	ExpertName      string          `json:"expertName"`
	Synthesis       string          `json:"synthesis"`
	Timestamp       time.Time       `json:"timestamp"`
	ResearchQuality ResearchQuality `json:"researchQuality"`
}

// Review issue severities and categories.
const (
	SeverityCritical = "critical"
	SeverityMajor    = "major"
	SeverityMinor    = "minor"

	CategoryAccuracy     = "accuracy"
	CategoryCompleteness = "completeness"
	CategoryCitation     = "citation"
	CategoryFeasibility  = "feasibility"
	CategoryConsistency  = "consistency"
)

// ReviewIssue is one defect the review gate found.
type ReviewIssue struct {
	Severity       string `json:"severity"`
	Category       string `json:"category"`
	Description    string `json:"description"`
	AffectedExpert string `json:"affectedExpert,omitempty"`
	Remediation    string `json:"remediation,omitempty"`
}

// CitationStats is per-expert citation coverage.
type CitationStats struct {
	Citations int `json:"citations"`
	Verified  int `json:"verified"`
}

// CitationAnalysis aggregates citation coverage across syntheses.
type CitationAnalysis struct {
	TotalCitations    int                      `json:"totalCitations"`
	VerifiedCitations int                      `json:"verifiedCitations"`
	MissingCitations  int                      `json:"missingCitations"`
	ExpertCoverage    map[string]CitationStats `json:"expertCoverage"`
}

// ReviewResult is the quality gate's verdict. Passed is always recomputed
// as score >= 70 AND no critical issues, never taken from model output.
type ReviewResult struct {
	OverallScore     int              `json:"overallScore"`
	Passed           bool             `json:"passed"`
	Issues           []ReviewIssue    `json:"issues"`
	Recommendations  []string         `json:"recommendations,omitempty"`
	CitationAnalysis CitationAnalysis `json:"citationAnalysis"`
}

// EscalationStatus values for critical-issue classification.
const (
	EscalationConfirmed = "confirmed"
	EscalationDismissed = "dismissed"
	EscalationMitigated = "mitigated"
)

// IssueClassification is the escalation pass's judgement of one critical
// issue.
type IssueClassification struct {
	Description string `json:"description"`
	Status      string `json:"status"`
	Rationale   string `json:"rationale,omitempty"`
}

// Escalation is advisory output for the caller when critical issues exist.
// Recommendation is one of "retry", "proceed", "manual".
type Escalation struct {
	Classifications []IssueClassification `json:"classifications"`
	Recommendation  string                `json:"recommendation"`
}

// ExpertVote is one expert's consensus vote.
type ExpertVote struct {
	Agent           string    `json:"agent"`
	Approved        bool      `json:"approved"`
	Confidence      int       `json:"confidence"` // 0..100
	Reasoning       string    `json:"reasoning"`
	KeyRequirements []string  `json:"keyRequirements,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// StageMetadata reports aggregate cost for one stage invocation.
type StageMetadata struct {
	TotalCost   float64 `json:"totalCost"`
	TotalTokens int     `json:"totalTokens"`
	DurationMS  int64   `json:"durationMs"`
	Failures    int     `json:"failures,omitempty"`
}

func (m *StageMetadata) add(cost float64, tokens int) {
	m.TotalCost += cost
	m.TotalTokens += tokens
}

// RoundData is the caller-carried accumulator threaded through all stages.
// The orchestrator never persists it.
type RoundData struct {
	UserInput          string                `json:"userInput,omitempty"`
	Questions          []ResearchQuestion    `json:"questions,omitempty"`
	Assignments        []ExpertAssignment    `json:"assignments,omitempty"`
	ResearchResults    []AgentResearchResult `json:"researchResults,omitempty"`
	Challenges         []ChallengeQuestion   `json:"challenges,omitempty"`
	ChallengeResponses []ChallengeResponse   `json:"challengeResponses,omitempty"`
	DebateResolutions  []DebateResolution    `json:"debateResolutions,omitempty"`
	Syntheses          []ExpertSynthesis     `json:"syntheses,omitempty"`
	Review             *ReviewResult         `json:"review,omitempty"`
	Escalation         *Escalation           `json:"escalation,omitempty"`
	Votes              []ExpertVote          `json:"votes,omitempty"`
	Spec               string                `json:"spec,omitempty"`
}

// Stage responses returned to the gateway.

type QuestionsResponse struct {
	Questions []ResearchQuestion `json:"questions"`
}

type ResearchResponse struct {
	ResearchResults []AgentResearchResult `json:"researchResults"`
	Assignments     []ExpertAssignment    `json:"assignments"`
	Metadata        StageMetadata         `json:"metadata"`
}

type ChallengeStageResponse struct {
	Challenges         []ChallengeQuestion `json:"challenges"`
	ChallengeResponses []ChallengeResponse `json:"challengeResponses"`
	DebateResolutions  []DebateResolution  `json:"debateResolutions"`
	Metadata           StageMetadata       `json:"metadata"`
}

type SynthesisResponse struct {
	Syntheses []ExpertSynthesis `json:"syntheses"`
	Metadata  StageMetadata     `json:"metadata"`
}

type ReviewResponse struct {
	Review     *ReviewResult `json:"review"`
	Escalation *Escalation   `json:"escalation,omitempty"`
	Metadata   StageMetadata `json:"metadata"`
}

type VotingResponse struct {
	Votes []ExpertVote `json:"votes"`
}

type SpecResponse struct {
	Spec           string        `json:"spec"`
	ApprovedBy     []string      `json:"approvedBy"`
	DissentedBy    []string      `json:"dissentedBy"`
	ConsensusScore int           `json:"consensusScore"`
	Metadata       StageMetadata `json:"metadata"`
}

type ChatResponse struct {
	Response  string    `json:"response"`
	Agent     string    `json:"agent"`
	Timestamp time.Time `json:"timestamp"`
}
