package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/specforge/specforge/pkg/config"
	"github.com/specforge/specforge/pkg/logger"
	"github.com/specforge/specforge/pkg/providers"
)

// challengerPools maps each challenge type to its candidate contrarians.
// One is picked pseudo-randomly per challenge so the same two experts are
// not always pitted against each other.
var challengerPools = map[string][]string{
	ChallengeFeasibility: {"engineer", "analyst", "security"},
	ChallengeRisk:        {"counsel", "security", "analyst"},
	ChallengeAlternative: {"visionary", "designer", "growth"},
	ChallengeAssumption:  {"analyst", "counsel", "engineer"},
	ChallengeVision:      {"visionary", "growth"},
	ChallengeCost:        {"analyst", "engineer", "growth"},
}

// RunChallengeStage generates adversarial challenges against the research
// results, executes them, and reconciles each expert's position.
func (o *Orchestrator) RunChallengeStage(ctx context.Context, userInput string, results []AgentResearchResult) (*ChallengeStageResponse, error) {
	start := time.Now()
	emit(o.emitter, EventStageStarted, "challenge", "", nil)

	var metadata StageMetadata

	challenges, err := o.GenerateChallenges(ctx, userInput, results, &metadata)
	if err != nil {
		return nil, fmt.Errorf("challenge generation failed: %w", err)
	}

	responses, err := o.ExecuteChallenges(ctx, challenges, results, &metadata)
	if err != nil {
		return nil, err
	}

	resolutions := o.ResolveDebates(ctx, results, challenges, responses, &metadata)

	metadata.DurationMS = time.Since(start).Milliseconds()
	emit(o.emitter, EventStageCompleted, "challenge", "", map[string]any{
		"challenges":  len(challenges),
		"resolutions": len(resolutions),
	})

	return &ChallengeStageResponse{
		Challenges:         challenges,
		ChallengeResponses: responses,
		DebateResolutions:  resolutions,
		Metadata:           metadata,
	}, nil
}

// GenerateChallenges asks a model for challengesPerFinding adversarial
// questions per research result, then assigns each a challenger from the
// per-type candidate pool.
func (o *Orchestrator) GenerateChallenges(ctx context.Context, userInput string, results []AgentResearchResult, metadata *StageMetadata) ([]ChallengeQuestion, error) {
	if len(results) == 0 {
		return nil, fmt.Errorf("no research results to challenge")
	}

	count := o.cfg.Pipeline.ChallengesPerFinding * len(results)
	prompt, err := o.render("challenge_generation", map[string]any{
		"Idea":     userInput,
		"Findings": findingsDigest(results),
		"Count":    count,
	})
	if err != nil {
		return nil, err
	}

	invokeResult, err := o.invoke(ctx, o.cfg.ModelForRole("challenge"), "challenge_generation",
		[]providers.Message{{Role: "user", Content: prompt}},
		map[string]any{"temperature": 0.8})
	if err != nil {
		return nil, err
	}
	metadata.add(invokeResult.Cost, resultTokens(invokeResult))

	var decoded struct {
		Challenges []struct {
			Type           string `json:"type"`
			Question       string `json:"question"`
			TargetFindings string `json:"targetFindings"`
			Priority       int    `json:"priority"`
		} `json:"challenges"`
	}
	if err := decodeInto(resultContent(invokeResult), &decoded, "challenges"); err != nil {
		// Unparsable output means no debate this round, not a dead stage;
		// every expert falls through to the identity resolution.
		metadata.Failures++
		logger.WarnCF("pipeline", "challenge generation unparsable, proceeding without challenges", map[string]any{
			"error": err.Error(),
		})
		return nil, nil
	}

	enabled := o.cfg.EnabledExperts()
	known := make(map[string]bool, len(results))
	for _, r := range results {
		known[r.ExpertID] = true
	}

	challenges := make([]ChallengeQuestion, 0, len(decoded.Challenges))
	for i, c := range decoded.Challenges {
		if strings.TrimSpace(c.Question) == "" {
			continue
		}
		target := c.TargetFindings
		if !known[target] {
			// The model referenced a finding id that does not exist;
			// spread such challenges round-robin over the real results.
			target = results[i%len(results)].ExpertID
		}
		challenge := ChallengeQuestion{
			ID:             uuid.NewString(),
			Type:           normalizeChallengeType(c.Type),
			Question:       strings.TrimSpace(c.Question),
			TargetFindings: target,
			Priority:       clamp(c.Priority, 1, 10),
		}
		challenge.Challenger = o.pickChallenger(challenge.Type, target, enabled)
		challenges = append(challenges, challenge)
	}
	if len(challenges) == 0 {
		metadata.Failures++
		logger.WarnCF("pipeline", "model produced no usable challenges", nil)
	}
	return challenges, nil
}

func normalizeChallengeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	switch t {
	case ChallengeFeasibility, ChallengeRisk, ChallengeAlternative,
		ChallengeAssumption, ChallengeVision, ChallengeCost:
		return t
	}
	return ChallengeAssumption
}

// pickChallenger selects a contrarian for one challenge: a random enabled
// member of the type's candidate pool, excluding the challenged expert.
// When the pool yields nobody, any other enabled expert serves.
func (o *Orchestrator) pickChallenger(challengeType, targetExpert string, enabled []config.ExpertConfig) string {
	enabledByID := make(map[string]bool, len(enabled))
	for _, e := range enabled {
		enabledByID[e.ID] = true
	}

	var candidates []string
	for _, id := range challengerPools[challengeType] {
		if id != targetExpert && enabledByID[id] {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		for _, e := range enabled {
			if e.ID != targetExpert {
				candidates = append(candidates, e.ID)
			}
		}
	}
	if len(candidates) == 0 {
		return targetExpert // single-expert roster; self-challenge
	}
	return candidates[o.randInt(len(candidates))]
}

// ExecuteChallenges runs every challenge as its assigned challenger. A
// challenger missing from the enabled roster is a configuration error and
// fails the stage loudly rather than silently dropping the challenge.
func (o *Orchestrator) ExecuteChallenges(ctx context.Context, challenges []ChallengeQuestion, results []AgentResearchResult, metadata *StageMetadata) ([]ChallengeResponse, error) {
	findingsByExpert := make(map[string]string, len(results))
	for _, r := range results {
		findingsByExpert[r.ExpertID] = r.Findings
	}

	for _, c := range challenges {
		if _, ok := o.enabledExpert(c.Challenger); !ok {
			return nil, fmt.Errorf("challenger %q for challenge %s is not among enabled experts", c.Challenger, c.ID)
		}
	}

	settledResponses := settleAll(ctx, challenges, func(ctx context.Context, _ int, c ChallengeQuestion) (challengeOutcome, error) {
		return o.executeChallenge(ctx, c, findingsByExpert[c.TargetFindings])
	})

	responses := make([]ChallengeResponse, 0, len(challenges))
	for _, s := range settledResponses {
		if s.Err != nil {
			metadata.Failures++
			logger.WarnCF("pipeline", "challenge execution failed", map[string]any{
				"challenge": challenges[s.Index].ID,
				"error":     s.Err.Error(),
			})
			continue
		}
		metadata.add(s.Value.response.Cost, s.Value.tokens)
		responses = append(responses, s.Value.response)
	}
	return responses, nil
}

func (o *Orchestrator) enabledExpert(id string) (config.ExpertConfig, bool) {
	for _, e := range o.cfg.EnabledExperts() {
		if e.ID == id {
			return e, true
		}
	}
	return config.ExpertConfig{}, false
}

// challengeOutcome pairs a response with its token usage so the collection
// loop can fold stage metadata without shared mutation inside the fan-out.
type challengeOutcome struct {
	response ChallengeResponse
	tokens   int
}

func (o *Orchestrator) executeChallenge(ctx context.Context, c ChallengeQuestion, targetFindings string) (challengeOutcome, error) {
	challenger, _ := o.enabledExpert(c.Challenger)
	model := challenger.Model
	if model == "" {
		model = o.cfg.ModelForRole("challenge")
	}

	prompt, err := o.render("challenge_response", map[string]any{
		"ChallengerName":   challenger.Name,
		"ChallengerPrompt": challenger.SystemPrompt,
		"Type":             c.Type,
		"Question":         c.Question,
		"Findings":         targetFindings,
	})
	if err != nil {
		return challengeOutcome{}, err
	}

	invokeResult, err := o.invoke(ctx, model, "challenge_response",
		[]providers.Message{{Role: "user", Content: prompt}},
		map[string]any{"temperature": challenger.Temperature})
	if err != nil {
		return challengeOutcome{}, err
	}

	response := ChallengeResponse{
		ChallengeID: c.ID,
		Challenger:  c.Challenger,
		Challenge:   c.Question,
		Model:       invokeResult.Model,
		Cost:        invokeResult.Cost,
	}

	var decoded struct {
		EvidenceAgainst     []string `json:"evidenceAgainst"`
		AlternativeApproach string   `json:"alternativeApproach"`
		RiskScore           int      `json:"riskScore"`
	}
	raw := resultContent(invokeResult)
	if err := decodeInto(raw, &decoded, "evidenceAgainst", "riskScore"); err != nil {
		// Parse failure degrades to the raw argument at middling risk.
		response.EvidenceAgainst = []string{stripMarkdown(raw)}
		response.RiskScore = 5
		return challengeOutcome{response: response, tokens: resultTokens(invokeResult)}, nil
	}

	response.EvidenceAgainst = decoded.EvidenceAgainst
	response.AlternativeApproach = strings.TrimSpace(decoded.AlternativeApproach)
	response.RiskScore = clamp(decoded.RiskScore, 0, 10)
	return challengeOutcome{response: response, tokens: resultTokens(invokeResult)}, nil
}

// ResolveDebates reconciles each research result with the challenges aimed
// at it. Matching is strictly by explicit target expert id; a result with
// no matching challenges gets the identity resolution.
func (o *Orchestrator) ResolveDebates(ctx context.Context, results []AgentResearchResult, challenges []ChallengeQuestion, responses []ChallengeResponse, metadata *StageMetadata) []DebateResolution {
	targetByChallengeID := make(map[string]string, len(challenges))
	for _, c := range challenges {
		targetByChallengeID[c.ID] = c.TargetFindings
	}

	responsesByTarget := make(map[string][]ChallengeResponse)
	for _, r := range responses {
		target := targetByChallengeID[r.ChallengeID]
		if target == "" {
			continue
		}
		responsesByTarget[target] = append(responsesByTarget[target], r)
	}

	settledResolutions := settleAll(ctx, results, func(ctx context.Context, _ int, r AgentResearchResult) (resolutionOutcome, error) {
		return o.resolveDebate(ctx, r, responsesByTarget[r.ExpertID])
	})

	resolutions := make([]DebateResolution, 0, len(results))
	for _, s := range settledResolutions {
		resolution := s.Value.resolution
		if s.Err != nil {
			metadata.Failures++
			// Degrade to the identity case so the synthesis stage still
			// has a resolution per expert.
			r := results[s.Index]
			resolution = identityResolution(r)
			logger.WarnCF("pipeline", "debate resolution failed", map[string]any{
				"expert": r.ExpertID,
				"error":  s.Err.Error(),
			})
		}
		metadata.add(s.Value.cost, s.Value.tokens)
		resolutions = append(resolutions, resolution)
	}
	return resolutions
}

type resolutionOutcome struct {
	resolution DebateResolution
	cost       float64
	tokens     int
}

func identityResolution(r AgentResearchResult) DebateResolution {
	return DebateResolution{
		ExpertID:         r.ExpertID,
		OriginalPosition: r.Findings,
		Resolution:       r.Findings,
		ConfidenceChange: 0,
	}
}

func (o *Orchestrator) resolveDebate(ctx context.Context, r AgentResearchResult, responses []ChallengeResponse) (resolutionOutcome, error) {
	if len(responses) == 0 {
		return resolutionOutcome{resolution: identityResolution(r)}, nil
	}

	var challengeTexts []string
	var rendered strings.Builder
	for _, resp := range responses {
		challengeTexts = append(challengeTexts, resp.Challenge)
		fmt.Fprintf(&rendered, "Challenge: %s\nRisk score: %d/10\n", resp.Challenge, resp.RiskScore)
		for _, ev := range resp.EvidenceAgainst {
			fmt.Fprintf(&rendered, "- %s\n", ev)
		}
		if resp.AlternativeApproach != "" {
			fmt.Fprintf(&rendered, "Proposed alternative: %s\n", resp.AlternativeApproach)
		}
		rendered.WriteString("\n")
	}

	prompt, err := o.render("debate_resolution", map[string]any{
		"OriginalPosition": r.Findings,
		"Challenges":       rendered.String(),
	})
	if err != nil {
		return resolutionOutcome{}, err
	}

	invokeResult, err := o.invoke(ctx, o.cfg.ModelForRole("synthesis"), "debate_resolution",
		[]providers.Message{{Role: "user", Content: prompt}},
		map[string]any{"temperature": 0.4})
	if err != nil {
		return resolutionOutcome{}, err
	}
	outcome := resolutionOutcome{cost: invokeResult.Cost, tokens: resultTokens(invokeResult)}

	resolution := DebateResolution{
		ExpertID:         r.ExpertID,
		OriginalPosition: r.Findings,
		Challenges:       challengeTexts,
	}

	var decoded struct {
		Resolution          string   `json:"resolution"`
		ConfidenceChange    int      `json:"confidenceChange"`
		AdoptedAlternatives []string `json:"adoptedAlternatives"`
	}
	raw := resultContent(invokeResult)
	if err := decodeInto(raw, &decoded, "resolution"); err != nil || strings.TrimSpace(decoded.Resolution) == "" {
		resolution.Resolution = stripMarkdown(raw)
		if resolution.Resolution == "" {
			resolution.Resolution = r.Findings
		}
		outcome.resolution = resolution
		return outcome, nil
	}

	resolution.Resolution = decoded.Resolution
	resolution.ConfidenceChange = clamp(decoded.ConfidenceChange, -100, 100)
	resolution.AdoptedAlternatives = decoded.AdoptedAlternatives
	outcome.resolution = resolution
	return outcome, nil
}

// findingsDigest renders all research findings for prompt consumption,
// truncating each to keep the challenge prompt bounded.
func findingsDigest(results []AgentResearchResult) string {
	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "Expert %s (%s, confidence %d):\n%s\n\n",
			r.ExpertID, r.ExpertName, r.Confidence, truncateText(r.Findings, 2000))
	}
	return strings.TrimSpace(b.String())
}

func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n[truncated]"
}
