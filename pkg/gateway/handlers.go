package gateway

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/specforge/specforge/pkg/config"
	"github.com/specforge/specforge/pkg/logger"
	"github.com/specforge/specforge/pkg/pipeline"
)

func (s *Server) handlePipeline(w http.ResponseWriter, r *http.Request) {
	var req PipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if verr := s.validate(&req); verr != nil {
		writeError(w, verr.status, verr.message)
		return
	}

	if !s.client.Configured() {
		writeError(w, http.StatusServiceUnavailable, "model provider not configured")
		return
	}

	if allowed, retryAfter := s.limiter.Allow(callerID(r), req.Stage); !allowed {
		seconds := int(math.Ceil(retryAfter.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
			Error:      "rate limit exceeded",
			RetryAfter: seconds,
		})
		return
	}

	logger.InfoCF("gateway", "stage request", map[string]any{
		"stage":  req.Stage,
		"agents": len(req.AgentConfigs),
	})

	orc := s.orchestratorFor(req.AgentConfigs)
	s.dispatch(w, r, orc, &req)
}

// dispatch runs one stage and writes its typed response. Every stage error
// is translated to the taxonomy; raw error chains never reach the body.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, orc *pipeline.Orchestrator, req *PipelineRequest) {
	ctx := r.Context()
	round := req.RoundData
	if round == nil {
		round = &pipeline.RoundData{}
	}
	userInput := req.UserInput
	if userInput == "" {
		userInput = round.UserInput
	}

	var (
		resp any
		err  error
	)
	switch req.Stage {
	case "questions":
		resp, err = orc.GenerateQuestions(ctx, userInput)
	case "research":
		assignments := orc.AssignExperts(round.Questions, s.expertsFor(req.AgentConfigs))
		resp, err = orc.ExecuteResearch(ctx, userInput, assignments)
	case "challenge":
		resp, err = orc.RunChallengeStage(ctx, userInput, round.ResearchResults)
	case "synthesis":
		resp, err = orc.Synthesize(ctx, userInput, req.UserComment, round.ResearchResults, round.DebateResolutions)
	case "review":
		resp, err = orc.Review(ctx, userInput, round.Syntheses, round.ResearchResults)
	case "voting":
		resp, err = orc.Vote(ctx, userInput, round.Syntheses)
	case "spec":
		resp, err = orc.GenerateSpec(ctx, userInput, round.Syntheses, round.Votes)
	case "chat":
		resp, err = orc.Chat(ctx, req.TargetAgent, userInput, round)
	}

	if err != nil {
		status, message := classifyError(err)
		logger.ErrorCF("gateway", "stage failed", map[string]any{
			"stage": req.Stage,
			"error": err.Error(),
		})
		writeError(w, status, message)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// orchestratorFor builds a per-request orchestrator, applying any expert
// overrides to a copied config so concurrent requests never share mutations.
func (s *Server) orchestratorFor(overrides []AgentConfig) *pipeline.Orchestrator {
	cfg := s.cfg
	if len(overrides) > 0 {
		clone := *s.cfg
		clone.Experts = applyAgentConfigs(s.cfg.Experts, overrides)
		cfg = &clone
	}
	return pipeline.New(cfg, s.client, s.tools, s.store, s.events)
}

func (s *Server) expertsFor(overrides []AgentConfig) []config.ExpertConfig {
	experts := s.cfg.Experts
	if len(overrides) > 0 {
		experts = applyAgentConfigs(s.cfg.Experts, overrides)
	}
	enabled := make([]config.ExpertConfig, 0, len(experts))
	for _, e := range experts {
		if e.Enabled {
			enabled = append(enabled, e)
		}
	}
	return enabled
}

// applyAgentConfigs overlays request-level expert settings on the roster.
// Unknown agent ids are ignored.
func applyAgentConfigs(experts []config.ExpertConfig, overrides []AgentConfig) []config.ExpertConfig {
	out := make([]config.ExpertConfig, len(experts))
	copy(out, experts)

	for _, o := range overrides {
		for i := range out {
			if out[i].ID != o.Agent {
				continue
			}
			out[i].Enabled = o.Enabled
			out[i].Temperature = o.Temperature
			if o.SystemPrompt != "" {
				out[i].SystemPrompt = o.SystemPrompt
			}
		}
	}
	return out
}

// callerID keys the rate limiter: the bearer token when present, otherwise
// the remote host.
func callerID(r *http.Request) string {
	if token := bearerToken(r); token != "" {
		return token
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// classifyError maps a stage error to a status and user-safe message by
// substring. Stack traces and provider payloads never leave the process.
func classifyError(err error) (int, string) {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unknown or disabled agent"):
		return http.StatusBadRequest, err.Error()
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "rate_limit"):
		return http.StatusTooManyRequests, "upstream rate limit; retry later"
	case strings.Contains(msg, "not configured"):
		return http.StatusServiceUnavailable, "service not configured"
	case strings.Contains(msg, "api"):
		return http.StatusInternalServerError, "model provider error"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
