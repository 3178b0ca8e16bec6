package gateway

import (
	"fmt"
	"net/http"
)

// apiError carries an HTTP status alongside a user-safe message.
type apiError struct {
	status  int
	message string
}

func (e *apiError) Error() string { return e.message }

func badRequest(format string, args ...any) *apiError {
	return &apiError{status: http.StatusBadRequest, message: fmt.Sprintf(format, args...)}
}

// validate rejects malformed, oversized, or injection-flagged requests
// before any model call is made.
func (s *Server) validate(req *PipelineRequest) *apiError {
	if !validStages[req.Stage] {
		return badRequest("unknown stage %q", req.Stage)
	}
	if len(req.UserInput) > maxUserInput {
		return badRequest("userInput exceeds %d characters", maxUserInput)
	}
	if len(req.UserComment) > maxUserComment {
		return badRequest("userComment exceeds %d characters", maxUserComment)
	}

	for i, ac := range req.AgentConfigs {
		if ac.Agent == "" {
			return badRequest("agentConfigs[%d]: agent is required", i)
		}
		if len(ac.SystemPrompt) > maxSystemPrompt {
			return badRequest("agentConfigs[%d]: systemPrompt exceeds %d characters", i, maxSystemPrompt)
		}
		if ac.Temperature < 0 || ac.Temperature > 1 {
			return badRequest("agentConfigs[%d]: temperature must be between 0 and 1", i)
		}
	}

	for _, field := range []string{req.UserInput, req.UserComment} {
		if result := s.detector.Scan(field); result.Flagged {
			return badRequest("input rejected")
		}
	}
	for i, ac := range req.AgentConfigs {
		if result := s.detector.Scan(ac.SystemPrompt); result.Flagged {
			return badRequest("agentConfigs[%d]: system prompt rejected", i)
		}
	}

	return s.validateStageInputs(req)
}

// validateStageInputs checks the round data each stage consumes, so a
// missing prior stage fails fast instead of deep inside the orchestrator.
func (s *Server) validateStageInputs(req *PipelineRequest) *apiError {
	round := req.RoundData

	switch req.Stage {
	case "questions":
		if req.UserInput == "" {
			return badRequest("userInput is required for the questions stage")
		}
	case "research":
		if round == nil || len(round.Questions) == 0 {
			return badRequest("roundData.questions is required for the research stage")
		}
	case "challenge", "synthesis":
		if round == nil || len(round.ResearchResults) == 0 {
			return badRequest("roundData.researchResults is required for the %s stage", req.Stage)
		}
	case "review", "voting", "spec":
		if round == nil || len(round.Syntheses) == 0 {
			return badRequest("roundData.syntheses is required for the %s stage", req.Stage)
		}
	case "chat":
		if req.TargetAgent == "" {
			return badRequest("targetAgent is required for the chat stage")
		}
		if req.UserInput == "" {
			return badRequest("userInput is required for the chat stage")
		}
	}
	return nil
}
