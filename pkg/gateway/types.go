// Package gateway exposes the stage pipeline over HTTP: one stage per
// request, caller-carried round data, and a websocket progress stream.
package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/specforge/specforge/pkg/pipeline"
)

// Pipeline stage names accepted by POST /api/pipeline.
var validStages = map[string]bool{
	"questions": true,
	"research":  true,
	"challenge": true,
	"synthesis": true,
	"review":    true,
	"voting":    true,
	"spec":      true,
	"chat":      true,
}

// Request field limits.
const (
	maxUserInput    = 5000
	maxUserComment  = 1000
	maxSystemPrompt = 2000
)

// AgentConfig is a per-request expert override.
type AgentConfig struct {
	ID           string  `json:"id,omitempty"`
	Agent        string  `json:"agent"`
	SystemPrompt string  `json:"systemPrompt,omitempty"`
	Temperature  float64 `json:"temperature"`
	Enabled      bool    `json:"enabled"`
}

// PipelineRequest is the single stage-invocation envelope. The caller
// carries roundData forward between stages; the server holds no per-round
// state.
type PipelineRequest struct {
	Stage        string              `json:"stage"`
	UserInput    string              `json:"userInput,omitempty"`
	UserComment  string              `json:"userComment,omitempty"`
	AgentConfigs []AgentConfig       `json:"agentConfigs,omitempty"`
	RoundData    *pipeline.RoundData `json:"roundData,omitempty"`
	TargetAgent  string              `json:"targetAgent,omitempty"`
}

// ErrorResponse is the body for every non-2xx answer. RetryAfter is set
// only on 429s.
type ErrorResponse struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// HealthResponse is the public health probe body.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
