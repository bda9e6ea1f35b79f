// Package api is the local control surface: a loopback HTTP API and an MCP
// server over the same deps. Everything except /health requires the bearer
// token.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hermod-ai/hermod/internal/agent"
	"github.com/hermod-ai/hermod/internal/learning"
	"github.com/hermod-ai/hermod/internal/scheduler"
	"github.com/hermod-ai/hermod/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

type Deps struct {
	Store     *storage.Store
	Registry  *agent.Registry
	Scheduler *scheduler.Scheduler
	Learning  *learning.Manager
	Token     string
}

func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/agents", handleListAgents(deps))
		r.Get("/agents/{id}", handleGetAgent(deps))
		r.Post("/agents/{id}/trigger", handleTrigger(deps))
		r.Post("/agents/{id}/enable", handleSetEnabled(deps, true))
		r.Post("/agents/{id}/disable", handleSetEnabled(deps, false))
		r.Get("/agents/{id}/config", handleGetConfig(deps))
		r.Get("/agents/{id}/config/history", handleConfigHistory(deps))
		r.Get("/agents/{id}/metrics", handleMetrics(deps))

		r.Get("/executions", handleListExecutions(deps))
		r.Get("/audit", handleListAudit(deps))
		r.Post("/feedback", handleFeedback(deps))
		r.Post("/proposals", handleProposal(deps))
		r.Get("/scheduler/status", handleSchedulerStatus(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func handleListAgents(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, deps.Registry.StatusAll())
	}
}

func handleGetAgent(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		status, ok := deps.Registry.Status(id)
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "unknown agent %q", id)
			return
		}

		cfg, err := deps.Store.CurrentConfig(id)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusInternalServerError, "api_error", "loading config: %v", err)
			return
		}
		executions, err := deps.Store.ListExecutions(id, 5)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing executions: %v", err)
			return
		}
		audit, err := deps.Store.ListAudit(id, 5)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing audit: %v", err)
			return
		}
		if executions == nil {
			executions = []storage.ExecutionRecord{}
		}
		if audit == nil {
			audit = []storage.ConfigAudit{}
		}

		writeJSON(w, map[string]any{
			"agent":             status,
			"config":            cfg,
			"recent_executions": executions,
			"recent_audit":      audit,
		})
	}
}

func handleTrigger(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		rec, err := deps.Scheduler.Trigger(r.Context(), id)
		switch {
		case errors.Is(err, scheduler.ErrUnknownAgent):
			httpError(w, http.StatusNotFound, "not_found", "unknown agent %q", id)
		case errors.Is(err, scheduler.ErrAgentRunning):
			httpError(w, http.StatusConflict, "conflict", "agent %q already has an execution in progress", id)
		case errors.Is(err, scheduler.ErrAgentDisabled):
			httpError(w, http.StatusConflict, "conflict", "agent %q is disabled", id)
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "trigger failed: %v", err)
		default:
			writeJSON(w, rec)
		}
	}
}

func handleSetEnabled(deps Deps, enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		changed, known := deps.Registry.SetEnabled(id, enabled)
		if !known {
			httpError(w, http.StatusNotFound, "not_found", "unknown agent %q", id)
			return
		}
		// Repeating the current state is a no-op success.
		if changed {
			if err := deps.Store.UpdateEnabled(id, enabled); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "persisting enabled flag: %v", err)
				return
			}
		}
		writeJSON(w, map[string]any{"agent_id": id, "enabled": enabled, "changed": changed})
	}
}

func handleGetConfig(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		cfg, err := deps.Store.CurrentConfig(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "no config for agent %q", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading config: %v", err)
			return
		}
		writeJSON(w, cfg)
	}
}

func handleConfigHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		limit := parseIntParam(r, "limit", 20, 100)
		history, err := deps.Store.ConfigHistory(id, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing config history: %v", err)
			return
		}
		if history == nil {
			history = []storage.ConfigVersion{}
		}
		writeJSON(w, history)
	}
}

func handleMetrics(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, ok := deps.Registry.Get(id); !ok {
			httpError(w, http.StatusNotFound, "not_found", "unknown agent %q", id)
			return
		}
		days := parseIntParam(r, "days", 7, 90)
		metrics, err := deps.Store.MetricsSince(id, days)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading metrics: %v", err)
			return
		}
		if metrics == nil {
			metrics = []storage.DailyMetrics{}
		}
		writeJSON(w, metrics)
	}
}

func handleListExecutions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 200)
		executions, err := deps.Store.ListExecutions(r.URL.Query().Get("agent"), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing executions: %v", err)
			return
		}
		if executions == nil {
			executions = []storage.ExecutionRecord{}
		}
		writeJSON(w, executions)
	}
}

func handleListAudit(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 200)
		audit, err := deps.Store.ListAudit(r.URL.Query().Get("agent"), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing audit: %v", err)
			return
		}
		if audit == nil {
			audit = []storage.ConfigAudit{}
		}
		writeJSON(w, audit)
	}
}

type feedbackRequest struct {
	AgentID     string `json:"agent_id"`
	ExecutionID int64  `json:"execution_id"`
	Type        string `json:"type"`
}

func handleFeedback(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req feedbackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		fb, err := deps.Learning.RecordFeedback(req.AgentID, req.ExecutionID, req.Type)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "execution %d not found", req.ExecutionID)
			return
		}
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		writeJSON(w, fb)
	}
}

func handleProposal(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var p agent.Proposal
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if p.ProposedBy == "" {
			p.ProposedBy = agent.ProposerHuman
		}
		audit, err := deps.Learning.Propose(r.Context(), p)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "unknown agent %q", p.AgentID)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "proposal failed: %v", err)
			return
		}
		writeJSON(w, audit)
	}
}

func handleSchedulerStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := deps.Scheduler.Status()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading scheduler status: %v", err)
			return
		}
		writeJSON(w, status)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
