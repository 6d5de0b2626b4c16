package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Mowd/claude-dashboard/internal/core"
	"github.com/Mowd/claude-dashboard/internal/workflow"
)

// defaultRetention is the cleanup cutoff when the request doesn't
// name one.
const defaultRetention = 720 * time.Hour

// startWorkflowRequest is the POST /workflows body.
type startWorkflowRequest struct {
	Task          string   `json:"task"`
	ProjectPath   string   `json:"projectPath,omitempty"`
	ExecutionPlan []string `json:"executionPlan,omitempty"`
}

// handleStartWorkflow creates a workflow and launches its pipeline.
func (s *Server) handleStartWorkflow(w http.ResponseWriter, r *http.Request) {
	var req startWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := s.engine.StartWorkflow(r.Context(), workflow.StartRequest{
		Task:        req.Task,
		ProjectPath: req.ProjectPath,
		Plan:        req.ExecutionPlan,
	})
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	s.respondJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// handleListWorkflows lists workflows, newest first, with optional
// status/q filters and limit/offset pagination.
func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := core.ListFilter{
		Status: core.WorkflowStatus(q.Get("status")),
		Query:  q.Get("q"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.respondError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		filter.Offset = n
	}

	workflows, err := s.store.ListWorkflows(r.Context(), filter)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	total, err := s.store.CountWorkflows(r.Context(), filter)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	if workflows == nil {
		workflows = []*core.Workflow{}
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"workflows": workflows,
		"total":     total,
	})
}

// handleGetWorkflow returns one workflow with its steps.
func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "workflowID")

	wf, err := s.store.GetWorkflow(r.Context(), id)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	steps, err := s.store.StepsForWorkflow(r.Context(), id)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"workflow": wf,
		"steps":    steps,
	})
}

// handleMetrics returns aggregate workflow metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.Metrics(r.Context())
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, m)
}

// handleCleanup deletes terminal workflows older than the requested
// retention window.
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	retention := defaultRetention
	if r.ContentLength > 0 {
		var body struct {
			OlderThan string `json:"olderThan"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if body.OlderThan != "" {
			d, err := time.ParseDuration(body.OlderThan)
			if err != nil || d <= 0 {
				s.respondError(w, http.StatusBadRequest, "invalid olderThan duration")
				return
			}
			retention = d
		}
	}

	removed, err := s.store.DeleteTerminalBefore(r.Context(), time.Now().Add(-retention))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// handlePause requests a pause at the next stage boundary. Pausing a
// workflow that isn't running is a no-op ack.
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.engine.Pause)
}

// handleResume resumes a paused workflow.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.engine.Resume)
}

// handleCancel cancels a workflow and kills any in-flight agents.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.engine.Cancel)
}

func (s *Server) lifecycle(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id string) error) {
	id := chi.URLParam(r, "workflowID")
	if err := op(r.Context(), id); err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
