package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wablast/wablast/internal/account"
	"github.com/wablast/wablast/internal/campaign"
	"github.com/wablast/wablast/internal/runner"
)

// StartRunResponse is the response for POST /runs
type StartRunResponse struct {
	RunID      string `json:"run_id"`
	CampaignID string `json:"campaign_id"`
	Total      int    `json:"total"`
	Status     string `json:"status"`
}

// StartRunRequest is the request body for POST /runs. ResumeRunID, when set,
// resumes an interrupted run from its checkpoint instead of starting fresh.
type StartRunRequest struct {
	campaign.Task
	ResumeRunID string `json:"resume_run_id,omitempty"`
}

// AccountInfo is one account's entry in GET /accounts: its live status plus
// the monitor's last diagnostic check, when one is cached.
type AccountInfo struct {
	account.Status
	LastChecked time.Time `json:"last_checked,omitzero"`
}

// AccountsResponse is the response for GET /accounts
type AccountsResponse struct {
	Accounts []AccountInfo `json:"accounts"`
}

// AccountLimit is one account's rate-limit usage in GET /limits.
type AccountLimit struct {
	ID        int `json:"id"`
	HourCount int `json:"hour_count"`
	DayCount  int `json:"day_count"`
}

// ScheduleRequest is the request body for POST /schedules
type ScheduleRequest struct {
	ID   string         `json:"id,omitempty"`
	Spec string         `json:"spec"`
	Task *campaign.Task `json:"task"`
}

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status string        `json:"status"`
	Uptime string        `json:"uptime"`
	Run    runner.Status `json:"run"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Uptime: time.Since(s.startTime).String(),
		Run:    s.runs.Status(),
	})
}

// handleStartRun handles POST /api/v1/runs
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req StartRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	task := req.Task
	if task.CampaignID == "" {
		task.CampaignID = uuid.NewString()
	}

	var runID string
	var err error
	if req.ResumeRunID != "" {
		runID, err = s.runs.StartResumed(r.Context(), req.ResumeRunID, &task)
	} else {
		runID, err = s.runs.Start(r.Context(), &task)
	}
	if errors.Is(err, runner.ErrRunActive) {
		s.sendError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Info("run started via API",
		"run_id", runID,
		"campaign_id", task.CampaignID,
		"total", len(task.Messages),
	)

	s.sendJSON(w, http.StatusAccepted, StartRunResponse{
		RunID:      runID,
		CampaignID: task.CampaignID,
		Total:      len(task.Messages),
		Status:     "started",
	})
}

// handleCurrentRun handles GET /api/v1/runs/current
func (s *Server) handleCurrentRun(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, s.runs.Status())
}

// handlePause handles POST /api/v1/runs/current/pause
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, s.runs.Pause, "paused")
}

// handleResume handles POST /api/v1/runs/current/resume
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, s.runs.Resume, "resumed")
}

// handleStop handles POST /api/v1/runs/current/stop
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, s.runs.Stop, "stopping")
}

func (s *Server) lifecycle(w http.ResponseWriter, op func() error, status string) {
	if err := op(); err != nil {
		if errors.Is(err, runner.ErrNoActiveRun) {
			s.sendError(w, http.StatusNotFound, err.Error())
			return
		}
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"status": status})
}

// handleListRuns handles GET /api/v1/runs
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.sendError(w, http.StatusServiceUnavailable, "run history is not enabled")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.sendError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	runs, err := s.history.ListRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list runs", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}
	s.sendJSON(w, http.StatusOK, runs)
}

// handleGetRun handles GET /api/v1/runs/{id}
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.sendError(w, http.StatusServiceUnavailable, "run history is not enabled")
		return
	}

	id := chi.URLParam(r, "id")
	run, err := s.history.GetRun(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get run", "run_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get run")
		return
	}
	if run == nil {
		s.sendError(w, http.StatusNotFound, "Run not found")
		return
	}
	s.sendJSON(w, http.StatusOK, run)
}

// handleRunMessages handles GET /api/v1/runs/{id}/messages
func (s *Server) handleRunMessages(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.sendError(w, http.StatusServiceUnavailable, "run history is not enabled")
		return
	}

	id := chi.URLParam(r, "id")
	msgs, err := s.history.GetRunMessages(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get run messages", "run_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get run messages")
		return
	}
	s.sendJSON(w, http.StatusOK, msgs)
}

// handleGetCampaign handles GET /api/v1/campaigns/{id}
func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.sendError(w, http.StatusServiceUnavailable, "run history is not enabled")
		return
	}

	id := chi.URLParam(r, "id")
	c, err := s.history.GetCampaign(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get campaign", "campaign_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get campaign")
		return
	}
	if c == nil {
		s.sendError(w, http.StatusNotFound, "Campaign not found")
		return
	}
	s.sendJSON(w, http.StatusOK, c)
}

// handleCheckpoints handles GET /api/v1/checkpoints. It lists interrupted
// runs whose checkpoint can be handed back to POST /runs as resume_run_id.
func (s *Server) handleCheckpoints(w http.ResponseWriter, r *http.Request) {
	cps, err := s.runs.Interrupted(r.Context())
	if err != nil {
		s.logger.Error("failed to list checkpoints", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list checkpoints")
		return
	}
	if cps == nil {
		cps = []*campaign.Checkpoint{}
	}
	s.sendJSON(w, http.StatusOK, cps)
}

// handleAccounts handles GET /api/v1/accounts
func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	if s.accounts == nil {
		s.sendError(w, http.StatusServiceUnavailable, "accounts are not configured")
		return
	}

	statuses, err := s.accounts.Statuses(r.Context())
	if err != nil {
		s.logger.Error("failed to query account statuses", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to query accounts")
		return
	}

	list := make([]AccountInfo, 0, len(statuses))
	for _, st := range statuses {
		info := AccountInfo{Status: st}
		if s.monitor != nil {
			_, _, info.LastChecked = s.monitor.LastChecked(st.ID)
		}
		list = append(list, info)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	s.sendJSON(w, http.StatusOK, AccountsResponse{Accounts: list})
}

// handleLimits handles GET /api/v1/limits
func (s *Server) handleLimits(w http.ResponseWriter, r *http.Request) {
	if s.quota == nil || s.accounts == nil {
		s.sendError(w, http.StatusServiceUnavailable, "rate limiting is not enabled")
		return
	}

	statuses, err := s.accounts.Statuses(r.Context())
	if err != nil {
		s.logger.Error("failed to query account statuses", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to query accounts")
		return
	}

	limits := make([]AccountLimit, 0, len(statuses))
	for id := range statuses {
		hour, day := s.quota.Count(id)
		limits = append(limits, AccountLimit{ID: id, HourCount: hour, DayCount: day})
	}
	sort.Slice(limits, func(i, j int) bool { return limits[i].ID < limits[j].ID })

	s.sendJSON(w, http.StatusOK, limits)
}

// handleEvents handles GET /api/v1/events as a server-sent event stream.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		s.sendError(w, http.StatusServiceUnavailable, "events are not enabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming is not supported")
		return
	}

	// The stream outlives the server's write timeout.
	rc := http.NewResponseController(w)
	rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, cancel := s.bus.Subscribe()
	defer cancel()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}

// handleAddSchedule handles POST /api/v1/schedules
func (s *Server) handleAddSchedule(w http.ResponseWriter, r *http.Request) {
	if s.schedules == nil {
		s.sendError(w, http.StatusServiceUnavailable, "scheduling is not enabled")
		return
	}

	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	if err := s.schedules.Add(req.ID, req.Spec, req.Task); err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.sendJSON(w, http.StatusCreated, map[string]string{"id": req.ID})
}

// handleListSchedules handles GET /api/v1/schedules
func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	if s.schedules == nil {
		s.sendError(w, http.StatusServiceUnavailable, "scheduling is not enabled")
		return
	}
	s.sendJSON(w, http.StatusOK, s.schedules.List())
}

// handleRemoveSchedule handles DELETE /api/v1/schedules/{id}
func (s *Server) handleRemoveSchedule(w http.ResponseWriter, r *http.Request) {
	if s.schedules == nil {
		s.sendError(w, http.StatusServiceUnavailable, "scheduling is not enabled")
		return
	}
	if err := s.schedules.Remove(chi.URLParam(r, "id")); err != nil {
		s.sendError(w, http.StatusNotFound, err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// sendJSON writes a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}
