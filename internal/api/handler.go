// Package api provides the HTTP command surface of a runner: job submission,
// cancellation, teardown, chunked result fetching and lifecycle polling.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/zhao-mingming/moonbox/internal/domain"
	"github.com/zhao-mingming/moonbox/internal/runner"
)

// HandlerConfig holds the parameters needed to build the runner HTTP handler.
type HandlerConfig struct {
	Runner      *runner.Runner
	Events      *EventLog
	RunnerToken string
	StartTime   time.Time
	Logger      *slog.Logger
}

// Handler serves runner commands over HTTP.
type Handler struct {
	runner *runner.Runner
	events *EventLog
	token  string
	start  time.Time
	logger *slog.Logger
}

// NewHandler builds the runner's http.Handler. All job routes validate
// X-Runner-Token; /health is open.
func NewHandler(cfg HandlerConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		runner: cfg.Runner,
		events: cfg.Events,
		token:  cfg.RunnerToken,
		start:  cfg.StartTime,
		logger: logger,
	}

	r := chi.NewRouter()
	r.Get("/health", h.health)
	r.Group(func(r chi.Router) {
		r.Use(h.requireToken)
		r.Post("/jobs", h.submitJob)
		r.Get("/jobs/{jobID}", h.jobEvent)
		r.Post("/jobs/{jobID}/cancel", h.cancelJob)
		r.Post("/jobs/{jobID}/fetch", h.fetchChunk)
		r.Post("/kill", h.kill)
	})
	return r
}

func (h *Handler) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Runner-Token") != h.token {
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
				"error": "unauthorized",
				"code":  "AUTH_ERROR",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type submitJobRequest struct {
	JobID     string `json:"job_id"`
	Seq       int64  `json:"seq"`
	SessionID string `json:"session_id"`
	Type      string `json:"type"`

	SQL string `json:"sql"`

	// CREATE_TEMP_VIEW fields
	ViewName string `json:"view_name"`
	Cache    bool   `json:"cache"`
	Replace  bool   `json:"replace"`

	// INSERT_INTO fields
	Table     string `json:"table"`
	Database  string `json:"database"`
	Overwrite bool   `json:"overwrite"`
}

func (h *Handler) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": "invalid request body",
			"code":  "PARSE_ERROR",
		})
		return
	}
	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}

	task := &domain.TaskInfo{JobID: req.JobID, Seq: req.Seq, SessionID: req.SessionID}
	switch domain.TaskType(req.Type) {
	case domain.TaskCreateTempView:
		task.CreateTempView = &domain.CreateTempView{
			Name: req.ViewName, SQL: req.SQL, Cache: req.Cache, Replace: req.Replace,
		}
	case domain.TaskQuery:
		task.Query = &domain.Query{SQL: req.SQL}
	case domain.TaskInsertInto:
		task.InsertInto = &domain.InsertInto{
			Table: req.Table, Database: req.Database, SQL: req.SQL, Overwrite: req.Overwrite,
		}
	default:
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": "unknown task type",
			"code":  "PARSE_ERROR",
		})
		return
	}

	h.logger.Info("job submitted", "job_id", task.JobID, "type", string(task.Type()))

	if err := h.runner.Run(task); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"job_id": task.JobID})
}

func (h *Handler) jobEvent(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	ev, ok := h.events.Get(jobID)
	if !ok {
		writeError(w, domain.ErrNotFound("no lifecycle event for job %q", jobID))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job_id":  ev.JobID,
		"seq":     ev.Seq,
		"state":   string(ev.State),
		"message": ev.Message,
	})
}

func (h *Handler) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := h.runner.Cancel(jobID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"job_id": jobID})
}

type fetchChunkRequest struct {
	MaxRows int64 `json:"max_rows"`
}

func (h *Handler) fetchChunk(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	var req fetchChunkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": "invalid request body",
			"code":  "PARSE_ERROR",
		})
		return
	}

	chunk, err := h.runner.FetchChunk(r.Context(), jobID, req.MaxRows)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job_id":   chunk.JobID,
		"schema":   chunk.Schema,
		"rows":     chunk.Rows,
		"has_more": chunk.HasMore,
	})
}

func (h *Handler) kill(w http.ResponseWriter, _ *http.Request) {
	if err := h.runner.Kill(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"status": "accepted"})
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	select {
	case <-h.runner.Done():
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "terminated"})
	default:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":         "ok",
			"uptime_seconds": int(time.Since(h.start).Seconds()),
		})
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, httpStatusFromError(err), map[string]interface{}{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
