package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/autotrade/tasktracker/internal/job"
)

var startTime = time.Now()

type Handlers struct {
	ctx    context.Context
	store  *job.Store
	runner *job.Runner
}

func NewHandlers(ctx context.Context, store *job.Store, runner *job.Runner) *Handlers {
	return &Handlers{ctx: ctx, store: store, runner: runner}
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	pending, running, completed, failed, cancelled := h.store.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"uptime_seconds": int(time.Since(startTime).Seconds()),
		"tasks": map[string]int{
			"pending":   pending,
			"running":   running,
			"completed": completed,
			"failed":    failed,
			"cancelled": cancelled,
		},
	})
}

func (h *Handlers) StartTask(w http.ResponseWriter, r *http.Request) {
	var req job.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Type.Valid() {
		writeError(w, http.StatusBadRequest, "unknown task type: "+string(req.Type))
		return
	}

	j := job.New(req.Type, req.Params)
	if err := h.runner.Submit(h.ctx, j); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, job.StartResponse{JobID: j.ID})
}

func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	report, err := h.store.Status(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handlers) GetResult(w http.ResponseWriter, r *http.Request) {
	result, err := h.store.Result(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result)
}

func (h *Handlers) CancelTask(w http.ResponseWriter, r *http.Request) {
	resp, err := h.store.Cancel(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	status := r.URL.Query().Get("status")

	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	jobs, total := h.store.List(limit, offset, status)
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks":  jobs,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, job.ErrNotFound):
		writeError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, job.ErrNotFinished):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
