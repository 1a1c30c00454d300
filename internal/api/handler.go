// Package api provides the HTTP API handlers and routing for the jobs service.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"docjobs/internal/apperrors"
	"docjobs/internal/health"
	"docjobs/internal/job"
)

const (
	// maxRequestBodySize limits client request bodies.
	maxRequestBodySize = 1 << 20 // 1 MB

	// maxCallbackBodySize allows a complete event to carry generated documents.
	maxCallbackBodySize = 32 << 20 // 32 MB

	// CallbackTokenHeader carries the per-job worker secret.
	CallbackTokenHeader = "X-Callback-Token"
)

// Handler contains HTTP handlers for the jobs API
type Handler struct {
	svc    *job.Service
	health *health.Checker
}

// NewHandler creates a new API handler
func NewHandler(svc *job.Service, healthChecker *health.Checker) *Handler {
	return &Handler{
		svc:    svc,
		health: healthChecker,
	}
}

// AdmitJob handles POST /v1/jobs. A new job answers 201; a repository that
// already has an active job answers 200 with that job's id.
func (h *Handler) AdmitJob(w http.ResponseWriter, r *http.Request) {
	var req job.AdmitRequest
	if !h.decode(w, r, maxRequestBodySize, &req, false) {
		return
	}

	resp, err := h.svc.Admit(r.Context(), &req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	status := http.StatusCreated
	if resp.Existing {
		status = http.StatusOK
	}
	h.writeJSON(w, status, resp)
}

// GetJob handles GET /v1/jobs/{jobId}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if jobID == "" {
		h.writeError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	projection, err := h.svc.Get(r.Context(), jobID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, projection)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// CancelJob handles POST /v1/jobs/{jobId}/cancel. The body is optional.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if jobID == "" {
		h.writeError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	var req cancelRequest
	if !h.decode(w, r, maxRequestBodySize, &req, true) {
		return
	}

	projection, err := h.svc.Cancel(r.Context(), jobID, req.Reason)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, projection)
}

// ReclaimJobs handles POST /v1/jobs/reclaim. An empty body sweeps every repository.
func (h *Handler) ReclaimJobs(w http.ResponseWriter, r *http.Request) {
	var req job.ReclaimRequest
	if !h.decode(w, r, maxRequestBodySize, &req, true) {
		return
	}

	resp, err := h.svc.Reclaim(r.Context(), &req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// Callback handles POST /v1/callbacks, the worker webhook.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	var evt job.Event
	if !h.decode(w, r, maxCallbackBodySize, &evt, false) {
		return
	}

	resp, err := h.svc.HandleCallback(r.Context(), r.Header.Get(CallbackTokenHeader), &evt)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// Livez handles GET /livez - liveness probe.
// Returns 200 if the process is alive. Does not check dependencies.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	response := h.health.Liveness(r.Context())
	h.writeJSON(w, http.StatusOK, response)
}

// Readyz handles GET /readyz - readiness probe.
// Returns 503 if the store is unreachable or the service is shutting down.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsReady() {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, response)
}

// decode reads a JSON body into v. With optional set an empty body is
// accepted and leaves v at its zero value.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, limit int64, v any, optional bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		h.writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
		return false
	}
	h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
	return false
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// handleError handles errors from service layer with appropriate HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		slog.Error("Internal error", "error", err, "path", r.URL.Path)
	} else {
		slog.Warn("Client error", "error", err, "path", r.URL.Path, "status", status)
	}
	h.writeError(w, status, err.Error())
}
