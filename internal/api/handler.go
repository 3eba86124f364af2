// Package api implements the read-only HTTP surface of the cron service.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openjobspec/ojs-cron-nats/internal/core"
	"github.com/openjobspec/ojs-cron-nats/internal/scheduler"
	"github.com/openjobspec/ojs-cron-nats/internal/service"
)

// Jobs reports the scheduled jobs.
type Jobs interface {
	Jobs() []scheduler.JobInfo
	Job(name string) (scheduler.JobInfo, bool)
}

// Tracker reports the job names taken from the index.
type Tracker interface {
	Tracked() []string
}

// Status reports the service state.
type Status interface {
	State() service.State
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Jobs    int    `json:"jobs"`
}

// JobsResponse is the body of GET /v1/jobs. Tracked lists every indexed name,
// including ones whose definition is missing or invalid. Jobs lists the
// scheduled timers only.
type JobsResponse struct {
	Tracked []string            `json:"tracked"`
	Jobs    []scheduler.JobInfo `json:"jobs"`
}

// Handler serves health and job listing endpoints.
type Handler struct {
	jobs    Jobs
	tracker Tracker
	status  Status
	version string
}

// NewHandler creates a Handler.
func NewHandler(jobs Jobs, tracker Tracker, status Status, version string) *Handler {
	return &Handler{jobs: jobs, tracker: tracker, status: status, version: version}
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	state := h.status.State()
	code := http.StatusOK
	if state != service.StateOK {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, HealthResponse{
		Status:  state.String(),
		Version: h.version,
		Jobs:    len(h.jobs.Jobs()),
	})
}

// ListJobs handles GET /v1/jobs.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := h.jobs.Jobs()
	if jobs == nil {
		jobs = []scheduler.JobInfo{}
	}
	WriteJSON(w, http.StatusOK, JobsResponse{
		Tracked: h.tracker.Tracked(),
		Jobs:    jobs,
	})
}

// GetJob handles GET /v1/jobs/{name}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	info, ok := h.jobs.Job(name)
	if !ok {
		WriteError(w, http.StatusNotFound, core.NewNotFoundError("Cron job", name))
		return
	}
	WriteJSON(w, http.StatusOK, info)
}
