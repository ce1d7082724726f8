package handler

import (
	"net/http"

	"go.uber.org/zap"

	"stagehand/internal/scheduler"
)

// JobsHandler exposes the periodic jobs of a server
type JobsHandler struct {
	jobs *scheduler.Registry
	log  *zap.Logger
}

// NewJobsHandler creates a new jobs handler
func NewJobsHandler(jobs *scheduler.Registry, log *zap.Logger) *JobsHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &JobsHandler{jobs: jobs, log: log.Named("http")}
}

// Register adds the job routes to mux
func (h *JobsHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/jobs", h.ListJobs)
	mux.HandleFunc("POST /api/jobs/{name}/run", h.RunJob)
}

// ListJobs returns the registered jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.log, h.jobs.List(), http.StatusOK)
}

// RunJob runs one job immediately
func (h *JobsHandler) RunJob(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	for _, info := range h.jobs.List() {
		if info.Name != name {
			continue
		}
		if err := h.jobs.Trigger(r.Context(), name); err != nil {
			h.log.Error("job failed", zap.String("job", name), zap.Error(err))
			writeError(w, h.log, "Job failed", err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeError(w, h.log, "Job not found", name, http.StatusNotFound)
}
