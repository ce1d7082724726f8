package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagehand/internal/scheduler"
)

func TestJobsHandler(t *testing.T) {
	jobs := scheduler.NewRegistry(nil)
	runs := 0
	require.NoError(t, jobs.Register(scheduler.Job{Name: "persist", Run: func(context.Context) error {
		runs++
		return nil
	}}))
	require.NoError(t, jobs.Register(scheduler.Job{Name: "broken", Run: func(context.Context) error {
		return errors.New("disk full")
	}}))

	mux := http.NewServeMux()
	NewJobsHandler(jobs, nil).Register(mux)

	rec := do(t, mux, http.MethodGet, "/api/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []scheduler.JobInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 2)

	rec = do(t, mux, http.MethodPost, "/api/jobs/persist/run", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, runs)

	rec = do(t, mux, http.MethodPost, "/api/jobs/broken/run", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = do(t, mux, http.MethodPost, "/api/jobs/missing/run", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
