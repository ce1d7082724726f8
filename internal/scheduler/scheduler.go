// Package scheduler runs a room's periodic jobs (tick, snapshot broadcast,
// persist) and stops them together so a final checkpoint can run after
// the last one returns.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// JobFunc is one run of a job
type JobFunc func(ctx context.Context) error

// Job is a named function run on an interval
type Job struct {
	Name     string
	Interval time.Duration
	// RunOnStart runs the job once as soon as the scheduler starts
	RunOnStart bool
	Run        JobFunc
}

// Registry manages all registered jobs and their lifecycle
type Registry struct {
	mu      sync.RWMutex
	jobs    map[string]Job
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	log     *zap.Logger
}

// NewRegistry creates a new job registry
func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		jobs: make(map[string]Job),
		log:  log.Named("scheduler"),
	}
}

// Register adds a job. A job with a zero interval never runs on its own
// but can still be triggered.
func (r *Registry) Register(job Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("job needs a name and a function")
	}
	if _, exists := r.jobs[job.Name]; exists {
		return fmt.Errorf("job %s already registered", job.Name)
	}
	if r.running {
		return fmt.Errorf("job %s: registry already started", job.Name)
	}

	r.jobs[job.Name] = job
	r.log.Debug("registered job", zap.String("job", job.Name), zap.Duration("interval", job.Interval))
	return nil
}

// Start begins every job's loop
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("registry already started")
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.running = true

	for _, job := range r.jobs {
		if job.Interval <= 0 {
			r.log.Debug("job has no interval, trigger only", zap.String("job", job.Name))
			continue
		}
		r.startLoop(ctx, job)
	}
	return nil
}

// Stop cancels every loop and waits for running jobs to return
func (r *Registry) Stop() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.running = false
	r.mu.Unlock()

	r.wg.Wait()
}

// Trigger runs a job now, outside its schedule
func (r *Registry) Trigger(ctx context.Context, name string) error {
	r.mu.RLock()
	job, exists := r.jobs[name]
	r.mu.RUnlock()

	if !exists {
		return fmt.Errorf("job %s not found", name)
	}
	return r.run(ctx, job)
}

// List returns information about registered jobs ordered by name
func (r *Registry) List() []JobInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]JobInfo, 0, len(r.jobs))
	for _, job := range r.jobs {
		infos = append(infos, JobInfo{Name: job.Name, Interval: job.Interval.String()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// JobInfo provides read-only information about a job
type JobInfo struct {
	Name     string `json:"name"`
	Interval string `json:"interval"`
}

// startLoop starts a goroutine that runs the job on schedule
func (r *Registry) startLoop(ctx context.Context, job Job) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		if job.RunOnStart {
			if err := r.run(ctx, job); err != nil {
				r.log.Warn("initial run failed", zap.String("job", job.Name), zap.Error(err))
			}
		}

		ticker := time.NewTicker(job.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				r.log.Debug("stopping job", zap.String("job", job.Name))
				return
			case <-ticker.C:
				if err := r.run(ctx, job); err != nil {
					r.log.Warn("job failed", zap.String("job", job.Name), zap.Error(err))
				}
			}
		}
	}()

	r.log.Info("started job", zap.String("job", job.Name), zap.Duration("interval", job.Interval))
}

func (r *Registry) run(ctx context.Context, job Job) error {
	if err := job.Run(ctx); err != nil {
		return fmt.Errorf("%s: %w", job.Name, err)
	}
	return nil
}
