package cron

import (
	"context"
	"time"
)

// Job is one unit of scheduled work run by the cron worker.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Spaced jobs run at most once per MinInterval even though the service
// ticks faster. Housekeeping jobs use it; reconciliation runs every tick.
type Spaced interface {
	MinInterval() time.Duration
}

func minInterval(job Job) time.Duration {
	if spaced, ok := job.(Spaced); ok {
		return spaced.MinInterval()
	}
	return 0
}

// Registry holds jobs in run order. Names are unique; registering a second
// job under an existing name replaces the first in place.
type Registry struct {
	jobs []Job
}

func NewRegistry(jobs ...Job) *Registry {
	registry := &Registry{}
	for _, job := range jobs {
		registry.Register(job)
	}
	return registry
}

func (r *Registry) Register(job Job) {
	if job == nil {
		return
	}
	for i, existing := range r.jobs {
		if existing.Name() == job.Name() {
			r.jobs[i] = job
			return
		}
	}
	r.jobs = append(r.jobs, job)
}

// Jobs returns a copy of the registered jobs.
func (r *Registry) Jobs() []Job {
	jobs := make([]Job, len(r.jobs))
	copy(jobs, r.jobs)
	return jobs
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.jobs))
	for _, job := range r.jobs {
		names = append(names, job.Name())
	}
	return names
}
