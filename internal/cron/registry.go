package cron

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Job is one unit of scheduled settlement maintenance.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduled pairs a job with how often it should run.
type Scheduled struct {
	Job   Job
	Every time.Duration
}

type Registry struct {
	entries []Scheduled
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register schedules job every interval. Names must be unique.
func (r *Registry) Register(job Job, every time.Duration) error {
	if job == nil {
		return errors.New("job required")
	}
	if every <= 0 {
		return fmt.Errorf("cron job %q needs a positive interval", job.Name())
	}
	if _, ok := r.Lookup(job.Name()); ok {
		return fmt.Errorf("cron job %q already registered", job.Name())
	}
	r.entries = append(r.entries, Scheduled{Job: job, Every: every})
	return nil
}

func (r *Registry) Lookup(name string) (Scheduled, bool) {
	for _, entry := range r.entries {
		if entry.Job.Name() == name {
			return entry, true
		}
	}
	return Scheduled{}, false
}

// Entries returns a copy in registration order.
func (r *Registry) Entries() []Scheduled {
	return append([]Scheduled(nil), r.entries...)
}
