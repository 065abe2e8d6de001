package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/packfinderz-settlement/pkg/logger"
)

const defaultTick = time.Minute

type jobMetrics interface {
	ObserveDuration(job string, duration time.Duration)
	IncSuccess(job string)
	IncFailure(job string)
}

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	// Cadence defaults to an in-process tracker, which is only correct with
	// a single worker replica.
	Cadence Cadence
	Metrics jobMetrics
	Tick    time.Duration
	Clock   func() time.Time
}

// Service wakes every tick, takes the cycle lock and runs the jobs whose
// cadence says they are due.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	cadence  Cadence
	metrics  jobMetrics
	tick     time.Duration
	now      func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.Lock == nil:
		return nil, errors.New("lock required")
	case params.Registry == nil:
		return nil, errors.New("registry required")
	}
	s := &Service{
		logg:     params.Logger,
		registry: params.Registry,
		lock:     params.Lock,
		tick:     params.Tick,
		now:      params.Clock,
	}
	if s.tick <= 0 {
		s.tick = defaultTick
	}
	if s.now == nil {
		s.now = time.Now
	}
	if params.Cadence != nil {
		s.cadence = params.Cadence
	} else {
		s.cadence = newMemoryCadence(s.now)
	}
	if params.Metrics != nil {
		s.metrics = params.Metrics
	}
	return s, nil
}

func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		if err := s.runCycle(ctx); err != nil {
			s.logg.Error(ctx, "cron.cycle_failed", err)
		}
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron.stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Service) runCycle(ctx context.Context) error {
	held, err := s.lock.Acquire(ctx)
	if err != nil {
		return err
	}
	if !held {
		s.logg.Debug(ctx, "cron.cycle_skipped_locked")
		return nil
	}
	defer func() {
		if err := s.lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logg.Error(ctx, "cron.lock_release_failed", err)
		}
	}()

	ran, failed := 0, 0
	for i, entry := range s.registry.Entries() {
		if i > 0 {
			still, err := s.lock.Extend(ctx)
			if err != nil {
				return err
			}
			if !still {
				s.logg.Warn(s.logg.WithField(ctx, "next_job", entry.Job.Name()), "cron.lock_lost")
				return nil
			}
		}

		due, err := s.cadence.Claim(ctx, entry.Job.Name(), entry.Every)
		if err != nil {
			return fmt.Errorf("claim %s: %w", entry.Job.Name(), err)
		}
		if !due {
			continue
		}
		ran++
		if err := s.runJob(ctx, entry.Job); err != nil {
			failed++
			if err := s.cadence.Forget(ctx, entry.Job.Name()); err != nil {
				s.logg.Error(ctx, "cron.cadence_reset_failed", err)
			}
		}
	}
	if ran > 0 {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{"jobs_run": ran, "jobs_failed": failed}), "cron.cycle_complete")
	}
	return nil
}

// RunJob runs one registered job now, ignoring lock and cadence. It backs
// cron-worker -run.
func (s *Service) RunJob(ctx context.Context, name string) error {
	entry, ok := s.registry.Lookup(name)
	if !ok {
		return fmt.Errorf("unknown cron job %q", name)
	}
	return s.runJob(ctx, entry.Job)
}

func (s *Service) runJob(ctx context.Context, job Job) error {
	name := job.Name()
	jobCtx := s.logg.WithField(ctx, "job", name)
	start := s.now()
	err := job.Run(jobCtx)
	elapsed := s.now().Sub(start)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", elapsed.Milliseconds())

	if s.metrics != nil {
		s.metrics.ObserveDuration(name, elapsed)
		if err != nil {
			s.metrics.IncFailure(name)
		} else {
			s.metrics.IncSuccess(name)
		}
	}
	if err != nil {
		s.logg.Error(jobCtx, "cron.job_failed", err)
		return err
	}
	s.logg.Info(jobCtx, "cron.job_complete")
	return nil
}
