// Package jobs runs the clinic's periodic background work.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
)

// runTimeout bounds a single run of any job.
const runTimeout = 2 * time.Minute

// Func is one run of a job. It should return promptly once ctx is done.
type Func func(ctx context.Context) error

type Scheduler struct {
	cron   *gocron.Scheduler
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// New returns a stopped scheduler. Runs of the same job never overlap.
func New(logger zerolog.Logger) *Scheduler {
	cron := gocron.NewScheduler(time.UTC)
	cron.SingletonModeAll()
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron,
		logger: logger.With().Str("component", "jobs").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers fn to run every interval, starting as soon as the
// scheduler starts.
func (s *Scheduler) Add(name string, every time.Duration, fn Func) error {
	if every <= 0 {
		return fmt.Errorf("job %s: interval must be positive, got %s", name, every)
	}
	if _, err := s.cron.Every(every).Tag(name).Do(s.wrap(name, fn)); err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	s.logger.Info().Str("job", name).Dur("every", every).Msg("job registered")
	return nil
}

func (s *Scheduler) wrap(name string, fn Func) func() {
	return func() {
		ctx, cancel := context.WithTimeout(s.ctx, runTimeout)
		defer cancel()

		start := time.Now()
		err := fn(ctx)
		ev := s.logger.Debug()
		if err != nil {
			ev = s.logger.Error().Err(err)
		}
		ev.Str("job", name).Dur("took", time.Since(start)).Msg("job run")
	}
}

func (s *Scheduler) Len() int {
	return s.cron.Len()
}

func (s *Scheduler) Start() {
	s.cron.StartAsync()
}

// Stop cancels running jobs and stops scheduling new runs.
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		s.cancel()
		s.cron.Stop()
	})
}
