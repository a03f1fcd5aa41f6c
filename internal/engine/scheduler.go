package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Scheduler runs a job periodically on a single goroutine. Runs never
// overlap; the interval is measured from the end of the previous run.
type Scheduler struct {
	Interval time.Duration
	Job      func(ctx context.Context) error
	Logger   *slog.Logger

	// OnDone, if set, is called after each run with its error.
	OnDone func(err error)
}

// Run blocks until ctx is cancelled. The first run starts one Interval
// after Run is called. Cancellation is observed between runs only: an
// in-flight run receives a context that is never cancelled and is allowed
// to finish. Errors and panics are logged and do not stop the schedule.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.Interval <= 0 {
		return fmt.Errorf("scheduler interval must be positive, got %s", s.Interval)
	}
	log := loggerOrDiscard(s.Logger)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		start := time.Now()
		log.Info("scheduled sync starting")
		err := s.runOnce(context.WithoutCancel(ctx))
		if err != nil {
			log.Error("scheduled sync failed", "error", err, "duration", time.Since(start))
		} else {
			log.Info("scheduled sync complete", "duration", time.Since(start))
		}
		if s.OnDone != nil {
			s.OnDone(err)
		}
		ticker.Reset(s.Interval)
	}
}

func (s *Scheduler) runOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in scheduled job: %v", r)
		}
	}()
	return s.Job(ctx)
}
