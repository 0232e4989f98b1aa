package escalation

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

type runFunc func(ctx context.Context, trigger string) (RunReport, error)

// Scheduler runs the cascade on a fixed interval inside the API process, for
// deployments without an external cron.
type Scheduler struct {
	run      runFunc
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(runner *Runner, interval time.Duration, logger *zap.Logger) *Scheduler {
	return newScheduler(runner.Run, interval, logger)
}

func newScheduler(run runFunc, interval time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{run: run, interval: interval, logger: logger.Named("escalation.ticker")}
}

// Start launches the loop. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil || s.interval <= 0 {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	s.logger.Info("escalation ticker started", zap.Duration("interval", s.interval))
}

// Stop cancels the loop and waits for an in-flight run to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.run(ctx, "ticker"); err != nil {
				if errors.Is(err, ErrRunInProgress) {
					s.logger.Debug("escalation run skipped, lock held elsewhere")
					continue
				}
				if ctx.Err() != nil {
					return
				}
				s.logger.Error("escalation run failed", zap.Error(err))
			}
		}
	}
}
