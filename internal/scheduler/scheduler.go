package scheduler

import (
	"context"
	"time"

	"tradegate/internal/logger"
)

// FixedScheduler runs a task on a fixed cadence until its context is
// cancelled. Unlike a bare time.Ticker it logs its lifecycle and supports
// an immediate first run.
type FixedScheduler struct {
	Interval       time.Duration
	RunImmediately bool

	ctx   context.Context
	nowFn func() time.Time
}

func NewFixedScheduler(ctx context.Context, interval time.Duration) *FixedScheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &FixedScheduler{
		Interval: interval,
		ctx:      ctx,
		nowFn:    time.Now,
	}
}

// Start blocks running task every Interval. It returns when the context is
// done. A slow task delays the next run; ticks never overlap.
func (s *FixedScheduler) Start(task func()) {
	if s == nil {
		return
	}
	if task == nil {
		logger.Warnf("FixedScheduler: task is nil, exit")
		return
	}
	if s.Interval <= 0 {
		logger.Warnf("FixedScheduler: invalid interval=%s, exit", s.Interval)
		return
	}
	if s.ctx == nil {
		s.ctx = context.Background()
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	startAt := s.nowFn().UTC()
	logger.Infof("FixedScheduler: started interval=%s run_immediately=%v at=%s",
		s.Interval, s.RunImmediately, startAt.Format(time.RFC3339))

	if s.RunImmediately {
		task()
	}

	timer := time.NewTimer(s.Interval)
	defer timer.Stop()
	for {
		select {
		case <-s.ctx.Done():
			logger.Infof("FixedScheduler: ctx done after %s, exit", s.nowFn().UTC().Sub(startAt).Truncate(time.Second))
			return
		case <-timer.C:
		}
		task()
		timer.Reset(s.Interval)
	}
}
