package scheduler

import (
	"context"
	"time"

	"tradefloor/internal/logger"
)

// IntervalScheduler runs a task on a fixed wall-clock cadence until its
// context is cancelled. The task runs to completion before the next wait
// starts, so a slow cycle delays the following one instead of overlapping it.
type IntervalScheduler struct {
	Interval       time.Duration
	RunImmediately bool

	ctx   context.Context
	nowFn func() time.Time
}

func NewIntervalScheduler(ctx context.Context, interval time.Duration) *IntervalScheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &IntervalScheduler{
		Interval: interval,
		ctx:      ctx,
		nowFn:    time.Now,
	}
}

// Start blocks, invoking task each cadence. Returns when the context ends.
func (s *IntervalScheduler) Start(task func()) {
	if s == nil {
		return
	}
	if task == nil {
		logger.Warnf("scheduler: task is nil, exit")
		return
	}
	if s.Interval <= 0 {
		logger.Warnf("scheduler: invalid interval=%s, exit", s.Interval)
		return
	}
	if s.ctx == nil {
		s.ctx = context.Background()
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	startAt := s.nowFn().UTC()
	logger.Infof("scheduler: started interval=%s run_immediately=%v at=%s",
		s.Interval, s.RunImmediately, startAt.Format(time.RFC3339))

	if s.RunImmediately {
		task()
	}

	timer := time.NewTimer(s.Interval)
	defer timer.Stop()
	for {
		now := s.nowFn().UTC()
		logger.Debugf("scheduler: next cycle at %s (uptime %s)",
			now.Add(s.Interval).Format(time.RFC3339),
			now.Sub(startAt).Truncate(time.Second))
		select {
		case <-s.ctx.Done():
			logger.Infof("scheduler: context done, exit")
			return
		case <-timer.C:
		}
		task()
		timer.Reset(s.Interval)
	}
}
