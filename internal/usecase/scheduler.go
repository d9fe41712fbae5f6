package usecase

import (
	"context"
	"time"

	"ClarityPull/internal/domain/models"
	applogger "ClarityPull/pkg/logger"
)

// Scheduler submits the same poll request on a fixed interval.
type Scheduler struct {
	polls    *PollService
	interval time.Duration
	req      models.PollRequest
	l        *applogger.Logger
}

func NewScheduler(polls *PollService, interval time.Duration, mode string, groups []string, l *applogger.Logger) *Scheduler {
	if l == nil {
		l = applogger.Nop()
	}
	return &Scheduler{
		polls:    polls,
		interval: interval,
		req:      models.PollRequest{Groups: groups, Mode: mode},
		l:        l.With(applogger.String("component", "scheduler")),
	}
}

// Run blocks until ctx is done. A tick that overruns the interval delays
// the next one instead of overlapping it.
func (s *Scheduler) Run(ctx context.Context) error {
	s.l.Info("scheduler started",
		applogger.Duration("interval", s.interval),
		applogger.String("mode", s.req.Mode),
		applogger.Strings("groups", s.req.Groups),
	)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	summary, err := s.polls.Execute(ctx, s.req)
	if err != nil {
		s.l.Error("scheduled poll failed", applogger.Error(err))
		return
	}
	s.l.Info("scheduled poll finished",
		applogger.Int("succeeded", len(summary.Succeeded)),
		applogger.Int("failed", len(summary.Failed)),
		applogger.Int("skipped", len(summary.Skipped)),
	)
}
