// Package cleanup enforces event retention on the durable log.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pagegen/pagegen/pkg/eventlog"
)

// cronParser accepts standard 5-field cron (minute hour day month weekday).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Service deletes log rows older than the retention window on a cron
// schedule. Runs are idempotent and safe to execute from multiple pods.
type Service struct {
	log       eventlog.Log
	retention time.Duration
	schedule  cron.Schedule

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService validates the cron expression and builds the service.
func NewService(log eventlog.Log, retention time.Duration, scheduleExpr string) (*Service, error) {
	schedule, err := cronParser.Parse(scheduleExpr)
	if err != nil {
		return nil, err
	}
	return &Service{log: log, retention: retention, schedule: schedule}, nil
}

// Start launches the background retention loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started", "retention", s.retention)
}

// Stop signals the loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	for {
		next := s.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single retention pass; errors are logged and
// swallowed so a failing pass never takes the backend down.
func (s *Service) RunOnce(ctx context.Context) {
	olderThan := time.Now().Add(-s.retention)
	removed, err := s.log.Cleanup(ctx, olderThan)
	if err != nil {
		slog.Error("Event retention pass failed", "error", err)
		return
	}
	if removed > 0 {
		slog.Info("Event retention pass completed",
			"removed", removed, "older_than", olderThan)
	}
}
