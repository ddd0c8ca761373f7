// Package schedule re-runs capability registration on a cron schedule so
// tools added in the Unity editor after connect become callable without a
// restart.
package schedule

import (
	"context"
	"log/slog"

	robfigcron "github.com/robfig/cron/v3"
)

// RefreshFunc re-registers capabilities from the peer schema. It reports
// whether a usable schema was processed.
type RefreshFunc func(ctx context.Context) bool

// Service runs the periodic schema refresh.
type Service struct {
	spec    string
	refresh RefreshFunc
	cron    *robfigcron.Cron
}

// NewService creates a refresh service. spec is a robfig/cron schedule
// (e.g. "@every 5m"); empty disables the service.
func NewService(spec string, refresh RefreshFunc) *Service {
	return &Service{
		spec:    spec,
		refresh: refresh,
		cron:    robfigcron.New(),
	}
}

// Start arms the schedule and blocks until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	if s.spec == "" {
		slog.Info("schedule: schema refresh disabled")
		<-ctx.Done()
		return ctx.Err()
	}

	_, err := s.cron.AddFunc(s.spec, func() {
		slog.Debug("schedule: refreshing capability schema")
		if !s.refresh(ctx) {
			slog.Warn("schedule: schema refresh failed")
		}
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	slog.Info("schedule: schema refresh armed", "spec", s.spec)

	<-ctx.Done()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	slog.Info("schedule: stopped")
	return ctx.Err()
}
