package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/pbxops/ns-registry/src/logging"
)

// MaintenanceScheduler runs maintenance passes on a fixed interval.
type MaintenanceScheduler struct {
	maintenance *MaintenanceService
	enabled     bool
	interval    time.Duration
	done        chan bool
	log         zerolog.Logger
}

// NewMaintenanceScheduler creates a scheduler for the given service.
func NewMaintenanceScheduler(maintenance *MaintenanceService, enabled bool, interval time.Duration) *MaintenanceScheduler {
	return &MaintenanceScheduler{
		maintenance: maintenance,
		enabled:     enabled,
		interval:    interval,
		done:        make(chan bool, 1),
		log:         logging.NewLogger("scheduler"),
	}
}

// Start launches the scheduler. One pass runs immediately, then one per
// interval until Stop or context cancellation.
func (s *MaintenanceScheduler) Start(ctx context.Context) {
	if !s.enabled {
		s.log.Info().Msg("maintenance scheduler disabled")
		return
	}

	go func() {
		s.runOnce(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.log.Info().Msg("maintenance scheduler stopped")
				return
			case <-s.done:
				s.log.Info().Msg("maintenance scheduler stopped")
				return
			case <-ticker.C:
				s.runOnce(ctx)
			}
		}
	}()

	s.log.Info().Dur("interval", s.interval).Msg("maintenance scheduler started")
}

// Stop stops the scheduler
func (s *MaintenanceScheduler) Stop() {
	if !s.enabled {
		return
	}
	s.done <- true
}

func (s *MaintenanceScheduler) runOnce(ctx context.Context) {
	start := time.Now()
	if err := s.maintenance.Run(ctx); err != nil {
		s.log.Error().Err(err).Msg("maintenance run failed")
		return
	}
	s.log.Info().Dur("duration", time.Since(start)).Msg("maintenance run finished")
}
