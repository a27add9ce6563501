package sync

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"offline-sync-service/internal/config"
	"offline-sync-service/internal/logger"
)

// Prober refreshes the connectivity signal.
type Prober interface {
	Probe(ctx context.Context) bool
}

// Scheduler fires periodic drain triggers and connectivity probes.
type Scheduler struct {
	cfg         config.SchedulerConfig
	probeSpec   string
	coordinator *Coordinator
	prober      Prober
	cron        *cron.Cron
}

func NewScheduler(cfg config.SchedulerConfig, probeSpec string, coordinator *Coordinator, prober Prober) *Scheduler {
	return &Scheduler{
		cfg:         cfg,
		probeSpec:   probeSpec,
		coordinator: coordinator,
		prober:      prober,
		cron:        cron.New(),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if s.cfg.Enabled {
		logger.Log.Info("Scheduling sync", zap.String("interval", s.cfg.Interval))
		if _, err := s.cron.AddFunc(s.cfg.Interval, s.triggerSync); err != nil {
			return fmt.Errorf("failed to schedule sync %q: %w", s.cfg.Interval, err)
		}
	} else {
		logger.Log.Info("Scheduled sync is disabled")
	}

	if s.prober != nil && s.probeSpec != "" {
		logger.Log.Info("Scheduling connectivity probe", zap.String("interval", s.probeSpec))
		if _, err := s.cron.AddFunc(s.probeSpec, func() { s.prober.Probe(ctx) }); err != nil {
			return fmt.Errorf("failed to schedule probe %q: %w", s.probeSpec, err)
		}
	}

	s.cron.Start()
	return nil
}

// Stop halts the cron and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	logger.Log.Info("Stopped scheduler")
}

func (s *Scheduler) triggerSync() {
	if state := s.coordinator.State(); state != StateIdle {
		logger.Log.Debug("Sync busy, skipping scheduled run", zap.String("state", string(state)))
		return
	}
	s.coordinator.Trigger(ReasonTimer)
}
