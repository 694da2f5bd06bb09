package monitor

import (
	"context"
	"errors"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSchedule is the production polling cadence.
const DefaultSchedule = "@every 10s"

// Scheduler fires monitor cycles on a cron schedule. Overlap protection
// lives in the Monitor, so the cron chain is left plain.
type Scheduler struct {
	cron    *cron.Cron
	monitor *Monitor
	log     *zap.Logger
	baseCtx context.Context
}

// NewScheduler registers m on schedule (e.g. "@every 10s" or a six-field cron
// expression with seconds). baseCtx is passed to every cycle.
func NewScheduler(baseCtx context.Context, m *Monitor, schedule string, log *zap.Logger) (*Scheduler, error) {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}
	s := &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		monitor: m,
		log:     log.Named("scheduler"),
		baseCtx: baseCtx,
	}
	if _, err := s.cron.AddFunc(schedule, s.tick); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) tick() {
	if _, err := s.monitor.RunOnce(s.baseCtx); err != nil && !errors.Is(err, ErrCycleInProgress) {
		s.log.Error("monitor cycle", zap.Error(err))
	}
}

// Start begins firing cycles in the background.
func (s *Scheduler) Start() {
	s.log.Info("liquidation monitor started")
	s.cron.Start()
}

// Stop halts the schedule and waits for a running cycle to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("liquidation monitor stopped")
}
