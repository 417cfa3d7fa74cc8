package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"craft/collab/internal/metrics"
	"craft/collab/internal/models"
	"craft/collab/internal/utils"
)

const statsTimeout = 5 * time.Second

// StatsSource reports current collaboration state.
type StatsSource interface {
	Stats(ctx context.Context) (models.Stats, error)
}

// StatsReporter periodically logs room and connection counts and refreshes the
// matching gauges. It only reads state.
type StatsReporter struct {
	source   StatsSource
	schedule string
	log      *utils.Logger
	cron     *cron.Cron
}

func NewStatsReporter(source StatsSource, schedule string, log *utils.Logger) *StatsReporter {
	return &StatsReporter{
		source:   source,
		schedule: schedule,
		log:      log,
		cron:     cron.New(),
	}
}

// Start schedules the reporter. An empty schedule disables it.
func (r *StatsReporter) Start() error {
	if r.schedule == "" {
		r.log.Info("stats reporter disabled")
		return nil
	}
	if _, err := r.cron.AddFunc(r.schedule, func() {
		if err := r.RunOnce(context.Background()); err != nil {
			r.log.Warn("stats report failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule stats reporter: %w", err)
	}
	r.cron.Start()
	r.log.Info("stats reporter started", "schedule", r.schedule)
	return nil
}

// Stop waits for a running report to finish.
func (r *StatsReporter) Stop() {
	<-r.cron.Stop().Done()
}

func (r *StatsReporter) RunOnce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, statsTimeout)
	defer cancel()

	stats, err := r.source.Stats(ctx)
	if err != nil {
		return fmt.Errorf("read collab stats: %w", err)
	}
	metrics.Rooms.Set(float64(stats.Rooms))
	metrics.Connections.Set(float64(stats.Connections))
	r.log.Info("collab stats", "rooms", stats.Rooms, "connections", stats.Connections)
	return nil
}
