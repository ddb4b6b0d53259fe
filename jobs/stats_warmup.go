package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/gatewatch/gatewatch/internal/jobs"
	"github.com/gatewatch/gatewatch/internal/stats"
)

// StatsWarmupJob refreshes the cached dashboard rollups so the first viewer
// after an idle period does not pay the aggregation cost.
type StatsWarmupJob struct {
	Stats   *stats.Service
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewStatsWarmupJob wires dependencies for the warmup handler.
func NewStatsWarmupJob(statsSvc *stats.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *StatsWarmupJob {
	return &StatsWarmupJob{Stats: statsSvc, Logger: logger, Metrics: metrics}
}

// Handle processes warmup tasks.
func (j *StatsWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Stats == nil {
		return errors.New("stats warmup: handler not configured")
	}

	tracker := j.Metrics.Track(TaskStatsWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	if err := j.Stats.Warmup(ctx); err != nil {
		j.logger().Error("stats warmup failed", slog.Any("error", err))
		resultErr = err
		return resultErr
	}

	j.logger().Info("stats caches warmed")
	return nil
}

func (j *StatsWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
