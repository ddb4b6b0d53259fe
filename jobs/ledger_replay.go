package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/gatewatch/gatewatch/internal/jobs"
	"github.com/gatewatch/gatewatch/internal/scan"
)

// LedgerPort is the append surface the replay job needs.
type LedgerPort interface {
	AppendEvent(ctx context.Context, event scan.ScanEvent) (string, error)
}

// LedgerReplayJob re-appends ledger entries whose original write failed. The
// (code, seq) uniqueness in the ledger makes replays idempotent, so a retry
// that races a successful earlier attempt is harmless.
type LedgerReplayJob struct {
	Ledger  LedgerPort
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewLedgerReplayJob wires dependencies for the replay handler.
func NewLedgerReplayJob(ledger LedgerPort, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerReplayJob {
	return &LedgerReplayJob{Ledger: ledger, Logger: logger, Metrics: metrics}
}

// Handle processes ledger replay tasks.
func (j *LedgerReplayJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Ledger == nil {
		return errors.New("ledger replay: handler not configured")
	}
	var payload LedgerReplayPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Event.Code == "" || payload.Event.Seq <= 0 {
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskLedgerReplay)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	if _, err := j.Ledger.AppendEvent(ctx, payload.Event); err != nil {
		j.logger().Error("ledger replay failed",
			slog.String("code", payload.Event.Code),
			slog.Int("seq", payload.Event.Seq),
			slog.Any("error", err))
		resultErr = err
		return resultErr
	}

	j.logger().Info("ledger entry replayed",
		slog.String("code", payload.Event.Code),
		slog.Int("seq", payload.Event.Seq))
	return nil
}

func (j *LedgerReplayJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
