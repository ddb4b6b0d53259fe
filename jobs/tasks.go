package jobs

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"

	"github.com/gatewatch/gatewatch/internal/scan"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerReplay retries a ledger append that failed after the
	// registry update already committed.
	TaskLedgerReplay = "ledger:replay"
	// TaskFraudAlert notifies administrators about a fraud detection.
	TaskFraudAlert = "mail:fraud-alert"
	// TaskStatsWarmup refreshes the cached dashboard rollups.
	TaskStatsWarmup = "stats:warmup"
)

// LedgerReplayPayload carries the ledger entry to re-append.
type LedgerReplayPayload struct {
	Event scan.ScanEvent `json:"event"`
}

// FraudAlertPayload describes a detected fraud for the alert email.
type FraudAlertPayload struct {
	Event         scan.ScanEvent `json:"event"`
	PreviousCount int            `json:"previous_count"`
}

// NewLedgerReplayTask constructs an Asynq task for a degraded ledger append.
func NewLedgerReplayTask(payload LedgerReplayPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerReplay, data, asynq.MaxRetry(10)), nil
}

// NewFraudAlertTask constructs an Asynq task for the fraud alert email.
func NewFraudAlertTask(payload FraudAlertPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskFraudAlert, data), nil
}

// NewStatsWarmupTask constructs the cache warmup task.
func NewStatsWarmupTask() *asynq.Task {
	return asynq.NewTask(TaskStatsWarmup, nil)
}

// Client submits jobs to the queue. It is the follow-up channel the scan
// evaluator uses for work that must not block or fail the request.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	client := asynq.NewClient(redisOpts)
	return &Client{client: client}, nil
}

// EnqueueLedgerReplay schedules a retry for a failed ledger append.
func (c *Client) EnqueueLedgerReplay(ctx context.Context, event scan.ScanEvent) error {
	task, err := NewLedgerReplayTask(LedgerReplayPayload{Event: event})
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault))
	return err
}

// EnqueueFraudAlert schedules the fraud alert email.
func (c *Client) EnqueueFraudAlert(ctx context.Context, event scan.ScanEvent, previousCount int) error {
	task, err := NewFraudAlertTask(FraudAlertPayload{Event: event, PreviousCount: previousCount})
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault))
	return err
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}

var _ scan.FollowUpPort = (*Client)(nil)
