package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/consignhub/consignhub/internal/documents"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskMirrorRetry re-applies a document status to its delivery record.
	TaskMirrorRetry = "documents:mirror_retry"
	// TaskLedgerReconcile compares balances against the ledger.
	TaskLedgerReconcile = "stock:reconcile"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

const mirrorRetryMax = 10

// NewMirrorRetryTask wraps a failed mirror. The task id is derived from the document and
// status so the same mirror is queued at most once.
func NewMirrorRetryTask(task documents.MirrorTask) (*asynq.Task, error) {
	body, err := json.Marshal(task)
	if err != nil {
		return nil, err
	}
	id := fmt.Sprintf("mirror:%d:%s", task.DocumentID, task.Status)
	return asynq.NewTask(TaskMirrorRetry, body,
		asynq.Queue(QueueDefault),
		asynq.TaskID(id),
		asynq.MaxRetry(mirrorRetryMax),
	), nil
}

// LedgerReconcilePayload selects the locations to reconcile. Empty LocationType means all.
type LedgerReconcilePayload struct {
	LocationType string `json:"location_type,omitempty"`
	LocationID   int64  `json:"location_id,omitempty"`
}

// NewLedgerReconcileTask constructs a reconciliation task.
func NewLedgerReconcileTask(payload LedgerReconcilePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerReconcile, body, asynq.Queue(QueueDefault)), nil
}

// IdempotencyCleanupPayload carries the retention window.
type IdempotencyCleanupPayload struct {
	OlderThan time.Duration `json:"older_than"`
}

// NewIdempotencyCleanupTask constructs a cleanup task.
func NewIdempotencyCleanupTask(olderThan time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{OlderThan: olderThan})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
