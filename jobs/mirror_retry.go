package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/consignhub/consignhub/internal/documents"
	jobmetrics "github.com/consignhub/consignhub/internal/jobs"
)

// MirrorRetrier re-applies a status mirror.
type MirrorRetrier interface {
	RetryMirror(ctx context.Context, task documents.MirrorTask) error
}

// MirrorRetryJob retries document status mirrors that failed during a transition.
type MirrorRetryJob struct {
	Service MirrorRetrier
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewMirrorRetryJob constructs the job handler.
func NewMirrorRetryJob(service MirrorRetrier, logger *slog.Logger, metrics *jobmetrics.Metrics) *MirrorRetryJob {
	return &MirrorRetryJob{Service: service, Logger: logger, Metrics: metrics}
}

// Handle executes one retry. Failures the target rejects outright are not retried again.
func (j *MirrorRetryJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("mirror retry: service not configured")
	}
	var task documents.MirrorTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		return asynq.SkipRetry
	}
	if task.TargetID <= 0 || task.Target == "" {
		return asynq.SkipRetry
	}

	tracker := metricsOrDefault(j.Metrics).Track(TaskMirrorRetry)
	err := j.Service.RetryMirror(ctx, task)
	if err == nil {
		logger(j.Logger, TaskMirrorRetry).Info("status mirror applied",
			slog.Int64("document_id", task.DocumentID),
			slog.String("target", string(task.Target)),
			slog.Int64("target_id", task.TargetID),
		)
		return tracker.End(nil)
	}
	logger(j.Logger, TaskMirrorRetry).Warn("status mirror retry failed",
		slog.Int64("document_id", task.DocumentID),
		slog.String("target", string(task.Target)),
		slog.Int64("target_id", task.TargetID),
		slog.Any("error", err),
	)
	if !documents.Retryable(err) {
		return tracker.End(fmt.Errorf("%w: %w", err, asynq.SkipRetry))
	}
	return tracker.End(err)
}

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

func metricsOrDefault(m *jobmetrics.Metrics) *jobmetrics.Metrics {
	if m != nil {
		return m
	}
	return defaultJobMetrics
}

func logger(l *slog.Logger, job string) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	return l.With(slog.String("job", job))
}
