package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/consignhub/consignhub/jobs"
)

type stubEnqueuer struct {
	tasks []*asynq.Task
}

func (s *stubEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	s.tasks = append(s.tasks, task)
	return &asynq.TaskInfo{ID: "t-1", Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

type stubInspector struct{}

func (stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return &asynq.QueueInfo{Queue: queue, Pending: 2, Retry: 1}, nil
}

func TestTriggerReconcileForOneLocation(t *testing.T) {
	enq := &stubEnqueuer{}
	c := NewJobsCLI(enq, nil)

	_, err := c.Trigger(context.Background(), jobs.TaskLedgerReconcile, "branch", "3")
	require.NoError(t, err)
	require.Len(t, enq.tasks, 1)
	var payload jobs.LedgerReconcilePayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	require.Equal(t, jobs.LedgerReconcilePayload{LocationType: "branch", LocationID: 3}, payload)

	_, err = c.Trigger(context.Background(), jobs.TaskLedgerReconcile, "branch", "x")
	require.Error(t, err)
}

func TestTriggerCleanupRetention(t *testing.T) {
	enq := &stubEnqueuer{}
	c := NewJobsCLI(enq, nil)

	_, err := c.Trigger(context.Background(), jobs.TaskIdempotencyCleanup, "24h")
	require.NoError(t, err)
	var payload jobs.IdempotencyCleanupPayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	require.Equal(t, 24*time.Hour, payload.OlderThan)

	_, err = c.Trigger(context.Background(), "mail:send")
	require.Error(t, err)
}

func TestRunCommands(t *testing.T) {
	c := NewJobsCLI(&stubEnqueuer{}, stubInspector{})
	var out bytes.Buffer

	require.NoError(t, c.Run(context.Background(), []string{"trigger", jobs.TaskLedgerReconcile}, &out))
	require.Contains(t, out.String(), "enqueued stock:reconcile id=t-1")

	out.Reset()
	require.NoError(t, c.Run(context.Background(), []string{"stats"}, &out))
	require.Equal(t, "queue=default pending=2 active=0 scheduled=0 retry=1 archived=0\n", out.String())

	require.Error(t, c.Run(context.Background(), nil, &out))
	require.Error(t, c.Run(context.Background(), []string{"purge"}, &out))
}
