package worker

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
)

// JobWorker is the asynq handler for analysis tasks.
type JobWorker struct {
	executor *Executor
}

func NewJobWorker(executor *Executor) *JobWorker {
	return &JobWorker{executor: executor}
}

// Register mounts the handler on mux.
func (w *JobWorker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskTypeAnalysis, w.ProcessTask)
}

// ProcessTask executes the job named by the task. Failures are terminal for
// the record, so asynq is told never to retry.
func (w *JobWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	payload, err := ParseTaskPayload(t.Payload())
	if err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	if err := w.executor.Execute(ctx, payload.JobID); err != nil {
		return fmt.Errorf("job %s: %w: %w", payload.JobID, err, asynq.SkipRetry)
	}
	return nil
}
