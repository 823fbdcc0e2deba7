package worker

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// TaskTypeAnalysis is the asynq task that executes one job record.
const TaskTypeAnalysis = "analysis:run"

// UnboundedTaskTimeout stands in for "no limit". asynq requires a positive
// timeout and would otherwise cancel the handler after 30 minutes.
const UnboundedTaskTimeout = 365 * 24 * time.Hour

// TaskTimeout returns d, or UnboundedTaskTimeout when d is not positive.
func TaskTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return UnboundedTaskTimeout
	}
	return d
}

// TaskPayload is the serialized argument bundle of an analysis task.
type TaskPayload struct {
	JobID string `json:"jobId"`
}

// NewAnalysisTask builds the task for jobID. The job id doubles as the asynq
// task id so a record is never enqueued twice. The task runs without a time
// limit unless opts carry an asynq.Timeout or asynq.Deadline.
func NewAnalysisTask(jobID string, opts ...asynq.Option) (*asynq.Task, error) {
	data, err := json.Marshal(TaskPayload{JobID: jobID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task payload: %w", err)
	}
	opts = append([]asynq.Option{
		asynq.TaskID(jobID),
		asynq.MaxRetry(0),
		asynq.Timeout(UnboundedTaskTimeout),
	}, opts...)
	return asynq.NewTask(TaskTypeAnalysis, data, opts...), nil
}

// ParseTaskPayload is the inverse of NewAnalysisTask.
func ParseTaskPayload(data []byte) (TaskPayload, error) {
	var p TaskPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("failed to unmarshal task payload: %w", err)
	}
	if p.JobID == "" {
		return p, fmt.Errorf("task payload has no job id")
	}
	return p, nil
}
