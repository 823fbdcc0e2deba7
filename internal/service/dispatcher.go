package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vidlens/engine/internal/client"
	"github.com/vidlens/engine/internal/model"
	"github.com/vidlens/engine/internal/plugin"
	"github.com/vidlens/engine/internal/store"
	"github.com/vidlens/engine/internal/worker"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrUnknownSubject = errors.New("unknown subject")
)

// Enqueuer is the task queue submission primitive. *asynq.Client satisfies it.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Dispatcher starts jobs and answers status queries about them.
type Dispatcher struct {
	registry  *plugin.Registry
	store     store.Store
	enqueuer  Enqueuer
	executor  *worker.Executor
	artifacts client.StorageClient
	queue     string
	taskOpts  []asynq.Option
	validator *validator.Validate
	logger    zerolog.Logger
}

func NewDispatcher(
	registry *plugin.Registry,
	st store.Store,
	enqueuer Enqueuer,
	executor *worker.Executor,
	artifacts client.StorageClient,
	queue string,
	taskOpts ...asynq.Option,
) *Dispatcher {
	return &Dispatcher{
		registry:  registry,
		store:     st,
		enqueuer:  enqueuer,
		executor:  executor,
		artifacts: artifacts,
		queue:     queue,
		taskOpts:  taskOpts,
		validator: validator.New(),
		logger:    log.With().Str("component", "dispatcher").Logger(),
	}
}

// Dispatch validates req, creates the job record and either queues it or runs
// it inline. Validation failures return {status:false} and create nothing. In
// synchronous mode status reports whether the job finished successfully.
func (d *Dispatcher) Dispatch(ctx context.Context, req *model.DispatchRequest) (*model.DispatchResponse, error) {
	failed := &model.DispatchResponse{Status: false}

	if err := d.validator.Struct(req); err != nil {
		return failed, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	desc, err := d.registry.Lookup(req.Type)
	if err != nil {
		return failed, err
	}
	values, err := desc.Validate(req.Parameters)
	if err != nil {
		return failed, err
	}
	if _, err := d.store.GetSubject(ctx, req.SubjectID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return failed, fmt.Errorf("%w: %s", ErrUnknownSubject, req.SubjectID)
		}
		return failed, err
	}

	record := model.NewJobRecord(uuid.New().String(), req.SubjectID, req.Type, values)
	if err := d.store.Create(ctx, record); err != nil {
		return failed, fmt.Errorf("failed to create job: %w", err)
	}

	logger := d.logger.With().Str("job_id", record.ID).Str("type", record.Type).Logger()

	if !req.RunAsync() {
		logger.Info().Msg("running job synchronously")
		if err := d.executor.Execute(ctx, record.ID); err != nil {
			return &model.DispatchResponse{Status: false, JobID: record.ID}, nil
		}
		return &model.DispatchResponse{Status: true, JobID: record.ID}, nil
	}

	task, err := worker.NewAnalysisTask(record.ID, d.taskOpts...)
	if err != nil {
		return failed, err
	}
	if _, err := d.enqueuer.EnqueueContext(ctx, task, asynq.Queue(d.queue)); err != nil {
		record.Fail(fmt.Sprintf("enqueue failed: %v", err))
		if uerr := d.store.Update(context.WithoutCancel(ctx), record); uerr != nil {
			logger.Error().Err(uerr).Msg("failed to persist enqueue failure")
		}
		return &model.DispatchResponse{Status: false, JobID: record.ID}, fmt.Errorf("failed to enqueue task: %w", err)
	}

	logger.Info().Str("queue", d.queue).Msg("job queued")
	return &model.DispatchResponse{Status: true, JobID: record.ID}, nil
}

// Status returns the external view of a job.
func (d *Dispatcher) Status(ctx context.Context, jobID string) (*model.JobStatusResponse, error) {
	record, err := d.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return model.StatusOf(record), nil
}

// List returns the jobs of a subject, newest first.
func (d *Dispatcher) List(ctx context.Context, subjectID string) ([]*model.JobStatusResponse, error) {
	records, err := d.store.ListBySubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	out := make([]*model.JobStatusResponse, 0, len(records))
	for _, r := range records {
		out = append(out, model.StatusOf(r))
	}
	return out, nil
}

// Results returns the persisted results of a job. Finished jobs whose type has
// a materialization hook also carry the materialized data.
func (d *Dispatcher) Results(ctx context.Context, jobID string) (*model.JobResultsResponse, error) {
	record, err := d.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	results, err := d.store.Results(ctx, jobID)
	if err != nil {
		return nil, err
	}
	resp := &model.JobResultsResponse{JobID: jobID, Status: record.Status, Results: results}
	if record.Status != model.JobStatusDone {
		return resp, nil
	}

	desc, err := d.registry.Lookup(record.Type)
	if err != nil {
		return resp, nil
	}
	if m, ok := desc.Materializer(); ok {
		data, err := m.Materialize(ctx, results, d.artifacts)
		if err != nil {
			return nil, fmt.Errorf("failed to materialize results: %w", err)
		}
		resp.Data = data
	}
	return resp, nil
}
