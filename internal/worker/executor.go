// Package worker executes job records against their registered pipelines.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vidlens/engine/internal/client"
	"github.com/vidlens/engine/internal/model"
	"github.com/vidlens/engine/internal/pipeline"
	"github.com/vidlens/engine/internal/plugin"
	"github.com/vidlens/engine/internal/store"
)

var (
	ErrInterrupted = errors.New("execution interrupted")
	ErrPanic       = errors.New("pipeline panicked")
)

// Error codes pushed to job observers.
const (
	CodeJobFailed   = "JOB_FAILED"
	CodeInterrupted = "JOB_INTERRUPTED"
)

// Notifier receives every persisted change of a job.
type Notifier interface {
	BroadcastProgress(jobID string, progress float64, status model.JobStatus)
	BroadcastComplete(jobID string, results []*model.PluginResult)
	BroadcastError(jobID string, code, message string)
}

// Executor runs one job record to a terminal state.
type Executor struct {
	registry  *plugin.Registry
	store     store.Store
	client    *client.TaskClient
	artifacts client.StorageClient
	notifier  Notifier
}

// NewExecutor wires an executor. notifier may be nil.
func NewExecutor(registry *plugin.Registry, st store.Store, c *client.TaskClient, artifacts client.StorageClient, notifier Notifier) *Executor {
	return &Executor{
		registry:  registry,
		store:     st,
		client:    c,
		artifacts: artifacts,
		notifier:  notifier,
	}
}

// Execute loads jobID and drives it through its pipeline. Terminal and
// reconciled records are skipped, so a redelivered task is harmless. A record
// already past queued belongs to an execution that died and is failed.
func (e *Executor) Execute(ctx context.Context, jobID string) error {
	logger := log.With().Str("component", "worker").Str("job_id", jobID).Logger()
	ctx = logger.WithContext(ctx)

	record, err := e.store.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}

	rep := &jobReporter{executor: e, record: record, logger: logger}

	switch {
	case record.Status.IsTerminal(), record.Status == model.JobStatusUnknown:
		logger.Info().Str("status", string(record.Status)).Msg("job already settled, skipping")
		return nil
	case record.Status != model.JobStatusQueued:
		rep.fail(ctx, CodeInterrupted, ErrInterrupted.Error())
		return fmt.Errorf("%w: job %s was %s", ErrInterrupted, jobID, record.Status)
	}

	desc, err := e.registry.Lookup(record.Type)
	if err != nil {
		rep.Fail(ctx, err.Error())
		return err
	}
	values, err := desc.Validate(parametersOf(record.Parameters))
	if err != nil {
		rep.Fail(ctx, err.Error())
		return err
	}

	rep.Report(ctx, model.JobStatusWaiting, 0)

	subject, err := e.store.GetSubject(ctx, record.SubjectID)
	if err != nil {
		reason := fmt.Sprintf("subject %s: %v", record.SubjectID, err)
		rep.Fail(ctx, reason)
		return fmt.Errorf("failed to resolve subject: %w", err)
	}

	logger.Info().Str("type", record.Type).Str("subject_id", subject.ID).Msg("job started")

	c := e.client.WithLogger(logger.With().Str("component", "analyser").Logger())
	env := &plugin.Env{
		Job:       record,
		Subject:   subject,
		Params:    values,
		Runner:    pipeline.NewRunner(c, rep, desc.Steps),
		Results:   e.store,
		Artifacts: e.artifacts,
	}

	if err := run(ctx, desc, env); err != nil {
		logger.Error().Err(err).Msg("job failed")
		rep.Fail(ctx, err.Error())
		return err
	}

	rep.Report(ctx, model.JobStatusDone, 1.0)

	results, err := e.store.Results(ctx, jobID)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load results for broadcast")
	}
	if e.notifier != nil {
		e.notifier.BroadcastComplete(jobID, results)
	}
	logger.Info().Int("results", len(results)).Msg("job completed")
	return nil
}

func run(ctx context.Context, desc *plugin.Descriptor, env *plugin.Env) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return desc.Pipeline.Execute(ctx, env)
}

// parametersOf turns a persisted normalized map back into raw parameters so
// values are coerced again after a storage round trip.
func parametersOf(values map[string]any) []model.Parameter {
	out := make([]model.Parameter, 0, len(values))
	for name, v := range values {
		out = append(out, model.Parameter{Name: name, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// jobReporter is the single writer of a record during its execution.
type jobReporter struct {
	executor *Executor
	record   *model.JobRecord
	logger   zerolog.Logger
}

func (r *jobReporter) Report(ctx context.Context, status model.JobStatus, progress float64) {
	if !r.record.Advance(status, progress) {
		return
	}
	if r.record.Status == model.JobStatusError {
		r.persist(ctx)
		r.notifyError(CodeJobFailed)
		return
	}
	r.persist(ctx)
	if n := r.executor.notifier; n != nil {
		n.BroadcastProgress(r.record.ID, r.record.Progress, r.record.Status)
	}
}

func (r *jobReporter) Fail(ctx context.Context, reason string) {
	r.fail(ctx, CodeJobFailed, reason)
}

func (r *jobReporter) fail(ctx context.Context, code, reason string) {
	if !r.record.Fail(reason) {
		return
	}
	r.persist(ctx)
	r.notifyError(code)
}

func (r *jobReporter) notifyError(code string) {
	if n := r.executor.notifier; n != nil {
		n.BroadcastError(r.record.ID, code, r.record.Error)
	}
}

// persist survives cancellation of the job context so a final status is
// always written.
func (r *jobReporter) persist(ctx context.Context) {
	if err := r.executor.store.Update(context.WithoutCancel(ctx), r.record); err != nil {
		r.logger.Error().Err(err).Str("status", string(r.record.Status)).Msg("failed to persist job")
	}
}
