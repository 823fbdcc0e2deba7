package service

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vidlens/engine/internal/model"
	"github.com/vidlens/engine/internal/store"
	"github.com/vidlens/engine/internal/worker"
)

// QueueInspector reports the job ids the task queue still holds as
// scheduled, active, pending or awaiting retry.
type QueueInspector interface {
	LiveJobIDs(ctx context.Context) (map[string]struct{}, error)
}

// Reconciler marks job records no execution will ever finish as unknown. It
// runs once at startup, before new jobs are accepted.
type Reconciler struct {
	store     store.JobStore
	inspector QueueInspector
	logger    zerolog.Logger
}

func NewReconciler(st store.JobStore, inspector QueueInspector) *Reconciler {
	return &Reconciler{
		store:     st,
		inspector: inspector,
		logger:    log.With().Str("component", "reconciler").Logger(),
	}
}

// Run returns the number of records marked unknown. Nothing is touched when the
// queue cannot be inspected.
func (r *Reconciler) Run(ctx context.Context) (int, error) {
	live, err := r.inspector.LiveJobIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect task queue: %w", err)
	}

	open, err := r.store.ListByStatus(ctx, model.OpenJobStatuses...)
	if err != nil {
		return 0, fmt.Errorf("failed to list open jobs: %w", err)
	}

	marked := 0
	for _, record := range open {
		if _, ok := live[record.ID]; ok {
			continue
		}
		if err := record.MarkUnknown(); err != nil {
			continue
		}
		if err := r.store.Update(ctx, record); err != nil {
			return marked, fmt.Errorf("failed to update job %s: %w", record.ID, err)
		}
		marked++
		r.logger.Debug().Str("job_id", record.ID).Msg("marked job unknown")
	}

	if marked > 0 {
		r.logger.Warn().Int("count", marked).Int("open", len(open)).Msg("orphaned jobs marked unknown")
	} else {
		r.logger.Info().Int("open", len(open)).Int("live", len(live)).Msg("no orphaned jobs")
	}
	return marked, nil
}

const inspectPageSize = 500

// AsynqInspector reads the live task set from asynq.
type AsynqInspector struct {
	inspector *asynq.Inspector
	queues    []string
}

func NewAsynqInspector(inspector *asynq.Inspector, queues ...string) *AsynqInspector {
	return &AsynqInspector{inspector: inspector, queues: queues}
}

type listFunc func(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)

func (a *AsynqInspector) LiveJobIDs(ctx context.Context) (map[string]struct{}, error) {
	existing, err := a.inspector.Queues()
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(existing))
	for _, q := range existing {
		known[q] = true
	}

	live := make(map[string]struct{})
	for _, queue := range a.queues {
		if !known[queue] {
			continue
		}
		for _, list := range []listFunc{
			a.inspector.ListScheduledTasks,
			a.inspector.ListActiveTasks,
			a.inspector.ListPendingTasks,
			a.inspector.ListRetryTasks,
		} {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := collect(queue, list, live); err != nil {
				return nil, err
			}
		}
	}
	return live, nil
}

func collect(queue string, list listFunc, live map[string]struct{}) error {
	for page := 1; ; page++ {
		tasks, err := list(queue, asynq.PageSize(inspectPageSize), asynq.Page(page))
		if err != nil {
			return fmt.Errorf("queue %s: %w", queue, err)
		}
		for _, t := range tasks {
			if t.Type != worker.TaskTypeAnalysis {
				continue
			}
			if p, err := worker.ParseTaskPayload(t.Payload); err == nil {
				live[p.JobID] = struct{}{}
			} else {
				live[t.ID] = struct{}{}
			}
		}
		if len(tasks) < inspectPageSize {
			return nil
		}
	}
}
