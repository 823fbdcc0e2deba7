package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidlens/engine/internal/model"
	"github.com/vidlens/engine/internal/store"
	"github.com/vidlens/engine/internal/worker"
)

type staticInspector struct {
	ids map[string]struct{}
	err error
}

func (s staticInspector) LiveJobIDs(context.Context) (map[string]struct{}, error) {
	return s.ids, s.err
}

func seed(t *testing.T, st store.JobStore, id string, status model.JobStatus) {
	t.Helper()
	r := model.NewJobRecord(id, "clip", "shotdetection", nil)
	require.NoError(t, st.Create(context.Background(), r))
	if status == model.JobStatusQueued {
		return
	}
	if status == model.JobStatusError {
		r.Fail("boom")
	} else {
		require.True(t, r.Advance(status, 0.5))
	}
	require.NoError(t, st.Update(context.Background(), r))
}

func statusOf(t *testing.T, st store.JobStore, id string) model.JobStatus {
	t.Helper()
	r, err := st.Get(context.Background(), id)
	require.NoError(t, err)
	return r.Status
}

func TestReconciler_MarksOrphansUnknown(t *testing.T) {
	st, err := store.NewSQLStore("sqlite", ":memory:")
	require.NoError(t, err)
	defer st.Close()

	seed(t, st, "orphan-running", model.JobStatusRunning)
	seed(t, st, "orphan-queued", model.JobStatusQueued)
	seed(t, st, "live-running", model.JobStatusRunning)
	seed(t, st, "live-waiting", model.JobStatusWaiting)
	seed(t, st, "finished", model.JobStatusDone)
	seed(t, st, "failed", model.JobStatusError)

	r := NewReconciler(st, staticInspector{ids: map[string]struct{}{
		"live-running": {},
		"live-waiting": {},
	}})
	marked, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, marked)

	assert.Equal(t, model.JobStatusUnknown, statusOf(t, st, "orphan-running"))
	assert.Equal(t, model.JobStatusUnknown, statusOf(t, st, "orphan-queued"))
	assert.Equal(t, model.JobStatusRunning, statusOf(t, st, "live-running"))
	assert.Equal(t, model.JobStatusWaiting, statusOf(t, st, "live-waiting"))
	assert.Equal(t, model.JobStatusDone, statusOf(t, st, "finished"))
	assert.Equal(t, model.JobStatusError, statusOf(t, st, "failed"))

	// A second pass finds nothing left to do.
	marked, err = r.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, marked)
}

func TestReconciler_InspectorFailureTouchesNothing(t *testing.T) {
	st, err := store.NewSQLStore("sqlite", ":memory:")
	require.NoError(t, err)
	defer st.Close()
	seed(t, st, "job-1", model.JobStatusRunning)

	_, err = NewReconciler(st, staticInspector{err: errors.New("redis down")}).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, model.JobStatusRunning, statusOf(t, st, "job-1"))
}

func TestAsynqInspector_LiveJobIDs(t *testing.T) {
	mr := miniredis.RunT(t)
	opt := asynq.RedisClientOpt{Addr: mr.Addr()}

	c := asynq.NewClient(opt)
	defer c.Close()

	pending, err := worker.NewAnalysisTask("job-pending")
	require.NoError(t, err)
	_, err = c.Enqueue(pending, asynq.Queue("analysis"))
	require.NoError(t, err)

	scheduled, err := worker.NewAnalysisTask("job-scheduled")
	require.NoError(t, err)
	_, err = c.Enqueue(scheduled, asynq.Queue("analysis"), asynq.ProcessIn(time.Hour))
	require.NoError(t, err)

	other, err := worker.NewAnalysisTask("job-elsewhere")
	require.NoError(t, err)
	_, err = c.Enqueue(other, asynq.Queue("other"))
	require.NoError(t, err)

	inspector := asynq.NewInspector(opt)
	defer inspector.Close()

	live, err := NewAsynqInspector(inspector, "analysis", "missing").LiveJobIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{
		"job-pending":   {},
		"job-scheduled": {},
	}, live)
}
