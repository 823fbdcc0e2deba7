package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vidlens/engine/internal/client"
	"github.com/vidlens/engine/internal/client/clienttest"
	"github.com/vidlens/engine/internal/model"
	"github.com/vidlens/engine/internal/pipeline"
	"github.com/vidlens/engine/internal/plugin"
	"github.com/vidlens/engine/internal/plugins"
	"github.com/vidlens/engine/internal/store"
)

type event struct {
	kind     string
	status   model.JobStatus
	progress float64
	message  string
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []event
}

func (n *recordingNotifier) BroadcastProgress(_ string, progress float64, st model.JobStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event{kind: "progress", status: st, progress: progress})
}

func (n *recordingNotifier) BroadcastComplete(_ string, results []*model.PluginResult) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event{kind: "complete", progress: float64(len(results))})
}

func (n *recordingNotifier) BroadcastError(_ string, code, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event{kind: "error", message: code + ": " + message})
}

type fixture struct {
	store    *store.SQLStore
	fake     *clienttest.Transport
	notifier *recordingNotifier
	executor *Executor
}

func newFixture(t *testing.T, extra ...plugin.Descriptor) *fixture {
	t.Helper()
	st, err := store.NewSQLStore("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	artifacts, err := client.NewDiskStorage(t.TempDir(), "")
	require.NoError(t, err)
	registry, err := plugins.Register(extra...)
	require.NoError(t, err)

	fake := clienttest.New()
	notifier := &recordingNotifier{}
	c := client.NewTaskClient(fake, client.Options{PollInterval: time.Millisecond, CacheDir: t.TempDir()})

	video := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(video, []byte("frames"), 0o600))
	require.NoError(t, st.PutSubject(context.Background(), &model.Subject{ID: "clip", Path: video, Duration: 10}))

	return &fixture{
		store:    st,
		fake:     fake,
		notifier: notifier,
		executor: NewExecutor(registry, st, c, artifacts, notifier),
	}
}

func (f *fixture) job(t *testing.T, id, jobType string, values map[string]any) *model.JobRecord {
	t.Helper()
	r := model.NewJobRecord(id, "clip", jobType, values)
	require.NoError(t, f.store.Create(context.Background(), r))
	return r
}

func (f *fixture) get(t *testing.T, id string) *model.JobRecord {
	t.Helper()
	r, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	return r
}

func TestExecute_ShotDetectionEndToEnd(t *testing.T) {
	f := newFixture(t)
	f.fake.Script("transnet_shotdetection",
		clienttest.Waiting(),
		clienttest.Running(0.3),
		clienttest.Running(0.8),
		clienttest.Done("shots", "shots-1"),
	).Put("shots-1", []byte(`{"shots":[{"start":0,"end":10}]}`))
	f.job(t, "job-1", "shotdetection", map[string]any{"timeline": "Shots"})

	require.NoError(t, f.executor.Execute(context.Background(), "job-1"))

	r := f.get(t, "job-1")
	assert.Equal(t, model.JobStatusDone, r.Status)
	assert.Equal(t, 1.0, r.Progress)
	assert.NotNil(t, r.StartedAt)
	assert.NotNil(t, r.CompletedAt)
	assert.Len(t, f.fake.RunCalls(), 1)

	results, err := f.store.Results(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, model.ResultTypeShots, results[0].Type)

	var seen []model.JobStatus
	last := -1.0
	for _, ev := range f.notifier.events {
		if ev.kind != "progress" {
			continue
		}
		assert.GreaterOrEqual(t, ev.progress, last)
		last = ev.progress
		if len(seen) == 0 || seen[len(seen)-1] != ev.status {
			seen = append(seen, ev.status)
		}
	}
	assert.Equal(t, []model.JobStatus{model.JobStatusWaiting, model.JobStatusRunning, model.JobStatusDone}, seen)
	assert.Equal(t, "complete", f.notifier.events[len(f.notifier.events)-1].kind)
}

func TestExecute_RemoteFailureMarksError(t *testing.T) {
	f := newFixture(t)
	f.fake.Script("transnet_shotdetection", clienttest.Running(0.4), clienttest.Failed())
	f.job(t, "job-1", "shotdetection", nil)

	err := f.executor.Execute(context.Background(), "job-1")
	require.Error(t, err)

	r := f.get(t, "job-1")
	assert.Equal(t, model.JobStatusError, r.Status)
	assert.Equal(t, "remote job failed", r.Error)
	assert.InDelta(t, 0.4, r.Progress, 1e-9)
}

func TestExecute_TransportFailureMarksError(t *testing.T) {
	f := newFixture(t)
	f.fake.Script("transnet_shotdetection", clienttest.Running(0.1))
	f.fake.StatusErr = status.Error(codes.Unavailable, "connection refused")
	f.job(t, "job-1", "shotdetection", nil)

	require.Error(t, f.executor.Execute(context.Background(), "job-1"))

	r := f.get(t, "job-1")
	assert.Equal(t, model.JobStatusError, r.Status)
	assert.Contains(t, r.Error, "connection refused")
}

func TestExecute_SkipsSettledRecords(t *testing.T) {
	for _, st := range []model.JobStatus{model.JobStatusDone, model.JobStatusError, model.JobStatusUnknown} {
		t.Run(string(st), func(t *testing.T) {
			f := newFixture(t)
			r := f.job(t, "job-1", "shotdetection", nil)
			r.Status = st
			require.NoError(t, f.store.Update(context.Background(), r))

			require.NoError(t, f.executor.Execute(context.Background(), "job-1"))
			assert.Empty(t, f.fake.RunCalls())
			assert.Equal(t, st, f.get(t, "job-1").Status)
		})
	}
}

func TestExecute_RedeliveryOfStartedJobFails(t *testing.T) {
	f := newFixture(t)
	r := f.job(t, "job-1", "shotdetection", nil)
	require.True(t, r.Advance(model.JobStatusRunning, 0.5))
	require.NoError(t, f.store.Update(context.Background(), r))

	err := f.executor.Execute(context.Background(), "job-1")
	assert.ErrorIs(t, err, ErrInterrupted)

	got := f.get(t, "job-1")
	assert.Equal(t, model.JobStatusError, got.Status)
	assert.Equal(t, "execution interrupted", got.Error)
	assert.Empty(t, f.fake.RunCalls())
}

func TestExecute_MissingSubject(t *testing.T) {
	f := newFixture(t)
	r := model.NewJobRecord("job-1", "nope", "shotdetection", nil)
	require.NoError(t, f.store.Create(context.Background(), r))

	err := f.executor.Execute(context.Background(), "job-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, model.JobStatusError, f.get(t, "job-1").Status)
	assert.Empty(t, f.fake.RunCalls())
}

func TestExecute_PanicIsRecovered(t *testing.T) {
	f := newFixture(t, plugin.Descriptor{
		Name: "explodes",
		Pipeline: plugin.PipelineFunc(func(context.Context, *plugin.Env) error {
			panic("kaboom")
		}),
	})
	f.job(t, "job-1", "explodes", nil)

	err := f.executor.Execute(context.Background(), "job-1")
	assert.ErrorIs(t, err, ErrPanic)

	r := f.get(t, "job-1")
	assert.Equal(t, model.JobStatusError, r.Status)
	assert.Contains(t, r.Error, "kaboom")
}

func TestExecute_PreconditionFailsBeforeRemoteWork(t *testing.T) {
	f := newFixture(t)
	f.job(t, "job-1", "insightface_facesize", map[string]any{"shot_timeline_id": "missing"})

	err := f.executor.Execute(context.Background(), "job-1")
	assert.ErrorIs(t, err, plugin.ErrPrecondition)
	assert.Equal(t, model.JobStatusError, f.get(t, "job-1").Status)
	assert.Empty(t, f.fake.RunCalls())
}

func TestExecute_StoredParametersAreCoercedAgain(t *testing.T) {
	f := newFixture(t)
	f.fake.
		Script("video_to_audio", clienttest.Done("audio", "audio-1")).
		Script("audio_rms_analysis", clienttest.Done("rms", "rms-1")).
		Put("rms-1", []byte(`{"y":[1],"time":[0]}`))
	// JSON storage turns ints into float64.
	f.job(t, "job-1", "audio_rms", map[string]any{"sr": float64(16000), "timeline": "RMS"})

	require.NoError(t, f.executor.Execute(context.Background(), "job-1"))
	runs := f.fake.RunCalls()
	require.Len(t, runs, 2)
	assert.Equal(t, []model.NamedValue{{Name: "sr", Value: 16000}}, runs[1].Parameters)
}

func TestExecute_MissingRecord(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.executor.Execute(context.Background(), "ghost"), store.ErrNotFound)
}

func TestJobWorker_ProcessTask(t *testing.T) {
	f := newFixture(t)
	f.fake.Script("transnet_shotdetection", clienttest.Done("shots", "s")).Put("s", []byte(`{"shots":[]}`))
	f.job(t, "job-1", "shotdetection", nil)
	w := NewJobWorker(f.executor)

	task, err := NewAnalysisTask("job-1")
	require.NoError(t, err)
	require.NoError(t, w.ProcessTask(context.Background(), task))
	assert.Equal(t, model.JobStatusDone, f.get(t, "job-1").Status)
}

func TestJobWorker_FailuresSkipRetry(t *testing.T) {
	f := newFixture(t)
	f.fake.Script("transnet_shotdetection", clienttest.Failed())
	f.job(t, "job-1", "shotdetection", nil)
	w := NewJobWorker(f.executor)

	err := w.ProcessTask(context.Background(), asynq.NewTask(TaskTypeAnalysis, []byte("{")))
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	task, err := NewAnalysisTask("job-1")
	require.NoError(t, err)
	err = w.ProcessTask(context.Background(), task)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
	assert.ErrorIs(t, err, pipeline.ErrStepFailed)
}
