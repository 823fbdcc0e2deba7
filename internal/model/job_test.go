package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvance_ForwardOnly(t *testing.T) {
	r := NewJobRecord("job-1", "video-1", "shotdetection", nil)

	require.True(t, r.Advance(JobStatusWaiting, 0))
	assert.Equal(t, JobStatusWaiting, r.Status)
	assert.NotNil(t, r.StartedAt)

	require.True(t, r.Advance(JobStatusRunning, 0.4))
	assert.Equal(t, JobStatusRunning, r.Status)

	// A later WAITING tick keeps RUNNING but progress never drops.
	r.Advance(JobStatusWaiting, 0.1)
	assert.Equal(t, JobStatusRunning, r.Status)
	assert.Equal(t, 0.4, r.Progress)

	require.True(t, r.Advance(JobStatusDone, 0.7))
	assert.Equal(t, JobStatusDone, r.Status)
	assert.Equal(t, 1.0, r.Progress)
	assert.NotNil(t, r.CompletedAt)

	assert.False(t, r.Advance(JobStatusRunning, 0.2))
	assert.False(t, r.Fail("late"))
	assert.Equal(t, JobStatusDone, r.Status)
}

func TestAdvance_ClampsProgress(t *testing.T) {
	r := NewJobRecord("job-1", "video-1", "whisper", nil)
	r.Advance(JobStatusRunning, 3.5)
	assert.Equal(t, 1.0, r.Progress)

	r = NewJobRecord("job-2", "video-1", "whisper", nil)
	r.Advance(JobStatusRunning, -2)
	assert.Equal(t, 0.0, r.Progress)
	assert.Equal(t, 0.0, ClampProgress(math.NaN()))
}

func TestAdvance_ErrorIsTerminal(t *testing.T) {
	r := NewJobRecord("job-1", "video-1", "whisper", nil)
	r.Advance(JobStatusRunning, 0.3)
	require.True(t, r.Advance(JobStatusError, 0))
	assert.Equal(t, JobStatusError, r.Status)
	assert.False(t, r.Advance(JobStatusDone, 1))
	assert.Error(t, r.MarkUnknown())
}

func TestAdvance_NeverReachesUnknown(t *testing.T) {
	r := NewJobRecord("job-1", "video-1", "whisper", nil)
	assert.False(t, r.Advance(JobStatusUnknown, 0))
	assert.Equal(t, JobStatusQueued, r.Status)
}

func TestMarkUnknown(t *testing.T) {
	r := NewJobRecord("job-1", "video-1", "whisper", nil)
	r.Advance(JobStatusRunning, 0.5)
	require.NoError(t, r.MarkUnknown())
	assert.Equal(t, JobStatusUnknown, r.Status)
	assert.ErrorIs(t, r.MarkUnknown(), ErrInvalidTransition)
	assert.False(t, r.Advance(JobStatusRunning, 0.9))
}

func TestRemoteStatusLocal(t *testing.T) {
	cases := map[RemoteStatus]JobStatus{
		RemoteStatusWaiting: JobStatusWaiting,
		RemoteStatusRunning: JobStatusRunning,
		RemoteStatusDone:    JobStatusDone,
		RemoteStatusError:   JobStatusError,
		RemoteStatusUnknown: JobStatusError,
	}
	for remote, want := range cases {
		assert.Equal(t, want, remote.Local(), "remote %s", remote)
	}
	assert.Equal(t, JobStatusError, RemoteStatus("bogus").Local())
}
