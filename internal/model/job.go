package model

import (
	"errors"
	"time"
)

// ErrInvalidTransition is returned when a status change would move a job backwards
// or out of a terminal state.
var ErrInvalidTransition = errors.New("invalid job status transition")

// JobRecord is the persisted state of one job execution.
type JobRecord struct {
	ID          string         `json:"id"`
	SubjectID   string         `json:"subjectId"`
	Type        string         `json:"type"`
	Status      JobStatus      `json:"status"`
	Progress    float64        `json:"progress"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	StartedAt   *time.Time     `json:"startedAt,omitempty"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
}

// NewJobRecord creates a record in the initial queued state.
func NewJobRecord(id, subjectID, jobType string, parameters map[string]any) *JobRecord {
	now := time.Now().UTC()
	return &JobRecord{
		ID:         id,
		SubjectID:  subjectID,
		Type:       jobType,
		Status:     JobStatusQueued,
		Parameters: parameters,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Advance moves the record forward to status and raises progress. Backward moves keep
// the current status but still apply progress. It reports whether anything changed.
func (r *JobRecord) Advance(status JobStatus, progress float64) bool {
	if r.Status.IsTerminal() || r.Status == JobStatusUnknown || status == JobStatusUnknown {
		return false
	}
	if status == JobStatusError {
		r.Fail("")
		return true
	}

	changed := false
	if r.Status.CanTransitionTo(status) && r.Status != status {
		r.Status = status
		changed = true
	}

	p := ClampProgress(progress)
	if r.Status == JobStatusDone {
		p = 1.0
	}
	if p > r.Progress {
		r.Progress = p
		changed = true
	}

	if !changed {
		return false
	}
	now := time.Now().UTC()
	r.UpdatedAt = now
	if r.StartedAt == nil && r.Status != JobStatusQueued {
		r.StartedAt = &now
	}
	if r.Status == JobStatusDone {
		r.CompletedAt = &now
	}
	return true
}

// Fail moves a non-terminal record to error. Terminal records are left untouched.
func (r *JobRecord) Fail(reason string) bool {
	if r.Status.IsTerminal() {
		return false
	}
	now := time.Now().UTC()
	r.Status = JobStatusError
	if reason != "" {
		r.Error = reason
	}
	r.UpdatedAt = now
	r.CompletedAt = &now
	return true
}

// MarkUnknown is the crash-recovery override applied by reconciliation only.
func (r *JobRecord) MarkUnknown() error {
	if r.Status.IsTerminal() || r.Status == JobStatusUnknown {
		return ErrInvalidTransition
	}
	r.Status = JobStatusUnknown
	r.Error = "execution state lost; resubmit the job"
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// ClampProgress limits a reported progress value to [0,1].
func ClampProgress(p float64) float64 {
	if p != p || p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// Subject is the media item a job analyses.
type Subject struct {
	ID       string    `json:"id" validate:"required"`
	Path     string    `json:"path" validate:"required"`
	Duration float64   `json:"duration" validate:"gte=0"`
	FPS      float64   `json:"fps,omitempty" validate:"gte=0"`
	Width    int       `json:"width,omitempty" validate:"gte=0"`
	Height   int       `json:"height,omitempty" validate:"gte=0"`
	AddedAt  time.Time `json:"addedAt"`
}

// Result types
const (
	ResultTypeShots       = "shots"
	ResultTypeScalar      = "scalar"
	ResultTypeAnnotations = "annotations"
	ResultTypeTranscript  = "transcript"
)

// PluginResult is one persisted output of a finished pipeline.
type PluginResult struct {
	ID          string    `json:"id"`
	JobID       string    `json:"jobId"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	DataID      string    `json:"dataId"`
	ArtifactKey string    `json:"artifactKey"`
	CreatedAt   time.Time `json:"createdAt"`
}
