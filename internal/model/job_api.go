package model

import "time"

// Parameter is one raw user-supplied parameter.
type Parameter struct {
	Name  string `json:"name" validate:"required"`
	Value any    `json:"value"`
}

// DispatchRequest is the payload used to start a job.
type DispatchRequest struct {
	Type       string      `json:"type" validate:"required"`
	SubjectID  string      `json:"subjectId" validate:"required"`
	Parameters []Parameter `json:"parameters" validate:"omitempty,dive"`
	Async      *bool       `json:"async,omitempty"`
}

// RunAsync defaults to queueing the job.
func (r *DispatchRequest) RunAsync() bool {
	return r.Async == nil || *r.Async
}

// DispatchResponse mirrors the dispatch contract {status, jobId?}.
type DispatchResponse struct {
	Status bool   `json:"status"`
	JobID  string `json:"jobId,omitempty"`
	Error  string `json:"error,omitempty"`
}

// JobStatusResponse is what collaborators see of a job.
type JobStatusResponse struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	SubjectID string    `json:"subjectId"`
	Status    JobStatus `json:"status"`
	Progress  float64   `json:"progress"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// StatusOf converts a record into its external view.
func StatusOf(r *JobRecord) *JobStatusResponse {
	return &JobStatusResponse{
		ID:        r.ID,
		Type:      r.Type,
		SubjectID: r.SubjectID,
		Status:    r.Status,
		Progress:  r.Progress,
		Error:     r.Error,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// JobResultsResponse carries persisted or materialized results of a job.
type JobResultsResponse struct {
	JobID   string          `json:"jobId"`
	Status  JobStatus       `json:"status"`
	Results []*PluginResult `json:"results"`
	Data    any             `json:"data,omitempty"`
}

// PluginDescription lists a registered job type for collaborators.
type PluginDescription struct {
	Name       string                 `json:"name"`
	Steps      int                    `json:"steps"`
	Parameters []ParameterDescription `json:"parameters"`
}

// ParameterDescription describes one accepted parameter.
type ParameterDescription struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Default  any    `json:"default,omitempty"`
	Required bool   `json:"required"`
}
