package model

// JobStatus is the local job state.
type JobStatus string

const (
	JobStatusQueued  JobStatus = "queued"
	JobStatusWaiting JobStatus = "waiting"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusError   JobStatus = "error"
	JobStatusUnknown JobStatus = "unknown"
)

var ValidJobStatuses = []JobStatus{
	JobStatusQueued, JobStatusWaiting, JobStatusRunning,
	JobStatusDone, JobStatusError, JobStatusUnknown,
}

// OpenJobStatuses are the states a live execution can be in.
var OpenJobStatuses = []JobStatus{JobStatusQueued, JobStatusWaiting, JobStatusRunning}

// IsTerminal reports whether no execution will change the status again.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusDone || s == JobStatusError
}

func (s JobStatus) rank() int {
	switch s {
	case JobStatusQueued:
		return 0
	case JobStatusWaiting:
		return 1
	case JobStatusRunning:
		return 2
	case JobStatusDone, JobStatusError:
		return 3
	}
	return -1
}

// CanTransitionTo reports whether moving from s to next is a forward move of the
// state machine. Unknown is never a target here.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if s.IsTerminal() || s == JobStatusUnknown || next == JobStatusUnknown {
		return false
	}
	if next == JobStatusError {
		return true
	}
	return next.rank() >= s.rank()
}

// RemoteStatus is the job state reported by the analysis service.
type RemoteStatus string

const (
	RemoteStatusUnknown RemoteStatus = "UNKNOWN"
	RemoteStatusWaiting RemoteStatus = "WAITING"
	RemoteStatusRunning RemoteStatus = "RUNNING"
	RemoteStatusError   RemoteStatus = "ERROR"
	RemoteStatusDone    RemoteStatus = "DONE"
)

// Local maps a remote status onto the local state machine. Remote UNKNOWN is a
// hard failure.
func (s RemoteStatus) Local() JobStatus {
	switch s {
	case RemoteStatusWaiting:
		return JobStatusWaiting
	case RemoteStatusRunning:
		return JobStatusRunning
	case RemoteStatusDone:
		return JobStatusDone
	}
	return JobStatusError
}
