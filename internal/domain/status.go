package domain

// JobStatus is the job lifecycle state.
type JobStatus string

// Job lifecycle states. The pipeline only performs transitions listed in
// validTransitions; anything else is a bug surfaced as ErrConflict.
const (
	JobDraft      JobStatus = "draft"
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobGenerating JobStatus = "generating"
	JobDownload   JobStatus = "download"
	JobDone       JobStatus = "done"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// ActiveStatuses are worker-owned, non-terminal states.
var ActiveStatuses = []JobStatus{JobPending, JobProcessing, JobGenerating, JobDownload}

var validTransitions = map[JobStatus][]JobStatus{
	JobDraft:      {JobPending},
	JobPending:    {JobProcessing, JobFailed, JobCancelled},
	JobProcessing: {JobGenerating, JobFailed, JobCancelled},
	JobGenerating: {JobDownload, JobFailed, JobCancelled},
	JobDownload:   {JobDone, JobFailed},
	JobFailed:     {JobPending},
	JobCancelled:  {JobPending},
}

// Terminal reports whether no further transitions are permitted, except the
// explicit retry edge from failed/cancelled back to pending.
func (s JobStatus) Terminal() bool {
	return s == JobDone || s == JobFailed || s == JobCancelled
}

// Active reports whether the status is worker-owned.
func (s JobStatus) Active() bool {
	for _, a := range ActiveStatuses {
		if s == a {
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether s -> next is an edge of the state machine.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, t := range validTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status value.
func (s JobStatus) Valid() bool {
	switch s {
	case JobDraft, JobPending, JobProcessing, JobGenerating, JobDownload, JobDone, JobFailed, JobCancelled:
		return true
	}
	return false
}
