// Package loader moves batch transform output from S3 into DynamoDB through a Glue job
// and reports the result back to the SageMaker pipeline callback step.
package loader

import "sync"

// State is the lifecycle of one loader job.
type State int

const (
	Submitted State = iota
	Running
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Submitted:
		return "SUBMITTED"
	case Running:
		return "RUNNING"
	case Succeeded:
		return "SUCCEEDED"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == Succeeded || s == Failed
}

// FromGlue maps a Glue JobRunState to a loader state.
func FromGlue(state string) State {
	switch state {
	case "SUCCEEDED":
		return Succeeded
	case "FAILED", "ERROR", "TIMEOUT", "STOPPED", "EXPIRED":
		return Failed
	case "STARTING", "RUNNING", "STOPPING", "WAITING":
		return Running
	default:
		return Submitted
	}
}

// Job tracks one Glue run. Observations are idempotent and terminal states absorb.
type Job struct {
	Name  string
	RunID string
	Token string

	mu     sync.Mutex
	state  State
	glue   string
	report sync.Once
}

// NewJob returns a job in the Submitted state.
func NewJob(name, runID, token string) *Job {
	return &Job{Name: name, RunID: runID, Token: token, state: Submitted}
}

// State returns the current state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// GlueState returns the last raw Glue state observed.
func (j *Job) GlueState() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.glue
}

// Observe records a Glue state and reports whether the loader state changed.
func (j *Job) Observe(glueState string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state.Terminal() {
		return false
	}
	j.glue = glueState
	next := FromGlue(glueState)
	if next == Submitted || next == j.state {
		return false
	}
	j.state = next
	return true
}

// Fail forces the job into Failed unless it is already terminal.
func (j *Job) Fail() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Terminal() {
		return false
	}
	j.state = Failed
	return true
}

// Once runs fn at most once over the life of the job.
func (j *Job) Once(fn func()) {
	j.report.Do(fn)
}
