// Package jobs tracks bulk-send job records in memory.
package jobs

import "time"

// Status is a job lifecycle state.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusRunning      Status = "running"
	StatusProcessing   Status = "processing"
	StatusStopping     Status = "stopping"
	StatusStopped      Status = "stopped"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

var statusRank = map[Status]int{
	StatusInitializing: 0,
	StatusRunning:      1,
	StatusProcessing:   2,
	StatusStopping:     3,
	StatusStopped:      4,
	StatusCompleted:    4,
	StatusFailed:       4,
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusStopped || s == StatusCompleted || s == StatusFailed
}

// canMove reports whether from → to is a forward transition.
func canMove(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	switch to {
	case StatusStopped:
		return from == StatusStopping
	case StatusCompleted:
		return from == StatusProcessing
	case StatusFailed:
		return true
	}
	return statusRank[to] > statusRank[from]
}

// Record is a point-in-time copy of a job.
type Record struct {
	ID          string     `json:"job_id"`
	Status      Status     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Total       int        `json:"total_contacts"`
	Sent        int        `json:"sent"`
	Failed      int        `json:"failed"`
	Progress    int        `json:"progress"`
	Error       string     `json:"error,omitempty"`
}

// Processed is the number of contacts attempted so far.
func (r Record) Processed() int {
	return r.Sent + r.Failed
}

// Duration is the wall time from start to completion, or to now while running.
func (r Record) Duration(now time.Time) time.Duration {
	if r.CompletedAt != nil {
		return r.CompletedAt.Sub(r.StartedAt)
	}
	return now.Sub(r.StartedAt)
}

func progressOf(processed, total int) int {
	if total <= 0 {
		return 0
	}
	p := processed * 100 / total
	if p > 99 {
		p = 99
	}
	return p
}
