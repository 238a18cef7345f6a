package domain

import "fmt"

// JobStatus is the processing state of a content item. Transitions are
// monotonic except the explicit user-triggered retry (failed → pending)
// and the recovery sweep (processing → pending when the raw input is
// still retained).
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Valid reports whether s is a known status value.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// transitions is the explicit state transition table. Anything not
// listed here is an illegal transition.
var transitions = map[JobStatus][]JobStatus{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusPending}, // pending: recovery sweep re-enqueue
	StatusFailed:     {StatusPending},                                // explicit user retry
	StatusCompleted:  {},                                             // terminal
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to JobStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition returns a validation error for illegal transitions.
func CheckTransition(from, to JobStatus) error {
	if !from.Valid() || !to.Valid() {
		return fmt.Errorf("%w: unknown job status %q -> %q", ErrValidation, from, to)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: illegal job status transition %q -> %q", ErrValidation, from, to)
	}
	return nil
}
