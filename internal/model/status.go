package model

import "fmt"

const (
	StatusPending      = "pending"
	StatusRunning      = "running"
	StatusCompleted    = "completed"
	StatusFailed       = "failed"
	StatusSkippedEmpty = "skipped_empty"
)

var allowedTransitions = map[string]map[string]bool{
	"": {
		StatusPending: true,
	},
	StatusPending: {
		StatusRunning:      true,
		StatusFailed:       true, // could not open log or start process
		StatusSkippedEmpty: true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
	},
	StatusCompleted:    {},
	StatusFailed:       {},
	StatusSkippedEmpty: {},
}

func IsKnownStatus(status string) bool {
	_, ok := allowedTransitions[status]
	return ok
}

func IsTerminal(status string) bool {
	next, ok := allowedTransitions[status]
	return ok && status != "" && len(next) == 0
}

func CanTransition(from, to string) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

func TransitionWorkerStatus(w *WorkerRecord, toStatus string, reason string) error {
	from := w.Status
	if !CanTransition(from, toStatus) {
		return fmt.Errorf("invalid worker status transition: %q -> %q (slot=%d device=%s)", from, toStatus, w.Slot, w.Device)
	}
	w.Status = toStatus
	w.Reason = reason
	return nil
}
