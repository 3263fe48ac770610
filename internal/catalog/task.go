package catalog

import "fmt"

// CheckTransition validates t as the successor of prev. Status stores call it after every
// mutation so the task invariants hold regardless of backend.
func (t Task) CheckTransition(prev Task) error {
	if prev.IsTerminal() {
		return ErrTaskTerminal
	}
	if t.ID != prev.ID {
		return fmt.Errorf("%w: task id changed", ErrInvalidTransition)
	}
	if !validEdge(prev.Status, t.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prev.Status, t.Status)
	}
	if t.Progress < 0 || t.Progress > 100 {
		return fmt.Errorf("%w: progress %d out of range", ErrInvalidTransition, t.Progress)
	}
	if t.Progress < prev.Progress {
		return ErrProgressRegressed
	}
	if t.TotalCount > 0 && t.ProcessedCount > t.TotalCount {
		return fmt.Errorf("%w: processed %d exceeds total %d", ErrInvalidTransition, t.ProcessedCount, t.TotalCount)
	}
	return nil
}

func validEdge(from, to TaskStatus) bool {
	switch from {
	case TaskStatusPending:
		return to == TaskStatusPending || to == TaskStatusProcessing || to == TaskStatusFailed
	case TaskStatusProcessing:
		return to == TaskStatusProcessing || to == TaskStatusCompleted || to == TaskStatusFailed
	default:
		return false
	}
}
