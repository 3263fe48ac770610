// Package memory provides in-process store implementations for single-instance deployments and tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
	"github.com/JakeFAU/catalog-ingest/internal/clock/system"
)

// StatusStore keeps task records in memory. Each task has its own lock so a worker writing one
// task never delays polls of another, and readers of the same task only wait for an in-flight
// mutation to finish.
type StatusStore struct {
	mu    sync.RWMutex
	tasks map[string]*taskEntry
	clock catalog.Clock
}

type taskEntry struct {
	mu   sync.RWMutex
	task catalog.Task
}

// NewStatusStore constructs a StatusStore. A nil clock uses wall time.
func NewStatusStore(clock catalog.Clock) *StatusStore {
	if clock == nil {
		clock = system.New()
	}
	return &StatusStore{
		tasks: make(map[string]*taskEntry),
		clock: clock,
	}
}

// Create stores a new pending task.
func (s *StatusStore) Create(_ context.Context, taskID string) (catalog.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[taskID]; exists {
		return catalog.Task{}, catalog.ErrTaskExists
	}
	task := catalog.NewTask(taskID, s.clock.Now())
	s.tasks[taskID] = &taskEntry{task: task}
	return task.Clone(), nil
}

// Get returns a copy of the task or catalog.ErrNotFound.
func (s *StatusStore) Get(_ context.Context, taskID string) (catalog.Task, error) {
	entry, ok := s.entry(taskID)
	if !ok {
		return catalog.Task{}, catalog.ErrNotFound
	}
	entry.mu.RLock()
	defer entry.mu.RUnlock()
	return entry.task.Clone(), nil
}

// Update runs mutate on a copy of the task under the task's lock and commits the result only if
// the mutator succeeds and the transition is valid.
func (s *StatusStore) Update(
	_ context.Context,
	taskID string,
	mutate func(*catalog.Task) error,
) (catalog.Task, error) {
	entry, ok := s.entry(taskID)
	if !ok {
		return catalog.Task{}, catalog.ErrNotFound
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	prev := entry.task
	if prev.IsTerminal() {
		return prev.Clone(), catalog.ErrTaskTerminal
	}
	next := prev.Clone()
	if err := mutate(&next); err != nil {
		return prev.Clone(), err
	}
	if err := next.CheckTransition(prev); err != nil {
		return prev.Clone(), err
	}
	next.Updated = s.clock.Now()
	entry.task = next
	return next.Clone(), nil
}

func (s *StatusStore) entry(taskID string) (*taskEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.tasks[taskID]
	return entry, ok
}
