package importer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
	"github.com/JakeFAU/catalog-ingest/internal/product"
)

type fakeUploads struct {
	mu      sync.Mutex
	files   map[string][]byte
	removed []string
	next    int
}

func newFakeUploads() *fakeUploads {
	return &fakeUploads{files: make(map[string][]byte)}
}

func (f *fakeUploads) put(content string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	handle := fmt.Sprintf("upload-%d", f.next)
	f.files[handle] = []byte(content)
	return handle
}

func (f *fakeUploads) Save(_ context.Context, _ string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return f.put(string(data)), nil
}

func (f *fakeUploads) Open(_ context.Context, handle string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[handle]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeUploads) Remove(_ context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, handle)
	delete(f.files, handle)
	return nil
}

func (f *fakeUploads) wasRemoved(handle string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, h := range f.removed {
		if h == handle {
			return true
		}
	}
	return false
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []catalog.Event
}

func (r *recordingPublisher) Publish(_ context.Context, event catalog.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingPublisher) ofType(et catalog.EventType) []catalog.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []catalog.Event
	for _, e := range r.events {
		if e.Type == et {
			out = append(out, e)
		}
	}
	return out
}

// recordingStatus captures every committed task snapshot.
type recordingStatus struct {
	catalog.StatusStore
	mu        sync.Mutex
	snapshots []catalog.Task
}

func (r *recordingStatus) Update(
	ctx context.Context,
	taskID string,
	mutate func(*catalog.Task) error,
) (catalog.Task, error) {
	task, err := r.StatusStore.Update(ctx, taskID, mutate)
	if err == nil {
		r.mu.Lock()
		r.snapshots = append(r.snapshots, task)
		r.mu.Unlock()
	}
	return task, err
}

// scriptedUpserter fails the rows whose SKU is listed and delegates the rest.
type scriptedUpserter struct {
	next  Upserter
	fails map[string]error
}

func (s scriptedUpserter) Upsert(
	ctx context.Context,
	in product.UpsertInput,
	policy product.PublishPolicy,
) (catalog.Product, bool, error) {
	if err, ok := s.fails[in.SKU]; ok {
		return catalog.Product{}, false, err
	}
	return s.next.Upsert(ctx, in, policy)
}

type failingQueue struct{}

func (failingQueue) Enqueue(context.Context, catalog.ImportJob) error {
	return errors.New("queue full")
}

func (failingQueue) Dequeue(ctx context.Context) (catalog.ImportJob, error) {
	<-ctx.Done()
	return catalog.ImportJob{}, ctx.Err()
}

type captureQueue struct {
	mu   sync.Mutex
	jobs []catalog.ImportJob
}

func (q *captureQueue) Enqueue(_ context.Context, job catalog.ImportJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *captureQueue) Dequeue(ctx context.Context) (catalog.ImportJob, error) {
	<-ctx.Done()
	return catalog.ImportJob{}, ctx.Err()
}

type sequentialIDs struct {
	mu sync.Mutex
	n  int
}

func (s *sequentialIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("task-%d", s.n), nil
}
