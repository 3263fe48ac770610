// Package redis stores import task status in Redis so several API and worker processes can share
// progress records.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
	"github.com/JakeFAU/catalog-ingest/internal/clock/system"
)

const defaultMaxRetries = 16

// StatusKey returns the Redis key holding the task record.
func StatusKey(taskID string) string {
	return "task:" + taskID + ":status"
}

// StatusStore implements catalog.StatusStore on a Redis client. Updates use WATCH/MULTI so
// concurrent writers for the same task never interleave.
type StatusStore struct {
	rdb        goredis.UniversalClient
	ttl        time.Duration
	maxRetries int
	clock      catalog.Clock
}

// Option customizes a StatusStore.
type Option func(*StatusStore)

// WithTTL expires task records ttl after their last write. Zero keeps them forever.
func WithTTL(ttl time.Duration) Option {
	return func(s *StatusStore) { s.ttl = ttl }
}

// WithClock overrides the wall clock.
func WithClock(clock catalog.Clock) Option {
	return func(s *StatusStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithMaxRetries bounds optimistic transaction retries per Update.
func WithMaxRetries(n int) Option {
	return func(s *StatusStore) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// NewStatusStore builds a StatusStore on an existing client.
func NewStatusStore(rdb goredis.UniversalClient, opts ...Option) *StatusStore {
	s := &StatusStore{
		rdb:        rdb,
		maxRetries: defaultMaxRetries,
		clock:      system.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create stores a new pending task unless the id already exists.
func (s *StatusStore) Create(ctx context.Context, taskID string) (catalog.Task, error) {
	task := catalog.NewTask(taskID, s.clock.Now())
	raw, err := json.Marshal(task)
	if err != nil {
		return catalog.Task{}, fmt.Errorf("encode task: %w", err)
	}
	ok, err := s.rdb.SetNX(ctx, StatusKey(taskID), raw, s.ttl).Result()
	if err != nil {
		return catalog.Task{}, fmt.Errorf("create task %s: %w", taskID, err)
	}
	if !ok {
		return catalog.Task{}, catalog.ErrTaskExists
	}
	return task, nil
}

// Get loads the task or returns catalog.ErrNotFound.
func (s *StatusStore) Get(ctx context.Context, taskID string) (catalog.Task, error) {
	return s.load(ctx, s.rdb, taskID)
}

// Update applies mutate inside an optimistic transaction, retrying when another writer touched
// the key between read and commit.
func (s *StatusStore) Update(
	ctx context.Context,
	taskID string,
	mutate func(*catalog.Task) error,
) (catalog.Task, error) {
	key := StatusKey(taskID)
	var result catalog.Task

	txf := func(tx *goredis.Tx) error {
		prev, err := s.load(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if prev.IsTerminal() {
			result = prev
			return catalog.ErrTaskTerminal
		}
		next := prev.Clone()
		if err := mutate(&next); err != nil {
			result = prev
			return err
		}
		if err := next.CheckTransition(prev); err != nil {
			result = prev
			return err
		}
		next.Updated = s.clock.Now()
		raw, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode task: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, raw, s.ttl)
			return nil
		})
		if err == nil {
			result = next
		}
		return err
	}

	for i := 0; i < s.maxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return result, err
	}
	return result, fmt.Errorf("update task %s: too many concurrent writers", taskID)
}

type getter interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
}

func (s *StatusStore) load(ctx context.Context, c getter, taskID string) (catalog.Task, error) {
	raw, err := c.Get(ctx, StatusKey(taskID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return catalog.Task{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.Task{}, fmt.Errorf("load task %s: %w", taskID, err)
	}
	var task catalog.Task
	if err := json.Unmarshal(raw, &task); err != nil {
		return catalog.Task{}, fmt.Errorf("decode task %s: %w", taskID, err)
	}
	if task.Errors == nil {
		task.Errors = []string{}
	}
	return task, nil
}
