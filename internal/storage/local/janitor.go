package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
	"github.com/JakeFAU/catalog-ingest/internal/clock/system"
)

// DefaultJanitorSchedule runs the sweep every 15 minutes.
const DefaultJanitorSchedule = "@every 15m"

// Janitor removes uploads abandoned by crashed processes on a cron schedule.
type Janitor struct {
	store  *UploadStore
	maxAge time.Duration
	cron   *cron.Cron
	clock  catalog.Clock
	logger *zap.Logger
}

// NewJanitor registers the sweep with a cron runner. The schedule accepts standard five-field
// expressions and descriptors such as "@every 15m".
func NewJanitor(store *UploadStore, schedule string, maxAge time.Duration, logger *zap.Logger) (*Janitor, error) {
	if store == nil {
		return nil, fmt.Errorf("upload store is required")
	}
	if maxAge <= 0 {
		return nil, fmt.Errorf("max age must be positive")
	}
	if strings.TrimSpace(schedule) == "" {
		schedule = DefaultJanitorSchedule
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	j := &Janitor{
		store:  store,
		maxAge: maxAge,
		cron:   cron.New(),
		clock:  system.New(),
		logger: logger.Named("upload_janitor"),
	}
	if _, err := j.cron.AddFunc(schedule, func() {
		if _, err := j.Sweep(context.Background()); err != nil {
			j.logger.Warn("upload sweep failed", zap.Error(err))
		}
	}); err != nil {
		return nil, fmt.Errorf("parse janitor schedule %q: %w", schedule, err)
	}
	return j, nil
}

// Start begins running the schedule in the background.
func (j *Janitor) Start() {
	j.logger.Info("upload janitor started", zap.Duration("max_age", j.maxAge))
	j.cron.Start()
}

// Stop halts the schedule and waits for a running sweep, bounded by ctx.
func (j *Janitor) Stop(ctx context.Context) {
	done := j.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// Sweep removes upload files whose modification time is older than the max age and returns how
// many were removed.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(j.store.Dir())
	if err != nil {
		return 0, fmt.Errorf("read upload directory: %w", err)
	}
	cutoff := j.clock.Now().Add(-j.maxAge)
	removed := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), FilePrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(j.store.Dir(), entry.Name())); err != nil && !os.IsNotExist(err) {
			j.logger.Warn("remove stale upload", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		j.logger.Info("removed stale uploads", zap.Int("count", removed))
	}
	return removed, nil
}
