package importer

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
)

// Claim moves a pending task to processing. Any other prior state means the task already has an
// owner and yields catalog.ErrAlreadyClaimed. With a shared status store this is the ownership
// check across processes.
func Claim(ctx context.Context, store catalog.StatusStore, taskID string) (catalog.Task, error) {
	task, err := store.Update(ctx, taskID, func(task *catalog.Task) error {
		if task.Status != catalog.TaskStatusPending {
			return catalog.ErrAlreadyClaimed
		}
		task.Status = catalog.TaskStatusProcessing
		task.Message = "Import started"
		return nil
	})
	if errors.Is(err, catalog.ErrTaskTerminal) {
		return task, fmt.Errorf("%w: task is %s", catalog.ErrAlreadyClaimed, task.Status)
	}
	return task, err
}
