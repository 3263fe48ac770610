package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
)

const pollInterval = time.Second

func newImportCmd() *cobra.Command {
	var sync bool
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import products from a CSV file",
		Long: `Imports products from a CSV file with a header row containing at least
sku and name. By default the file is queued and progress is polled every second;
--sync runs the import inline.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runImport(ctx, h, args[0], sync, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&sync, "sync", false, "run the import inline instead of through the worker queue")
	return cmd
}

func runImport(ctx context.Context, h appHandle, path string, sync bool, out io.Writer) error {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	bgCtx, cancel := context.WithCancel(ctx)
	wait := h.app.StartBackground(bgCtx)
	defer func() {
		cancel()
		wait()
	}()

	var task catalog.Task
	if sync {
		fmt.Fprintf(out, "Importing %s synchronously...\n", path)
		task, err = h.app.ImportInline(ctx, filepath.Base(path), f)
		if err != nil {
			return err
		}
	} else {
		task, err = h.app.Submitter().Submit(ctx, filepath.Base(path), f)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Import queued with task ID %s\n", task.ID)
		task, err = pollTask(ctx, h.app.Status(), task.ID, out)
		if err != nil {
			return err
		}
	}

	report(out, task)
	h.logger.Info("import command finished", zap.String("task_id", task.ID), zap.String("status", string(task.Status)))
	if task.Status == catalog.TaskStatusFailed {
		return fmt.Errorf("import failed: %s", task.Message)
	}
	return nil
}

func pollTask(ctx context.Context, status catalog.StatusStore, taskID string, out io.Writer) (catalog.Task, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	last := -1
	for {
		task, err := status.Get(ctx, taskID)
		if err != nil {
			return catalog.Task{}, fmt.Errorf("poll task %s: %w", taskID, err)
		}
		if task.Progress != last {
			fmt.Fprintf(out, "Progress: %d%% - %s\n", task.Progress, task.Message)
			last = task.Progress
		}
		if task.IsTerminal() {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return catalog.Task{}, fmt.Errorf("import interrupted: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func report(out io.Writer, task catalog.Task) {
	fmt.Fprintf(out, "Status: %s\n%s\n", task.Status, task.Message)
	for _, msg := range task.Errors {
		fmt.Fprintf(out, "  - %s\n", msg)
	}
}
