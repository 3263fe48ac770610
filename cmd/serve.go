package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with the import workers and webhook dispatcher",
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := h.app.Run(cmd.Context()); err != nil {
				return fmt.Errorf("run server: %w", err)
			}
			return nil
		},
	}
}
