package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/idilsaglam/tada/internal/tui"
	"github.com/idilsaglam/tada/internal/ui"
)

// NewTUICommand creates the tui command.
func NewTUICommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Interactive list (toggle, add, edit, delete, undo)",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !ui.IsTerminal(cmd.OutOrStdout()) {
				return NewExitError(ExitUsage, "tui needs a terminal")
			}
			return rootOpts.withTodos(cmd, func(ctx context.Context, s *session, owner string) error {
				return tui.Run(ctx, s.app.Todos, owner, tui.Options{Theme: s.app.Config.Theme})
			})
		},
	}
}
