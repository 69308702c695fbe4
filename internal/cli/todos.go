package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/idilsaglam/tada/internal/apperr"
	"github.com/idilsaglam/tada/internal/model"
	"github.com/idilsaglam/tada/internal/ui"
)

// NewListCommand creates the ls command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List your todos",
		Args:    usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withTodos(cmd, func(ctx context.Context, s *session, owner string) error {
				items, err := s.app.Todos.Load(ctx, owner)
				if err != nil {
					return err
				}
				if s.out.JSON() {
					return s.out.Success(items, "")
				}
				s.out.Printer.RenderList(items, ui.ListOptions{Group: rootOpts.Group, Owner: owner})
				return nil
			})
		},
	}
}

// NewAddCommand creates the add command.
func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "add <text...>",
		Short: "Add a new item (text can be multiple words)",
		Args:  usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withTodos(cmd, func(ctx context.Context, s *session, owner string) error {
				it, err := s.app.Todos.Create(ctx, strings.Join(args, " "), description)
				if err != nil {
					return err
				}
				return s.out.Success(it, "Added: "+it.Text)
			})
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "optional description")
	return cmd
}

// NewDoneCommand creates the done command.
func NewDoneCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "done <index>",
		Short: "Toggle an item done/undone",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseIndex(args[0])
			if err != nil {
				return err
			}
			return rootOpts.withTodos(cmd, func(ctx context.Context, s *session, owner string) error {
				target, err := itemAt(ctx, s, owner, n)
				if err != nil {
					return err
				}
				it, err := s.app.Todos.Toggle(ctx, target.ID)
				if err != nil {
					return err
				}
				state := "pending"
				if it.Completed {
					state = "done"
				}
				return s.out.Success(it, fmt.Sprintf("Marked #%d %s", n, state))
			})
		},
	}
}

// NewRemoveCommand creates the rm command.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <index>",
		Short: "Remove an item",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseIndex(args[0])
			if err != nil {
				return err
			}
			return rootOpts.withTodos(cmd, func(ctx context.Context, s *session, owner string) error {
				target, err := itemAt(ctx, s, owner, n)
				if err != nil {
					return err
				}
				if err := s.app.Todos.Remove(ctx, target.ID); err != nil {
					return err
				}
				return s.out.Success(target, "Removed: "+target.Text)
			})
		},
	}
}

// NewEditCommand creates the edit command.
func NewEditCommand(rootOpts *RootOptions) *cobra.Command {
	var text, description string
	cmd := &cobra.Command{
		Use:   "edit <index>",
		Short: "Change an item's text or description",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseIndex(args[0])
			if err != nil {
				return err
			}
			var patch model.TodoPatch
			if cmd.Flags().Changed("text") {
				patch.Text = &text
			}
			if cmd.Flags().Changed("description") {
				patch.Description = &description
			}
			return rootOpts.withTodos(cmd, func(ctx context.Context, s *session, owner string) error {
				target, err := itemAt(ctx, s, owner, n)
				if err != nil {
					return err
				}
				it, err := s.app.Todos.Update(ctx, target.ID, patch)
				if err != nil {
					return err
				}
				return s.out.Success(it, fmt.Sprintf("Updated #%d", n))
			})
		},
	}
	cmd.Flags().StringVarP(&text, "text", "t", "", "new text")
	cmd.Flags().StringVarP(&description, "description", "d", "", "new description")
	return cmd
}

func parseIndex(arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		return 0, NewExitError(ExitUsage, "not a valid index: "+arg)
	}
	return n, nil
}

// itemAt resolves a 1-based position as shown by ls.
func itemAt(ctx context.Context, s *session, owner string, n int) (model.TodoItem, error) {
	items, err := s.app.Todos.Load(ctx, owner)
	if err != nil {
		return model.TodoItem{}, err
	}
	if n > len(items) {
		return model.TodoItem{}, apperr.New(apperr.KindNotFound, fmt.Sprintf("No item #%d (the list has %d)", n, len(items)))
	}
	return items[n-1], nil
}
