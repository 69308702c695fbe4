// Package cli implements the todo command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/idilsaglam/tada/internal/app"
	"github.com/idilsaglam/tada/internal/apperr"
	"github.com/idilsaglam/tada/internal/config"
	"github.com/idilsaglam/tada/internal/marker"
	"github.com/idilsaglam/tada/internal/model"
	"github.com/idilsaglam/tada/internal/ui"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
	Format     string // "json" | "text"
	Group      bool
	Theme      string

	Getenv func(string) string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command.
func NewRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "todo",
		Short:         "todo - a small todo list client",
		Long:          "Sign in to a todo service and manage your list from the terminal.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitUsage, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if opts.Theme != "" && !slices.Contains(ui.Themes, opts.Theme) {
				return NewExitError(ExitUsage, fmt.Sprintf("invalid theme %q: must be one of %v", opts.Theme, ui.Themes))
			}
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return NewExitError(ExitUsage, err.Error())
	})

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default <state dir>/config.yaml)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVar(&opts.Group, "group", false, "group lists by pending/done")
	cmd.PersistentFlags().StringVar(&opts.Theme, "theme", "", "theme (classic|neon|mono)")

	cmd.AddCommand(NewLoginCommand(opts))
	cmd.AddCommand(NewRegisterCommand(opts))
	cmd.AddCommand(NewLogoutCommand(opts))
	cmd.AddCommand(NewWhoamiCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewAddCommand(opts))
	cmd.AddCommand(NewDoneCommand(opts))
	cmd.AddCommand(NewRemoveCommand(opts))
	cmd.AddCommand(NewEditCommand(opts))
	cmd.AddCommand(NewTUICommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, getenv func(string) string) int {
	opts := &RootOptions{Getenv: getenv}
	cmd := NewRootCommand(opts)
	cmd.SetArgs(args)
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}
	opts.formatter(cmd, "").Error(err)
	return GetExitCode(err)
}

func usageArgs(v cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := v(cmd, args); err != nil {
			return NewExitError(ExitUsage, err.Error())
		}
		return nil
	}
}

func (o *RootOptions) getenv(key string) string {
	if o.Getenv == nil {
		return ""
	}
	return o.Getenv(key)
}

func (o *RootOptions) logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func (o *RootOptions) formatter(cmd *cobra.Command, theme string) *OutputFormatter {
	if o.Theme != "" {
		theme = o.Theme
	}
	out := cmd.OutOrStdout()
	color := o.getenv("NO_COLOR") == "" && ui.IsTerminal(out)
	return &OutputFormatter{
		Format:  o.Format,
		Writer:  out,
		Printer: ui.NewPrinter(out, cmd.ErrOrStderr(), theme, color),
	}
}

func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.ConfigPath, o.getenv)
	if err != nil {
		return nil, WrapExitError(ExitUsage, "config", err)
	}
	if o.Theme != "" {
		cfg.Theme = o.Theme
	}
	return cfg, nil
}

// session is what a command gets once the client is running.
type session struct {
	app *app.App
	out *OutputFormatter
}

func (s *session) state() model.SessionState { return s.app.Sessions.State() }

var errNotSignedIn = apperr.New(apperr.KindUnauthorized, "Not signed in. Run 'todo login' first.")

// withApp builds and starts the client for one command. When route is
// protected and no session marker is present, it fails before any
// network traffic.
func (o *RootOptions) withApp(cmd *cobra.Command, route string, fn func(ctx context.Context, s *session) error) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	a, err := app.New(cfg, o.logger(cmd.ErrOrStderr()))
	if err != nil {
		return WrapExitError(ExitUsage, "config", err)
	}
	if route != "" {
		if d := a.Allow(route); !d.Allowed {
			return errNotSignedIn
		}
	}

	ctx := cmd.Context()
	a.Start(ctx)
	defer a.Close()
	return fn(ctx, &session{app: a, out: o.formatter(cmd, cfg.Theme)})
}

// withTodos is withApp for commands that act on the signed-in user's list.
func (o *RootOptions) withTodos(cmd *cobra.Command, fn func(ctx context.Context, s *session, owner string) error) error {
	return o.withApp(cmd, marker.RouteTodoList, func(ctx context.Context, s *session) error {
		st := s.state()
		if !st.IsAuthenticated() {
			if err := s.app.Sessions.LastError(); err != nil && apperr.Retryable(err) {
				return err
			}
			return errNotSignedIn
		}
		return fn(ctx, s, st.Identity.Email)
	})
}
