package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/idilsaglam/tada/internal/server"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	Addr           string
	DBPath         string
	Prefix         string
	RequireSession bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the todo REST API",
		Long: `Run the todo REST API the client talks to.

Data is kept in a SQLite database when --db is given, in memory otherwise.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), rootOpts, opts, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.Addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&opts.DBPath, "db", "", "SQLite database path")
	cmd.Flags().StringVar(&opts.Prefix, "prefix", "/api", "route prefix")
	cmd.Flags().BoolVar(&opts.RequireSession, "require-session", false, "reject todo requests without a matching session cookie")
	return cmd
}

func runServe(ctx context.Context, rootOpts *RootOptions, opts *ServeOptions, cmd *cobra.Command) error {
	logger := rootOpts.logger(cmd.ErrOrStderr())
	if !rootOpts.Verbose {
		logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))
	}

	var repo server.Repository = server.NewMemoryRepository()
	if opts.DBPath != "" {
		db, err := server.OpenSQLite(ctx, opts.DBPath)
		if err != nil {
			return err
		}
		repo = db
	}
	defer repo.Close()

	srv := server.New(server.Config{
		Repository:     repo,
		Prefix:         opts.Prefix,
		RequireSession: opts.RequireSession,
		Logger:         logger,
	})
	if err := srv.ListenAndServe(ctx, opts.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
