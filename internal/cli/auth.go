package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/idilsaglam/tada/internal/apperr"
	"github.com/idilsaglam/tada/internal/model"
)

// NewLoginCommand creates the login command.
func NewLoginCommand(rootOpts *RootOptions) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in",
		Long: `Sign in with email and password.

The password is read from the terminal with echo disabled, or as one line
from stdin when stdin is not a terminal.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withApp(cmd, "", func(ctx context.Context, s *session) error {
				p := newPrompter(cmd.InOrStdin(), cmd.ErrOrStderr())
				email, err := p.Line("Email", email)
				if err != nil {
					return err
				}
				password, err := p.Password("Password")
				if err != nil {
					return err
				}
				ok, res := s.app.Auth.Login(ctx, email, password)
				if !ok {
					return resultError(res)
				}
				return s.out.Success(res, "Signed in as "+describe(*res.Identity))
			})
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	return cmd
}

// NewRegisterCommand creates the register command.
func NewRegisterCommand(rootOpts *RootOptions) *cobra.Command {
	var name, email string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withApp(cmd, "", func(ctx context.Context, s *session) error {
				p := newPrompter(cmd.InOrStdin(), cmd.ErrOrStderr())
				name, err := p.Line("Name", name)
				if err != nil {
					return err
				}
				email, err := p.Line("Email", email)
				if err != nil {
					return err
				}
				password, err := p.Password("Password")
				if err != nil {
					return err
				}
				ok, res := s.app.Auth.Register(ctx, name, email, password)
				if !ok {
					return resultError(res)
				}
				text := "Account created"
				switch {
				case res.Identity != nil:
					text = "Account created, signed in as " + describe(*res.Identity)
				case res.Message != "":
					text = "Account created. " + res.Message
				}
				return s.out.Success(res, text)
			})
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "display name")
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	return cmd
}

// NewLogoutCommand creates the logout command.
func NewLogoutCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out",
		Long:  "Sign out. The local session is always cleared, even when the server cannot be reached.",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withApp(cmd, "", func(ctx context.Context, s *session) error {
				if err := s.app.Sessions.Logout(ctx); err != nil && !s.out.JSON() {
					s.out.Printer.Hint("warning: server sign out failed: " + apperr.UserMessage(err))
				}
				return s.out.Success(map[string]string{"phase": model.Anonymous.String()}, "Signed out")
			})
		},
	}
}

type whoamiResult struct {
	Phase    string          `json:"phase"`
	Backend  string          `json:"backend"`
	Identity *model.Identity `json:"identity,omitempty"`
}

// NewWhoamiCommand creates the whoami command.
func NewWhoamiCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withApp(cmd, "", func(ctx context.Context, s *session) error {
				st := s.state()
				if !st.IsAuthenticated() {
					if err := s.app.Sessions.LastError(); err != nil && apperr.Retryable(err) {
						return err
					}
					return NewExitError(ExitFailure, "Not signed in")
				}
				id := st.Identity
				return s.out.Success(whoamiResult{
					Phase:    st.Phase.String(),
					Backend:  s.app.Sessions.Backend().Name(),
					Identity: &id,
				}, describe(id))
			})
		},
	}
}

func describe(id model.Identity) string {
	return fmt.Sprintf("%s <%s>", model.DisplayName(id.Name, id.Email), id.Email)
}

// resultError turns a failed AuthResult into the command's error.
func resultError(res model.AuthResult) error {
	if res.Err != nil {
		return res.Err
	}
	if res.Message != "" {
		return errors.New(res.Message)
	}
	return errors.New("Something went wrong")
}
