package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/stockdesk/stockdesk-cli/internal/output"
	"github.com/stockdesk/stockdesk-cli/internal/session"
)

// NewAuthCmd creates the auth command group.
func NewAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage authentication",
		Long:  "Manage the StockDesk session including login, logout, status, and token refresh.",
	}

	cmd.AddCommand(
		newAuthLoginCmd(),
		newAuthLogoutCmd(),
		newAuthStatusCmd(),
		newAuthRefreshCmd(),
	)

	return cmd
}

func newAuthLoginCmd() *cobra.Command {
	var email string
	var password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate with StockDesk",
		Long:  "Sign in with email and password. The password is prompted when not given via --password or STOCKDESK_PASSWORD.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}

			if email == "" {
				email = promptLine("Email: ")
			}
			if email == "" {
				return output.ErrUsage("--email is required")
			}

			if password == "" {
				password = os.Getenv("STOCKDESK_PASSWORD")
			}
			if password == "" {
				password = promptPassword("Password: ")
			}
			if password == "" {
				return output.ErrUsage("Password is required")
			}

			result, err := app.Session.Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}

			return app.Output.OK(map[string]any{
				"user":       result.User,
				"last_login": result.LastLogin,
			}, output.WithSummary(fmt.Sprintf("Logged in as %s", result.User.Name)))
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password (prefer the prompt or STOCKDESK_PASSWORD)")

	return cmd
}

func newAuthLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and remove stored credentials",
		Long:  "Clear local credentials and notify the server. Safe to run when already logged out.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}

			// Restore first so the server-side revocation can happen; a
			// failed restore still ends with local state cleared.
			app.Session.Bootstrap(cmd.Context())
			app.Session.Logout(cmd.Context())

			return app.Output.OK(map[string]string{
				"status": "logged_out",
			}, output.WithSummary("Logged out"))
		},
	}
}

func newAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show session status",
		Long:  "Restore the persisted session and report whether it is usable.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}

			snap := app.Session.Bootstrap(cmd.Context())

			data := map[string]any{
				"authenticated": snap.IsAuthenticated(),
				"base_url":      app.Config.BaseURL,
			}

			if art, err := app.Session.Identity(); err == nil {
				data["email"] = art.Email
				data["name"] = art.UserName
				if art.LastLogin != "" {
					data["last_login"] = session.FormatLastLogin(art.LastLogin)
				}
			}
			if exp, ok := app.Session.TokenExpiry(); ok {
				data["token_expires"] = exp.UTC().Format(time.RFC3339)
			}

			summary := "Not logged in"
			if snap.IsAuthenticated() {
				summary = "Session active"
			}
			return app.Output.OK(data, output.WithSummary(summary))
		},
	}
}

func newAuthRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Force a token refresh",
		Long:  "Exchange the refresh cookie for a fresh access token.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}

			if err := requireSession(cmd.Context(), app); err != nil {
				return err
			}
			if _, err := app.Session.Refresh(cmd.Context()); err != nil {
				return err
			}

			data := map[string]any{"refreshed": true}
			if exp, ok := app.Session.TokenExpiry(); ok {
				data["token_expires"] = exp.UTC().Format(time.RFC3339)
			}
			return app.Output.OK(data, output.WithSummary("Token refreshed"))
		},
	}
}

func promptLine(prompt string) string {
	fmt.Fprint(os.Stderr, prompt)
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	return strings.TrimSpace(line)
}

func promptPassword(prompt string) string {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptLine(prompt)
	}
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return ""
	}
	return string(pw)
}
