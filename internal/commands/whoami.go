package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stockdesk/stockdesk-cli/internal/output"
	"github.com/stockdesk/stockdesk-cli/internal/session"
)

// NewWhoamiCmd creates the whoami command.
func NewWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in identity",
		Long:  "Show the identity persisted at login, without making a network request.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}

			art, err := app.Session.Identity()
			if err != nil {
				return output.ErrAuth("Not logged in")
			}

			return app.Output.OK(map[string]string{
				"email":      art.Email,
				"name":       art.UserName,
				"last_login": session.FormatLastLogin(art.LastLogin),
			}, output.WithSummary(fmt.Sprintf("%s <%s>", art.UserName, art.Email)))
		},
	}
}
