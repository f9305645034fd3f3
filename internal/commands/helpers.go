// Package commands implements the CLI commands.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stockdesk/stockdesk-cli/internal/appctx"
	"github.com/stockdesk/stockdesk-cli/internal/output"
)

// appFrom extracts the application context attached by the root command.
func appFrom(cmd *cobra.Command) (*appctx.App, error) {
	app := appctx.FromContext(cmd.Context())
	if app == nil {
		return nil, fmt.Errorf("app not initialized")
	}
	return app, nil
}

// requireSession restores the persisted session if this process has not done
// so yet. Callers get a clean authentication error instead of a doomed
// request when no session exists.
func requireSession(ctx context.Context, app *appctx.App) error {
	if app.Store.Snapshot().IsAuthenticated() {
		return nil
	}
	snap := app.Session.Bootstrap(ctx)
	if !snap.IsAuthenticated() {
		return output.ErrAuth("Not logged in")
	}
	return nil
}
