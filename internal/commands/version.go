package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/stockdesk/stockdesk-cli/internal/output"
	"github.com/stockdesk/stockdesk-cli/internal/version"
)

// NewVersionCmd creates the version command. It runs without application
// setup so it works with no config or network.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			writer := output.New(output.Options{Format: output.FormatJSON, Writer: os.Stdout})
			return writer.OK(map[string]string{
				"version": version.Version,
				"commit":  version.Commit,
				"built":   version.Date,
			}, output.WithSummary(version.Full()))
		},
	}
}
