// Package cli wires the cobra command tree and maps errors to exit codes.
package cli

import (
	"os"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stockdesk/stockdesk-cli/internal/appctx"
	"github.com/stockdesk/stockdesk-cli/internal/commands"
	"github.com/stockdesk/stockdesk-cli/internal/config"
	"github.com/stockdesk/stockdesk-cli/internal/output"
	"github.com/stockdesk/stockdesk-cli/internal/version"
)

// NewRootCmd creates the root cobra command.
func NewRootCmd() *cobra.Command {
	var flags appctx.GlobalFlags

	cmd := &cobra.Command{
		Use:           "stockdesk",
		Short:         "Command-line interface for the StockDesk warehouse backend",
		Long:          "stockdesk manages an authenticated session against the StockDesk API and exposes raw API access for scripting.",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Skip setup for help and version commands
			if cmd.Name() == "help" || cmd.Name() == "version" {
				return nil
			}

			cfg, err := config.Load(config.FlagOverrides{
				BaseURL: flags.BaseURL,
				Verbose: flags.Verbose,
			})
			if err != nil {
				return err
			}

			app, err := appctx.NewApp(cfg)
			if err != nil {
				return err
			}
			app.Flags = flags
			app.ApplyFlags()

			cmd.SetContext(appctx.WithApp(cmd.Context(), app))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if app := appctx.FromContext(cmd.Context()); app != nil {
				app.Close()
			}
		},
	}

	cmd.Flags().SetInterspersed(true)
	cmd.PersistentFlags().SetInterspersed(true)

	cmd.PersistentFlags().BoolVarP(&flags.JSON, "json", "j", false, "Output as JSON")
	cmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "Output data only, no envelope")
	cmd.PersistentFlags().StringVar(&flags.BaseURL, "base-url", "", "StockDesk API base URL")
	cmd.PersistentFlags().CountVarP(&flags.Verbose, "verbose", "v", "Verbose output (debug logging)")

	return cmd
}

// Execute runs the root command.
func Execute() {
	cmd := NewRootCmd()

	cmd.AddCommand(commands.NewAuthCmd())
	cmd.AddCommand(commands.NewWhoamiCmd())
	cmd.AddCommand(commands.NewAPICmd())
	cmd.AddCommand(commands.NewVersionCmd())

	// ExecuteC returns the executed command so its context is in scope.
	executedCmd, err := cmd.ExecuteC()
	if err != nil {
		err = transformCobraError(err)
		apiErr := output.AsError(err)

		if app := appctx.FromContext(executedCmd.Context()); app != nil {
			_ = app.Output.Err(err)
			app.Close()
			os.Exit(apiErr.ExitCode())
		}

		// App not available, e.g. a failure during setup.
		writer := output.New(output.Options{Format: output.FormatJSON, Writer: os.Stdout})
		_ = writer.Err(err)
		os.Exit(apiErr.ExitCode())
	}
}

// transformCobraError rewrites cobra's flag and argument errors as usage
// errors so they carry the usage exit code.
func transformCobraError(err error) error {
	msg := err.Error()

	if strings.HasPrefix(msg, "flag needs an argument: ") {
		flag := strings.TrimPrefix(msg, "flag needs an argument: ")
		return output.ErrUsage(flag + " requires a value")
	}

	if strings.HasPrefix(msg, "unknown flag: ") {
		flag := strings.TrimPrefix(msg, "unknown flag: ")
		return output.ErrUsage("Unknown option: " + flag)
	}

	if strings.HasPrefix(msg, "unknown shorthand flag: ") {
		re := regexp.MustCompile(`unknown shorthand flag: '.' in (-\w)`)
		if matches := re.FindStringSubmatch(msg); len(matches) > 1 {
			return output.ErrUsage("Unknown option: " + matches[1])
		}
	}

	if strings.Contains(msg, "invalid argument") {
		return output.ErrUsage(msg)
	}

	if strings.Contains(msg, "arg(s), received") {
		return output.ErrUsage(msg)
	}

	if strings.HasPrefix(msg, "unknown command") {
		return output.ErrUsageHint(msg, "Run: stockdesk --help")
	}

	return err
}
