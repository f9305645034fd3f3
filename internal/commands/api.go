package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stockdesk/stockdesk-cli/internal/output"
)

// NewAPICmd creates the api command for raw API access.
func NewAPICmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "api <verb> <path>",
		Short: "Raw API access",
		Long:  "Make raw requests to any StockDesk API endpoint. Useful for operations not covered by dedicated commands.",
	}

	cmd.AddCommand(
		newAPIGetCmd(),
		newAPIPostCmd(),
		newAPIPutCmd(),
		newAPIDeleteCmd(),
	)

	return cmd
}

func newAPIGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "GET request to API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			if err := requireSession(cmd.Context(), app); err != nil {
				return err
			}

			resp, err := app.API.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return app.Output.OK(resp.Data,
				output.WithSummary(fmt.Sprintf("GET %s (%d)", args[0], resp.StatusCode)))
		},
	}
}

func newAPIPostCmd() *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:   "post <path>",
		Short: "POST request to API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			if err := requireSession(cmd.Context(), app); err != nil {
				return err
			}

			body, err := parseBodyFlag(data, true)
			if err != nil {
				return err
			}

			resp, err := app.API.Post(cmd.Context(), args[0], body)
			if err != nil {
				return err
			}
			return app.Output.OK(resp.Data,
				output.WithSummary(fmt.Sprintf("POST %s (%d)", args[0], resp.StatusCode)))
		},
	}

	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON request body")

	return cmd
}

func newAPIPutCmd() *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:   "put <path>",
		Short: "PUT request to API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			if err := requireSession(cmd.Context(), app); err != nil {
				return err
			}

			body, err := parseBodyFlag(data, true)
			if err != nil {
				return err
			}

			resp, err := app.API.Put(cmd.Context(), args[0], body)
			if err != nil {
				return err
			}
			return app.Output.OK(resp.Data,
				output.WithSummary(fmt.Sprintf("PUT %s (%d)", args[0], resp.StatusCode)))
		},
	}

	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON request body")

	return cmd
}

func newAPIDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <path>",
		Short: "DELETE request to API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			if err := requireSession(cmd.Context(), app); err != nil {
				return err
			}

			resp, err := app.API.Delete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return app.Output.OK(resp.Data,
				output.WithSummary(fmt.Sprintf("DELETE %s (%d)", args[0], resp.StatusCode)))
		},
	}
}

// parseBodyFlag turns the --data flag into a request body.
func parseBodyFlag(data string, required bool) (any, error) {
	if data == "" {
		if required {
			return nil, output.ErrUsage("--data is required")
		}
		return nil, nil
	}
	var body any
	if err := json.Unmarshal([]byte(data), &body); err != nil {
		return nil, output.ErrUsageHint("Invalid JSON data", fmt.Sprintf("JSON parse error: %v", err))
	}
	return body, nil
}
