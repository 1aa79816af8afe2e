package main

import (
	"github.com/spf13/cobra"
)

// getDiscoverCommand returns the discover command
func getDiscoverCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Print the SMART endpoints from the capability document",
		Long:  "Fetch {base-url}/metadata and print the authorize and token endpoints it advertises.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := formatter()
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			rt, err := setupRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			bot, err := rt.newBot(nil)
			if err != nil {
				return err
			}
			endpoints, err := bot.Endpoints(ctx)
			if err != nil {
				return err
			}

			var text string
			if isText(f) {
				text, err = f.FormatTable([]string{"ENDPOINT", "URL"}, [][]string{
					{"authorize", endpoints.AuthorizeURL},
					{"token", endpoints.TokenURL},
				})
			} else {
				text, err = f.Format(endpoints)
			}
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), text)
			return nil
		},
	}

	return cmd
}
