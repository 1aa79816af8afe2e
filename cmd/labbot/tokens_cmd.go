package main

import (
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/health-apis/labbot/internal/cli/output"
	"github.com/health-apis/labbot/internal/labbot"
	"github.com/health-apis/labbot/internal/report"
)

// getTokensCommand returns the tokens command
func getTokensCommand() *cobra.Command {
	var (
		users        userFlags
		failOnLosers bool
	)

	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Log every lab user in and exchange the codes for tokens",
		Long: "Log every lab user in through the identity provider, in parallel, and exchange each " +
			"authorization code for a token. One row per user is printed; users that fail carry the " +
			"OAuth error.",
		Args: cobra.NoArgs,
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

			ids, err := users.identities(rt.cfg)
			if err != nil {
				return err
			}
			bot, err := rt.newBot(users.scopes)
			if err != nil {
				return err
			}

			start := time.Now()
			results, runErr := bot.Tokens(ctx, ids)
			if runErr != nil && results == nil {
				return runErr
			}

			_, err = rt.finish(batchOutcome{
				run: report.Run{
					Operation:  "tokens",
					BaseURL:    rt.cfg.BaseURL,
					Identities: len(ids),
					Duration:   time.Since(start),
				},
				results:      results,
				err:          runErr,
				failOnLosers: failOnLosers,
			})

			text, fmtErr := renderResults(f, results)
			if fmtErr != nil {
				return fmtErr
			}
			printResult(cmd.OutOrStdout(), text)
			return err
		},
	}

	users.register(cmd)
	cmd.Flags().BoolVar(&failOnLosers, "fail-on-losers", false, "Exit with code 7 when any user fails")

	return cmd
}

// renderResults prints one row per session in text mode and the full results
// otherwise.
func renderResults(f output.OutputFormatter, results []labbot.SessionResult) (string, error) {
	sorted := append([]labbot.SessionResult(nil), results...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Identity.ID < sorted[j].Identity.ID })

	if !isText(f) {
		return f.Format(sorted)
	}

	rows := make([][]string, 0, len(sorted))
	for _, r := range sorted {
		detail := r.Token.Error
		if r.Token.ErrorDescription != "" {
			detail += ": " + r.Token.ErrorDescription
		}
		if detail == "" && r.Err != nil {
			detail = r.Err.Error()
		}
		rows = append(rows, []string{
			r.Identity.ID,
			string(r.Outcome),
			r.Token.Patient,
			r.Duration.Round(time.Millisecond).String(),
			detail,
		})
	}
	return f.FormatTable([]string{"USER", "OUTCOME", "PATIENT", "DURATION", "ERROR"}, rows)
}
