package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/health-apis/labbot/internal/report"
)

// getRequestCommand returns the request command
func getRequestCommand() *cobra.Command {
	var (
		users        userFlags
		path         string
		expect       string
		logReport    bool
		reportFile   string
		reportFormat string
		failOnLosers bool
	)

	cmd := &cobra.Command{
		Use:   "request",
		Short: "Log every lab user in and read one resource with each token",
		Long: "Log every lab user in, exchange the codes for tokens and GET --path with each token " +
			"({icn} is replaced by the token's patient). A user wins when the token exchange succeeded " +
			"and the response contains --expect.",
		Example: "  labbot request --path /services/fhir/v0/r4/Patient/{icn} --expect '\"resourceType\":\"Patient\"' --report --report-file",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := formatter()
			if err != nil {
				return err
			}
			format, err := report.ParseFormat(reportFormat)
			if err != nil {
				return err
			}
			if !strings.HasPrefix(path, "/") {
				return fmt.Errorf("--path must start with /: %q", path)
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
			results, runErr := bot.Request(ctx, ids, path)
			if runErr != nil && results == nil {
				return runErr
			}

			rep, err := rt.finish(batchOutcome{
				run: report.Run{
					Operation:  "request",
					BaseURL:    rt.cfg.BaseURL,
					Path:       path,
					Identities: len(ids),
					Duration:   time.Since(start),
				},
				results:      results,
				err:          runErr,
				expected:     expect,
				failOnLosers: failOnLosers,
			})

			if logReport {
				rep.Log(rt.logger.Named("report"))
			}
			if reportFile != "" {
				if writeErr := rep.WriteFile(reportFile, format); writeErr != nil {
					return writeErr
				}
				rt.logger.Info("Report written", zap.String("path", reportFile), zap.String("format", format))
			}

			text, fmtErr := f.Format(rep)
			if fmtErr != nil {
				return fmtErr
			}
			printResult(cmd.OutOrStdout(), text)
			return err
		},
	}

	users.register(cmd)
	cmd.Flags().StringVar(&path, "path", "", "Resource path to GET with each token, {icn} is the token's patient")
	cmd.Flags().StringVar(&expect, "expect", "", "Text a winning response must contain")
	cmd.Flags().BoolVar(&logReport, "report", false, "Log a Winner/Loser line per user and the sorted report")
	cmd.Flags().StringVar(&reportFile, "report-file", "", "Write the sorted report to this file (users.txt when given without a value)")
	cmd.Flags().Lookup("report-file").NoOptDefVal = "users.txt"
	cmd.Flags().StringVar(&reportFormat, "format", "text", "Report file format (text, json, yaml)")
	cmd.Flags().BoolVar(&failOnLosers, "fail-on-losers", false, "Exit with code 7 when any user fails")
	_ = cmd.MarkFlagRequired("path")

	return cmd
}
