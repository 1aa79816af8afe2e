package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/health-apis/labbot/internal/cli/output"
	"github.com/health-apis/labbot/internal/config"
	"github.com/health-apis/labbot/internal/logs"
	"github.com/health-apis/labbot/internal/report"
	"github.com/health-apis/labbot/internal/secret"
	"github.com/health-apis/labbot/internal/storage"
)

// getHistoryCommand returns the history command
func getHistoryCommand() *cobra.Command {
	var (
		dir   string
		limit int
		show  string
		prune int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past batches, show one run's report or prune old runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := formatter()
			if err != nil {
				return err
			}

			if dir == "" {
				cfg, err := config.Load(cmd.Context(), configFile, secret.NewResolver())
				if err != nil {
					return err
				}
				if dir, err = cfg.ResolveHistoryDir(); err != nil {
					return err
				}
			}

			logger, err := logs.SetupCommandLogger(nil, logLevel, logToFile, logDir)
			if err != nil {
				return fmt.Errorf("failed to setup logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			store, err := storage.Open(dir, logger.Sugar().Named("history"))
			if err != nil {
				return output.NewStructuredError(output.ErrCodeHistoryUnavailable, err.Error()).
					WithGuidance("Another labbot run may hold the history database; retry when it finishes")
			}
			defer store.Close()

			var text string
			switch {
			case prune > 0:
				removed, err := store.Prune(prune)
				if err != nil {
					return err
				}
				logger.Info("Pruned run history", zap.Int("removed", removed), zap.Int("kept", prune))
				text = fmt.Sprintf("Removed %d runs", removed)
			case show != "":
				record, err := store.Get(show)
				if errors.Is(err, storage.ErrRunNotFound) {
					return output.NewStructuredError(output.ErrCodeInvalidInput, err.Error()).
						WithRecoveryCommand("labbot history")
				}
				if err != nil {
					return err
				}
				text, err = renderRun(f, record)
				if err != nil {
					return err
				}
			default:
				records, err := store.List(limit)
				if err != nil {
					return err
				}
				text, err = renderRuns(f, records)
				if err != nil {
					return err
				}
			}

			printResult(cmd.OutOrStdout(), text)
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "History directory (default: labbot.history-dir or ~/.labbot)")
	cmd.Flags().IntVar(&limit, "limit", storage.DefaultListLimit, "Number of runs to list, newest first")
	cmd.Flags().StringVar(&show, "show", "", "Show the report of one run")
	cmd.Flags().IntVar(&prune, "prune", 0, "Keep only the newest N runs")
	cmd.MarkFlagsMutuallyExclusive("show", "prune")

	return cmd
}

func renderRuns(f output.OutputFormatter, records []*storage.RunRecord) (string, error) {
	if !isText(f) {
		return f.Format(records)
	}
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		winners, losers := r.Summary()
		rows = append(rows, []string{
			r.ID,
			r.Timestamp.Local().Format(time.DateTime),
			r.Operation,
			strconv.Itoa(r.Identities),
			strconv.Itoa(winners),
			strconv.Itoa(losers),
			strconv.Itoa(r.Abandoned),
			(time.Duration(r.DurationMs) * time.Millisecond).String(),
		})
	}
	return f.FormatTable([]string{"RUN", "TIME", "OPERATION", "USERS", "WINNERS", "LOSERS", "ABANDONED", "DURATION"}, rows)
}

func renderRun(f output.OutputFormatter, r *storage.RunRecord) (string, error) {
	if !isText(f) {
		return f.Format(r)
	}
	header := fmt.Sprintf("Run %s: %s against %s", r.ID, r.Operation, r.BaseURL)
	if r.Path != "" {
		header += r.Path
	}
	if r.Abandoned > 0 {
		header += fmt.Sprintf(" (%d abandoned)", r.Abandoned)
	}
	rep := report.LoginReport{Winners: r.Winners, Losers: r.Losers}
	return header + "\n" + rep.Text(), nil
}
