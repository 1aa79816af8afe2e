package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/health-apis/labbot/internal/config"
	"github.com/health-apis/labbot/internal/labbot"
	"github.com/health-apis/labbot/internal/logs"
	"github.com/health-apis/labbot/internal/observability"
	"github.com/health-apis/labbot/internal/report"
	"github.com/health-apis/labbot/internal/secret"
	"github.com/health-apis/labbot/internal/storage"
)

// runtime is what every batch command needs: the loaded configuration, a
// logger that masks its secrets and the observability manager.
type runtime struct {
	cfg    *config.Config
	logger *zap.Logger
	obs    *observability.Manager
}

func setupRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(ctx, configFile, secret.NewResolver())
	if err != nil {
		return nil, err
	}

	logger, err := logs.SetupCommandLogger(cfg.Logging, logLevel, logToFile, logDir, cfg.Secrets()...)
	if err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}

	source := cfg.SourceFile
	if source == "" {
		source = "environment"
	}
	logger.Info("Configuration loaded",
		zap.String("version", version),
		zap.String("source", source),
		zap.String("base_url", cfg.BaseURL),
		zap.String("credentials_type", string(cfg.CredentialsType)),
		zap.Int("pool_size", cfg.PoolSize),
		zap.Bool("skip_two_factor", cfg.SkipTwoFactor),
		zap.Bool("totp", cfg.UseTOTP()))

	obs, err := observability.NewManager(logger.Sugar().Named("observability"), observability.ConfigFrom(cfg, version))
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("failed to setup observability: %w", err)
	}

	return &runtime{cfg: cfg, logger: logger, obs: obs}, nil
}

func (rt *runtime) newBot(scopes []string) (*labbot.Bot, error) {
	return labbot.New(rt.cfg, scopes,
		labbot.WithLogger(rt.logger.Named("labbot")),
		labbot.WithMetrics(rt.obs.Metrics()),
		labbot.WithTracing(rt.obs.Tracing()))
}

// recordRun saves the batch to the run history. History is best effort: a
// failure is logged, not returned.
func (rt *runtime) recordRun(record *storage.RunRecord) {
	dir, err := rt.cfg.ResolveHistoryDir()
	if err != nil {
		rt.logger.Warn("Run history unavailable", zap.Error(err))
		return
	}
	store, err := storage.Open(dir, rt.logger.Sugar().Named("history"))
	if err != nil {
		rt.logger.Warn("Run history unavailable", zap.String("dir", dir), zap.Error(err))
		return
	}
	defer func() {
		if err := store.Close(); err != nil {
			rt.logger.Warn("Failed to close run history", zap.Error(err))
		}
	}()

	if err := store.Save(record); err != nil {
		rt.logger.Warn("Failed to save run", zap.Error(err))
		return
	}
	rt.logger.Info("Run recorded", zap.String("run_id", record.ID), zap.String("path", store.Path()))
}

func (rt *runtime) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rt.obs.Close(ctx); err != nil {
		rt.logger.Warn("Failed to flush observability", zap.Error(err))
	}
	_ = rt.logger.Sync()
}

// signalContext is cancelled on SIGINT or SIGTERM, so open browsers get
// closed on the way out.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

// userFlags selects which lab users a batch runs.
type userFlags struct {
	users     []string
	usersFile string
	scopes    []string
}

func (f *userFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.users, "users", nil, "Comma-separated user ids (default: every lab user)")
	cmd.Flags().StringVar(&f.usersFile, "users-file", "", "File with one user id per line")
	cmd.Flags().StringSliceVar(&f.scopes, "scope", nil, "OAuth scopes to request (default: "+strings.Join(labbot.DefaultScopes, ",")+")")
	cmd.MarkFlagsMutuallyExclusive("users", "users-file")
}

func (f *userFlags) ids() ([]string, error) {
	switch {
	case len(f.users) > 0:
		return f.users, nil
	case f.usersFile != "":
		file, err := os.Open(f.usersFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open users file: %w", err)
		}
		defer file.Close()
		ids, err := labbot.ReadUserIDs(file)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return nil, fmt.Errorf("users file %s lists no users", f.usersFile)
		}
		return ids, nil
	default:
		return labbot.AllUsers(), nil
	}
}

func (f *userFlags) identities(cfg *config.Config) ([]labbot.Identity, error) {
	ids, err := f.ids()
	if err != nil {
		return nil, err
	}
	return labbot.Users(ids, cfg.UserPassword), nil
}

// batchOutcome is what a batch command does after the run: classify,
// record and decide the exit status.
type batchOutcome struct {
	run          report.Run
	results      []labbot.SessionResult
	err          error
	expected     string
	failOnLosers bool
}

func (rt *runtime) finish(o batchOutcome) (report.LoginReport, error) {
	rep := report.Classify(o.results, o.expected)
	rt.recordRun(report.NewRunRecord(o.run, o.results, rep))

	if o.err != nil {
		rt.logger.Warn("Batch did not finish, results are partial",
			zap.Int("results", len(o.results)),
			zap.Int("identities", o.run.Identities),
			zap.Error(o.err))
		return rep, o.err
	}
	if o.failOnLosers && rep.HasLosers() {
		return rep, &losersError{losers: len(rep.Losers), total: len(o.results)}
	}
	return rep, nil
}
