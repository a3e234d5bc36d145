package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gdfm-dev/gdfm/internal/app"
	"github.com/gdfm-dev/gdfm/internal/collect"
	"github.com/gdfm-dev/gdfm/internal/config"
	"github.com/gdfm-dev/gdfm/internal/githubapi"
	"github.com/gdfm-dev/gdfm/internal/metrics"
	"github.com/gdfm-dev/gdfm/internal/report"
	"github.com/gdfm-dev/gdfm/internal/store"
	"github.com/gdfm-dev/gdfm/internal/telemetry"
	"github.com/manifoldco/promptui"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "gdfm: %v\n", err)
		if errors.Is(err, collect.ErrNoProgress) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// runtime holds the per-invocation wiring shared by every subcommand.
type runtime struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    store.Store
	shutdown func()
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "gdfm",
		Short:         "Collect and report GitHub maintainer responsiveness metrics",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")

	root.AddCommand(
		newInitCmd(&configPath),
		newCollectCmd(&configPath),
		newReportCmd(&configPath),
		newCleanCmd(&configPath),
	)
	return root
}

func setup(configPath string) (*runtime, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	loggerConfig := zap.NewProductionConfig()
	loggerConfig.Level = zap.NewAtomicLevelAt(logLevel(cfg.Server.LogLevel))
	logger, err := loggerConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	telemetryRuntime, err := telemetry.Setup(telemetry.Config{
		Enabled:          cfg.Telemetry.OTELEnabled,
		ServiceName:      "gdfm",
		TraceMode:        cfg.Telemetry.OTELTraceMode,
		TraceSampleRatio: cfg.Telemetry.OTELTraceSampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("setup telemetry: %w", err)
	}

	st, closeStore, err := buildStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("build store: %w", err)
	}

	return &runtime{
		cfg:    cfg,
		logger: logger,
		store:  st,
		shutdown: func() {
			_ = closeStore()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = telemetryRuntime.Shutdown(shutdownCtx)
			_ = logger.Sync()
		},
	}, nil
}

func loadConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}

	configFile, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer func() {
		_ = configFile.Close()
	}()

	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func buildStore(cfg *config.Config) (store.Store, func() error, error) {
	switch cfg.Store.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
		redisStore := store.NewRedisStore(client, store.RedisStoreConfig{Namespace: cfg.Store.Namespace})
		return redisStore, redisStore.Close, nil
	default:
		return store.NewMemoryStore(), func() error { return nil }, nil
	}
}

func buildHTTPClient(cfg *config.Config) (*http.Client, error) {
	switch cfg.GitHub.AuthMode {
	case "app":
		return githubapi.NewInstallationHTTPClient(githubapi.InstallationAuthConfig{
			AppID:          cfg.GitHub.AppID,
			InstallationID: cfg.GitHub.InstallationID,
			PrivateKeyPath: cfg.GitHub.PrivateKeyPath,
			Timeout:        cfg.GitHub.RequestTimeout,
		})
	default:
		token := os.Getenv(cfg.GitHub.TokenEnv)
		if strings.TrimSpace(token) == "" {
			return nil, fmt.Errorf("environment variable %s is empty; set a GitHub token or configure app auth", cfg.GitHub.TokenEnv)
		}
		return githubapi.NewTokenHTTPClient(githubapi.TokenAuthConfig{
			Token:   token,
			Timeout: cfg.GitHub.RequestTimeout,
		})
	}
}

func aggregateConfig(cfg *config.Config) metrics.Config {
	tiers := make([]metrics.SizeTier, 0, len(cfg.Report.SizeTiers))
	for _, tier := range cfg.Report.SizeTiers {
		tiers = append(tiers, metrics.SizeTier{
			Name:            tier.Name,
			MaxLinesChanged: tier.MaxLinesChanged,
		})
	}
	return metrics.Config{
		SizeTiers:        tiers,
		AutomationActors: cfg.Report.AutomationActors,
		ActivityWindow:   cfg.Report.ActivityWindow,
	}
}

func splitRepoArg(arg string) (string, string, error) {
	owner, repo, found := strings.Cut(arg, "/")
	if !found || owner == "" || repo == "" {
		return "", "", fmt.Errorf("repository must be owner/name, got %q", arg)
	}
	return owner, repo, nil
}

func newInitCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "init <owner/repo> [maintainer ...]",
		Short: "Register a repository and its maintainer list for tracking",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, repo, err := splitRepoArg(args[0])
			if err != nil {
				return err
			}

			rt, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer rt.shutdown()

			httpClient, err := buildHTTPClient(rt.cfg)
			if err != nil {
				return err
			}
			restClient, err := githubapi.NewGitHubRESTClient(httpClient, rt.cfg.GitHub.APIBaseURL)
			if err != nil {
				return err
			}
			if err := restClient.VerifyRepository(cmd.Context(), owner, repo); err != nil {
				return err
			}

			if err := rt.store.SaveRepository(cmd.Context(), store.Repository{
				Owner:       owner,
				Name:        repo,
				Maintainers: args[1:],
			}); err != nil {
				return fmt.Errorf("save repository: %w", err)
			}

			rt.logger.Info("repository registered",
				zap.String("repo", owner+"/"+repo),
				zap.Int("maintainers", len(args)-1))
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s/%s\n", owner, repo)
			return nil
		},
	}
}

func newCollectCmd(configPath *string) *cobra.Command {
	var (
		scope    string
		maxCalls int
		workers  int
	)

	cmd := &cobra.Command{
		Use:   "collect <owner/repo>",
		Short: "Collect pull request and issue activity from GitHub",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, repo, err := splitRepoArg(args[0])
			if err != nil {
				return err
			}

			rt, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer rt.shutdown()

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			if _, ok, err := rt.store.GetRepository(ctx, owner, repo); err != nil {
				return fmt.Errorf("load repository: %w", err)
			} else if !ok {
				return fmt.Errorf("repository %s/%s is not registered; run gdfm init first", owner, repo)
			}

			httpClient, err := buildHTTPClient(rt.cfg)
			if err != nil {
				return err
			}

			tracker := githubapi.NewQuotaTracker(rt.cfg.RateLimit.InitialRemaining, rt.cfg.RateLimit.MinResetBuffer)
			requestClient := githubapi.NewClient(httpClient, tracker, githubapi.RetryConfig{
				MaxAttempts:    rt.cfg.Retry.MaxAttempts,
				InitialBackoff: rt.cfg.Retry.InitialBackoff,
				MaxBackoff:     rt.cfg.Retry.MaxBackoff,
			}, githubapi.DeferMode(rt.cfg.RateLimit.DeferMode))

			dataClient, err := githubapi.NewDataClient(rt.cfg.GitHub.APIBaseURL, requestClient)
			if err != nil {
				return fmt.Errorf("build data client: %w", err)
			}

			collectCfg := collect.Config{
				Workers:    rt.cfg.Collect.Workers,
				MaxCalls:   rt.cfg.Collect.MaxCalls,
				Scope:      collect.Scope(rt.cfg.Collect.Scope),
				TimeBox:    rt.cfg.Collect.TimeBox,
				PullState:  rt.cfg.Collect.PullState,
				IssueState: rt.cfg.Collect.IssueState,
			}
			if scope != "" {
				collectCfg.Scope = collect.Scope(scope)
			}
			if cmd.Flags().Changed("max-calls") {
				collectCfg.MaxCalls = maxCalls
			}
			if workers > 0 {
				collectCfg.Workers = workers
			}

			instrumentation := collect.NewInstrumentation(prometheus.DefaultRegisterer)
			collector := collect.NewCollector(dataClient, rt.store, tracker, collectCfg, rt.logger, instrumentation)

			summary, err := collector.Run(ctx, owner, repo)
			printSummary(cmd, summary)
			return err
		},
	}

	cmd.Flags().StringVar(&scope, "scope", "", "collection scope: pulls, issues, or all")
	cmd.Flags().IntVar(&maxCalls, "max-calls", 0, "cap on logical API fetches for this run (0 = uncapped)")
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent entity collections")
	return cmd
}

func printSummary(cmd *cobra.Command, summary collect.Summary) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "pulls:  %d complete, %d partial, %d failed\n",
		summary.PullsComplete, summary.PullsPartial, summary.PullsFailed)
	fmt.Fprintf(out, "issues: %d complete, %d partial, %d failed\n",
		summary.IssuesComplete, summary.IssuesPartial, summary.IssuesFailed)
	fmt.Fprintf(out, "rounds replaced: %d\n", summary.RoundsReplaced)
	fmt.Fprintf(out, "api calls: %d (quota remaining: %d)\n", summary.CallsUsed, summary.QuotaRemaining)
	fmt.Fprintf(out, "elapsed: %s\n", summary.Elapsed.Round(time.Millisecond))
}

func newReportCmd(configPath *string) *cobra.Command {
	var (
		asJSON    bool
		serveAddr string
	)

	cmd := &cobra.Command{
		Use:   "report <owner/repo>",
		Short: "Derive and render responsiveness statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, repo, err := splitRepoArg(args[0])
			if err != nil {
				return err
			}

			rt, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer rt.shutdown()

			if serveAddr != "" {
				return serveReport(cmd, rt, owner, repo, serveAddr)
			}

			ctx := cmd.Context()
			repository, ok, err := rt.store.GetRepository(ctx, owner, repo)
			if err != nil {
				return fmt.Errorf("load repository: %w", err)
			}
			if !ok {
				return fmt.Errorf("repository %s/%s is not registered; run gdfm init first", owner, repo)
			}

			pulls, err := rt.store.ListPullRequests(ctx, owner, repo)
			if err != nil {
				return fmt.Errorf("list pull requests: %w", err)
			}
			issues, err := rt.store.ListIssues(ctx, owner, repo)
			if err != nil {
				return fmt.Errorf("list issues: %w", err)
			}
			rounds, err := rt.store.ListReviewRounds(ctx, owner, repo)
			if err != nil {
				return fmt.Errorf("list review rounds: %w", err)
			}
			events, err := rt.store.ListRawEvents(ctx, owner, repo)
			if err != nil {
				return fmt.Errorf("list raw events: %w", err)
			}

			derived := metrics.Aggregate(aggregateConfig(rt.cfg), repository, pulls, issues, rounds, events)
			if asJSON {
				return report.RenderJSON(cmd.OutOrStdout(), derived)
			}
			return report.RenderText(cmd.OutOrStdout(), derived)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "render the report as JSON")
	cmd.Flags().StringVar(&serveAddr, "serve", "", "serve the report over HTTP on this address instead of printing")
	return cmd
}

func serveReport(cmd *cobra.Command, rt *runtime, owner, repo, addr string) error {
	reportServer := &app.ReportServer{
		Store:     rt.store,
		Owner:     owner,
		Repo:      repo,
		Aggregate: aggregateConfig(rt.cfg),
		Logger:    rt.logger,
	}
	handler := app.NewHTTPHandler(promhttp.Handler(), reportServer)
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	rootCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	serverErrCh := make(chan error, 1)
	go func() {
		rt.logger.Info("http server starting", zap.String("addr", addr))
		if serveErr := server.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
			serverErrCh <- serveErr
		}
		close(serverErrCh)
	}()

	select {
	case <-rootCtx.Done():
		rt.logger.Info("shutdown signal received")
	case serveErr := <-serverErrCh:
		if serveErr != nil {
			return fmt.Errorf("http server failed: %w", serveErr)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

func newCleanCmd(configPath *string) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clean <owner/repo>",
		Short: "Delete all stored data for a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, repo, err := splitRepoArg(args[0])
			if err != nil {
				return err
			}

			if !yes {
				prompt := promptui.Prompt{
					Label:     fmt.Sprintf("Delete all stored data for %s/%s", owner, repo),
					IsConfirm: true,
				}
				if _, err := prompt.Run(); err != nil {
					fmt.Fprintln(cmd.OutOrStdout(), "aborted")
					return nil
				}
			}

			rt, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer rt.shutdown()

			if err := rt.store.Purge(cmd.Context(), owner, repo); err != nil {
				return fmt.Errorf("purge repository: %w", err)
			}
			rt.logger.Info("repository data purged", zap.String("repo", owner+"/"+repo))
			fmt.Fprintf(cmd.OutOrStdout(), "purged %s/%s\n", owner, repo)
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "skip the confirmation prompt")
	return cmd
}

func logLevel(raw string) zapcore.Level {
	switch strings.ToLower(raw) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
