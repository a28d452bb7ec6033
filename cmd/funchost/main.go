// Package main is the Azure Functions custom handler serving the heartbeat and
// simplemath functions.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	azfunc "github.com/Voitanos/azfunctions-cicd-iac"
	"github.com/Voitanos/azfunctions-cicd-iac/appconfig"
	"github.com/Voitanos/azfunctions-cicd-iac/heartbeat"
	"github.com/Voitanos/azfunctions-cicd-iac/internal/config"
	"github.com/Voitanos/azfunctions-cicd-iac/simplemath"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for funchost
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "funchost",
		Short: "Azure Functions custom handler for heartbeat and simplemath",
		Long: `Serves the heartbeat and simplemath functions to the Azure Functions host.

The host forwards HTTP triggers to this process on $FUNCTIONS_CUSTOMHANDLER_PORT.
Every invocation is instrumented with request telemetry exported to an
OpenTelemetry collector when OTEL_ENABLE=true.`,
		SilenceUsage: true,
		RunE:         runHost,
	}

	rootCmd.Flags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.Flags().IntP("port", "p", 0, "Port to listen on (overrides config and FUNCTIONS_CUSTOMHANDLER_PORT)")
	rootCmd.Flags().StringP("log-level", "l", "", "Log level (debug, info, warn, error)")

	return rootCmd
}

// loadConfig merges the config file, the environment and the flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	port, err := cmd.Flags().GetInt("port")
	if err != nil {
		return nil, fmt.Errorf("failed to get port flag: %w", err)
	}
	if port > 0 {
		cfg.Server.Port = port
	}

	level, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, fmt.Errorf("failed to get log-level flag: %w", err)
	}
	if level != "" {
		cfg.Logging.Level = level
	}
	return cfg, nil
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}

func runHost(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging.Level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := newStore(cfg, logger)
	if err != nil {
		return err
	}
	resolveServiceVersion(ctx, cfg, store, logger)

	initializer := azfunc.NewInitializer(cfg.Telemetry, logger)
	tel, err := initializer.Telemetry(ctx)
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	if !initializer.Configured() {
		return errors.New("initialize telemetry: no client configured")
	}
	logger.Info("telemetry configured", "enabled", cfg.Telemetry.IsEnabled())
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown failed", "error", err)
		}
	}()

	mux, err := newMux(cfg, tel, store, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("function host listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// newStore connects to App Configuration. Without a resource name the
// heartbeat still runs, answering according to its failure policy.
func newStore(cfg *config.Config, logger *slog.Logger) (appconfig.Store, error) {
	client, err := appconfig.NewClient(cfg.AppConfig.Name)
	if errors.Is(err, appconfig.ErrNoStore) {
		logger.Warn("APP_CONFIGURATION_NAME not set, heartbeat lookups will fail")
		return unavailableStore{}, nil
	}
	if err != nil {
		return nil, err
	}
	return client, nil
}

// resolveServiceVersion tags the telemetry resource with the deployed
// APP_VERSION when no explicit version was configured.
func resolveServiceVersion(ctx context.Context, cfg *config.Config, store appconfig.Store, logger *slog.Logger) {
	if cfg.Telemetry.ServiceVersion != "" {
		return
	}
	lookupCtx := ctx
	if cfg.AppConfig.LookupTimeout > 0 {
		var cancel context.CancelFunc
		lookupCtx, cancel = context.WithTimeout(ctx, cfg.AppConfig.LookupTimeout)
		defer cancel()
	}
	s, err := store.GetSetting(lookupCtx, appconfig.KeyAppVersion, cfg.AppConfig.Label)
	if err != nil {
		logger.Warn("unable to read app version for telemetry", "error", err)
		return
	}
	cfg.Telemetry.ServiceVersion = s.Value
}

func newMux(cfg *config.Config, client azfunc.Client, store appconfig.Store, logger *slog.Logger) (*http.ServeMux, error) {
	policy, err := heartbeat.ParseFailurePolicy(cfg.Heartbeat.FailurePolicy)
	if err != nil {
		return nil, err
	}

	var prom *azfunc.PrometheusRecorder
	if cfg.Server.MetricsPath != "" {
		prom = azfunc.NewPrometheusRecorder()
		prom.Registry().MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		client = azfunc.Tee(client, prom)
	}

	wrapOpts := []azfunc.WrapOption{
		azfunc.WithFlushTimeout(cfg.Telemetry.FlushTimeout),
		azfunc.WithWrapLogger(logger),
	}

	hb := heartbeat.New(client, store, cfg.AppConfig.Label,
		heartbeat.WithFailurePolicy(policy),
		heartbeat.WithLookupTimeout(cfg.AppConfig.LookupTimeout),
	)
	sm := simplemath.New(client)

	mux := http.NewServeMux()
	mux.Handle("GET /api/heartbeat", azfunc.Wrap(client, heartbeat.EventSource, hb.ServeFunction, wrapOpts...))
	mux.Handle("GET /api/simplemath", azfunc.Wrap(client, simplemath.EventSource, sm.ServeFunction, wrapOpts...))
	if prom != nil {
		mux.Handle("GET "+cfg.Server.MetricsPath, prom.Handler())
	}
	return mux, nil
}

type unavailableStore struct{}

func (unavailableStore) GetSetting(context.Context, string, string) (appconfig.Setting, error) {
	return appconfig.Setting{}, appconfig.ErrNoStore
}
