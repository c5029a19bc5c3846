// Command medic runs the resurrection arbiter: it consumes kill reports
// from a stream, scores risk, decides whether to resurrect the killed
// container, executes the resurrection, and records the outcome.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/medic/arbiter/pkg/api"
	"github.com/medic/arbiter/pkg/config"
	"github.com/medic/arbiter/pkg/decision"
	"github.com/medic/arbiter/pkg/models"
	"github.com/medic/arbiter/pkg/notify"
	"github.com/medic/arbiter/pkg/orchestrator"
	"github.com/medic/arbiter/pkg/resurrector"
	"github.com/medic/arbiter/pkg/siem"
	"github.com/medic/arbiter/pkg/store"
	"github.com/medic/arbiter/pkg/stream"
)

const (
	exitOK          = 0
	exitConfigError = 2
	exitStoreError  = 3
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config",
		getEnv("MEDIC_CONFIG_PATH", "./config/medic.yaml"),
		"Path to the medic.yaml configuration file")
	modeOverride := flag.String("mode", "", "Override the configured mode (observer|live)")
	mock := flag.Bool("mock", false, "Use the mock stream listener and dry-run resurrector")
	flag.Parse()

	setupLogging()

	configDir := filepath.Dir(*configPath)
	envPath := filepath.Join(configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("no .env file loaded", "path", envPath, "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, configDir)
	if err != nil {
		slog.Error("configuration invalid", "error", err)
		return exitConfigError
	}

	if *modeOverride != "" {
		mode := config.Mode(*modeOverride)
		if !mode.Valid() {
			slog.Error("invalid --mode override", "mode", *modeOverride)
			return exitConfigError
		}
		cfg.Mode = mode
	}
	if envMode := os.Getenv("MEDIC_MODE"); envMode != "" && *modeOverride == "" {
		mode := config.Mode(envMode)
		if !mode.Valid() {
			slog.Error("invalid MEDIC_MODE", "mode", envMode)
			return exitConfigError
		}
		cfg.Mode = mode
	}

	outcomeStore, err := openStore(ctx)
	if err != nil {
		slog.Error("outcome store unavailable", "error", err)
		return exitStoreError
	}
	defer func() {
		if err := outcomeStore.Close(); err != nil {
			slog.Error("error closing outcome store", "error", err)
		}
	}()

	listener, closeListener, err := newListener(ctx, cfg, *mock)
	if err != nil {
		slog.Error("failed to start stream listener", "error", err)
		return exitConfigError
	}
	defer closeListener()

	siemClient := siem.New(cfg.SIEM.BaseURL, cfg.SIEM.Timeout)

	engine := decision.New(cfg, outcomeStore)

	restartExecutor, closeExecutor, err := newResurrector(cfg, *mock)
	if err != nil {
		slog.Error("failed to initialize resurrection backend", "error", err)
		return exitConfigError
	}
	defer closeExecutor()

	notifier := newNotifier(cfg)

	orc := orchestrator.New(orchestrator.Config{
		Listener:            listener,
		SIEM:                siemEnricher{siemClient, cfg.SIEM},
		Engine:              engine,
		Resurrector:         restartExecutor,
		Store:               outcomeStore,
		Notifier:            notifier,
		IsLiveMode:          func() bool { return cfg.Mode == config.ModeLive },
		CalibrationInterval: cfg.Calibration.Interval,
		CalibrationWindow:   cfg.Calibration.Window,
	})

	apiServer := api.NewServer(cfg, outcomeStore, orc, engine)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", cfg.HTTP.Listen)
		if err := apiServer.Start(cfg.HTTP.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		errCh <- nil
	}()

	go orc.Run(ctx)

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			slog.Error("http server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("error shutting down http server", "error", err)
	}

	return exitOK
}

func setupLogging() {
	var handler slog.Handler
	if getEnv("MEDIC_MODE", "") == "dev" || isTTY() {
		handler = slog.NewTextHandler(os.Stderr, nil)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, nil)
	}
	slog.SetDefault(slog.New(handler))
}

func isTTY() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

func openStore(ctx context.Context) (*store.Store, error) {
	dbCfg, err := store.LoadConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("load store config: %w", err)
	}
	s, err := store.Open(ctx, dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return s, nil
}

func newListener(ctx context.Context, cfg *config.Config, mock bool) (stream.Listener, func(), error) {
	if mock || cfg.Stream.Kind == config.StreamKindMock {
		l := stream.NewMockListener(2 * time.Second)
		return l, func() { _ = l.Close() }, nil
	}

	l, err := stream.NewRedisListener(ctx, cfg.Stream.Endpoint, cfg.Stream.Topic,
		cfg.Stream.ConsumerGroup, cfg.Stream.ConsumerName)
	if err != nil {
		return nil, func() {}, err
	}
	return l, func() { _ = l.Close() }, nil
}

func newResurrector(cfg *config.Config, mock bool) (*resurrector.Resurrector, func(), error) {
	if mock || cfg.Resurrection.Executor == config.ExecutorDryRun {
		return resurrector.NewDryRun(), func() {}, nil
	}

	backend, err := resurrector.NewDockerBackend()
	if err != nil {
		return nil, func() {}, fmt.Errorf("docker backend: %w", err)
	}
	r := resurrector.New(backend, cfg.Resurrection.MaxRetryAttempts, cfg.Resurrection.HealthCheckTimeout)
	return r, func() { _ = backend.Close() }, nil
}

func newNotifier(cfg *config.Config) *notify.Service {
	if !cfg.Slack.Enabled {
		return nil
	}
	token := os.Getenv(cfg.Slack.TokenEnv)
	if token == "" {
		slog.Warn("slack notifications enabled but token env var is empty", "env", cfg.Slack.TokenEnv)
		return nil
	}
	return notify.NewService(notify.ServiceConfig{Token: token, Channel: cfg.Slack.Channel})
}

// siemEnricher adapts *siem.Client to the orchestrator's SIEMEnricher
// interface, honoring cfg.SIEM.Enabled by short-circuiting to the neutral
// NoOpSIEMResult instead of issuing a request.
type siemEnricher struct {
	client *siem.Client
	cfg    config.SIEMConfig
}

func (e siemEnricher) Enrich(ctx context.Context, kr models.KillReport, deadline time.Duration) models.SIEMResult {
	if !e.cfg.Enabled {
		return models.NoOpSIEMResult()
	}
	return e.client.Enrich(ctx, kr, deadline)
}
