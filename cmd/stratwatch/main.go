// Command stratwatch launches the strategy monitoring daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/coachpo/stratwatch/config"
	"github.com/coachpo/stratwatch/internal/backend"
	"github.com/coachpo/stratwatch/internal/observability"
	httpserver "github.com/coachpo/stratwatch/internal/server/http"
	"github.com/coachpo/stratwatch/internal/session"
	"github.com/coachpo/stratwatch/internal/telemetry"
)

const (
	defaultConfigPath            = "config/stratwatch.yaml"
	stratwatchLoggerPrefix       = "stratwatch "
	shutdownTimeout              = 30 * time.Second
	controlServerShutdownTimeout = 5 * time.Second
	lifecycleShutdownTimeout     = 10 * time.Second
	telemetryShutdownTimeout     = 5 * time.Second
	controlReadHeaderTimeout     = 5 * time.Second
)

func main() {
	cfgPathFlag, subscriptions := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	logger := newStratwatchLogger()
	observability.SetLogger(observability.NewStdLogger(logger))

	configPath := resolveConfigPath(cfgPathFlag)
	cfg, loadedFromFile, err := config.LoadFile(configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if !loadedFromFile {
		logger.Printf("configuration file not found, using environment defaults")
	}
	logger.Printf("configuration initialised: env=%s, backend=%s", cfg.Environment, cfg.Backend.BaseURL)

	provider, shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}
	metrics, err := telemetry.NewMetrics(provider)
	if err != nil {
		logger.Fatalf("initialise metrics: %v", err)
	}
	if cfg.Telemetry.OTLPEndpoint != "" {
		logger.Printf("telemetry initialized: endpoint=%s, service=%s", cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName)
	} else {
		logger.Print("telemetry disabled")
	}

	client := backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.HTTPTimeout, func() string {
		return cfg.Backend.Credentials.Token
	})
	manager := session.NewManager(ctx, client, cfg, metrics)

	for _, subscriptionID := range subscriptions {
		if _, err := manager.Open(subscriptionID); err != nil {
			logger.Fatalf("open session for %s: %v", subscriptionID, err)
		}
		logger.Printf("bootstrap subscription registered: %s", subscriptionID)
	}

	var lifecycle conc.WaitGroup

	apiServer := buildAPIServer(cfg.APIServer, manager)
	startAPIServer(&lifecycle, logger, apiServer)
	logger.Printf("control API listening on %s", apiServer.Addr)

	logger.Print("stratwatch started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		server:     apiServer,
		mainCancel: cancel,
		manager:    manager,
		lifecycle:  &lifecycle,
		telemetry:  shutdownTelemetry,
	})

	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))
}

func parseFlags() (string, []string) {
	cfgPath := flag.String("config", "", fmt.Sprintf("Path to configuration file (default: %s)", defaultConfigPath))
	subs := flag.String("subscriptions", "", "Comma-separated subscription IDs to monitor at startup")
	flag.Parse()
	return *cfgPath, splitSubscriptions(*subs)
}

func splitSubscriptions(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newStratwatchLogger() *log.Logger {
	return log.New(os.Stdout, stratwatchLoggerPrefix, log.LstdFlags|log.Lmicroseconds)
}

func buildAPIServer(cfg config.APIServerConfig, manager *session.Manager) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpserver.NewHandler(manager),
		ReadHeaderTimeout: controlReadHeaderTimeout,
	}
}

func startAPIServer(lifecycle *conc.WaitGroup, logger *log.Logger, server *http.Server) {
	lifecycle.Go(func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("control server: %v", err)
		}
	})
}

type gracefulShutdownConfig struct {
	server     *http.Server
	mainCancel context.CancelFunc
	manager    *session.Manager
	lifecycle  *conc.WaitGroup
	telemetry  func(context.Context) error
}

func performGracefulShutdown(ctx context.Context, logger *log.Logger, cfg gracefulShutdownConfig) {
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger.Printf("shutdown: %s...", name)
		if err := fn(stepCtx); err != nil {
			logger.Printf("shutdown: %s failed: %v", name, err)
		} else {
			logger.Printf("shutdown: %s completed", name)
		}
	}

	if cfg.server != nil {
		shutdownStep("stopping control server", controlServerShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.server.Shutdown(stepCtx)
		})
	}

	if cfg.manager != nil {
		shutdownStep("closing monitoring sessions", lifecycleShutdownTimeout, func(stepCtx context.Context) error {
			done := make(chan struct{})
			go func() {
				cfg.manager.CloseAll()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stepCtx.Done():
				return fmt.Errorf("timeout closing sessions: %w", stepCtx.Err())
			}
		})
	}

	logger.Print("shutdown: cancelling main context")
	if cfg.mainCancel != nil {
		cfg.mainCancel()
	}

	if cfg.lifecycle != nil {
		shutdownStep("waiting for lifecycle goroutines", lifecycleShutdownTimeout, func(stepCtx context.Context) error {
			done := make(chan struct{})
			go func() {
				cfg.lifecycle.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stepCtx.Done():
				return fmt.Errorf("timeout waiting for goroutines: %w", stepCtx.Err())
			}
		})
	}

	if cfg.telemetry != nil {
		shutdownStep("shutting down telemetry", telemetryShutdownTimeout, cfg.telemetry)
	}
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return filepath.Clean(defaultConfigPath)
}
