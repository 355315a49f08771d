package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/watchpost/watchpost/internal/alertstore"
	"github.com/watchpost/watchpost/internal/api"
	"github.com/watchpost/watchpost/internal/config"
	"github.com/watchpost/watchpost/internal/heartbeat"
	"github.com/watchpost/watchpost/internal/logring"
	"github.com/watchpost/watchpost/internal/notifier"
	"github.com/watchpost/watchpost/internal/orchestrator"
	"github.com/watchpost/watchpost/internal/probe"
	"github.com/watchpost/watchpost/internal/types"
	"github.com/watchpost/watchpost/internal/version"
)

func main() {
	configPath := flag.String("config", "/config/watchpost.yaml", "Path to configuration file")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	watchConfig := flag.Bool("watch-config", true, "Reload services when the config file changes")
	flag.Parse()

	// Ring buffer behind the /api/logs endpoint (last 1000 entries).
	logBuffer := logring.New(1000)

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	multiWriter := io.MultiWriter(os.Stdout, logBuffer)
	logger := zerolog.New(multiWriter).With().
		Timestamp().
		Str("version", version.GetVersion()).
		Str("commit", version.GetCommit()).
		Logger()

	logger.Info().Msg("Starting watchpost")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("config_path", *configPath).
			Msg("Failed to load configuration")
	}
	logger.Info().
		Int("services", len(cfg.Services)).
		Int("heartbeats", len(cfg.Heartbeats)).
		Msg("Configuration loaded")

	store, err := openStore(context.Background(), logger, cfg.Store)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("Failed to open alert store")
	}

	// Heartbeat monitors come from config; their tokens are handed out once
	// at startup so operators can wire them into cron jobs.
	registry := heartbeat.NewRegistry(logger, store)
	for _, hb := range cfg.Heartbeats {
		token, err := registry.Register(heartbeat.Monitor{
			ID:        hb.ID,
			ServiceID: hb.ServiceID,
			Name:      hb.Name,
			Interval:  time.Duration(hb.IntervalSeconds) * time.Second,
			Grace:     time.Duration(hb.GraceSeconds) * time.Second,
			Paused:    hb.Paused,
		})
		if err != nil {
			logger.Fatal().Err(err).Str("monitor", hb.ID).Msg("Failed to register heartbeat monitor")
		}
		logger.Info().
			Str("monitor", hb.ID).
			Str("ping_path", "/v1/heartbeats/ping/"+token).
			Msg("Heartbeat monitor ready")
	}

	dispatcher := buildDispatcher(logger, cfg.Notifications)
	prober := probe.New(logger, cfg.Monitor.ProbeTimeout())

	orch := orchestrator.New(logger, store, dispatcher, prober, registry, cfg.Monitor.MaxConcurrency)
	if cfg.Monitor.RefreshExpiries {
		orch.EnableExpiryRefresh(probe.FetchTLSExpiry, probe.FetchDomainExpiry)
	}

	// Hot-reloadable service batch. The sweeper and the API both read
	// through this, so a config reload applies on the next check.
	var (
		servicesMu sync.RWMutex
		services   = cfg.ServiceList()
	)
	serviceSource := func() []types.Service {
		servicesMu.RLock()
		defer servicesMu.RUnlock()
		return services
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *watchConfig {
		go func() {
			err := config.Watch(ctx, logger, *configPath, func(newCfg *config.Config) {
				servicesMu.Lock()
				services = newCfg.ServiceList()
				servicesMu.Unlock()
			})
			if err != nil {
				logger.Error().Err(err).Msg("Config watcher stopped")
			}
		}()
	}

	// Periodic sweep driver.
	go func() {
		interval := cfg.Monitor.SweepInterval()
		logger.Info().Dur("interval", interval).Msg("Sweep loop started")

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		runSweep := func() {
			sweepCtx, sweepCancel := context.WithTimeout(ctx, interval)
			defer sweepCancel()
			if _, err := orch.Sweep(sweepCtx, serviceSource()); err != nil {
				logger.Warn().Err(err).Msg("Sweep interrupted")
			}
		}

		runSweep()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runSweep()
			}
		}
	}()

	apiServer := api.New(logger, orch, store, registry, dispatcher, serviceSource, logBuffer)
	httpServer := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: apiServer.Handler(),
	}
	go func() {
		logger.Info().Str("port", cfg.Server.Port).Msg("HTTP API listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info().Msg("watchpost running, press Ctrl+C to stop")
	<-sigChan
	logger.Info().Msg("Shutting down...")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	if closer, ok := store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			logger.Error().Err(err).Msg("Error closing alert store")
		}
	}

	logger.Info().Msg("watchpost stopped")
}

// openStore selects the alert store backend declared in config.
func openStore(ctx context.Context, logger zerolog.Logger, cfg config.StoreConfig) (alertstore.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		logger.Info().Str("path", cfg.Path).Msg("Using sqlite alert store")
		return alertstore.NewSQLite(ctx, cfg.Path)
	default:
		logger.Info().Msg("Using in-memory alert store")
		return alertstore.NewMemory(), nil
	}
}

// buildDispatcher wires only the channels whose credentials resolve from the
// environment. A dispatcher with no channels is still valid: alerts are then
// recorded but never pushed anywhere.
func buildDispatcher(logger zerolog.Logger, cfg config.NotificationsConfig) *notifier.Dispatcher {
	var email notifier.EmailTransport
	var emailTo string
	if cfg.Email.Configured() {
		email = notifier.NewEmailAPI(logger, cfg.Email.APIURL, cfg.Email.APIKey(), cfg.Email.From)
		emailTo = cfg.Email.To
		logger.Info().Str("from", cfg.Email.From).Msg("Email notifications enabled")
	} else {
		logger.Info().Msg("Email notifications not configured")
	}

	var telegram notifier.TelegramTransport
	if cfg.Telegram.Configured() {
		telegram = notifier.NewTelegramBot(logger, "", cfg.Telegram.BotToken(), cfg.Telegram.ChatID())
		logger.Info().Msg("Telegram notifications enabled")
	} else {
		logger.Info().Msg("Telegram notifications not configured")
	}

	return notifier.NewDispatcher(logger, email, emailTo, telegram)
}
