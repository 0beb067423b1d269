package main

import (
	"context"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/t77yq/registry-monitor/internal/alerts"
	"github.com/t77yq/registry-monitor/internal/cluster"
	"github.com/t77yq/registry-monitor/internal/config"
	"github.com/t77yq/registry-monitor/internal/logging"
	"github.com/t77yq/registry-monitor/internal/monitor"
	"github.com/t77yq/registry-monitor/internal/registry"
	"github.com/t77yq/registry-monitor/internal/scheduler"
	"github.com/t77yq/registry-monitor/internal/storage"
	"github.com/t77yq/registry-monitor/internal/version"
	"github.com/t77yq/registry-monitor/internal/web"
)

const (
	alerterLock     = "alerter"
	shutdownTimeout = 30 * time.Second
)

func runAgent(ctx context.Context, v *viper.Viper, configFile string) error {
	settings, err := config.Load(v, configFile)
	if err != nil {
		return err
	}

	logger, err := logging.New(settings.Log.Level, settings.Log.Format)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("Starting registry monitor", zap.String("version", version.Version))

	paths, err := config.LoadPaths(settings.Paths.File, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	nc, js, err := connectNATS(settings.NATS, logger)
	if err != nil {
		return err
	}
	defer nc.Drain()

	reg, err := registry.New(nc, js, settings.Registry.Bucket, logger)
	if err != nil {
		return fmt.Errorf("failed to open service registry: %w", err)
	}

	cs, err := cluster.NewState(nc, js, cluster.Config{
		Bucket: settings.Cluster.Bucket,
		Path:   settings.ClusterPath(),
		TTL:    settings.Cluster.LockTTL,
		Name:   settings.Cluster.Agent,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize cluster state: %w", err)
	}
	defer cs.Close()

	backends := newBackends(settings, logger)
	if stream, err := alerts.NewStreamBackend(js, logger); err != nil {
		logger.Warn("NATS alert stream unavailable, backend disabled", zap.Error(err))
	} else {
		backends.Register(stream)
	}

	var opts alerts.DispatcherOptions
	var history *storage.SQLiteAlertHistory
	if settings.History.Path != "" {
		history, err = storage.NewSQLiteAlertHistory(logger, settings.History.Path)
		if err != nil {
			return fmt.Errorf("failed to open alert history: %w", err)
		}
		defer history.Close()
		opts.History = history
	}

	// Leadership is contended from here on; the dispatcher checks it live
	// before every delivery.
	lock, err := cs.AcquireLock(alerterLock)
	if err != nil {
		return fmt.Errorf("failed to create alerter lock: %w", err)
	}
	dispatcher := alerts.NewDispatcher(logger, lock, backends, paths, opts)
	defer dispatcher.Close()

	mon := monitor.New(dispatcher, reg, paths, logger)
	if err := mon.Start(ctx); err != nil {
		return err
	}
	defer mon.Stop()

	jobs := scheduler.NewCronScheduler(logger)
	if err := jobs.AddJob("resync", settings.Resync.Schedule, func(context.Context) {
		mon.Resync()
	}); err != nil {
		return err
	}
	if history != nil && settings.History.Retention > 0 {
		retention := settings.History.Retention
		if err := jobs.AddJob("history-cleanup", settings.Cleanup.Schedule, func(ctx context.Context) {
			if _, err := history.DeleteBefore(ctx, time.Now().Add(-retention)); err != nil {
				logger.Error("Failed to clean up alert history", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}
	jobs.Start()
	defer jobs.Stop()

	host := monitor.NewHostCollector(settings.Host.Interval, logger)
	host.Start(ctx)
	defer host.Stop()

	deps := web.Dependencies{
		Registry:   reg,
		Monitor:    mon,
		Dispatcher: dispatcher,
	}
	if history != nil {
		deps.History = history
	}
	server := web.NewServer(":"+strconv.Itoa(settings.HTTP.Port), web.NewHandler(deps, logger), logger)
	if err := server.Start(); err != nil {
		return err
	}

	logger.Info("Registry monitor running",
		zap.String("agent", cs.Name()),
		zap.String("cluster", cs.Path()),
		zap.Int("paths", len(paths)),
		zap.Strings("alerters", backends.Names()))

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown failed", zap.Error(err))
	}

	return nil
}

func newBackends(settings *config.Settings, logger *zap.Logger) *alerts.Registry {
	return alerts.NewRegistry(
		alerts.NewEmailBackend(alerts.EmailConfig{
			Host:     settings.SMTP.Host,
			Port:     settings.SMTP.Port,
			Username: settings.SMTP.Username,
			Password: settings.SMTP.Password,
			From:     settings.SMTP.From,
		}, logger),
		alerts.NewSlackBackend(alerts.SlackConfig{
			APIURL:        settings.Slack.APIURL,
			RatePerMinute: settings.Slack.RatePerMinute,
			Timeout:       settings.Slack.Timeout,
		}, logger),
		alerts.NewHipChatBackend(settings.HipChat.APIURL, settings.HipChat.Timeout, logger),
		alerts.NewWebhookBackend(settings.Webhook.Timeout, logger),
	)
}
