package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/t77yq/registry-monitor/internal/alerts"
	"github.com/t77yq/registry-monitor/internal/config"
	"github.com/t77yq/registry-monitor/internal/logging"
	"github.com/t77yq/registry-monitor/internal/model"
)

func tailCmd(v *viper.Viper, configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "tail",
		Short: "Print notifications published to the NATS alert stream",
		Long: `Print every notification the alerting agent publishes to the ALERTS
stream, one JSON document per line, until interrupted.

Examples:
  # Follow alerts of a local cluster
  registry-monitor tail -z nats://127.0.0.1:4222`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTail(cmd.Context(), v, *configFile)
		},
	}
}

func runTail(ctx context.Context, v *viper.Viper, configFile string) error {
	settings, err := config.Load(v, configFile)
	if err != nil {
		return err
	}

	logger, err := logging.New(settings.Log.Level, settings.Log.Format)
	if err != nil {
		return err
	}
	defer logger.Sync()

	nc, js, err := connectNATS(settings.NATS, logger)
	if err != nil {
		return err
	}
	defer nc.Close()

	stream, err := alerts.NewStreamBackend(js, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	enc := json.NewEncoder(os.Stdout)
	if err := stream.Subscribe(ctx, func(n model.Notification) {
		if err := enc.Encode(n); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to subscribe to alert stream: %w", err)
	}

	<-ctx.Done()
	return nil
}
