// registry-monitor watches service registry paths stored in NATS JetStream
// key-value buckets and alerts when they fall out of compliance.
//
// Usage:
//
//	registry-monitor -z nats://127.0.0.1:4222 -f paths.yaml
//	registry-monitor tail -z nats://127.0.0.1:4222
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/t77yq/registry-monitor/internal/version"
)

func main() {
	if err := newRootCmd(viper.New()).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "registry-monitor",
		Short: "Monitor service registry paths and dispatch alerts",
		Long: `registry-monitor keeps a set of service registry paths under watch,
evaluates them against the rules of a path file and notifies the configured
backends when a path stays out of compliance. Several agents may run side by
side; only the holder of the cluster alerter lock sends notifications.`,
		Version:      version.Version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd.Context(), v, configFile)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Agent settings file (default ./config/config.yaml)")
	flags.StringP("nats", "z", "nats://127.0.0.1:4222", "Comma separated NATS server URLs")
	flags.StringP("cluster-name", "c", "zkmonitor", "Name of the monitor cluster this agent joins")
	flags.String("cluster-prefix", "/zk_monitor", "Namespace under which clusters coordinate")
	flags.StringP("file", "f", "", "YAML file listing the paths to monitor")
	flags.IntP("port", "p", 8080, "Port of the status HTTP server")
	flags.StringP("level", "l", "warn", "Log level (debug, info, warn, error)")

	bind := map[string]string{
		"nats.urls":      "nats",
		"cluster.name":   "cluster-name",
		"cluster.prefix": "cluster-prefix",
		"paths.file":     "file",
		"http.port":      "port",
		"log.level":      "level",
	}
	for key, flag := range bind {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}

	rootCmd.AddCommand(tailCmd(v, &configFile))

	return rootCmd
}
