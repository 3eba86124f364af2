package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openjobspec/ojs-cron-nats/internal/core"
	"github.com/openjobspec/ojs-cron-nats/internal/server"
)

var (
	configFile string
	v          *viper.Viper
	cfg        server.Config
	logger     *slog.Logger
)

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"nats-url":  "nats_url",
	"bucket":    "bucket",
	"log-level": "log_level",
	"http-port": "http_port",
	"grpc-port": "grpc_port",
	"instance":  "instance_id",
	"otel":      "otel_enabled",
}

var rootCmd = &cobra.Command{
	Use:           "ojs-cron",
	Short:         "Cron job registry synchronizer for NATS JetStream",
	Version:       core.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var err error
		v, err = server.NewViper(configFile)
		if err != nil {
			return err
		}
		for flag, key := range flagKeys {
			if f := cmd.Flags().Lookup(flag); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return fmt.Errorf("binding flag %s: %w", flag, err)
				}
			}
		}
		cfg, err = server.LoadConfig(v)
		if err != nil {
			return err
		}
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: cfg.Level(),
		}))
		slog.SetDefault(logger)
		return nil
	},
}

// Execute runs the root command and exits on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "YAML config file")
	pf.String("nats-url", "", "NATS server URL")
	pf.String("bucket", "", "KV bucket holding the job registry")
	pf.String("log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(jobsCmd)
}
