package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/openjobspec/ojs-cron-nats/internal/core"
	"github.com/openjobspec/ojs-cron-nats/internal/kv"
	natsbackend "github.com/openjobspec/ojs-cron-nats/internal/nats"
)

const jobsTimeout = 10 * time.Second

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage the cron job registry",
}

var jobsPutFile string

var jobsPutCmd = &cobra.Command{
	Use:   "put <name>",
	Short: "Create or replace a job from a YAML or JSON definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		def, err := loadDefinitionFile(jobsPutFile)
		if err != nil {
			return err
		}
		return withRegistry(cmd, func(ctx context.Context, reg *kv.Registry) error {
			if err := reg.Put(ctx, args[0], def); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %q saved.\n", args[0])
			return nil
		})
	},
}

var jobsRmCmd = &cobra.Command{
	Use:     "rm <name>",
	Aliases: []string{"remove"},
	Short:   "Remove a job",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRegistry(cmd, func(ctx context.Context, reg *kv.Registry) error {
			if err := reg.Remove(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %q removed.\n", args[0])
			return nil
		})
	},
}

var jobsLsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List registered jobs",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRegistry(cmd, func(ctx context.Context, reg *kv.Registry) error {
			names, err := reg.List(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(names) == 0 {
				fmt.Fprintln(out, "No registered jobs.")
				return nil
			}
			for _, name := range names {
				fmt.Fprintln(out, name)
			}
			return nil
		})
	},
}

var jobsGetCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Print a job definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRegistry(cmd, func(ctx context.Context, reg *kv.Registry) error {
			def, err := reg.Get(ctx, args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(def)
		})
	},
}

func init() {
	jobsPutCmd.Flags().StringVarP(&jobsPutFile, "file", "f", "", "definition file (YAML or JSON)")
	_ = jobsPutCmd.MarkFlagRequired("file")

	jobsCmd.AddCommand(jobsPutCmd)
	jobsCmd.AddCommand(jobsRmCmd)
	jobsCmd.AddCommand(jobsLsCmd)
	jobsCmd.AddCommand(jobsGetCmd)
}

func withRegistry(cmd *cobra.Command, fn func(context.Context, *kv.Registry) error) error {
	client, err := natsbackend.New(cfg.NatsURL, natsbackend.Options{
		Bucket: cfg.Bucket,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, jobsTimeout)
	defer cancel()
	return fn(ctx, client.Registry())
}

func loadDefinitionFile(path string) (*core.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading definition: %w", err)
	}
	return parseDefinition(data)
}
