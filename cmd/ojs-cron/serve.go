package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/openjobspec/ojs-cron-nats/internal/action"
	"github.com/openjobspec/ojs-cron-nats/internal/api"
	"github.com/openjobspec/ojs-cron-nats/internal/core"
	"github.com/openjobspec/ojs-cron-nats/internal/metrics"
	natsbackend "github.com/openjobspec/ojs-cron-nats/internal/nats"
	"github.com/openjobspec/ojs-cron-nats/internal/registry"
	"github.com/openjobspec/ojs-cron-nats/internal/scheduler"
	"github.com/openjobspec/ojs-cron-nats/internal/server"
	"github.com/openjobspec/ojs-cron-nats/internal/service"
	"github.com/openjobspec/ojs-cron-nats/internal/tracing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the cron service",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	f := serveCmd.Flags()
	f.String("http-port", "", "HTTP listen port")
	f.String("grpc-port", "", "gRPC listen port")
	f.String("instance", "", "instance id stamped on emitted events")
	f.Bool("otel", false, "export traces over OTLP/HTTP")
}

func serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init(core.Version, "nats")

	instanceID := cfg.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	otelShutdown, err := tracing.Init(ctx, tracing.Config{
		ServiceName:    "ojs-cron",
		ServiceVersion: core.Version,
		Enabled:        cfg.OtelEnabled,
		Endpoint:       cfg.OtelEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	client, err := natsbackend.New(cfg.NatsURL, natsbackend.Options{
		Bucket:     cfg.Bucket,
		InstanceID: instanceID,
		RPCTimeout: cfg.RPCTimeout,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()
	logger.Info("connected to NATS", "url", cfg.NatsURL, "bucket", cfg.Bucket, "instance", instanceID)

	clock := scheduler.NewCronClock(logger)
	defer clock.Stop()

	executor := action.NewExecutor(client,
		action.WithLogger(logger),
		action.WithTimeout(cfg.ActionTimeout),
	)
	jobs := scheduler.NewManager(clock, executor, scheduler.WithLogger(logger))
	synchronizer := registry.New(client, jobs,
		registry.WithLogger(logger),
		registry.WithResubscribeInterval(cfg.ResubscribeInterval),
	)
	svc := service.New(synchronizer, jobs, service.WithLogger(logger))

	grpcServer, healthSrv := server.NewGRPCServer()
	svc.OnStateChange(func(state service.State) {
		healthSrv.SetServingStatus(server.HealthService, server.HealthStatus(state))
		notify(state)
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.NewRouter(api.NewHandler(jobs, synchronizer, svc, core.Version), logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := svc.Start(ctx); err != nil {
		svc.Stop()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("OJS cron HTTP server listening", "port", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			return fmt.Errorf("failed to listen for gRPC on port %s: %w", cfg.GRPCPort, err)
		}
		logger.Info("OJS cron gRPC server listening", "port", cfg.GRPCPort)
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("gRPC server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		svc.Stop()
		grpcServer.GracefulStop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
		return nil
	})

	err = g.Wait()
	logger.Info("server stopped")
	return err
}

// notify reports readiness to systemd. Outside of systemd it does nothing.
func notify(state service.State) {
	msg := daemon.SdNotifyStopping
	if state == service.StateOK {
		msg = daemon.SdNotifyReady
	}
	if _, err := daemon.SdNotify(false, msg); err != nil {
		slog.Debug("systemd notify failed", "error", err)
	}
}
