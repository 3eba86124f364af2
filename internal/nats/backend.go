// Package nats implements the cron service's remote collaborator on NATS:
// records and the job index live in a JetStream KV bucket, RPCs are NATS
// requests and events are NATS publishes.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/openjobspec/ojs-cron-nats/internal/core"
	"github.com/openjobspec/ojs-cron-nats/internal/kv"
)

// DefaultRPCTimeout bounds a single RPC invocation.
const DefaultRPCTimeout = 5 * time.Second

// Options configures a Client.
type Options struct {
	// Bucket is the KV bucket holding the registry and records.
	Bucket string
	// InstanceID is stamped on every emitted event.
	InstanceID string
	RPCTimeout time.Duration
	Logger     *slog.Logger
}

// Client implements core.Remote using NATS JetStream and KV.
type Client struct {
	nc *nats.Conn
	js jetstream.JetStream

	bucket     jetstream.KeyValue
	records    *kv.Store
	instanceID string
	rpcTimeout time.Duration
	logger     *slog.Logger
}

var _ core.Remote = (*Client)(nil)

// New connects to NATS and opens the records bucket, creating it if needed.
// Reconnects are handled by the NATS client indefinitely.
func New(natsURL string, opts Options) (*Client, error) {
	if opts.Bucket == "" {
		opts.Bucket = DefaultBucket
	}
	if opts.RPCTimeout <= 0 {
		opts.RPCTimeout = DefaultRPCTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger

	nc, err := nats.Connect(natsURL,
		nats.Name("ojs-cron"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("disconnected from NATS", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("reconnected to NATS", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bucket, err := SetupBucket(ctx, js, opts.Bucket)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("setting up JetStream: %w", err)
	}

	return &Client{
		nc:         nc,
		js:         js,
		bucket:     bucket,
		records:    kv.NewStore(bucket),
		instanceID: opts.InstanceID,
		rpcTimeout: opts.RPCTimeout,
		logger:     logger,
	}, nil
}

// Conn returns the underlying NATS connection.
func (c *Client) Conn() *nats.Conn {
	return c.nc
}

// Registry returns a writer for the job registry in the records bucket.
func (c *Client) Registry() *kv.Registry {
	return kv.NewRegistry(c.bucket)
}

// Close drains pending publishes and closes the connection.
func (c *Client) Close() error {
	if err := c.nc.Drain(); err != nil {
		c.nc.Close()
		return err
	}
	return nil
}
