package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// EmitEvent implements core.Remote. Publishing is fire-and-forget, failures
// are only logged.
func (c *Client) EmitEvent(name string, payload json.RawMessage) {
	msg := nats.NewMsg(EventSubject(name))
	msg.Data = payload
	if c.instanceID != "" {
		msg.Header.Set(HeaderInstance, c.instanceID)
	}
	if err := c.nc.PublishMsg(msg); err != nil {
		c.logger.Error("failed to publish event", "event", name, "error", err)
	}
}

// MakeRPC implements core.Remote. The request runs on its own goroutine and
// done receives the outcome. A reply carrying a service error header counts
// as a failure.
func (c *Client) MakeRPC(name string, payload json.RawMessage, done func(error)) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.rpcTimeout)
		defer cancel()

		err := c.request(ctx, name, payload)
		if done != nil {
			done(err)
		}
	}()
}

func (c *Client) request(ctx context.Context, name string, payload json.RawMessage) error {
	msg := nats.NewMsg(RPCSubject(name))
	msg.Data = payload
	if c.instanceID != "" {
		msg.Header.Set(HeaderInstance, c.instanceID)
	}
	reply, err := c.nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("rpc %s: %w", name, err)
	}
	if desc := reply.Header.Get(HeaderServiceError); desc != "" {
		return fmt.Errorf("rpc %s: %s", name, desc)
	}
	return nil
}
