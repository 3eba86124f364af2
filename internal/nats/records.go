package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/openjobspec/ojs-cron-nats/internal/core"
)

// record is a core.RecordHandle backed by a KV key watch.
type record struct {
	client *Client
	key    string
	watch  *keyWatch

	mu   sync.Mutex
	data json.RawMessage
	has  bool
	subs []func(json.RawMessage)

	// deliver serializes deliveries so subscribers observe changes in order.
	deliver sync.Mutex
}

var _ core.RecordHandle = (*record)(nil)

// GetRecord implements core.Remote. The handle starts watching the key
// immediately and becomes ready once the current value is known.
func (c *Client) GetRecord(path string) core.RecordHandle {
	r := &record{client: c, key: path}
	r.watch = startWatch(c.records, path, c.logger, r.onEntry)
	return r
}

func (r *record) onEntry(e jetstream.KeyValueEntry, _ bool) {
	var data json.RawMessage
	if !isDelete(e) {
		data = json.RawMessage(e.Value())
	}

	r.deliver.Lock()
	defer r.deliver.Unlock()

	r.mu.Lock()
	r.data = data
	r.has = data != nil
	subs := append(([]func(json.RawMessage))(nil), r.subs...)
	r.mu.Unlock()

	for _, fn := range subs {
		fn(data)
	}
}

func (r *record) Subscribe(fn func(data json.RawMessage), triggerNow bool) {
	r.deliver.Lock()
	defer r.deliver.Unlock()

	r.mu.Lock()
	r.subs = append(r.subs, fn)
	data, has := r.data, r.has
	r.mu.Unlock()

	if triggerNow && has {
		fn(data)
	}
}

func (r *record) WhenReady(ctx context.Context) error {
	if err := r.watch.whenReady(ctx); err != nil {
		return fmt.Errorf("record %s: %w", r.key, err)
	}
	return nil
}

func (r *record) Set(ctx context.Context, data json.RawMessage) error {
	if _, err := r.client.records.Put(ctx, r.key, data); err != nil {
		return fmt.Errorf("set record %s: %w", r.key, err)
	}
	return nil
}

func (r *record) SetField(ctx context.Context, key string, value json.RawMessage) error {
	if err := r.client.records.SetField(ctx, r.key, key, value); err != nil {
		return fmt.Errorf("set record %s field %s: %w", r.key, key, err)
	}
	return nil
}

func (r *record) Delete(ctx context.Context) error {
	if err := r.client.records.Delete(ctx, r.key); err != nil {
		return fmt.Errorf("delete record %s: %w", r.key, err)
	}
	return nil
}

func (r *record) Discard() {
	r.watch.stop()
}
