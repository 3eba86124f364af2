package nats

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/openjobspec/ojs-cron-nats/internal/core"
)

// index is a core.IndexHandle over the KV key holding the job name list.
type index struct {
	client *Client
	key    string
	watch  *keyWatch

	mu        sync.Mutex
	entries   []string
	subs      []func([]string)
	onDeleted []func()
}

var _ core.IndexHandle = (*index)(nil)

// SubscribeIndex implements core.Remote.
func (c *Client) SubscribeIndex(path string) core.IndexHandle {
	idx := &index{client: c, key: path}
	idx.watch = startWatch(c.records, path, c.logger, idx.onEntry)
	return idx
}

func (i *index) onEntry(e jetstream.KeyValueEntry, initial bool) {
	if isDelete(e) {
		i.mu.Lock()
		i.entries = nil
		fns := append([]func(){}, i.onDeleted...)
		i.mu.Unlock()
		// A delete marker seen while catching up only means there is no
		// index yet.
		if initial {
			return
		}
		for _, fn := range fns {
			fn()
		}
		return
	}

	names, err := decodeIndex(e.Value())
	if err != nil {
		i.client.logger.Error("ignoring malformed cron job index", "key", i.key, "revision", e.Revision(), "error", err)
		return
	}

	i.mu.Lock()
	i.entries = names
	subs := append([]func([]string){}, i.subs...)
	i.mu.Unlock()

	for _, fn := range subs {
		fn(append([]string(nil), names...))
	}
}

func (i *index) Subscribe(fn func(names []string)) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.subs = append(i.subs, fn)
}

func (i *index) OnDeleted(fn func()) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.onDeleted = append(i.onDeleted, fn)
}

func (i *index) WhenReady(ctx context.Context) error {
	if err := i.watch.whenReady(ctx); err != nil {
		return fmt.Errorf("index %s: %w", i.key, err)
	}
	return nil
}

func (i *index) Entries() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.entries...)
}

func (i *index) Discard() {
	i.watch.stop()
}
