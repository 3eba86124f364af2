package nats

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/openjobspec/ojs-cron-nats/internal/kv"
)

// keyWatch follows a single KV key on its own goroutine. onEntry is called
// for every entry, with initial set for entries delivered before the watcher
// reported that it is caught up.
type keyWatch struct {
	key    string
	ctx    context.Context
	cancel context.CancelFunc
	ready  chan struct{}
	err    error
	once   sync.Once
}

func startWatch(store *kv.Store, key string, logger *slog.Logger, onEntry func(e jetstream.KeyValueEntry, initial bool)) *keyWatch {
	ctx, cancel := context.WithCancel(context.Background())
	w := &keyWatch{
		key:    key,
		ctx:    ctx,
		cancel: cancel,
		ready:  make(chan struct{}),
	}
	go w.run(store, logger, onEntry)
	return w
}

func (w *keyWatch) run(store *kv.Store, logger *slog.Logger, onEntry func(jetstream.KeyValueEntry, bool)) {
	watcher, err := store.Watch(w.ctx, w.key)
	if err != nil {
		if w.ctx.Err() == nil {
			logger.Error("failed to watch record", "key", w.key, "error", err)
		}
		w.markReady(err)
		return
	}
	defer func() { _ = watcher.Stop() }()

	initial := true
	for {
		select {
		case <-w.ctx.Done():
			w.markReady(w.ctx.Err())
			return
		case entry, ok := <-watcher.Updates():
			if !ok {
				w.markReady(w.ctx.Err())
				return
			}
			if entry == nil {
				if initial {
					initial = false
					w.markReady(nil)
				}
				continue
			}
			onEntry(entry, initial)
		}
	}
}

func (w *keyWatch) markReady(err error) {
	w.once.Do(func() {
		w.err = err
		close(w.ready)
	})
}

func (w *keyWatch) whenReady(ctx context.Context) error {
	select {
	case <-w.ready:
		return w.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *keyWatch) stop() {
	w.cancel()
}

func isDelete(e jetstream.KeyValueEntry) bool {
	op := e.Operation()
	return op == jetstream.KeyValueDelete || op == jetstream.KeyValuePurge
}
