package core

import (
	"context"
	"encoding/json"
)

// Registry layout. The index lists job names and each job's definition
// lives under DefinitionPrefix.
const (
	IndexPath        = "cron-index"
	DefinitionPrefix = "cron/"
)

// DefinitionPath returns the record path of a job's definition.
func DefinitionPath(name string) string {
	return DefinitionPrefix + name
}

// Remote is the data-sync client the scheduler is built on.
type Remote interface {
	// SubscribeIndex opens the list record at path.
	SubscribeIndex(path string) IndexHandle
	// GetRecord acquires a handle to the record at path. The handle must be
	// released with Discard.
	GetRecord(path string) RecordHandle
	// MakeRPC invokes a remote procedure without blocking. done receives the
	// outcome and may be called from another goroutine.
	MakeRPC(name string, payload json.RawMessage, done func(error))
	// EmitEvent publishes an event. No acknowledgment is expected.
	EmitEvent(name string, payload json.RawMessage)
}

// IndexHandle is a subscription to a list of names.
type IndexHandle interface {
	// Subscribe registers fn to receive the full list on every change.
	Subscribe(fn func(names []string))
	// OnDeleted registers fn to be called when the list record itself is
	// deleted, as opposed to becoming empty.
	OnDeleted(fn func())
	// WhenReady blocks until the initial state is known. A list that does
	// not exist yet is ready and empty.
	WhenReady(ctx context.Context) error
	// Entries returns the current list.
	Entries() []string
	Discard()
}

// RecordHandle is an acquired reference to a remote record.
type RecordHandle interface {
	// Subscribe registers fn for record changes. With triggerNow set, fn is
	// called synchronously with the cached data if there is any. A deleted
	// record is delivered as nil data.
	Subscribe(fn func(data json.RawMessage), triggerNow bool)
	WhenReady(ctx context.Context) error
	// Set replaces the record content and waits for the write to be
	// acknowledged.
	Set(ctx context.Context, data json.RawMessage) error
	// SetField writes a single top-level field and waits for the write to be
	// acknowledged.
	SetField(ctx context.Context, key string, value json.RawMessage) error
	Delete(ctx context.Context) error
	Discard()
}
