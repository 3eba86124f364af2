// Package kv provides typed access to the NATS KV bucket holding the job
// registry and the records jobs act on.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/nats-io/nats.go/jetstream"
)

// casAttempts bounds compare-and-swap retries.
const casAttempts = 5

// ErrConflict is returned when a compare-and-swap update keeps losing to
// concurrent writers.
var ErrConflict = errors.New("kv: too many concurrent updates")

// Store provides typed access to a NATS KV bucket.
type Store struct {
	kv jetstream.KeyValue
}

// NewStore wraps a NATS KV bucket.
func NewStore(kv jetstream.KeyValue) *Store {
	return &Store{kv: kv}
}

// Bucket returns the wrapped bucket.
func (s *Store) Bucket() jetstream.KeyValue {
	return s.kv
}

// Get retrieves a value by key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, uint64, error) {
	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	return entry.Value(), entry.Revision(), nil
}

// Put stores a value at key.
func (s *Store) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	return s.kv.Put(ctx, key, value)
}

// Create stores a value at key only if it doesn't already exist.
func (s *Store) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	return s.kv.Create(ctx, key, value)
}

// Update stores a value at key only if the revision matches.
func (s *Store) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	return s.kv.Update(ctx, key, value, revision)
}

// Delete removes a key.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.kv.Delete(ctx, key)
}

// Watch watches a single key. The watcher sends the current value, then a
// nil entry, then every later change.
func (s *Store) Watch(ctx context.Context, key string) (jetstream.KeyWatcher, error) {
	return s.kv.Watch(ctx, key)
}

// GetJSON retrieves and unmarshals a JSON value.
func (s *Store) GetJSON(ctx context.Context, key string, v any) (uint64, error) {
	data, rev, err := s.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return 0, fmt.Errorf("unmarshal key %s: %w", key, err)
	}
	return rev, nil
}

// PutJSON marshals and stores a JSON value.
func (s *Store) PutJSON(ctx context.Context, key string, v any) (uint64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("marshal key %s: %w", key, err)
	}
	return s.Put(ctx, key, data)
}

// UpdateJSON performs a compare-and-swap update of a JSON value. target must
// be a pointer. It is reset and decoded afresh on every attempt, then mutate
// modifies it in place; a missing key yields the zero value. Revision
// conflicts are retried, and ErrConflict is returned once the attempts run
// out.
func (s *Store) UpdateJSON(ctx context.Context, key string, target any, mutate func()) error {
	ptr := reflect.ValueOf(target)
	if ptr.Kind() != reflect.Pointer || ptr.IsNil() {
		return fmt.Errorf("update key %s: target must be a non-nil pointer", key)
	}

	for i := 0; i < casAttempts; i++ {
		ptr.Elem().SetZero()
		rev, err := s.GetJSON(ctx, key, target)
		exists := err == nil
		if err != nil && !IsNotFound(err) {
			return err
		}

		mutate()
		data, err := json.Marshal(target)
		if err != nil {
			return fmt.Errorf("marshal key %s: %w", key, err)
		}

		if exists {
			_, err = s.Update(ctx, key, data, rev)
		} else {
			_, err = s.Create(ctx, key, data)
		}
		if err == nil {
			return nil
		}
		if !errors.Is(err, jetstream.ErrKeyExists) {
			return fmt.Errorf("update key %s: %w", key, err)
		}
		// Written concurrently, retry against the new revision.
	}
	return fmt.Errorf("update key %s after %d attempts: %w", key, casAttempts, ErrConflict)
}

// SetField writes a single top-level field of the JSON object stored at key.
func (s *Store) SetField(ctx context.Context, key, field string, value json.RawMessage) error {
	var obj map[string]json.RawMessage
	return s.UpdateJSON(ctx, key, &obj, func() {
		if obj == nil {
			obj = make(map[string]json.RawMessage)
		}
		obj[field] = value
	})
}

// Exists checks if a key exists.
func (s *Store) Exists(ctx context.Context, key string) bool {
	_, err := s.kv.Get(ctx, key)
	return err == nil
}

// IsNotFound reports whether err means the key does not exist or was deleted.
func IsNotFound(err error) bool {
	return errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted)
}
