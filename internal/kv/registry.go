package kv

import (
	"context"
	"fmt"
	"slices"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/openjobspec/ojs-cron-nats/internal/core"
)

// Registry writes job definitions and maintains the job index. Any number of
// processes may write concurrently. Index edits are compare-and-swap.
type Registry struct {
	store *Store
	index string
}

// NewRegistry creates a Registry over the records bucket.
func NewRegistry(kv jetstream.KeyValue) *Registry {
	return &Registry{store: NewStore(kv), index: core.IndexPath}
}

// Put writes the definition of name and adds name to the index.
func (r *Registry) Put(ctx context.Context, name string, def *core.Definition) error {
	if _, err := r.store.PutJSON(ctx, core.DefinitionPath(name), def); err != nil {
		return fmt.Errorf("put definition %s: %w", name, err)
	}
	var names []string
	err := r.store.UpdateJSON(ctx, r.index, &names, func() {
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
	})
	if err != nil {
		return fmt.Errorf("add %s to index: %w", name, err)
	}
	return nil
}

// Remove drops name from the index and deletes its definition.
func (r *Registry) Remove(ctx context.Context, name string) error {
	var names []string
	err := r.store.UpdateJSON(ctx, r.index, &names, func() {
		names = slices.DeleteFunc(names, func(n string) bool { return n == name })
		if names == nil {
			names = []string{}
		}
	})
	if err != nil {
		return fmt.Errorf("remove %s from index: %w", name, err)
	}
	if err := r.store.Delete(ctx, core.DefinitionPath(name)); err != nil && !IsNotFound(err) {
		return fmt.Errorf("delete definition %s: %w", name, err)
	}
	return nil
}

// List returns the names in the index. A missing index is empty.
func (r *Registry) List(ctx context.Context) ([]string, error) {
	var names []string
	if _, err := r.store.GetJSON(ctx, r.index, &names); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return names, nil
}

// Get returns the definition of name.
func (r *Registry) Get(ctx context.Context, name string) (*core.Definition, error) {
	data, _, err := r.store.Get(ctx, core.DefinitionPath(name))
	if err != nil {
		if IsNotFound(err) {
			return nil, core.NewNotFoundError("Cron job", name)
		}
		return nil, err
	}
	return core.ParseDefinition(data)
}

// DeleteIndex deletes the index record itself.
func (r *Registry) DeleteIndex(ctx context.Context) error {
	return r.store.Delete(ctx, r.index)
}
