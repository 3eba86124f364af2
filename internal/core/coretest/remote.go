// Package coretest provides an in-memory core.Remote for tests.
package coretest

import (
	"context"
	"encoding/json"
	"slices"
	"sync"

	"github.com/openjobspec/ojs-cron-nats/internal/core"
)

// Call is a recorded RPC invocation.
type Call struct {
	Name    string
	Payload json.RawMessage
}

// Event is a recorded event emission.
type Event struct {
	Name    string
	Payload json.RawMessage
}

// Remote is an in-memory core.Remote. Index and record changes are pushed to
// live handles by the test through SetIndex, DeleteIndex and PutRecord.
type Remote struct {
	mu      sync.Mutex
	entries []string
	indexes []*Index
	data    map[string]json.RawMessage
	records map[string][]*Record
	calls   []Call
	events  []Event
	writes  []string

	// Injected failures, keyed by record path (or RPC name).
	ReadyErr    map[string]error
	SetErr      map[string]error
	SetFieldErr map[string]map[string]error
	DeleteErr   map[string]error
	RPCErr      map[string]error
}

var _ core.Remote = (*Remote)(nil)

// New returns an empty Remote.
func New() *Remote {
	return &Remote{
		data:        make(map[string]json.RawMessage),
		records:     make(map[string][]*Record),
		ReadyErr:    make(map[string]error),
		SetErr:      make(map[string]error),
		SetFieldErr: make(map[string]map[string]error),
		DeleteErr:   make(map[string]error),
		RPCErr:      make(map[string]error),
	}
}

// SubscribeIndex implements core.Remote.
func (r *Remote) SubscribeIndex(path string) core.IndexHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := &Index{remote: r, path: path}
	r.indexes = append(r.indexes, idx)
	return idx
}

// GetRecord implements core.Remote.
func (r *Remote) GetRecord(path string) core.RecordHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := &Record{remote: r, path: path}
	r.records[path] = append(r.records[path], rec)
	return rec
}

// MakeRPC implements core.Remote. done is called synchronously.
func (r *Remote) MakeRPC(name string, payload json.RawMessage, done func(error)) {
	r.mu.Lock()
	r.calls = append(r.calls, Call{Name: name, Payload: payload})
	err := r.RPCErr[name]
	r.mu.Unlock()
	if done != nil {
		done(err)
	}
}

// EmitEvent implements core.Remote.
func (r *Remote) EmitEvent(name string, payload json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Name: name, Payload: payload})
}

// SetIndex replaces the index list and notifies live index handles.
func (r *Remote) SetIndex(names ...string) {
	r.mu.Lock()
	r.entries = slices.Clone(names)
	var subs []func([]string)
	for _, idx := range r.indexes {
		if !idx.discarded {
			subs = append(subs, idx.subs...)
		}
	}
	r.mu.Unlock()
	for _, fn := range subs {
		fn(slices.Clone(names))
	}
}

// DeleteIndex removes the index record and notifies live index handles.
func (r *Remote) DeleteIndex() {
	r.mu.Lock()
	r.entries = nil
	var fns []func()
	for _, idx := range r.indexes {
		if !idx.discarded {
			fns = append(fns, idx.onDeleted...)
		}
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// PutRecord stores data at path and notifies subscribers on live handles.
// Nil data deletes the record.
func (r *Remote) PutRecord(path string, data json.RawMessage) {
	r.mu.Lock()
	if data == nil {
		delete(r.data, path)
	} else {
		r.data[path] = data
	}
	var subs []func(json.RawMessage)
	for _, rec := range r.records[path] {
		if !rec.discarded {
			subs = append(subs, rec.subs...)
		}
	}
	r.mu.Unlock()
	for _, fn := range subs {
		fn(data)
	}
}

// Data returns the stored content of a record.
func (r *Remote) Data(path string) (json.RawMessage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.data[path]
	return d, ok
}

// Calls returns the recorded RPC invocations.
func (r *Remote) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

// Events returns the recorded event emissions.
func (r *Remote) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// Writes returns every attempted record write as "op path[.key]", in order.
func (r *Remote) Writes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.writes)
}

// Acquired returns how many handles were ever acquired for path.
func (r *Remote) Acquired(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records[path])
}

// Live returns how many handles for path have not been discarded.
func (r *Remote) Live(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.records[path] {
		if !rec.discarded {
			n++
		}
	}
	return n
}

// LiveRecords returns the number of handles not yet discarded across all
// paths.
func (r *Remote) LiveRecords() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, recs := range r.records {
		for _, rec := range recs {
			if !rec.discarded {
				n++
			}
		}
	}
	return n
}

// Subscriptions returns the number of subscriptions registered on live
// handles for path.
func (r *Remote) Subscriptions(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.records[path] {
		if !rec.discarded {
			n += len(rec.subs)
		}
	}
	return n
}

// IndexHandles returns the number of index handles ever opened and the number
// still live.
func (r *Remote) IndexHandles() (opened, live int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, idx := range r.indexes {
		if !idx.discarded {
			live++
		}
	}
	return len(r.indexes), live
}

// Index is the handle returned by Remote.SubscribeIndex.
type Index struct {
	remote    *Remote
	path      string
	subs      []func([]string)
	onDeleted []func()
	discarded bool
}

func (i *Index) Subscribe(fn func(names []string)) {
	i.remote.mu.Lock()
	defer i.remote.mu.Unlock()
	i.subs = append(i.subs, fn)
}

func (i *Index) OnDeleted(fn func()) {
	i.remote.mu.Lock()
	defer i.remote.mu.Unlock()
	i.onDeleted = append(i.onDeleted, fn)
}

func (i *Index) WhenReady(ctx context.Context) error {
	return ctx.Err()
}

func (i *Index) Entries() []string {
	i.remote.mu.Lock()
	defer i.remote.mu.Unlock()
	return slices.Clone(i.remote.entries)
}

func (i *Index) Discard() {
	i.remote.mu.Lock()
	defer i.remote.mu.Unlock()
	i.discarded = true
}

// Record is the handle returned by Remote.GetRecord.
type Record struct {
	remote    *Remote
	path      string
	subs      []func(json.RawMessage)
	discarded bool
}

func (h *Record) Subscribe(fn func(data json.RawMessage), triggerNow bool) {
	h.remote.mu.Lock()
	h.subs = append(h.subs, fn)
	data, ok := h.remote.data[h.path]
	h.remote.mu.Unlock()
	if triggerNow && ok {
		fn(data)
	}
}

func (h *Record) WhenReady(ctx context.Context) error {
	h.remote.mu.Lock()
	err := h.remote.ReadyErr[h.path]
	h.remote.mu.Unlock()
	if err != nil {
		return err
	}
	return ctx.Err()
}

func (h *Record) Set(_ context.Context, data json.RawMessage) error {
	h.remote.mu.Lock()
	defer h.remote.mu.Unlock()
	h.remote.writes = append(h.remote.writes, "set "+h.path)
	if err := h.remote.SetErr[h.path]; err != nil {
		return err
	}
	h.remote.data[h.path] = data
	return nil
}

func (h *Record) SetField(_ context.Context, key string, value json.RawMessage) error {
	h.remote.mu.Lock()
	defer h.remote.mu.Unlock()
	h.remote.writes = append(h.remote.writes, "update "+h.path+"."+key)
	if err := h.remote.SetFieldErr[h.path][key]; err != nil {
		return err
	}
	obj := map[string]json.RawMessage{}
	if cur, ok := h.remote.data[h.path]; ok {
		_ = json.Unmarshal(cur, &obj)
	}
	obj[key] = value
	data, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	h.remote.data[h.path] = data
	return nil
}

func (h *Record) Delete(_ context.Context) error {
	h.remote.mu.Lock()
	defer h.remote.mu.Unlock()
	h.remote.writes = append(h.remote.writes, "delete "+h.path)
	if err := h.remote.DeleteErr[h.path]; err != nil {
		return err
	}
	delete(h.remote.data, h.path)
	return nil
}

func (h *Record) Discard() {
	h.remote.mu.Lock()
	defer h.remote.mu.Unlock()
	h.discarded = true
}
