// Package action performs the side effects a job declares when it fires.
package action

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openjobspec/ojs-cron-nats/internal/core"
	"github.com/openjobspec/ojs-cron-nats/internal/metrics"
)

// DefaultTimeout bounds each record action.
const DefaultTimeout = 10 * time.Second

// Executor runs the actions of a fired job against a core.Remote.
type Executor struct {
	remote  core.Remote
	logger  *slog.Logger
	timeout time.Duration
	tracer  trace.Tracer
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTimeout sets the per-action timeout for record actions.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// NewExecutor creates an Executor.
func NewExecutor(remote core.Remote, opts ...Option) *Executor {
	e := &Executor{
		remote:  remote,
		logger:  slog.Default(),
		timeout: DefaultTimeout,
		tracer:  otel.Tracer("github.com/openjobspec/ojs-cron-nats/internal/action"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs every action declared by def in the order call, emit, set,
// update, delete. A failing action is logged and does not stop the others.
func (e *Executor) Execute(ctx context.Context, name string, def *core.Definition) {
	if def == nil {
		return
	}
	ctx, span := e.tracer.Start(ctx, "cron.fire", trace.WithAttributes(
		attribute.String("cron.job", name),
		attribute.StringSlice("cron.actions", def.Actions()),
	))
	defer span.End()

	metrics.FiresTotal.WithLabelValues(name).Inc()
	log := e.logger.With("job", name)
	log.Debug("cron job fired", "actions", def.Actions())

	failed := 0
	fail := func(kind string, err error) {
		failed++
		metrics.ActionFailuresTotal.WithLabelValues(kind).Inc()
		span.RecordError(err, trace.WithAttributes(attribute.String("cron.action", kind)))
	}

	if op := def.Call; op != nil {
		e.call(log, op)
	}
	if op := def.Emit; op != nil {
		log.Debug("triggering event", "event", op.Name, "data", op.Data)
		e.remote.EmitEvent(op.Name, op.Data)
	}
	if op := def.SetRecord; op != nil {
		if err := e.setRecord(ctx, log, op); err != nil {
			log.Error("set record failed", "record", op.Name, "error", err)
			fail(core.ActionSetRecord, err)
		}
	}
	if op := def.UpdateRecord; op != nil {
		if err := e.updateRecord(ctx, log, op); err != nil {
			log.Error("update record failed", "record", op.Name, "error", err)
			fail(core.ActionUpdateRecord, err)
		}
	}
	if target := def.DeleteRecord; target != "" {
		if err := e.deleteRecord(ctx, log, target); err != nil {
			log.Error("delete record failed", "record", target, "error", err)
			fail(core.ActionDeleteRecord, err)
		}
	}

	if failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d action(s) failed", failed))
	}
}

func (e *Executor) call(log *slog.Logger, op *core.CallOperation) {
	log.Debug("calling rpc", "rpc", op.Name, "data", op.Data)
	target := op.Name
	e.remote.MakeRPC(target, op.Data, func(err error) {
		if err != nil {
			metrics.ActionFailuresTotal.WithLabelValues(core.ActionCall).Inc()
			log.Error("rpc call failed", "rpc", target, "error", err)
		}
	})
}

func (e *Executor) setRecord(ctx context.Context, log *slog.Logger, op *core.RecordOperation) error {
	log.Debug("setting record", "record", op.Name, "data", op.Data)
	data, err := json.Marshal(recordData(op.Data))
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", op.Name, err)
	}
	return e.withRecord(ctx, op.Name, func(ctx context.Context, rec core.RecordHandle) error {
		return rec.Set(ctx, data)
	})
}

func (e *Executor) updateRecord(ctx context.Context, log *slog.Logger, op *core.RecordOperation) error {
	log.Debug("updating record", "record", op.Name, "data", op.Data)
	keys := make([]string, 0, len(op.Data))
	for k := range op.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return e.withRecord(ctx, op.Name, func(ctx context.Context, rec core.RecordHandle) error {
		var firstErr error
		for _, key := range keys {
			if err := rec.SetField(ctx, key, op.Data[key]); err != nil {
				log.Error("update record field failed", "record", op.Name, "field", key, "error", err)
				if firstErr == nil {
					firstErr = fmt.Errorf("field %s: %w", key, err)
				}
			}
		}
		return firstErr
	})
}

func (e *Executor) deleteRecord(ctx context.Context, log *slog.Logger, target string) error {
	log.Debug("deleting record", "record", target)
	return e.withRecord(ctx, target, func(ctx context.Context, rec core.RecordHandle) error {
		return rec.Delete(ctx)
	})
}

// withRecord acquires the record, waits for it to be ready and runs fn. The
// handle is always discarded.
func (e *Executor) withRecord(ctx context.Context, path string, fn func(context.Context, core.RecordHandle) error) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	rec := e.remote.GetRecord(path)
	defer rec.Discard()

	if err := rec.WhenReady(ctx); err != nil {
		return fmt.Errorf("wait for record %s: %w", path, err)
	}
	return fn(ctx, rec)
}

func recordData(data map[string]json.RawMessage) map[string]json.RawMessage {
	if data == nil {
		return map[string]json.RawMessage{}
	}
	return data
}
