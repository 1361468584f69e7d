// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package otel

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// stdoutExporter writes log records through a [slog.Handler] along with
// the trace and span they were emitted in.
type stdoutExporter struct {
	h slog.Handler
}

func newStdoutExporter(h slog.Handler) *stdoutExporter {
	return &stdoutExporter{h: h}
}

// Export implements [sdklog.Exporter].
func (e *stdoutExporter) Export(ctx context.Context, records []sdklog.Record) error {
	for _, r := range records {
		sr := slog.NewRecord(r.Timestamp(), slog.Level(r.Severity()-severityOffset), r.Body().AsString(), 0)

		sr.AddAttrs(slog.String("logger", r.InstrumentationScope().Name))
		r.WalkAttributes(func(kv log.KeyValue) bool {
			sr.AddAttrs(slog.Attr{Key: kv.Key, Value: slogValue(kv.Value)})
			return true
		})
		if r.TraceID().IsValid() {
			sr.AddAttrs(slog.Group(
				"otel",
				slog.String("trace.id", r.TraceID().String()),
				slog.String("span.id", r.SpanID().String()),
			))
		}

		err := e.h.Handle(ctx, sr)
		if err != nil {
			return err
		}
	}
	return nil
}

func slogValue(v log.Value) slog.Value {
	switch v.Kind() {
	case log.KindBool:
		return slog.BoolValue(v.AsBool())
	case log.KindBytes:
		return slog.AnyValue(v.AsBytes())
	case log.KindFloat64:
		return slog.Float64Value(v.AsFloat64())
	case log.KindInt64:
		return slog.Int64Value(v.AsInt64())
	case log.KindString:
		return slog.StringValue(v.AsString())
	case log.KindMap:
		kvs := v.AsMap()
		attrs := make([]slog.Attr, len(kvs))
		for i, kv := range kvs {
			attrs[i] = slog.Attr{Key: kv.Key, Value: slogValue(kv.Value)}
		}
		return slog.GroupValue(attrs...)
	case log.KindSlice:
		vs := v.AsSlice()
		vals := make([]any, len(vs))
		for i, elem := range vs {
			vals[i] = slogValue(elem).Any()
		}
		return slog.AnyValue(vals)
	default:
		return slog.StringValue(v.String())
	}
}

// ForceFlush implements [sdklog.Exporter].
func (e *stdoutExporter) ForceFlush(context.Context) error {
	return nil
}

// Shutdown implements [sdklog.Exporter].
func (e *stdoutExporter) Shutdown(context.Context) error {
	return nil
}
