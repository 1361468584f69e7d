// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package messaging holds the instrumentation and dispatch plumbing shared
// by every queue backend.
package messaging

import (
	"context"
	"log/slog"
	"sync"

	"github.com/z5labs/mq/queue"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Instruments wraps the logger, tracer and counters of a single queue.
type Instruments struct {
	log    *slog.Logger
	tracer trace.Tracer
	attrs  []attribute.KeyValue

	sent         metric.Int64Counter
	consumed     metric.Int64Counter
	acknowledged metric.Int64Counter
	abandoned    metric.Int64Counter
}

// Destination identifies the queue being instrumented.
type Destination struct {
	System string
	Name   string
}

// New initializes [Instruments]. Counter creation failures are logged and
// the affected counter becomes a no-op.
func New(log *slog.Logger, tracer trace.Tracer, meter metric.Meter, dest Destination) *Instruments {
	log = queue.LoggerOrNop(log)

	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(
			name,
			metric.WithDescription(desc),
			metric.WithUnit("{message}"),
		)
		if err != nil {
			log.Warn("failed to create metric", slog.String("metric", name), slog.Any("error", err))
			return nil
		}
		return c
	}

	return &Instruments{
		log:    log,
		tracer: tracer,
		attrs: []attribute.KeyValue{
			attribute.String("messaging.system", dest.System),
			attribute.String("messaging.destination.name", dest.Name),
		},
		sent:         counter("messaging.client.sent.messages", "Total number of messages sent"),
		consumed:     counter("messaging.client.consumed.messages", "Total number of messages handed to a handler"),
		acknowledged: counter("messaging.client.acknowledged.messages", "Total number of messages acknowledged"),
		abandoned:    counter("messaging.client.abandoned.messages", "Total number of messages returned to the queue"),
	}
}

// Logger returns the logger the instruments were created with.
func (in *Instruments) Logger() *slog.Logger {
	return in.log
}

func (in *Instruments) add(ctx context.Context, c metric.Int64Counter, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(append(attrs, in.attrs...)...))
}

// Acknowledgment initializes the [queue.Acknowledgment] of a single
// delivery, counting every settlement.
func (in *Instruments) Acknowledgment(configured bool, settler queue.Settler, kvs []string) *queue.Acknowledgment {
	return queue.NewAcknowledgment(
		configured,
		settler,
		queue.AckLogger(in.log),
		queue.AckContext(kvs...),
		queue.OnSettled(func(ctx context.Context, acknowledged bool) {
			if acknowledged {
				in.add(ctx, in.acknowledged)
				return
			}
			in.add(ctx, in.abandoned)
		}),
	)
}

// Send wraps a publish in a producer span and counts it if it succeeds.
func (in *Instruments) Send(ctx context.Context, operation string, send func(context.Context) error) error {
	spanCtx, span := in.tracer.Start(
		ctx,
		operation,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(in.attrs...),
	)
	defer span.End()

	err := send(spanCtx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	in.add(spanCtx, in.sent, attribute.String("messaging.operation.name", operation))
	return nil
}

func (in *Instruments) consume(ctx context.Context, operation string, handle func(context.Context) error) error {
	spanCtx, span := in.tracer.Start(
		ctx,
		operation,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(in.attrs...),
	)
	defer span.End()

	in.add(spanCtx, in.consumed, attribute.String("messaging.operation.name", operation))

	err := handle(spanCtx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// HandleMessage hands a single delivery to h. It reports false without
// calling h if lc is no longer receiving, in which case the caller should
// return the delivery to the queue. Handler errors are logged.
func (in *Instruments) HandleMessage(ctx context.Context, lc *queue.Lifecycle, h queue.MessageHandler, msg queue.Message) bool {
	done, ok := lc.Begin()
	if !ok {
		return false
	}
	defer done()

	err := in.consume(ctx, "process", func(ctx context.Context) error {
		return h.HandleMessage(ctx, msg)
	})
	if err != nil {
		queue.LogError(ctx, in.log, lc.Wrap(err, queue.FailedToReceiveMessage))
	}
	return true
}

// HandleRequest hands a single request to h. See [Instruments.HandleMessage].
func (in *Instruments) HandleRequest(ctx context.Context, lc *queue.Lifecycle, h queue.RequestHandler, req queue.Request) bool {
	done, ok := lc.Begin()
	if !ok {
		return false
	}
	defer done()

	err := in.consume(ctx, "process", func(ctx context.Context) error {
		return h.HandleRequest(ctx, req)
	})
	if err != nil {
		queue.LogError(ctx, in.log, lc.Wrap(err, queue.FailedToReceiveRequestMessage))
	}
	return true
}

// HandleResponse hands a single correlated reply to h. Errors are logged.
func (in *Instruments) HandleResponse(ctx context.Context, lc *queue.Lifecycle, h queue.ResponseHandler, resp queue.Response) {
	err := in.consume(ctx, "receive", func(ctx context.Context) error {
		return h.HandleResponse(ctx, resp)
	})
	if err != nil {
		queue.LogError(ctx, in.log, lc.Wrap(err, queue.FailedToReceiveResponseMessage))
	}
}

// Slot holds the single handler registered on a queue.
type Slot[H any] struct {
	mu  sync.RWMutex
	h   H
	set bool
}

// Set replaces the registered handler.
func (s *Slot[H]) Set(h H) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.h = h
	s.set = true
}

// Get returns the registered handler, if any.
func (s *Slot[H]) Get() (H, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.h, s.set
}
