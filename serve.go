// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package mq

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/z5labs/mq/app"
	"github.com/z5labs/mq/provider"
	"github.com/z5labs/mq/queue"
)

// Receiver is an inbound queue which can be served by [Serve].
type Receiver interface {
	io.Closer

	Start(context.Context) error
	Stop(context.Context)
	HasMessage(context.Context) (bool, error)
}

type messageReceiver interface {
	io.Closer

	StartReceivingMessage(context.Context) error
	StopReceivingMessage(context.Context)
	HasMessage(context.Context) (bool, error)
}

type messages struct {
	messageReceiver
}

func (r messages) Start(ctx context.Context) error { return r.StartReceivingMessage(ctx) }
func (r messages) Stop(ctx context.Context)        { r.StopReceivingMessage(ctx) }

// Messages adapts an InboundFaF queue, raw or typed, into a [Receiver].
func Messages(q messageReceiver) Receiver {
	return messages{q}
}

type requestReceiver interface {
	io.Closer

	StartReceivingRequest(context.Context) error
	StopReceivingRequest(context.Context)
	HasMessage(context.Context) (bool, error)
}

type requests struct {
	requestReceiver
}

func (r requests) Start(ctx context.Context) error { return r.StartReceivingRequest(ctx) }
func (r requests) Stop(ctx context.Context)        { r.StopReceivingRequest(ctx) }

// Requests adapts an InboundRaR queue, raw or typed, into a [Receiver].
func Requests(q requestReceiver) Receiver {
	return requests{q}
}

type sender struct {
	io.Closer
}

func (sender) Start(context.Context) error              { return nil }
func (sender) Stop(context.Context)                     {}
func (sender) HasMessage(context.Context) (bool, error) { return false, nil }

// Sender adapts an outbound queue into a [Receiver] so it is closed along
// with the rest. Receivers are closed in reverse order, so list a sender
// before the receivers whose handlers use it.
func Sender(q io.Closer) Receiver {
	return sender{q}
}

type serveRuntime struct {
	log       *slog.Logger
	receivers []Receiver
	until     func(context.Context, []Receiver) error
}

func (rt serveRuntime) Run(ctx context.Context) error {
	started := make([]Receiver, 0, len(rt.receivers))
	defer func() {
		for _, r := range started {
			r.Stop(context.WithoutCancel(ctx))
		}
	}()

	for _, r := range rt.receivers {
		err := r.Start(ctx)
		if err != nil {
			return err
		}
		started = append(started, r)
	}

	rt.log.InfoContext(ctx, "receiving", slog.Int("queues", len(started)))
	return rt.until(ctx, started)
}

func untilDone(ctx context.Context, _ []Receiver) error {
	<-ctx.Done()
	Logger("github.com/z5labs/mq").InfoContext(ctx, "stopping", slog.Any("reason", context.Cause(ctx)))
	return nil
}

func serve(
	f func(context.Context, *app.HookRegistry) ([]Receiver, error),
	until func(context.Context, []Receiver) error,
) app.Builder[app.Runtime] {
	builder := app.WithHooks(func(ctx context.Context, h *app.HookRegistry) (app.Runtime, error) {
		receivers, err := f(ctx, h)
		if err != nil {
			return nil, err
		}
		for _, r := range receivers {
			h.OnClose(r)
		}
		return serveRuntime{
			log:       Logger("github.com/z5labs/mq"),
			receivers: receivers,
			until:     until,
		}, nil
	})

	return app.BuilderFunc[app.Runtime](func(ctx context.Context) (app.Runtime, error) {
		return builder.Build(ctx)
	})
}

// Serve returns an [app.Builder] whose runtime starts receiving on every
// queue built by f, blocks until its context is done and then stops
// receiving. Every queue is closed in a post-run hook, after in-flight
// handlers have returned.
func Serve(f func(context.Context, *app.HookRegistry) ([]Receiver, error)) app.Builder[app.Runtime] {
	return serve(f, untilDone)
}

// FromConfig returns an [app.Builder] which reads the YAML configuration
// from r on top of [DefaultConfig], initializes OpenTelemetry and then
// serves the queues built by f. The provider handed to f resolves queue
// identifiers against the queues section of the configuration.
//
//	builder := mq.FromConfig(configReader, func(ctx context.Context, cfg mq.Config, p queue.ConfigurationProvider) ([]mq.Receiver, error) {
//	    q, err := mq.NewInboundFaF[Order](ctx, p, "Orders")
//	    if err != nil {
//	        return nil, err
//	    }
//	    q.OnMessageReady(handler)
//	    return []mq.Receiver{mq.Messages(q)}, nil
//	})
//	mq.Run(context.Background(), builder)
func FromConfig(r io.Reader, f func(context.Context, Config, queue.ConfigurationProvider) ([]Receiver, error)) app.Builder[app.Runtime] {
	return app.BuilderFunc[app.Runtime](func(ctx context.Context) (app.Runtime, error) {
		cfg, err := ReadConfig(r)
		if err != nil {
			return nil, err
		}

		shutdown, err := cfg.InitializeOTel(ctx)
		if err != nil {
			return nil, err
		}

		return Serve(func(ctx context.Context, h *app.HookRegistry) ([]Receiver, error) {
			// Registered first so telemetry is flushed after every queue closes.
			h.OnPostRun(shutdown)
			return f(ctx, cfg, provider.Queues(cfg.Queues))
		}).Build(ctx)
	})
}

// RunOptions are configurable parameters of [Run].
type RunOptions struct {
	logger *slog.Logger
}

// RunOption sets a value on [RunOptions].
type RunOption interface {
	ApplyRunOption(*RunOptions)
}

type runOptionFunc func(*RunOptions)

func (f runOptionFunc) ApplyRunOption(ro *RunOptions) {
	f(ro)
}

// LogHandler overrides the handler used to log errors returned from
// building or running the application.
func LogHandler(h slog.Handler) RunOption {
	return runOptionFunc(func(ro *RunOptions) {
		ro.logger = slog.New(h)
	})
}

// Run builds and runs the application until an OS signal is received.
// Any error is logged before being returned.
func Run[T app.Runtime](ctx context.Context, builder app.Builder[T], opts ...RunOption) error {
	ro := &RunOptions{
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{})),
	}
	for _, opt := range opts {
		opt.ApplyRunOption(ro)
	}

	err := app.Run(ctx, builder)
	if err != nil {
		app.LogError(ro.logger.Handler(), err)
	}
	return err
}
