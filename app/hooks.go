// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package app

import (
	"context"
	"errors"
	"io"
)

// HookFunc releases a resource once the runtime has returned.
type HookFunc func(context.Context) error

// HookRegistry collects release hooks while queues and their dependencies
// are being built.
type HookRegistry struct {
	hooks []HookFunc
}

// OnPostRun registers a hook to be executed after the runtime returns.
// Hooks run in reverse registration order, like deferred calls, so a queue
// registered after the connection it uses is released first.
func (r *HookRegistry) OnPostRun(hook HookFunc) {
	r.hooks = append(r.hooks, hook)
}

// OnClose registers c to be closed after the runtime returns.
func (r *HookRegistry) OnClose(c io.Closer) {
	r.OnPostRun(func(context.Context) error {
		return c.Close()
	})
}

func (r *HookRegistry) run(ctx context.Context) error {
	var errs []error
	for i := len(r.hooks) - 1; i >= 0; i-- {
		err := r.hooks[i](ctx)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type hookRuntime struct {
	inner Runtime
	hooks *HookRegistry
}

// Run executes the inner runtime and then every registered hook. Hooks
// always run, regardless of earlier failures, and all errors are joined.
func (rt hookRuntime) Run(ctx context.Context) error {
	runtimeErr := rt.inner.Run(ctx)
	hookErr := rt.hooks.run(context.WithoutCancel(ctx))
	return errors.Join(runtimeErr, hookErr)
}

// WithHooks wraps f with release hook support. If f fails, the hooks it
// registered before failing are executed immediately so that queues which
// were already initialized get closed.
//
//	builder := app.WithHooks(func(ctx context.Context, h *app.HookRegistry) (app.Runtime, error) {
//	    orders, err := rabbitmq.NewInboundFaF(ctx, settings, log)
//	    if err != nil {
//	        return nil, err
//	    }
//	    h.OnClose(orders)
//	    return buildRuntime(orders), nil
//	})
func WithHooks[T Runtime](f func(context.Context, *HookRegistry) (T, error)) Builder[hookRuntime] {
	return BuilderFunc[hookRuntime](func(ctx context.Context) (hookRuntime, error) {
		registry := &HookRegistry{}

		inner, err := f(ctx, registry)
		if err != nil {
			return hookRuntime{}, errors.Join(err, registry.run(context.WithoutCancel(ctx)))
		}

		return hookRuntime{
			inner: inner,
			hooks: registry,
		}, nil
	})
}
