// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package mq

import (
	"context"
	"log/slog"
	"time"

	"github.com/z5labs/mq/app"
	"github.com/z5labs/mq/health"
)

// DefaultDrainInterval is how often [Drain] checks the backlog of its
// queues.
const DefaultDrainInterval = time.Second

// Drain returns an [app.Builder] for one-shot consumers. Its runtime starts
// receiving on every queue built by f and returns once all of them report
// no waiting messages, checking every interval. Handlers still running at
// that point complete before their queue is closed.
//
// A message published after the last check is left for the next run.
func Drain(interval time.Duration, f func(context.Context, *app.HookRegistry) ([]Receiver, error)) app.Builder[app.Runtime] {
	if interval <= 0 {
		interval = DefaultDrainInterval
	}
	return serve(f, func(ctx context.Context, receivers []Receiver) error {
		return untilDrained(ctx, interval, receivers)
	})
}

func untilDrained(ctx context.Context, interval time.Duration, receivers []Receiver) error {
	log := Logger("github.com/z5labs/mq")

	monitors := make([]health.Monitor, len(receivers))
	for i, r := range receivers {
		monitors[i] = health.Empty(r)
	}
	drained := health.And(monitors...)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.InfoContext(ctx, "stopping before queues were drained", slog.Any("reason", context.Cause(ctx)))
			return nil
		case <-ticker.C:
		}

		ok, err := drained.Healthy(ctx)
		if err != nil {
			return err
		}
		if ok {
			log.InfoContext(ctx, "drained every queue")
			return nil
		}
	}
}
