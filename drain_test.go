// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package mq

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/z5labs/mq/app"
	"github.com/z5labs/mq/queue"

	"github.com/stretchr/testify/require"
)

// backlogReceiver reports waiting messages until remaining reaches zero.
type backlogReceiver struct {
	remaining atomic.Int32
	checkErr  error
	stopped   atomic.Bool
	closed    atomic.Bool
}

func (r *backlogReceiver) Start(context.Context) error { return nil }
func (r *backlogReceiver) Stop(context.Context)        { r.stopped.Store(true) }

func (r *backlogReceiver) HasMessage(context.Context) (bool, error) {
	if r.checkErr != nil {
		return false, r.checkErr
	}
	if r.remaining.Load() == 0 {
		return false, nil
	}
	r.remaining.Add(-1)
	return true, nil
}

func (r *backlogReceiver) Close() error {
	r.closed.Store(true)
	return nil
}

func TestDrain(t *testing.T) {
	t.Run("will return once every queue is empty", func(t *testing.T) {
		orders := &backlogReceiver{}
		orders.remaining.Store(3)
		refunds := &backlogReceiver{}
		refunds.remaining.Store(1)

		builder := Drain(time.Millisecond, func(context.Context, *app.HookRegistry) ([]Receiver, error) {
			return []Receiver{orders, refunds}, nil
		})

		rt, err := builder.Build(context.Background())
		require.NoError(t, err)
		require.NoError(t, rt.Run(context.Background()))

		require.Zero(t, orders.remaining.Load())
		require.Zero(t, refunds.remaining.Load())
		require.True(t, orders.stopped.Load())
		require.True(t, orders.closed.Load())
		require.True(t, refunds.closed.Load())
	})

	t.Run("will return early", func(t *testing.T) {
		t.Run("if the context is cancelled", func(t *testing.T) {
			orders := &backlogReceiver{}
			orders.remaining.Store(1 << 30)

			builder := Drain(time.Hour, func(context.Context, *app.HookRegistry) ([]Receiver, error) {
				return []Receiver{orders}, nil
			})

			rt, err := builder.Build(context.Background())
			require.NoError(t, err)
			require.NoError(t, rt.Run(cancelled()))
			require.True(t, orders.closed.Load())
		})
	})

	t.Run("will return an error", func(t *testing.T) {
		t.Run("if a backlog cannot be checked", func(t *testing.T) {
			checkErr := queue.NewError(queue.FailedToCheckQueueHasMessage, errors.New("connection reset"))
			orders := &backlogReceiver{checkErr: checkErr}

			builder := Drain(time.Millisecond, func(context.Context, *app.HookRegistry) ([]Receiver, error) {
				return []Receiver{orders}, nil
			})

			rt, err := builder.Build(context.Background())
			require.NoError(t, err)

			err = rt.Run(context.Background())
			require.Equal(t, queue.FailedToCheckQueueHasMessage, queue.CodeOf(err))
			require.True(t, orders.stopped.Load())
		})
	})

	t.Run("will fall back to the default interval", func(t *testing.T) {
		t.Run("if the interval is not positive", func(t *testing.T) {
			orders := &backlogReceiver{}

			builder := Drain(0, func(context.Context, *app.HookRegistry) ([]Receiver, error) {
				return []Receiver{orders}, nil
			})

			rt, err := builder.Build(context.Background())
			require.NoError(t, err)

			start := time.Now()
			require.NoError(t, rt.Run(context.Background()))
			require.GreaterOrEqual(t, time.Since(start), DefaultDrainInterval)
		})
	})
}
