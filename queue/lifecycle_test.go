// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package queue

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLifecycle_Start(t *testing.T) {
	t.Run("will return MessageQueueIsNotInitialized", func(t *testing.T) {
		t.Run("if the queue was never initialized", func(t *testing.T) {
			lc := NewLifecycle(nil, QueueContextKey, "ZeroMq")

			err := lc.Start(context.Background(), FailedToStartReceivingMessage, func(context.Context) error {
				return nil
			})
			require.ErrorIs(t, err, MessageQueueIsNotInitialized)
			require.Equal(t, "ZeroMq", err.(*Error).Context[QueueContextKey])
		})

		t.Run("if the queue has been closed", func(t *testing.T) {
			lc := NewLifecycle(nil)
			lc.Initialized()
			require.NoError(t, lc.Close(nil, nil))

			err := lc.Start(context.Background(), FailedToStartReceivingMessage, func(context.Context) error {
				return nil
			})
			require.ErrorIs(t, err, MessageQueueIsNotInitialized)
		})
	})

	t.Run("will be idempotent", func(t *testing.T) {
		t.Run("if the queue is already receiving", func(t *testing.T) {
			lc := NewLifecycle(nil)
			lc.Initialized()

			starts := 0
			start := func(context.Context) error {
				starts++
				return nil
			}

			require.NoError(t, lc.Start(context.Background(), FailedToStartReceivingMessage, start))
			require.NoError(t, lc.Start(context.Background(), FailedToStartReceivingMessage, start))
			require.Equal(t, 1, starts)
			require.Equal(t, StateReceiving, lc.State())
		})
	})

	t.Run("will wrap the error with the given code", func(t *testing.T) {
		t.Run("if the start function fails", func(t *testing.T) {
			lc := NewLifecycle(nil)
			lc.Initialized()

			startErr := errors.New("consume failed")
			err := lc.Start(context.Background(), FailedToStartReceivingRequest, func(context.Context) error {
				return startErr
			})
			require.ErrorIs(t, err, FailedToStartReceivingRequest)
			require.ErrorIs(t, err, startErr)
			require.Equal(t, StateIdle, lc.State())
		})
	})

	t.Run("will keep the loop context alive after the caller context ends", func(t *testing.T) {
		lc := NewLifecycle(nil)
		lc.Initialized()

		ctx, cancel := context.WithCancel(context.Background())
		var loopCtx context.Context
		err := lc.Start(ctx, FailedToStartReceivingMessage, func(ctx context.Context) error {
			loopCtx = ctx
			return nil
		})
		require.NoError(t, err)

		cancel()
		require.NoError(t, loopCtx.Err())

		lc.Stop(context.Background(), FailedToStopReceivingMessage, nil)
		require.ErrorIs(t, loopCtx.Err(), context.Canceled)
	})
}

func TestLifecycle_Stop(t *testing.T) {
	t.Run("will be idempotent", func(t *testing.T) {
		t.Run("if the queue is not receiving", func(t *testing.T) {
			lc := NewLifecycle(nil)
			lc.Initialized()

			stops := 0
			stop := func(context.Context) error {
				stops++
				return nil
			}

			lc.Stop(context.Background(), FailedToStopReceivingMessage, stop)
			require.Equal(t, 0, stops)

			require.NoError(t, lc.Start(context.Background(), FailedToStartReceivingMessage, func(context.Context) error { return nil }))
			lc.Stop(context.Background(), FailedToStopReceivingMessage, stop)
			lc.Stop(context.Background(), FailedToStopReceivingMessage, stop)
			require.Equal(t, 1, stops)
			require.Equal(t, StateIdle, lc.State())
		})
	})

	t.Run("will log the error instead of returning it", func(t *testing.T) {
		t.Run("if the stop function fails", func(t *testing.T) {
			handler := newCaptureHandler()
			lc := NewLifecycle(slog.New(handler))
			lc.Initialized()
			require.NoError(t, lc.Start(context.Background(), FailedToStartReceivingMessage, func(context.Context) error { return nil }))

			stopErr := errors.New("cancel failed")
			lc.Stop(context.Background(), FailedToStopReceivingRequest, func(context.Context) error {
				return stopErr
			})

			records := handler.Records()
			require.Len(t, records, 1)
			caught := errorAttr(t, records[0])
			require.ErrorIs(t, caught, FailedToStopReceivingRequest)
			require.ErrorIs(t, caught, stopErr)
			require.Equal(t, StateIdle, lc.State())
		})
	})

	t.Run("will not deliver new messages", func(t *testing.T) {
		lc := NewLifecycle(nil)
		lc.Initialized()
		require.NoError(t, lc.Start(context.Background(), FailedToStartReceivingMessage, func(context.Context) error { return nil }))

		done, ok := lc.Begin()
		require.True(t, ok)
		done()

		lc.Stop(context.Background(), FailedToStopReceivingMessage, nil)

		_, ok = lc.Begin()
		require.False(t, ok)
	})
}

func TestLifecycle_Close(t *testing.T) {
	t.Run("will release resources exactly once", func(t *testing.T) {
		lc := NewLifecycle(nil)
		lc.Initialized()

		releaseErr := errors.New("close failed")
		releases := 0
		release := func() error {
			releases++
			return releaseErr
		}

		require.ErrorIs(t, lc.Close(nil, release), releaseErr)
		require.ErrorIs(t, lc.Close(nil, release), releaseErr)
		require.Equal(t, 1, releases)
		require.Equal(t, StateDisposed, lc.State())
		require.ErrorIs(t, lc.RequireInitialized(), MessageQueueIsNotInitialized)
	})

	t.Run("will stop receiving before releasing", func(t *testing.T) {
		lc := NewLifecycle(nil)
		lc.Initialized()
		require.NoError(t, lc.Start(context.Background(), FailedToStartReceivingMessage, func(context.Context) error { return nil }))

		var order []string
		err := lc.Close(
			func(context.Context) error {
				order = append(order, "stop")
				return nil
			},
			func() error {
				order = append(order, "release")
				return nil
			},
		)
		require.NoError(t, err)
		require.Equal(t, []string{"stop", "release"}, order)
	})

	t.Run("will log a stop failure with the code of the receiving role", func(t *testing.T) {
		testCases := []struct {
			Name      string
			StartCode Code
			StopCode  Code
		}{
			{Name: "if the queue receives messages", StartCode: FailedToStartReceivingMessage, StopCode: FailedToStopReceivingMessage},
			{Name: "if the queue receives requests", StartCode: FailedToStartReceivingRequest, StopCode: FailedToStopReceivingRequest},
		}

		for _, testCase := range testCases {
			t.Run(testCase.Name, func(t *testing.T) {
				handler := newCaptureHandler()
				lc := NewLifecycle(slog.New(handler))
				lc.Initialized()
				require.NoError(t, lc.Start(context.Background(), testCase.StartCode, func(context.Context) error { return nil }))

				stopErr := errors.New("cancel failed")
				err := lc.Close(func(context.Context) error { return stopErr }, nil)
				require.NoError(t, err)

				records := handler.Records()
				require.Len(t, records, 1)
				caught := errorAttr(t, records[0])
				require.Equal(t, testCase.StopCode, CodeOf(caught))
				require.ErrorIs(t, caught, stopErr)
			})
		}
	})

	t.Run("will wait for in-flight handlers", func(t *testing.T) {
		lc := NewLifecycle(nil)
		lc.Initialized()
		require.NoError(t, lc.Start(context.Background(), FailedToStartReceivingMessage, func(context.Context) error { return nil }))

		done, ok := lc.Begin()
		require.True(t, ok)

		handlerDone := make(chan struct{})
		go func() {
			time.Sleep(50 * time.Millisecond)
			close(handlerDone)
			done()
		}()

		err := lc.Close(nil, func() error {
			select {
			case <-handlerDone:
				return nil
			default:
				return errors.New("released before handler returned")
			}
		})
		require.NoError(t, err)
	})

	t.Run("will wait for receive loops after releasing", func(t *testing.T) {
		lc := NewLifecycle(nil)
		lc.Initialized()

		released := make(chan struct{})
		loopDone := make(chan struct{})
		err := lc.Start(context.Background(), FailedToStartReceivingMessage, func(ctx context.Context) error {
			lc.Go(func() {
				defer close(loopDone)
				<-released
			})
			return nil
		})
		require.NoError(t, err)

		err = lc.Close(nil, func() error {
			close(released)
			return nil
		})
		require.NoError(t, err)

		select {
		case <-loopDone:
		default:
			t.Fatal("expected receive loop to have returned")
		}
	})
}
