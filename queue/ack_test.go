// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

type countingSettler struct {
	acks   atomic.Int32
	nacks  atomic.Int32
	ackErr error
}

func (s *countingSettler) Ack(context.Context) error {
	s.acks.Add(1)
	return s.ackErr
}

func (s *countingSettler) Nack(context.Context) error {
	s.nacks.Add(1)
	return s.ackErr
}

func TestAcknowledgment_Acknowledge(t *testing.T) {
	t.Run("will call the native primitive", func(t *testing.T) {
		t.Run("if acknowledgment is configured", func(t *testing.T) {
			settler := &countingSettler{}
			var settled []bool
			ack := NewAcknowledgment(true, settler, OnSettled(func(ctx context.Context, acknowledged bool) {
				settled = append(settled, acknowledged)
			}))

			err := ack.Acknowledge(context.Background())
			require.NoError(t, err)
			require.Equal(t, int32(1), settler.acks.Load())
			require.Equal(t, int32(0), settler.nacks.Load())
			require.Equal(t, []bool{true}, settled)
			require.True(t, ack.Settled())
		})
	})

	t.Run("will return an error", func(t *testing.T) {
		t.Run("if acknowledgment is not configured", func(t *testing.T) {
			settler := &countingSettler{}
			ack := NewAcknowledgment(false, settler, AckContext(QueueContextKey, "RabbitMq"))

			err := ack.Acknowledge(context.Background())
			require.ErrorIs(t, err, AcknowledgmentIsNotConfiguredForQueue)
			require.Equal(t, "RabbitMq", err.(*Error).Context[QueueContextKey])
			require.Equal(t, int32(0), settler.acks.Load())
		})

		t.Run("if the acknowledgment is nil", func(t *testing.T) {
			var ack *Acknowledgment

			err := ack.Acknowledge(context.Background())
			require.ErrorIs(t, err, AcknowledgmentIsNotConfiguredForQueue)
			require.False(t, ack.IsAcknowledgmentConfigured())
		})

		t.Run("if the native primitive fails", func(t *testing.T) {
			nativeErr := errors.New("channel closed")
			ack := NewAcknowledgment(true, &countingSettler{ackErr: nativeErr})

			err := ack.Acknowledge(context.Background())
			require.ErrorIs(t, err, FailedToAcknowledgeMessage)
			require.ErrorIs(t, err, nativeErr)
		})

		t.Run("if the message was already settled", func(t *testing.T) {
			settler := &countingSettler{}
			ack := NewAcknowledgment(true, settler)

			require.NoError(t, ack.AbandonAcknowledgment(context.Background()))

			err := ack.Acknowledge(context.Background())
			require.ErrorIs(t, err, FailedToAcknowledgeMessage)
			require.ErrorIs(t, err, ErrAlreadySettled)
			require.Equal(t, int32(0), settler.acks.Load())
			require.Equal(t, int32(1), settler.nacks.Load())
		})
	})

	t.Run("will settle at most once", func(t *testing.T) {
		t.Run("if called concurrently", func(t *testing.T) {
			settler := &countingSettler{}
			ack := NewAcknowledgment(true, settler)

			var wg sync.WaitGroup
			var failures atomic.Int32
			for range 16 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if ack.Acknowledge(context.Background()) != nil {
						failures.Add(1)
					}
				}()
			}
			wg.Wait()

			require.Equal(t, int32(1), settler.acks.Load())
			require.Equal(t, int32(15), failures.Load())
		})
	})
}

func TestAcknowledgment_AbandonAcknowledgment(t *testing.T) {
	t.Run("will call the native primitive", func(t *testing.T) {
		t.Run("if acknowledgment is configured", func(t *testing.T) {
			settler := &countingSettler{}
			ack := NewAcknowledgment(true, settler)

			err := ack.AbandonAcknowledgment(context.Background())
			require.NoError(t, err)
			require.Equal(t, int32(1), settler.nacks.Load())
		})
	})

	t.Run("will return an error", func(t *testing.T) {
		t.Run("if the native primitive fails", func(t *testing.T) {
			nativeErr := errors.New("receipt handle expired")
			ack := NewAcknowledgment(true, &countingSettler{ackErr: nativeErr})

			err := ack.AbandonAcknowledgment(context.Background())
			require.ErrorIs(t, err, FailedToAbandonMessageAcknowledgment)
			require.ErrorIs(t, err, nativeErr)
		})
	})
}

func TestAcknowledgment_TryAcknowledge(t *testing.T) {
	t.Run("will log instead of failing", func(t *testing.T) {
		t.Run("if acknowledgment is not configured", func(t *testing.T) {
			handler := newCaptureHandler()
			ack := NewAcknowledgment(false, nil, AckLogger(slog.New(handler)))

			ack.TryAcknowledge(context.Background())
			ack.TryAbandonAcknowledgment(context.Background())

			records := handler.Records()
			require.Len(t, records, 2)
			for _, record := range records {
				require.Equal(t, slog.LevelError, record.Level)
				require.ErrorIs(t, errorAttr(t, record), AcknowledgmentIsNotConfiguredForQueue)
			}
		})

		t.Run("if the native primitive fails", func(t *testing.T) {
			nativeErr := errors.New("connection reset")
			handler := newCaptureHandler()
			ack := NewAcknowledgment(true, &countingSettler{ackErr: nativeErr}, AckLogger(slog.New(handler)))

			ack.TryAcknowledge(context.Background())

			records := handler.Records()
			require.Len(t, records, 1)
			require.ErrorIs(t, errorAttr(t, records[0]), nativeErr)
		})
	})

	t.Run("will not log", func(t *testing.T) {
		t.Run("if the native primitive succeeds", func(t *testing.T) {
			handler := newCaptureHandler()
			ack := NewAcknowledgment(true, &countingSettler{}, AckLogger(slog.New(handler)))

			ack.TryAcknowledge(context.Background())

			require.Empty(t, handler.Records())
		})
	})
}
