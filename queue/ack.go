// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package queue

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Settler performs the backend native acknowledgment primitives for a
// single delivery.
type Settler interface {
	// Ack marks the delivery as successfully processed.
	Ack(context.Context) error

	// Nack returns the delivery to the queue for redelivery.
	Nack(context.Context) error
}

// SettlerFuncs adapts a pair of functions into a [Settler].
type SettlerFuncs struct {
	AckFunc  func(context.Context) error
	NackFunc func(context.Context) error
}

// Ack implements the [Settler] interface.
func (s SettlerFuncs) Ack(ctx context.Context) error {
	return s.AckFunc(ctx)
}

// Nack implements the [Settler] interface.
func (s SettlerFuncs) Nack(ctx context.Context) error {
	return s.NackFunc(ctx)
}

// AckOptions are configurable parameters of an [Acknowledgment].
type AckOptions struct {
	log       *slog.Logger
	kvs       []string
	onSettled func(ctx context.Context, acknowledged bool)
}

// AckOption sets a value on [AckOptions].
type AckOption interface {
	ApplyAckOption(*AckOptions)
}

type ackOptionFunc func(*AckOptions)

func (f ackOptionFunc) ApplyAckOption(ao *AckOptions) {
	f(ao)
}

// AckLogger sets the logger used by the Try* variants.
func AckLogger(log *slog.Logger) AckOption {
	return ackOptionFunc(func(ao *AckOptions) {
		ao.log = log
	})
}

// AckContext adds key/value pairs to the context of every error produced.
func AckContext(kvs ...string) AckOption {
	return ackOptionFunc(func(ao *AckOptions) {
		ao.kvs = append(ao.kvs, kvs...)
	})
}

// OnSettled registers a callback invoked after the native primitive succeeds.
func OnSettled(f func(ctx context.Context, acknowledged bool)) AckOption {
	return ackOptionFunc(func(ao *AckOptions) {
		ao.onSettled = f
	})
}

// Acknowledgment is the uniform acknowledgment gateway bound to exactly one
// delivered message.
//
// Acknowledge and AbandonAcknowledgment report every failure to the caller.
// TryAcknowledge and TryAbandonAcknowledgment log failures and swallow them.
// A delivery is settled at most once.
type Acknowledgment struct {
	configured bool
	settler    Settler
	log        *slog.Logger
	kvs        []string
	onSettled  func(context.Context, bool)
	settled    atomic.Bool
}

// NewAcknowledgment initializes an [Acknowledgment]. If configured is false
// the settler is never called.
func NewAcknowledgment(configured bool, settler Settler, opts ...AckOption) *Acknowledgment {
	ao := &AckOptions{
		log: NopLogger(),
	}
	for _, opt := range opts {
		opt.ApplyAckOption(ao)
	}
	return &Acknowledgment{
		configured: configured && settler != nil,
		settler:    settler,
		log:        ao.log,
		kvs:        ao.kvs,
		onSettled:  ao.onSettled,
	}
}

// IsAcknowledgmentConfigured reports whether the queue was configured with
// acknowledgment enabled.
func (a *Acknowledgment) IsAcknowledgmentConfigured() bool {
	return a != nil && a.configured
}

// Settled reports whether the delivery has already been acknowledged or abandoned.
func (a *Acknowledgment) Settled() bool {
	return a != nil && a.settled.Load()
}

// Acknowledge confirms successful processing of the message.
func (a *Acknowledgment) Acknowledge(ctx context.Context) error {
	return a.settle(ctx, false)
}

// AbandonAcknowledgment releases the message back to the queue.
func (a *Acknowledgment) AbandonAcknowledgment(ctx context.Context) error {
	return a.settle(ctx, true)
}

// TryAcknowledge is the best effort variant of [Acknowledgment.Acknowledge].
func (a *Acknowledgment) TryAcknowledge(ctx context.Context) {
	err := a.settle(ctx, false)
	if err != nil && a != nil {
		LogError(ctx, a.log, err)
	}
}

// TryAbandonAcknowledgment is the best effort variant of [Acknowledgment.AbandonAcknowledgment].
func (a *Acknowledgment) TryAbandonAcknowledgment(ctx context.Context) {
	err := a.settle(ctx, true)
	if err != nil && a != nil {
		LogError(ctx, a.log, err)
	}
}

func (a *Acknowledgment) settle(ctx context.Context, abandon bool) error {
	if !a.IsAcknowledgmentConfigured() {
		var kvs []string
		if a != nil {
			kvs = a.kvs
		}
		return NewError(AcknowledgmentIsNotConfiguredForQueue, nil, kvs...)
	}

	code := FailedToAcknowledgeMessage
	if abandon {
		code = FailedToAbandonMessageAcknowledgment
	}

	if !a.settled.CompareAndSwap(false, true) {
		return NewError(code, ErrAlreadySettled, a.kvs...)
	}

	var err error
	if abandon {
		err = a.settler.Nack(ctx)
	} else {
		err = a.settler.Ack(ctx)
	}
	if err != nil {
		return Wrap(err, code, a.kvs...)
	}

	if a.onSettled != nil {
		a.onSettled(ctx, !abandon)
	}
	return nil
}
