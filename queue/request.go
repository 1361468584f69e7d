// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package queue

import (
	"context"
	"sync/atomic"
)

// ReplySender publishes a single reply to the address a request asked for.
type ReplySender interface {
	SendReply(ctx context.Context, replyTo, correlationID string, body []byte) error
}

// ReplySenderFunc is an adapter to allow the use of ordinary functions as [ReplySender]s.
type ReplySenderFunc func(ctx context.Context, replyTo, correlationID string, body []byte) error

// SendReply implements the [ReplySender] interface.
func (f ReplySenderFunc) SendReply(ctx context.Context, replyTo, correlationID string, body []byte) error {
	return f(ctx, replyTo, correlationID, body)
}

// Responder is bound to exactly one request. It publishes the reply and, when
// acknowledgment is configured, acknowledges the request afterwards.
type Responder struct {
	sender        ReplySender
	replyTo       string
	correlationID string
	ack           *Acknowledgment
	kvs           []string
	responded     atomic.Bool
}

// NewResponder initializes a [Responder]. The kvs are added to the context
// of every error it returns.
func NewResponder(sender ReplySender, replyTo, correlationID string, ack *Acknowledgment, kvs ...string) *Responder {
	return &Responder{
		sender:        sender,
		replyTo:       replyTo,
		correlationID: correlationID,
		ack:           ack,
		kvs:           kvs,
	}
}

// Respond sends body as the reply. Only the first call publishes anything.
func (r *Responder) Respond(ctx context.Context, body []byte) error {
	if !r.responded.CompareAndSwap(false, true) {
		return NewError(FailedToSendResponseMessage, ErrAlreadyResponded, r.kvs...)
	}

	err := r.sender.SendReply(ctx, r.replyTo, r.correlationID, body)
	if err != nil {
		return Wrap(err, FailedToSendResponseMessage, r.kvs...)
	}

	if !r.ack.IsAcknowledgmentConfigured() {
		return nil
	}
	return r.ack.Acknowledge(ctx)
}

// Responded reports whether Respond has been called.
func (r *Responder) Responded() bool {
	return r.responded.Load()
}

// Request is a single request handed to a [RequestHandler].
//
// Respond must be called at most once. Subsequent calls fail with
// FailedToSendResponseMessage.
type Request struct {
	Body          []byte
	CorrelationID string
	ReplyTo       string

	// Ack is bound to this delivery only.
	Ack *Acknowledgment

	responder *Responder
}

// NewRequest initializes a [Request] which replies through responder.
func NewRequest(body []byte, responder *Responder) Request {
	return Request{
		Body:          body,
		CorrelationID: responder.correlationID,
		ReplyTo:       responder.replyTo,
		Ack:           responder.ack,
		responder:     responder,
	}
}

// Respond sends the reply for this request.
func (r Request) Respond(ctx context.Context, body []byte) error {
	if r.responder == nil {
		return NewError(FailedToSendResponseMessage, ErrNoResponder)
	}
	return r.responder.Respond(ctx, body)
}
