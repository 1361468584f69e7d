// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package mq

import (
	"context"
	"log/slog"

	"github.com/z5labs/mq/queue"
)

// Message is a decoded delivery handed to a [MessageHandler].
type Message[T any] struct {
	Body T

	// Ack is bound to this delivery only.
	Ack *queue.Acknowledgment
}

// MessageHandler processes messages received by an [InboundFaF] queue.
type MessageHandler[T any] interface {
	HandleMessage(context.Context, Message[T]) error
}

// MessageHandlerFunc is an adapter to allow the use of ordinary functions as [MessageHandler]s.
type MessageHandlerFunc[T any] func(context.Context, Message[T]) error

// HandleMessage implements the [MessageHandler] interface.
func (f MessageHandlerFunc[T]) HandleMessage(ctx context.Context, m Message[T]) error {
	return f(ctx, m)
}

// Request is a decoded request handed to a [RequestHandler].
type Request[Req, Resp any] struct {
	Body          Req
	CorrelationID string

	// Ack is bound to this delivery only.
	Ack *queue.Acknowledgment

	raw   queue.Request
	codec Codec
}

// Respond encodes resp and sends it as the reply. It must be called at
// most once.
func (r Request[Req, Resp]) Respond(ctx context.Context, resp Resp) error {
	b, err := encode(r.codec, resp)
	if err != nil {
		return err
	}
	return r.raw.Respond(ctx, b)
}

// RequestHandler processes requests received by an [InboundRaR] queue.
type RequestHandler[Req, Resp any] interface {
	HandleRequest(context.Context, Request[Req, Resp]) error
}

// RequestHandlerFunc is an adapter to allow the use of ordinary functions as [RequestHandler]s.
type RequestHandlerFunc[Req, Resp any] func(context.Context, Request[Req, Resp]) error

// HandleRequest implements the [RequestHandler] interface.
func (f RequestHandlerFunc[Req, Resp]) HandleRequest(ctx context.Context, r Request[Req, Resp]) error {
	return f(ctx, r)
}

// Response is a decoded reply handed to a [ResponseHandler].
type Response[T any] struct {
	Body          T
	CorrelationID string
}

// ResponseHandler processes replies received by an [OutboundRaR] queue.
type ResponseHandler[T any] interface {
	HandleResponse(context.Context, Response[T]) error
}

// ResponseHandlerFunc is an adapter to allow the use of ordinary functions as [ResponseHandler]s.
type ResponseHandlerFunc[T any] func(context.Context, Response[T]) error

// HandleResponse implements the [ResponseHandler] interface.
func (f ResponseHandlerFunc[T]) HandleResponse(ctx context.Context, r Response[T]) error {
	return f(ctx, r)
}

// logDecodeFailure logs a payload which could not be decoded and returns
// the delivery to the queue when acknowledgment is configured.
func logDecodeFailure(ctx context.Context, log *slog.Logger, q queue.Queue, ack *queue.Acknowledgment, err error) {
	qe := queue.Wrap(err, queue.FailedToDeserializeJsonBytes, queue.AddressKey, q.Address())
	queue.LogError(ctx, log, qe)
	if ack.IsAcknowledgmentConfigured() {
		ack.TryAbandonAcknowledgment(ctx)
	}
}

// InboundFaF consumes fire-and-forget messages of type T.
type InboundFaF[T any] struct {
	q     queue.InboundFaF
	codec Codec
	log   *slog.Logger
}

// NewInboundFaF resolves the configuration behind id and initializes the
// backend it names.
func NewInboundFaF[T any](ctx context.Context, p queue.ConfigurationProvider, id string, opts ...Option) (*InboundFaF[T], error) {
	o := newOptions(opts)
	q, err := newInboundFaF(ctx, p, id, o)
	if err != nil {
		return nil, err
	}
	return &InboundFaF[T]{q: q, codec: o.codec, log: o.logger()}, nil
}

// Queue returns the underlying raw queue.
func (q *InboundFaF[T]) Queue() queue.InboundFaF {
	return q.q
}

// Address returns the configured address without credentials.
func (q *InboundFaF[T]) Address() string {
	return q.q.Address()
}

// OnMessageReady registers the single handler for this queue.
func (q *InboundFaF[T]) OnMessageReady(h MessageHandler[T]) {
	q.q.OnMessageReady(queue.MessageHandlerFunc(func(ctx context.Context, m queue.Message) error {
		body, err := decode[T](q.codec, m.Body)
		if err != nil {
			logDecodeFailure(ctx, q.log, q.q, m.Ack, err)
			return nil
		}
		return h.HandleMessage(ctx, Message[T]{Body: body, Ack: m.Ack})
	}))
}

// StartReceivingMessage starts delivering messages to the registered handler.
func (q *InboundFaF[T]) StartReceivingMessage(ctx context.Context) error {
	return q.q.StartReceivingMessage(ctx)
}

// StopReceivingMessage stops delivering new messages.
func (q *InboundFaF[T]) StopReceivingMessage(ctx context.Context) {
	q.q.StopReceivingMessage(ctx)
}

// HasMessage reports whether the queue has messages waiting.
func (q *InboundFaF[T]) HasMessage(ctx context.Context) (bool, error) {
	return q.q.HasMessage(ctx)
}

// Close implements the [io.Closer] interface.
func (q *InboundFaF[T]) Close() error {
	return q.q.Close()
}

// OutboundFaF produces fire-and-forget messages of type T.
type OutboundFaF[T any] struct {
	q     queue.OutboundFaF
	codec Codec
}

// NewOutboundFaF resolves the configuration behind id and initializes the
// backend it names.
func NewOutboundFaF[T any](ctx context.Context, p queue.ConfigurationProvider, id string, opts ...Option) (*OutboundFaF[T], error) {
	o := newOptions(opts)
	q, err := newOutboundFaF(ctx, p, id, o)
	if err != nil {
		return nil, err
	}
	return &OutboundFaF[T]{q: q, codec: o.codec}, nil
}

// Queue returns the underlying raw queue.
func (q *OutboundFaF[T]) Queue() queue.OutboundFaF {
	return q.q
}

// Address returns the configured address without credentials.
func (q *OutboundFaF[T]) Address() string {
	return q.q.Address()
}

// SendMessage encodes msg and publishes it.
func (q *OutboundFaF[T]) SendMessage(ctx context.Context, msg T) error {
	b, err := encode(q.codec, msg)
	if err != nil {
		return queue.Wrap(err, queue.FailedToSendMessage, queue.AddressKey, q.q.Address())
	}
	return q.q.SendMessage(ctx, b)
}

// Close implements the [io.Closer] interface.
func (q *OutboundFaF[T]) Close() error {
	return q.q.Close()
}

// InboundRaR serves requests of type Req with responses of type Resp.
type InboundRaR[Req, Resp any] struct {
	q     queue.InboundRaR
	codec Codec
	log   *slog.Logger
}

// NewInboundRaR resolves the configuration behind id and initializes the
// backend it names.
func NewInboundRaR[Req, Resp any](ctx context.Context, p queue.ConfigurationProvider, id string, opts ...Option) (*InboundRaR[Req, Resp], error) {
	o := newOptions(opts)
	q, err := newInboundRaR(ctx, p, id, o)
	if err != nil {
		return nil, err
	}
	return &InboundRaR[Req, Resp]{q: q, codec: o.codec, log: o.logger()}, nil
}

// Queue returns the underlying raw queue.
func (q *InboundRaR[Req, Resp]) Queue() queue.InboundRaR {
	return q.q
}

// Address returns the configured address without credentials.
func (q *InboundRaR[Req, Resp]) Address() string {
	return q.q.Address()
}

// OnRequestReady registers the single handler for this queue.
func (q *InboundRaR[Req, Resp]) OnRequestReady(h RequestHandler[Req, Resp]) {
	q.q.OnRequestReady(queue.RequestHandlerFunc(func(ctx context.Context, r queue.Request) error {
		body, err := decode[Req](q.codec, r.Body)
		if err != nil {
			logDecodeFailure(ctx, q.log, q.q, r.Ack, err)
			return nil
		}
		return h.HandleRequest(ctx, Request[Req, Resp]{
			Body:          body,
			CorrelationID: r.CorrelationID,
			Ack:           r.Ack,
			raw:           r,
			codec:         q.codec,
		})
	}))
}

// StartReceivingRequest starts delivering requests to the registered handler.
func (q *InboundRaR[Req, Resp]) StartReceivingRequest(ctx context.Context) error {
	return q.q.StartReceivingRequest(ctx)
}

// StopReceivingRequest stops delivering new requests.
func (q *InboundRaR[Req, Resp]) StopReceivingRequest(ctx context.Context) {
	q.q.StopReceivingRequest(ctx)
}

// HasMessage reports whether the queue has requests waiting.
func (q *InboundRaR[Req, Resp]) HasMessage(ctx context.Context) (bool, error) {
	return q.q.HasMessage(ctx)
}

// Close implements the [io.Closer] interface.
func (q *InboundRaR[Req, Resp]) Close() error {
	return q.q.Close()
}

// OutboundRaR sends requests of type Req and receives responses of type
// Resp. The type parameter order follows the response first convention of
// the role.
type OutboundRaR[Resp, Req any] struct {
	q     queue.OutboundRaR
	codec Codec
	log   *slog.Logger
}

// NewOutboundRaR resolves the configuration behind id and initializes the
// backend it names. Outstanding requests expire after [DefaultRequestTTL]
// unless overridden with [WithRequestTTL].
func NewOutboundRaR[Resp, Req any](ctx context.Context, p queue.ConfigurationProvider, id string, opts ...Option) (*OutboundRaR[Resp, Req], error) {
	o := newOptions(opts)
	q, err := newOutboundRaR(ctx, p, id, o)
	if err != nil {
		return nil, err
	}
	return &OutboundRaR[Resp, Req]{q: q, codec: o.codec, log: o.logger()}, nil
}

// Queue returns the underlying raw queue.
func (q *OutboundRaR[Resp, Req]) Queue() queue.OutboundRaR {
	return q.q
}

// Address returns the configured address without credentials.
func (q *OutboundRaR[Resp, Req]) Address() string {
	return q.q.Address()
}

// OnResponseReady registers the single handler for replies.
func (q *OutboundRaR[Resp, Req]) OnResponseReady(h ResponseHandler[Resp]) {
	q.q.OnResponseReady(queue.ResponseHandlerFunc(func(ctx context.Context, r queue.Response) error {
		body, err := decode[Resp](q.codec, r.Body)
		if err != nil {
			logDecodeFailure(ctx, q.log, q.q, nil, err)
			return nil
		}
		return h.HandleResponse(ctx, Response[Resp]{Body: body, CorrelationID: r.CorrelationID})
	}))
}

// SendRequest encodes req, publishes it and returns its correlation id.
func (q *OutboundRaR[Resp, Req]) SendRequest(ctx context.Context, req Req) (string, error) {
	b, err := encode(q.codec, req)
	if err != nil {
		return "", queue.Wrap(err, queue.FailedToSendMessage, queue.AddressKey, q.q.Address())
	}
	return q.q.SendRequest(ctx, b)
}

// Close implements the [io.Closer] interface.
func (q *OutboundRaR[Resp, Req]) Close() error {
	return q.q.Close()
}
