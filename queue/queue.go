// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package queue

import (
	"context"
	"io"
	"time"
)

// Common configuration keys understood by every backend.
const (
	AddressConfigKey        = "Address"
	QueueNameConfigKey      = "QueueName"
	ImplementationConfigKey = "Implementation"
)

// ConfigurationProvider maps a symbolic identifier to the flat settings of a
// single queue.
type ConfigurationProvider interface {
	GetConfiguration(ctx context.Context, id string) (map[string]string, error)
}

// ConfigurationProviderFunc is an adapter to allow the use of ordinary functions as [ConfigurationProvider]s.
type ConfigurationProviderFunc func(context.Context, string) (map[string]string, error)

// GetConfiguration implements the [ConfigurationProvider] interface.
func (f ConfigurationProviderFunc) GetConfiguration(ctx context.Context, id string) (map[string]string, error) {
	return f(ctx, id)
}

// Direction tells the configuration validator which side of a queue is
// being configured.
type Direction int

const (
	Inbound Direction = iota
	Outbound
)

// String implements the [fmt.Stringer] interface.
func (d Direction) String() string {
	if d == Outbound {
		return "Outbound"
	}
	return "Inbound"
}

// Message is a single delivery handed to a [MessageHandler].
type Message struct {
	Body []byte

	// Ack is bound to this delivery only and must not be retained after
	// the handler returns.
	Ack *Acknowledgment
}

// MessageHandler processes messages received by an [InboundFaF] queue.
//
// Returning an error does not stop the receive loop. The error is logged
// and the next delivery is processed.
type MessageHandler interface {
	HandleMessage(context.Context, Message) error
}

// MessageHandlerFunc is an adapter to allow the use of ordinary functions as [MessageHandler]s.
type MessageHandlerFunc func(context.Context, Message) error

// HandleMessage implements the [MessageHandler] interface.
func (f MessageHandlerFunc) HandleMessage(ctx context.Context, m Message) error {
	return f(ctx, m)
}

// RequestHandler processes requests received by an [InboundRaR] queue.
type RequestHandler interface {
	HandleRequest(context.Context, Request) error
}

// RequestHandlerFunc is an adapter to allow the use of ordinary functions as [RequestHandler]s.
type RequestHandlerFunc func(context.Context, Request) error

// HandleRequest implements the [RequestHandler] interface.
func (f RequestHandlerFunc) HandleRequest(ctx context.Context, r Request) error {
	return f(ctx, r)
}

// Response is a reply matched to a request sent by an [OutboundRaR] queue.
type Response struct {
	Body          []byte
	CorrelationID string
}

// ResponseHandler processes replies received by an [OutboundRaR] queue.
type ResponseHandler interface {
	HandleResponse(context.Context, Response) error
}

// ResponseHandlerFunc is an adapter to allow the use of ordinary functions as [ResponseHandler]s.
type ResponseHandlerFunc func(context.Context, Response) error

// HandleResponse implements the [ResponseHandler] interface.
func (f ResponseHandlerFunc) HandleResponse(ctx context.Context, r Response) error {
	return f(ctx, r)
}

// Queue is the behaviour shared by every queue role.
//
// Close releases every native resource. It is safe to call more than once
// and waits for in-flight handlers to return.
type Queue interface {
	io.Closer

	// Address returns the configured address with any credentials removed.
	Address() string
}

// InboundFaF consumes fire-and-forget messages.
type InboundFaF interface {
	Queue

	// OnMessageReady registers the single handler for this queue. It must be
	// called before StartReceivingMessage.
	OnMessageReady(MessageHandler)

	// StartReceivingMessage is a no-op if the queue is already receiving.
	StartReceivingMessage(context.Context) error

	// StopReceivingMessage prevents new deliveries. It does not interrupt
	// handlers already running and is a no-op if the queue is not receiving.
	StopReceivingMessage(context.Context)

	HasMessage(context.Context) (bool, error)
}

// OutboundFaF produces fire-and-forget messages.
type OutboundFaF interface {
	Queue

	SendMessage(context.Context, []byte) error
}

// InboundRaR serves requests and sends back exactly one response per request.
type InboundRaR interface {
	Queue

	// OnRequestReady registers the single handler for this queue. It must be
	// called before StartReceivingRequest.
	OnRequestReady(RequestHandler)

	// StartReceivingRequest is a no-op if the queue is already receiving.
	StartReceivingRequest(context.Context) error

	// StopReceivingRequest is a no-op if the queue is not receiving.
	StopReceivingRequest(context.Context)

	HasMessage(context.Context) (bool, error)
}

// OutboundRaR sends requests and receives their correlated responses.
type OutboundRaR interface {
	Queue

	// OnResponseReady registers the single handler for replies. Replies
	// received before a handler is registered are discarded.
	OnResponseReady(ResponseHandler)

	// SendRequest publishes the request and returns its correlation id.
	SendRequest(context.Context, []byte) (string, error)
}

// RequestExpirer is implemented by [OutboundRaR] queues whose outstanding
// requests can expire. Replies arriving after expiry are discarded.
type RequestExpirer interface {
	// ExpireRequestsAfter must be called before the first request is sent.
	// Zero disables expiry.
	ExpireRequestsAfter(time.Duration)
}
