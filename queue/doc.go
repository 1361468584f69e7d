// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package queue defines the transport agnostic contract shared by every
// message queue backend.
//
// A queue serves exactly one of four roles:
//
//   - InboundFaF: consumes fire-and-forget messages
//   - OutboundFaF: produces fire-and-forget messages
//   - InboundRaR: serves requests and sends back exactly one response each
//   - OutboundRaR: sends requests and receives their correlated responses
//
// Backends are looked up by name in a [Registry]. The name comes from the
// Implementation key of the flat configuration returned by a
// [ConfigurationProvider].
//
// # Lifecycle
//
// A queue is initialized by its constructor and is then Idle. Starting it
// moves it to Receiving and stopping it moves it back to Idle. Both
// transitions are idempotent. Close disposes the queue after waiting for
// in-flight handlers to return:
//
//	q.OnMessageReady(queue.MessageHandlerFunc(func(ctx context.Context, m queue.Message) error {
//	    defer m.Ack.TryAcknowledge(ctx)
//	    return process(ctx, m.Body)
//	}))
//
//	err := q.StartReceivingMessage(ctx)
//	if err != nil {
//	    return err
//	}
//	defer q.Close()
//
// # Acknowledgment
//
// Every delivery carries its own [Acknowledgment]. Acknowledge and
// AbandonAcknowledgment report failures to the caller, while TryAcknowledge
// and TryAbandonAcknowledgment log and swallow them. A delivery is settled at
// most once.
//
// # Errors
//
// Every operation returns an [*Error] carrying a [Code]. Use [errors.Is] with
// a bare Code to match on it:
//
//	if errors.Is(err, queue.QueueDoesNotExist) {
//	    ...
//	}
package queue
