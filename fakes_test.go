// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package mq

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/z5labs/mq/queue"
)

type captureHandler struct {
	slog.Handler

	mu      sync.Mutex
	records []slog.Record
}

func newCaptureHandler() *captureHandler {
	return &captureHandler{
		Handler: slog.Default().Handler(),
	}
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *captureHandler) Handle(ctx context.Context, record slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, record)
	return nil
}

func (h *captureHandler) Records() []slog.Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]slog.Record{}, h.records...)
}

type fakeInboundFaF struct {
	handler queue.MessageHandler
	started int
	stopped int
	closed  int
	pending bool
}

func (q *fakeInboundFaF) Address() string                       { return "fake://orders" }
func (q *fakeInboundFaF) OnMessageReady(h queue.MessageHandler) { q.handler = h }
func (q *fakeInboundFaF) StopReceivingMessage(context.Context)  { q.stopped++ }

func (q *fakeInboundFaF) StartReceivingMessage(context.Context) error {
	q.started++
	return nil
}

func (q *fakeInboundFaF) HasMessage(context.Context) (bool, error) {
	return q.pending, nil
}

func (q *fakeInboundFaF) Close() error {
	q.closed++
	return nil
}

func (q *fakeInboundFaF) deliver(ctx context.Context, body string, ack *queue.Acknowledgment) error {
	return q.handler.HandleMessage(ctx, queue.Message{Body: []byte(body), Ack: ack})
}

type fakeOutboundFaF struct {
	sent   [][]byte
	closed bool
}

func (q *fakeOutboundFaF) Address() string { return "fake://orders" }

func (q *fakeOutboundFaF) SendMessage(_ context.Context, b []byte) error {
	q.sent = append(q.sent, b)
	return nil
}

func (q *fakeOutboundFaF) Close() error {
	q.closed = true
	return nil
}

type fakeInboundRaR struct {
	handler queue.RequestHandler
}

func (q *fakeInboundRaR) Address() string                             { return "fake://quotes" }
func (q *fakeInboundRaR) OnRequestReady(h queue.RequestHandler)       { q.handler = h }
func (q *fakeInboundRaR) StartReceivingRequest(context.Context) error { return nil }
func (q *fakeInboundRaR) StopReceivingRequest(context.Context)        {}
func (q *fakeInboundRaR) HasMessage(context.Context) (bool, error)    { return false, nil }
func (q *fakeInboundRaR) Close() error                                { return nil }

type reply struct {
	replyTo       string
	correlationID string
	body          string
}

// deliver hands body to the handler as a request whose reply is captured.
func (q *fakeInboundRaR) deliver(ctx context.Context, body string) (*reply, error) {
	var r reply
	responder := queue.NewResponder(
		queue.ReplySenderFunc(func(_ context.Context, replyTo, correlationID string, b []byte) error {
			r = reply{replyTo: replyTo, correlationID: correlationID, body: string(b)}
			return nil
		}),
		"quotes-replies",
		"corr-1",
		nil,
	)
	err := q.handler.HandleRequest(ctx, queue.NewRequest([]byte(body), responder))
	return &r, err
}

type fakeOutboundRaR struct {
	handler queue.ResponseHandler
	sent    [][]byte
	ttl     time.Duration
	ttlSet  bool
}

func (q *fakeOutboundRaR) Address() string                         { return "fake://quotes" }
func (q *fakeOutboundRaR) OnResponseReady(h queue.ResponseHandler) { q.handler = h }
func (q *fakeOutboundRaR) Close() error                            { return nil }

func (q *fakeOutboundRaR) ExpireRequestsAfter(d time.Duration) {
	q.ttl = d
	q.ttlSet = true
}

func (q *fakeOutboundRaR) SendRequest(_ context.Context, b []byte) (string, error) {
	q.sent = append(q.sent, b)
	return "corr-1", nil
}

// fakeRegistry registers one implementation per role, each returning the
// given queue.
func fakeRegistry(in queue.InboundFaF, out queue.OutboundFaF, inRaR queue.InboundRaR, outRaR queue.OutboundRaR) *queue.Registry {
	return queue.NewRegistry(
		queue.Implementation{
			Name: "FakeInboundFaF",
			Role: queue.RoleInboundFaF,
			NewInboundFaF: func(context.Context, map[string]string, *slog.Logger) (queue.InboundFaF, error) {
				return in, nil
			},
		},
		queue.Implementation{
			Name: "FakeOutboundFaF",
			Role: queue.RoleOutboundFaF,
			NewOutboundFaF: func(context.Context, map[string]string, *slog.Logger) (queue.OutboundFaF, error) {
				return out, nil
			},
		},
		queue.Implementation{
			Name: "FakeInboundRaR",
			Role: queue.RoleInboundRaR,
			NewInboundRaR: func(context.Context, map[string]string, *slog.Logger) (queue.InboundRaR, error) {
				return inRaR, nil
			},
		},
		queue.Implementation{
			Name: "FakeOutboundRaR",
			Role: queue.RoleOutboundRaR,
			NewOutboundRaR: func(context.Context, map[string]string, *slog.Logger) (queue.OutboundRaR, error) {
				return outRaR, nil
			},
		},
	)
}

func staticConfig(id string, cfg map[string]string) queue.ConfigurationProvider {
	return queue.ConfigurationProviderFunc(func(_ context.Context, got string) (map[string]string, error) {
		if got != id {
			return nil, queue.NewError(queue.MissingRequiredConfigurationParameter, nil)
		}
		return cfg, nil
	})
}
