// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package zeromq implements every queue role on ZeroMQ sockets.
//
// Fire-and-forget queues use PULL and PUSH sockets. Request/response queues
// use ROUTER and DEALER sockets where every message carries the correlation
// id as its own frame. ZeroMQ has no broker side acknowledgment so the
// Acknowledgment of every delivery is never configured.
package zeromq

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/z5labs/mq/internal/messaging"
	"github.com/z5labs/mq/queue"

	"github.com/go-zeromq/zmq4"
	"github.com/google/uuid"
)

func newLifecycle(log *slog.Logger, cfg config) *queue.Lifecycle {
	return queue.NewLifecycle(
		log,
		queue.QueueContextKey, QueueContext,
		queue.AddressKey, cfg.address,
	)
}

// InboundFaF receives fire-and-forget messages on a PULL socket.
type InboundFaF struct {
	cfg     config
	lc      *queue.Lifecycle
	in      *messaging.Instruments
	sck     *socket
	inbox   *inbox
	handler messaging.Slot[queue.MessageHandler]
}

// NewInboundFaF validates cfg and opens the socket. Messages are buffered
// by the socket until receiving starts.
func NewInboundFaF(ctx context.Context, raw map[string]string, log *slog.Logger) (*InboundFaF, error) {
	log = logger(log)

	cfg, err := parseConfig(raw, queue.Inbound)
	if err != nil {
		return nil, err
	}

	lc := newLifecycle(log, cfg)
	sck, err := openSocket(ctx, log, zmq4.Pull, cfg.endpoint)
	if err != nil {
		return nil, lc.Wrap(err, queue.FailedToCreateZeroMqSocket)
	}

	q := &InboundFaF{
		cfg:   cfg,
		lc:    lc,
		in:    instruments(log, cfg.address),
		sck:   sck,
		inbox: readInto(log, sck),
	}
	lc.Initialized()
	log.InfoContext(ctx, "initialized queue", AddressAttr(cfg.address), SocketTypeAttr(zmq4.Pull))
	return q, nil
}

// Address implements the [queue.Queue] interface.
func (q *InboundFaF) Address() string {
	return q.cfg.address
}

// OnMessageReady implements the [queue.InboundFaF] interface.
func (q *InboundFaF) OnMessageReady(h queue.MessageHandler) {
	q.handler.Set(h)
}

// StartReceivingMessage implements the [queue.InboundFaF] interface.
func (q *InboundFaF) StartReceivingMessage(ctx context.Context) error {
	return q.lc.Start(ctx, queue.FailedToStartReceivingMessage, func(loopCtx context.Context) error {
		h, ok := q.handler.Get()
		if !ok {
			return queue.ErrNoHandler
		}

		handlerCtx := context.WithoutCancel(loopCtx)
		q.lc.Go(func() {
			for {
				msg, ok := q.inbox.next(loopCtx)
				if !ok {
					return
				}

				m := queue.Message{
					Body: msg.Bytes(),
					Ack:  q.in.Acknowledgment(false, nil, q.lc.Context()),
				}
				if !q.in.HandleMessage(handlerCtx, q.lc, h, m) {
					q.inbox.putBack(msg)
					return
				}
			}
		})
		return nil
	})
}

// StopReceivingMessage implements the [queue.InboundFaF] interface.
func (q *InboundFaF) StopReceivingMessage(ctx context.Context) {
	q.lc.Stop(ctx, queue.FailedToStopReceivingMessage, nil)
}

// HasMessage reports whether a message has been read from the socket but
// not yet handled.
func (q *InboundFaF) HasMessage(ctx context.Context) (bool, error) {
	err := q.lc.RequireInitialized()
	if err != nil {
		return false, q.lc.Wrap(err, queue.FailedToCheckQueueHasMessage)
	}
	return q.inbox.pending(), nil
}

// Close implements the [io.Closer] interface.
func (q *InboundFaF) Close() error {
	return q.lc.Close(nil, func() error {
		return q.inbox.closeWith(q.sck)
	})
}

// OutboundFaF sends fire-and-forget messages on a PUSH socket.
type OutboundFaF struct {
	cfg config
	lc  *queue.Lifecycle
	in  *messaging.Instruments
	sck *socket
}

// NewOutboundFaF validates cfg and opens the socket.
func NewOutboundFaF(ctx context.Context, raw map[string]string, log *slog.Logger) (*OutboundFaF, error) {
	log = logger(log)

	cfg, err := parseConfig(raw, queue.Outbound)
	if err != nil {
		return nil, err
	}

	lc := newLifecycle(log, cfg)
	sck, err := openSocket(ctx, log, zmq4.Push, cfg.endpoint)
	if err != nil {
		return nil, lc.Wrap(err, queue.FailedToCreateZeroMqSocket)
	}

	q := &OutboundFaF{
		cfg: cfg,
		lc:  lc,
		in:  instruments(log, cfg.address),
		sck: sck,
	}
	lc.Initialized()
	log.InfoContext(ctx, "initialized queue", AddressAttr(cfg.address), SocketTypeAttr(zmq4.Push))
	return q, nil
}

// Address implements the [queue.Queue] interface.
func (q *OutboundFaF) Address() string {
	return q.cfg.address
}

// SendMessage implements the [queue.OutboundFaF] interface. It blocks
// while the high watermark is reached.
func (q *OutboundFaF) SendMessage(ctx context.Context, body []byte) error {
	err := q.lc.RequireInitialized()
	if err != nil {
		return q.lc.Wrap(err, queue.FailedToSendMessage)
	}

	err = q.in.Send(ctx, "send", func(context.Context) error {
		return q.sck.send(zmq4.NewMsg(body))
	})
	if err != nil {
		return q.lc.Wrap(err, queue.FailedToSendMessage)
	}
	return nil
}

// Close implements the [io.Closer] interface.
func (q *OutboundFaF) Close() error {
	return q.lc.Close(nil, q.sck.Close)
}

// InboundRaR serves requests on a ROUTER socket. Replies are routed back
// to the DEALER identity the request came from.
type InboundRaR struct {
	cfg     config
	lc      *queue.Lifecycle
	in      *messaging.Instruments
	sck     *socket
	inbox   *inbox
	handler messaging.Slot[queue.RequestHandler]
}

// NewInboundRaR validates cfg and opens the socket.
func NewInboundRaR(ctx context.Context, raw map[string]string, log *slog.Logger) (*InboundRaR, error) {
	log = logger(log)

	cfg, err := parseConfig(raw, queue.Inbound)
	if err != nil {
		return nil, err
	}

	lc := newLifecycle(log, cfg)
	sck, err := openSocket(ctx, log, zmq4.Router, cfg.endpoint)
	if err != nil {
		return nil, lc.Wrap(err, queue.FailedToCreateZeroMqSocket)
	}

	q := &InboundRaR{
		cfg:   cfg,
		lc:    lc,
		in:    instruments(log, cfg.address),
		sck:   sck,
		inbox: readInto(log, sck),
	}
	lc.Initialized()
	log.InfoContext(ctx, "initialized queue", AddressAttr(cfg.address), SocketTypeAttr(zmq4.Router))
	return q, nil
}

// Address implements the [queue.Queue] interface.
func (q *InboundRaR) Address() string {
	return q.cfg.address
}

// OnRequestReady implements the [queue.InboundRaR] interface.
func (q *InboundRaR) OnRequestReady(h queue.RequestHandler) {
	q.handler.Set(h)
}

// StartReceivingRequest implements the [queue.InboundRaR] interface.
func (q *InboundRaR) StartReceivingRequest(ctx context.Context) error {
	return q.lc.Start(ctx, queue.FailedToStartReceivingRequest, func(loopCtx context.Context) error {
		h, ok := q.handler.Get()
		if !ok {
			return queue.ErrNoHandler
		}

		handlerCtx := context.WithoutCancel(loopCtx)
		q.lc.Go(func() {
			for {
				msg, ok := q.inbox.next(loopCtx)
				if !ok {
					return
				}

				// identity, correlation id, body
				if len(msg.Frames) != 3 {
					q.in.Logger().WarnContext(loopCtx, "discarding malformed request", slog.Int("frames", len(msg.Frames)))
					continue
				}

				identity, corrID, body := msg.Frames[0], string(msg.Frames[1]), msg.Frames[2]
				ack := q.in.Acknowledgment(false, nil, q.lc.Context())
				req := queue.NewRequest(body, queue.NewResponder(q, string(identity), corrID, ack, q.lc.Context()...))
				if !q.in.HandleRequest(handlerCtx, q.lc, h, req) {
					q.inbox.putBack(msg)
					return
				}
			}
		})
		return nil
	})
}

// SendReply implements the [queue.ReplySender] interface.
func (q *InboundRaR) SendReply(ctx context.Context, replyTo, correlationID string, body []byte) error {
	return q.in.Send(ctx, "send", func(context.Context) error {
		return q.sck.send(zmq4.NewMsgFrom([]byte(replyTo), []byte(correlationID), body))
	})
}

// StopReceivingRequest implements the [queue.InboundRaR] interface.
func (q *InboundRaR) StopReceivingRequest(ctx context.Context) {
	q.lc.Stop(ctx, queue.FailedToStopReceivingRequest, nil)
}

// HasMessage reports whether a request has been read from the socket but
// not yet handled.
func (q *InboundRaR) HasMessage(ctx context.Context) (bool, error) {
	err := q.lc.RequireInitialized()
	if err != nil {
		return false, q.lc.Wrap(err, queue.FailedToCheckQueueHasMessage)
	}
	return q.inbox.pending(), nil
}

// Close implements the [io.Closer] interface.
func (q *InboundRaR) Close() error {
	return q.lc.Close(nil, func() error {
		return q.inbox.closeWith(q.sck)
	})
}

// OutboundRaR sends requests on a DEALER socket and correlates the replies
// routed back to it.
type OutboundRaR struct {
	cfg   config
	lc    *queue.Lifecycle
	in    *messaging.Instruments
	sck   *socket
	inbox *inbox
	corr  *messaging.Correlator

	cancel context.CancelFunc
}

// NewOutboundRaR validates cfg, opens the socket with a unique identity and
// starts reading replies.
func NewOutboundRaR(ctx context.Context, raw map[string]string, log *slog.Logger) (*OutboundRaR, error) {
	log = logger(log)

	cfg, err := parseConfig(raw, queue.Outbound)
	if err != nil {
		return nil, err
	}

	lc := newLifecycle(log, cfg)
	identity := zmq4.SocketIdentity(uuid.NewString())
	sck, err := openSocket(ctx, log, zmq4.Dealer, cfg.endpoint, zmq4.WithID(identity))
	if err != nil {
		return nil, lc.Wrap(err, queue.FailedToCreateZeroMqSocket)
	}

	in := instruments(log, cfg.address)
	replyCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	q := &OutboundRaR{
		cfg:    cfg,
		lc:     lc,
		in:     in,
		sck:    sck,
		inbox:  readInto(log, sck),
		corr:   messaging.NewCorrelator(in, lc),
		cancel: cancel,
	}
	lc.Go(func() {
		q.readReplies(replyCtx)
	})

	lc.Initialized()
	log.InfoContext(ctx, "initialized queue", AddressAttr(cfg.address), SocketTypeAttr(zmq4.Dealer))
	return q, nil
}

func (q *OutboundRaR) readReplies(ctx context.Context) {
	for {
		msg, ok := q.inbox.next(ctx)
		if !ok {
			return
		}

		// correlation id, body
		if len(msg.Frames) != 2 {
			q.in.Logger().WarnContext(ctx, "discarding malformed reply", slog.Int("frames", len(msg.Frames)))
			continue
		}
		q.corr.Deliver(ctx, string(msg.Frames[0]), msg.Frames[1])
	}
}

// Address implements the [queue.Queue] interface.
func (q *OutboundRaR) Address() string {
	return q.cfg.address
}

// ExpireRequestsAfter implements the [queue.RequestExpirer] interface.
func (q *OutboundRaR) ExpireRequestsAfter(ttl time.Duration) {
	q.corr.ExpireRequestsAfter(ttl)
}

// OnResponseReady implements the [queue.OutboundRaR] interface.
func (q *OutboundRaR) OnResponseReady(h queue.ResponseHandler) {
	q.corr.OnResponseReady(h)
}

// SendRequest implements the [queue.OutboundRaR] interface.
func (q *OutboundRaR) SendRequest(ctx context.Context, body []byte) (string, error) {
	err := q.lc.RequireInitialized()
	if err != nil {
		return "", q.lc.Wrap(err, queue.FailedToSendMessage)
	}

	id := q.corr.Track()
	err = q.in.Send(ctx, "send", func(context.Context) error {
		return q.sck.send(zmq4.NewMsgFrom([]byte(id), body))
	})
	if err != nil {
		q.corr.Forget(id)
		return "", q.lc.Wrap(err, queue.FailedToSendMessage)
	}
	return id, nil
}

// Close implements the [io.Closer] interface.
func (q *OutboundRaR) Close() error {
	return q.lc.Close(nil, func() error {
		q.cancel()
		err := q.inbox.closeWith(q.sck)
		return errors.Join(err, q.corr.Close())
	})
}
