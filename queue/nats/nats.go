// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package nats implements every queue role on NATS JetStream.
//
// Messages and requests are stored in a work queue stream named after the
// subject and consumed through a shared durable pull consumer. Responses
// travel over core NATS to an inbox owned by the requester.
package nats

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/z5labs/mq/internal/messaging"
	"github.com/z5labs/mq/queue"

	natsio "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/sourcegraph/conc/pool"
)

var errNoReplyTo = errors.New("nats: request has no reply-to subject")

type base struct {
	cfg config
	lc  *queue.Lifecycle
	in  *messaging.Instruments
	c   *conn
}

func connect(ctx context.Context, raw map[string]string, dir queue.Direction, log *slog.Logger) (*base, error) {
	log = logger(log)

	cfg, err := parseConfig(raw, dir)
	if err != nil {
		return nil, err
	}

	lc := queue.NewLifecycle(log, cfg.errorContext()...)
	c, err := dial(log, &cfg)
	if err != nil {
		return nil, lc.Wrap(err, queue.FailedToInitializeMessageQueue)
	}

	_, err = c.ensureStream(ctx, cfg)
	if err != nil {
		c.Close()
		return nil, lc.Wrap(err, queue.FailedToCreateMessageQueue)
	}

	return &base{
		cfg: cfg,
		lc:  lc,
		in:  instruments(log, cfg.subject),
		c:   c,
	}, nil
}

func (b *base) initialized(ctx context.Context) {
	b.lc.Initialized()
	b.in.Logger().InfoContext(
		ctx,
		"initialized queue",
		AddressAttr(b.cfg.address()),
		SubjectAttr(b.cfg.subject),
		StreamAttr(b.cfg.streamName()),
	)
}

// Address implements the [queue.Queue] interface.
func (b *base) Address() string {
	return b.cfg.address()
}

// HasMessage reports whether the stream holds messages which have not been
// acknowledged yet.
func (b *base) HasMessage(ctx context.Context) (bool, error) {
	err := b.lc.RequireInitialized()
	if err != nil {
		return false, b.lc.Wrap(err, queue.FailedToCheckQueueHasMessage)
	}

	n, err := b.c.messageCount(ctx, b.cfg.streamName())
	if err != nil {
		return false, b.lc.Wrap(err, queue.FailedToCheckQueueHasMessage)
	}
	return n > 0, nil
}

// consume pulls from the shared durable consumer until ctx is done and hands
// every message to handle on at most MaxConcurrentReceiveCallback
// goroutines. Without acknowledgment messages are acknowledged on receipt.
func (b *base) consume(ctx context.Context, handle func(context.Context, jetstream.Msg)) error {
	_, js, err := b.c.current()
	if err != nil {
		return err
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, b.cfg.streamName(), jetstream.ConsumerConfig{
		Durable:       b.cfg.consumerName(),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       b.cfg.ackWait,
		MaxAckPending: b.cfg.maxConcurrent,
	})
	if err != nil {
		return err
	}

	it, err := cons.Messages(jetstream.PullMaxMessages(b.cfg.maxConcurrent))
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, it.Stop)

	log := b.in.Logger()
	// Stopping must not cancel handlers which are already running.
	handlerCtx := context.WithoutCancel(ctx)
	b.lc.Go(func() {
		defer stop()

		p := pool.New().WithMaxGoroutines(b.cfg.maxConcurrent)
		defer p.Wait()

		next := func() (jetstream.Msg, error) { return it.Next() }
		err := pull(ctx, log, next, func(msg jetstream.Msg) {
			if !b.cfg.ack {
				err := msg.Ack()
				if err != nil {
					log.WarnContext(handlerCtx, "failed to acknowledge message on receipt", slog.Any("error", err))
				}
			}

			p.Go(func() {
				handle(handlerCtx, msg)
			})
		})
		if err != nil {
			queue.LogError(handlerCtx, log, b.lc.Wrap(err, queue.FailedToReceiveMessage))
		}
	})
	return nil
}

const (
	minPullBackoff = 100 * time.Millisecond
	maxPullBackoff = 5 * time.Second
)

// pull passes every message returned by next to deliver until the iterator
// is closed or ctx is done. A deleted consumer ends the loop with an error.
// Other failures are retried with an exponential backoff.
func pull(ctx context.Context, log *slog.Logger, next func() (jetstream.Msg, error), deliver func(jetstream.Msg)) error {
	backoff := minPullBackoff
	for {
		msg, err := next()
		switch {
		case err == nil:
			backoff = minPullBackoff
			deliver(msg)
			continue
		case errors.Is(err, jetstream.ErrMsgIteratorClosed), errors.Is(err, natsio.ErrConnectionClosed):
			return nil
		case errors.Is(err, jetstream.ErrConsumerDeleted):
			return err
		}

		log.WarnContext(ctx, "failed to pull message", slog.Any("error", err), slog.Duration("retry_in", backoff))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(2*backoff, maxPullBackoff)
	}
}

func (b *base) acknowledgment(msg jetstream.Msg) *queue.Acknowledgment {
	return b.in.Acknowledgment(
		b.cfg.ack,
		queue.SettlerFuncs{
			AckFunc: func(context.Context) error {
				return msg.Ack()
			},
			NackFunc: func(context.Context) error {
				return msg.Nak()
			},
		},
		b.lc.Context(),
	)
}

// requeue returns a message which was received after the queue stopped.
func (b *base) requeue(ctx context.Context, msg jetstream.Msg) {
	if !b.cfg.ack {
		return
	}
	err := msg.Nak()
	if err != nil {
		b.in.Logger().WarnContext(ctx, "failed to requeue message", slog.Any("error", err))
	}
}

func (b *base) message(body []byte) *natsio.Msg {
	return &natsio.Msg{
		Subject: b.cfg.subject,
		Header:  natsio.Header{},
		Data:    body,
	}
}

// InboundFaF consumes fire-and-forget messages from a stream.
type InboundFaF struct {
	*base
	handler messaging.Slot[queue.MessageHandler]
}

// NewInboundFaF validates cfg, connects to the server and creates the
// stream when it does not exist.
func NewInboundFaF(ctx context.Context, raw map[string]string, log *slog.Logger) (*InboundFaF, error) {
	b, err := connect(ctx, raw, queue.Inbound, log)
	if err != nil {
		return nil, err
	}

	q := &InboundFaF{base: b}
	b.initialized(ctx)
	return q, nil
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

		return q.consume(loopCtx, func(ctx context.Context, m jetstream.Msg) {
			msg := queue.Message{
				Body: m.Data(),
				Ack:  q.acknowledgment(m),
			}
			if !q.in.HandleMessage(ctx, q.lc, h, msg) {
				q.requeue(ctx, m)
			}
		})
	})
}

// StopReceivingMessage implements the [queue.InboundFaF] interface.
func (q *InboundFaF) StopReceivingMessage(ctx context.Context) {
	q.lc.Stop(ctx, queue.FailedToStopReceivingMessage, nil)
}

// Close implements the [io.Closer] interface.
func (q *InboundFaF) Close() error {
	return q.lc.Close(nil, q.c.Close)
}

// OutboundFaF publishes fire-and-forget messages to a stream.
type OutboundFaF struct {
	*base
}

// NewOutboundFaF validates cfg, connects to the server and creates the
// stream when it does not exist.
func NewOutboundFaF(ctx context.Context, raw map[string]string, log *slog.Logger) (*OutboundFaF, error) {
	b, err := connect(ctx, raw, queue.Outbound, log)
	if err != nil {
		return nil, err
	}

	q := &OutboundFaF{base: b}
	b.initialized(ctx)
	return q, nil
}

// SendMessage implements the [queue.OutboundFaF] interface. It returns once
// the server has stored the message.
func (q *OutboundFaF) SendMessage(ctx context.Context, body []byte) error {
	err := q.lc.RequireInitialized()
	if err != nil {
		return q.lc.Wrap(err, queue.FailedToSendMessage)
	}

	err = q.in.Send(ctx, "publish", func(ctx context.Context) error {
		return q.c.publish(ctx, q.message(body))
	})
	if err != nil {
		return q.lc.Wrap(err, queue.FailedToSendMessage)
	}
	return nil
}

// Close implements the [io.Closer] interface.
func (q *OutboundFaF) Close() error {
	return q.lc.Close(nil, q.c.Close)
}

// InboundRaR serves requests from a stream and publishes every response to
// the Reply-To subject of its request.
type InboundRaR struct {
	*base
	handler messaging.Slot[queue.RequestHandler]
}

// NewInboundRaR validates cfg, connects to the server and creates the
// stream when it does not exist.
func NewInboundRaR(ctx context.Context, raw map[string]string, log *slog.Logger) (*InboundRaR, error) {
	b, err := connect(ctx, raw, queue.Inbound, log)
	if err != nil {
		return nil, err
	}

	q := &InboundRaR{base: b}
	b.initialized(ctx)
	return q, nil
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

		return q.consume(loopCtx, func(ctx context.Context, m jetstream.Msg) {
			hdr := m.Headers()
			responder := queue.NewResponder(
				q,
				hdr.Get(ReplyToHeader),
				hdr.Get(CorrelationIDHeader),
				q.acknowledgment(m),
				q.lc.Context()...,
			)
			if !q.in.HandleRequest(ctx, q.lc, h, queue.NewRequest(m.Data(), responder)) {
				q.requeue(ctx, m)
			}
		})
	})
}

// SendReply implements the [queue.ReplySender] interface.
func (q *InboundRaR) SendReply(ctx context.Context, replyTo, correlationID string, body []byte) error {
	if replyTo == "" {
		return errNoReplyTo
	}

	return q.in.Send(ctx, "publish", func(ctx context.Context) error {
		msg := &natsio.Msg{
			Subject: replyTo,
			Header:  natsio.Header{},
			Data:    body,
		}
		msg.Header.Set(CorrelationIDHeader, correlationID)
		return q.c.reply(msg)
	})
}

// StopReceivingRequest implements the [queue.InboundRaR] interface.
func (q *InboundRaR) StopReceivingRequest(ctx context.Context) {
	q.lc.Stop(ctx, queue.FailedToStopReceivingRequest, nil)
}

// Close implements the [io.Closer] interface.
func (q *InboundRaR) Close() error {
	return q.lc.Close(nil, q.c.Close)
}

// OutboundRaR publishes requests to a stream and receives their responses
// on a private inbox subscription.
type OutboundRaR struct {
	*base
	corr  *messaging.Correlator
	inbox string
	sub   *natsio.Subscription
}

// NewOutboundRaR validates cfg, connects to the server, creates the stream
// when it does not exist and subscribes to a new inbox.
func NewOutboundRaR(ctx context.Context, raw map[string]string, log *slog.Logger) (*OutboundRaR, error) {
	b, err := connect(ctx, raw, queue.Outbound, log)
	if err != nil {
		return nil, err
	}

	q := &OutboundRaR{
		base:  b,
		corr:  messaging.NewCorrelator(b.in, b.lc),
		inbox: natsio.NewInbox(),
	}

	replyCtx := context.WithoutCancel(ctx)
	q.sub, err = b.c.subscribe(q.inbox, func(m *natsio.Msg) {
		q.corr.Deliver(replyCtx, m.Header.Get(CorrelationIDHeader), m.Data)
	})
	if err != nil {
		b.c.Close()
		return nil, b.lc.Wrap(err, queue.FailedToInitializeMessageQueue)
	}

	b.initialized(ctx)
	return q, nil
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
	err = q.in.Send(ctx, "publish", func(ctx context.Context) error {
		msg := q.message(body)
		msg.Header.Set(CorrelationIDHeader, id)
		msg.Header.Set(ReplyToHeader, q.inbox)
		return q.c.publish(ctx, msg)
	})
	if err != nil {
		q.corr.Forget(id)
		return "", q.lc.Wrap(err, queue.FailedToSendMessage, queue.ReplyQueueNameKey, q.inbox)
	}
	return id, nil
}

// Close implements the [io.Closer] interface.
func (q *OutboundRaR) Close() error {
	return q.lc.Close(nil, func() error {
		err := q.sub.Unsubscribe()
		if errors.Is(err, natsio.ErrConnectionClosed) || errors.Is(err, natsio.ErrBadSubscription) {
			err = nil
		}
		return errors.Join(err, q.c.Close(), q.corr.Close())
	})
}
