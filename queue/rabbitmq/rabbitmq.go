// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package rabbitmq implements every queue role on AMQP 0-9-1.
//
// The configured queue, and exchange when one is named, must exist before a
// queue is initialized. [Admin] creates them.
package rabbitmq

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/z5labs/mq/internal/messaging"
	"github.com/z5labs/mq/queue"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sourcegraph/conc/pool"
)

var errNoReplyTo = errors.New("rabbitmq: request has no reply-to address")

type base struct {
	cfg config
	lc  *queue.Lifecycle
	in  *messaging.Instruments
	s   *session
}

// connect validates raw, dials the broker and checks that the queue and
// exchange exist. A named exchange is bound to the queue.
func connect(ctx context.Context, raw map[string]string, dir queue.Direction, log *slog.Logger) (*base, error) {
	log = logger(log)

	cfg, err := parseConfig(raw, dir)
	if err != nil {
		return nil, err
	}

	lc := queue.NewLifecycle(log, cfg.errorContext()...)
	s, err := dial(ctx, log, &cfg)
	if err != nil {
		return nil, lc.Wrap(err, queue.FailedToInitializeMessageQueue)
	}

	b := &base{
		cfg: cfg,
		lc:  lc,
		in:  instruments(log, cfg.queueName),
		s:   s,
	}
	err = b.verify(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}
	return b, nil
}

func (b *base) verify(ctx context.Context) error {
	ok, err := b.s.queueExists(ctx, b.cfg.queueName)
	if err != nil {
		return b.lc.Wrap(err, queue.FailedToCheckQueueExistence)
	}
	if !ok {
		return b.lc.Error(queue.QueueDoesNotExist, nil)
	}

	if b.cfg.exchangeName == "" {
		return nil
	}

	ok, err = b.s.exchangeExists(ctx, b.cfg.exchangeName, b.cfg.exchangeType)
	if err != nil {
		return b.lc.Wrap(err, queue.FailedToCheckExchangeExistence)
	}
	if !ok {
		return b.lc.Error(queue.ExchangeDoesNotExist, nil)
	}

	ch, err := b.s.channel(ctx)
	if err != nil {
		return b.lc.Wrap(err, queue.FailedToInitializeMessageQueue)
	}
	err = ch.QueueBind(b.cfg.queueName, b.cfg.routingKey, b.cfg.exchangeName, false, nil)
	if err != nil {
		return b.lc.Wrap(err, queue.FailedToInitializeMessageQueue)
	}
	return nil
}

func (b *base) initialized(ctx context.Context) {
	b.lc.Initialized()
	b.in.Logger().InfoContext(
		ctx,
		"initialized queue",
		AddressAttr(b.cfg.address()),
		QueueNameAttr(b.cfg.queueName),
	)
}

// Address implements the [queue.Queue] interface.
func (b *base) Address() string {
	return b.cfg.address()
}

// HasMessage reports whether the queue holds messages which are ready to be
// delivered.
func (b *base) HasMessage(ctx context.Context) (bool, error) {
	err := b.lc.RequireInitialized()
	if err != nil {
		return false, b.lc.Wrap(err, queue.FailedToCheckQueueHasMessage)
	}

	n, err := b.s.messageCount(ctx, b.cfg.queueName)
	if err != nil {
		return false, b.lc.Wrap(err, queue.FailedToCheckQueueHasMessage)
	}
	return n > 0, nil
}

func (b *base) publishing(body []byte) amqp.Publishing {
	return amqp.Publishing{
		DeliveryMode: b.cfg.deliveryMode(),
		Timestamp:    time.Now(),
		Body:         body,
	}
}

// consume starts a consumer which is cancelled once ctx is done and hands
// every delivery to handle on at most MaxConcurrentReceiveCallback
// goroutines. A consumer closed by the broker is registered again.
func (b *base) consume(ctx context.Context, handle func(context.Context, amqp.Delivery)) error {
	deliveries, err := b.subscribe(ctx)
	if err != nil {
		return err
	}

	// Stopping must not cancel handlers which are already running.
	handlerCtx := context.WithoutCancel(ctx)
	b.lc.Go(func() {
		p := pool.New().WithMaxGoroutines(b.cfg.maxConcurrent)
		defer p.Wait()

		redeliver(ctx, b.in.Logger(), minResubscribeBackoff, deliveries, b.subscribe, func(d amqp.Delivery) {
			p.Go(func() {
				handle(handlerCtx, d)
			})
		})
	})
	return nil
}

// subscribe applies the prefetch limit and registers a consumer on the
// session channel, reopening it if needed.
func (b *base) subscribe(ctx context.Context) (<-chan amqp.Delivery, error) {
	ch, err := b.s.channel(ctx)
	if err != nil {
		return nil, err
	}

	err = ch.Qos(b.cfg.maxConcurrent, 0, false)
	if err != nil {
		return nil, err
	}

	return ch.ConsumeWithContext(ctx, b.cfg.queueName, "mq-"+uuid.NewString(), !b.cfg.ack, false, false, false, nil)
}

// acknowledgment binds the gateway of a single delivery to its native
// primitives. Abandoned messages are requeued.
func (b *base) acknowledgment(d amqp.Delivery) *queue.Acknowledgment {
	return b.in.Acknowledgment(
		b.cfg.ack,
		queue.SettlerFuncs{
			AckFunc: func(context.Context) error {
				return d.Ack(false)
			},
			NackFunc: func(context.Context) error {
				return d.Nack(false, true)
			},
		},
		b.lc.Context(),
	)
}

// requeue returns a delivery which was received after the queue stopped.
func (b *base) requeue(ctx context.Context, d amqp.Delivery) {
	if !b.cfg.ack {
		return
	}
	err := d.Nack(false, true)
	if err != nil {
		b.in.Logger().WarnContext(ctx, "failed to requeue delivery", DeliveryTagAttr(d.DeliveryTag), slog.Any("error", err))
	}
}

// InboundFaF consumes fire-and-forget messages from a queue.
type InboundFaF struct {
	*base
	handler messaging.Slot[queue.MessageHandler]
}

// NewInboundFaF validates cfg and connects to the broker.
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

		return q.consume(loopCtx, func(ctx context.Context, d amqp.Delivery) {
			msg := queue.Message{
				Body: d.Body,
				Ack:  q.acknowledgment(d),
			}
			if !q.in.HandleMessage(ctx, q.lc, h, msg) {
				q.requeue(ctx, d)
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
	return q.lc.Close(nil, q.s.Close)
}

// OutboundFaF publishes fire-and-forget messages to a queue or exchange.
type OutboundFaF struct {
	*base
}

// NewOutboundFaF validates cfg and connects to the broker.
func NewOutboundFaF(ctx context.Context, raw map[string]string, log *slog.Logger) (*OutboundFaF, error) {
	b, err := connect(ctx, raw, queue.Outbound, log)
	if err != nil {
		return nil, err
	}

	q := &OutboundFaF{base: b}
	b.initialized(ctx)
	return q, nil
}

// SendMessage implements the [queue.OutboundFaF] interface.
func (q *OutboundFaF) SendMessage(ctx context.Context, body []byte) error {
	err := q.lc.RequireInitialized()
	if err != nil {
		return q.lc.Wrap(err, queue.FailedToSendMessage)
	}

	err = q.in.Send(ctx, "publish", func(ctx context.Context) error {
		return q.s.publish(ctx, q.cfg.exchangeName, q.cfg.publishKey(), q.publishing(body))
	})
	if err != nil {
		return q.lc.Wrap(err, queue.FailedToSendMessage)
	}
	return nil
}

// Close implements the [io.Closer] interface.
func (q *OutboundFaF) Close() error {
	return q.lc.Close(nil, q.s.Close)
}

// InboundRaR serves requests from a queue and publishes every response to
// the reply-to queue of its request through the default exchange.
type InboundRaR struct {
	*base
	handler messaging.Slot[queue.RequestHandler]
}

// NewInboundRaR validates cfg and connects to the broker.
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

		return q.consume(loopCtx, func(ctx context.Context, d amqp.Delivery) {
			responder := queue.NewResponder(q, d.ReplyTo, d.CorrelationId, q.acknowledgment(d), q.lc.Context()...)
			if !q.in.HandleRequest(ctx, q.lc, h, queue.NewRequest(d.Body, responder)) {
				q.requeue(ctx, d)
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
		msg := q.publishing(body)
		msg.CorrelationId = correlationID
		return q.s.publish(ctx, "", replyTo, msg)
	})
}

// StopReceivingRequest implements the [queue.InboundRaR] interface.
func (q *InboundRaR) StopReceivingRequest(ctx context.Context) {
	q.lc.Stop(ctx, queue.FailedToStopReceivingRequest, nil)
}

// Close implements the [io.Closer] interface.
func (q *InboundRaR) Close() error {
	return q.lc.Close(nil, q.s.Close)
}

// OutboundRaR publishes requests and consumes their responses from an
// exclusive, server named reply queue.
type OutboundRaR struct {
	*base
	corr   *messaging.Correlator
	cancel context.CancelFunc

	mu         sync.Mutex
	replyQueue string
}

// NewOutboundRaR validates cfg, connects to the broker and starts consuming
// from a new reply queue.
func NewOutboundRaR(ctx context.Context, raw map[string]string, log *slog.Logger) (*OutboundRaR, error) {
	b, err := connect(ctx, raw, queue.Outbound, log)
	if err != nil {
		return nil, err
	}

	replyCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	q := &OutboundRaR{
		base:   b,
		corr:   messaging.NewCorrelator(b.in, b.lc),
		cancel: cancel,
	}
	err = q.consumeReplies(replyCtx)
	if err != nil {
		cancel()
		b.s.Close()
		return nil, b.lc.Wrap(err, queue.FailedToInitializeMessageQueue)
	}

	b.initialized(ctx)
	return q, nil
}

// consumeReplies consumes from a server named reply queue. The queue is
// exclusive to the connection, so a new one is declared whenever the
// consumer has to be registered again. Replies to requests sent before that
// are lost.
func (q *OutboundRaR) consumeReplies(ctx context.Context) error {
	replies, err := q.subscribeReplies(ctx)
	if err != nil {
		return err
	}

	q.lc.Go(func() {
		redeliver(ctx, q.in.Logger(), minResubscribeBackoff, replies, q.subscribeReplies, func(d amqp.Delivery) {
			q.corr.Deliver(ctx, d.CorrelationId, d.Body)
		})
	})
	return nil
}

func (q *OutboundRaR) subscribeReplies(ctx context.Context) (<-chan amqp.Delivery, error) {
	ch, err := q.s.channel(ctx)
	if err != nil {
		return nil, err
	}

	replyQueue, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, err
	}

	replies, err := ch.ConsumeWithContext(ctx, replyQueue.Name, "", true, true, false, false, nil)
	if err != nil {
		return nil, err
	}

	q.mu.Lock()
	q.replyQueue = replyQueue.Name
	q.mu.Unlock()
	return replies, nil
}

func (q *OutboundRaR) replyTo() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.replyQueue
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
	replyTo := q.replyTo()
	err = q.in.Send(ctx, "publish", func(ctx context.Context) error {
		msg := q.publishing(body)
		msg.CorrelationId = id
		msg.ReplyTo = replyTo
		return q.s.publish(ctx, q.cfg.exchangeName, q.cfg.publishKey(), msg)
	})
	if err != nil {
		q.corr.Forget(id)
		return "", q.lc.Wrap(err, queue.FailedToSendMessage, queue.ReplyQueueNameKey, replyTo)
	}
	return id, nil
}

// Close implements the [io.Closer] interface.
func (q *OutboundRaR) Close() error {
	return q.lc.Close(nil, func() error {
		q.cancel()
		err := q.s.Close()
		return errors.Join(err, q.corr.Close())
	})
}
