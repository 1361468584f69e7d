// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package rabbitmq

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/z5labs/mq/queue"

	amqp "github.com/rabbitmq/amqp091-go"
)

// session owns the connection and channel of a single queue. A closed
// channel or connection is reopened on demand until the session is closed.
type session struct {
	log  *slog.Logger
	url  string
	amqp amqp.Config
	kvs  []string

	mu     sync.Mutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed bool

	returns sync.WaitGroup
}

func dial(ctx context.Context, log *slog.Logger, cfg *config) (*session, error) {
	s := &session{
		log: log,
		url: cfg.address(),
		amqp: amqp.Config{
			SASL:      []amqp.Authentication{&amqp.PlainAuth{Username: cfg.userName, Password: cfg.password}},
			Heartbeat: heartbeat,
			Dial:      amqp.DefaultDial(cfg.connectionTimeout),
			Properties: amqp.Table{
				"connection_name": "github.com/z5labs/mq",
			},
		},
		kvs: cfg.errorContext(),
	}
	cfg.password = ""

	_, err := s.channel(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// channel returns the open channel, reopening the channel or connection if
// either has been closed.
func (s *session) channel(ctx context.Context) (*amqp.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, queue.ErrClosed
	}
	if s.ch != nil && !s.ch.IsClosed() {
		return s.ch, nil
	}

	if s.conn == nil || s.conn.IsClosed() {
		conn, err := amqp.DialConfig(s.url, s.amqp)
		if err != nil {
			return nil, err
		}
		s.conn = conn
		s.log.DebugContext(ctx, "opened connection")
	}

	ch, err := s.conn.Channel()
	if err != nil {
		return nil, err
	}
	s.ch = ch
	s.watchReturns(ch)
	return ch, nil
}

// watchReturns logs every message the broker could not route.
func (s *session) watchReturns(ch *amqp.Channel) {
	returns := ch.NotifyReturn(make(chan amqp.Return, 1))

	s.returns.Add(1)
	go func() {
		defer s.returns.Done()
		for r := range returns {
			qe := queue.NewError(
				queue.MessageReturnedFromQueue,
				nil,
				append([]string{
					queue.ExchangeNameKey, r.Exchange,
					queue.RoutingKeyKey, r.RoutingKey,
					queue.ReplyCodeKey, strconv.Itoa(int(r.ReplyCode)),
					queue.ReplyTextKey, r.ReplyText,
				}, s.kvs...)...,
			)
			queue.LogError(context.Background(), s.log, qe)
		}
	}()
}

// inspect runs f on a short lived channel. Passive declares close the
// channel they fail on, so they never run on the session channel.
func (s *session) inspect(ctx context.Context, f func(*amqp.Channel) error) error {
	_, err := s.channel(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	return f(ch)
}

// isNotFound reports whether err is the broker reply to a passive declare
// of something which does not exist.
func isNotFound(err error) bool {
	var amqpErr *amqp.Error
	return errors.As(err, &amqpErr) && amqpErr.Code == amqp.NotFound
}

func (s *session) queueExists(ctx context.Context, name string) (bool, error) {
	err := s.inspect(ctx, func(ch *amqp.Channel) error {
		_, err := ch.QueueDeclarePassive(name, false, false, false, false, nil)
		return err
	})
	if isNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

func (s *session) exchangeExists(ctx context.Context, name, kind string) (bool, error) {
	err := s.inspect(ctx, func(ch *amqp.Channel) error {
		return ch.ExchangeDeclarePassive(name, kind, false, false, false, false, nil)
	})
	if isNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

func (s *session) messageCount(ctx context.Context, name string) (int, error) {
	var n int
	err := s.inspect(ctx, func(ch *amqp.Channel) error {
		q, err := ch.QueueDeclarePassive(name, false, false, false, false, nil)
		n = q.Messages
		return err
	})
	return n, err
}

// Close closes the connection, which also closes its channels.
func (s *session) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.ch = nil
	s.closed = true
	s.mu.Unlock()

	var err error
	if conn != nil && !conn.IsClosed() {
		err = conn.Close()
	}
	s.returns.Wait()
	return err
}

// publish sends msg with the mandatory flag set. A publish which failed
// because the channel was closed is retried once on a reopened channel.
func (s *session) publish(ctx context.Context, exchange, key string, msg amqp.Publishing) error {
	for attempt := 0; ; attempt++ {
		ch, err := s.channel(ctx)
		if err != nil {
			return err
		}

		err = ch.PublishWithContext(ctx, exchange, key, true, false, msg)
		if err == nil || attempt > 0 || !ch.IsClosed() {
			return err
		}
		s.log.WarnContext(ctx, "reopening closed channel", slog.Any("error", err))
	}
}

// minResubscribeBackoff is the first wait before a consumer closed by the
// broker is registered again. Consecutive failures double it up to the
// recovery interval.
const minResubscribeBackoff = time.Second

// redeliver passes every delivery to deliver until ctx is done. When the
// broker closes deliveries while ctx is live, subscribe is called again after
// a backoff and delivery resumes on the new channel. It returns once ctx is
// done or the session is closed.
func redeliver(
	ctx context.Context,
	log *slog.Logger,
	backoff time.Duration,
	deliveries <-chan amqp.Delivery,
	subscribe func(context.Context) (<-chan amqp.Delivery, error),
	deliver func(amqp.Delivery),
) {
	wait := backoff
	for {
		received := false
		for d := range deliveries {
			received = true
			deliver(d)
		}
		if ctx.Err() != nil {
			return
		}
		if received {
			wait = backoff
		}
		log.WarnContext(ctx, "consumer closed by broker", slog.Duration("retry_in", wait))

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			wait = min(2*wait, heartbeat)

			var err error
			deliveries, err = subscribe(ctx)
			if err == nil {
				log.InfoContext(ctx, "consumer registered again")
				break
			}
			if errors.Is(err, queue.ErrClosed) || ctx.Err() != nil {
				return
			}
			log.WarnContext(ctx, "failed to register consumer", slog.Any("error", err), slog.Duration("retry_in", wait))
		}
	}
}
