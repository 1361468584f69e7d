// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package rabbitmq

import (
	"context"
	"log/slog"

	"github.com/z5labs/mq/queue"
)

// Admin inspects and creates the queue and exchange named by a queue
// configuration. Unlike the queues themselves it does not require either
// to exist.
type Admin struct {
	cfg config
	lc  *queue.Lifecycle
	log *slog.Logger
	s   *session
}

// NewAdmin validates raw and connects to the broker. Inbound only keys are
// accepted so the configuration of any role can be used.
func NewAdmin(ctx context.Context, raw map[string]string, log *slog.Logger) (*Admin, error) {
	log = logger(log)

	cfg, err := parseConfig(raw, queue.Inbound)
	if err != nil {
		return nil, err
	}

	lc := queue.NewLifecycle(log, cfg.errorContext()...)
	s, err := dial(ctx, log, &cfg)
	if err != nil {
		return nil, lc.Wrap(err, queue.FailedToInitializeMessageQueue)
	}

	lc.Initialized()
	return &Admin{cfg: cfg, lc: lc, log: log, s: s}, nil
}

// QueueExists reports whether the configured queue exists.
func (a *Admin) QueueExists(ctx context.Context) (bool, error) {
	err := a.lc.RequireInitialized()
	if err != nil {
		return false, a.lc.Wrap(err, queue.FailedToCheckQueueExistence)
	}

	ok, err := a.s.queueExists(ctx, a.cfg.queueName)
	if err != nil {
		return false, a.lc.Wrap(err, queue.FailedToCheckQueueExistence)
	}
	return ok, nil
}

// ExchangeExists reports whether the configured exchange exists. It is
// always true when no exchange is configured.
func (a *Admin) ExchangeExists(ctx context.Context) (bool, error) {
	err := a.lc.RequireInitialized()
	if err != nil {
		return false, a.lc.Wrap(err, queue.FailedToCheckExchangeExistence)
	}
	if a.cfg.exchangeName == "" {
		return true, nil
	}

	ok, err := a.s.exchangeExists(ctx, a.cfg.exchangeName, a.cfg.exchangeType)
	if err != nil {
		return false, a.lc.Wrap(err, queue.FailedToCheckExchangeExistence)
	}
	return ok, nil
}

// CreateQueue declares the configured queue using DurableQueue.
// Declaring a queue which already exists with the same properties is a no-op.
func (a *Admin) CreateQueue(ctx context.Context) error {
	err := a.lc.RequireInitialized()
	if err != nil {
		return a.lc.Wrap(err, queue.FailedToCreateMessageQueue)
	}

	ch, err := a.s.channel(ctx)
	if err != nil {
		return a.lc.Wrap(err, queue.FailedToCreateMessageQueue)
	}

	_, err = ch.QueueDeclare(a.cfg.queueName, a.cfg.durableQueue, false, false, false, nil)
	if err != nil {
		return a.lc.Wrap(err, queue.FailedToCreateMessageQueue)
	}
	a.log.InfoContext(ctx, "created queue", QueueNameAttr(a.cfg.queueName))
	return nil
}

// CreateExchange declares the configured exchange using ExchangeType and
// DurableExchange.
func (a *Admin) CreateExchange(ctx context.Context) error {
	err := a.lc.RequireInitialized()
	if err != nil {
		return a.lc.Wrap(err, queue.FailedToCreateExchange)
	}
	if a.cfg.exchangeName == "" {
		return a.lc.Error(queue.MissingRequiredConfigurationParameter, nil, queue.ParameterNameKey, ExchangeNameKey)
	}

	ch, err := a.s.channel(ctx)
	if err != nil {
		return a.lc.Wrap(err, queue.FailedToCreateExchange)
	}

	err = ch.ExchangeDeclare(a.cfg.exchangeName, a.cfg.exchangeType, a.cfg.durableExchange, false, false, false, nil)
	if err != nil {
		return a.lc.Wrap(err, queue.FailedToCreateExchange)
	}
	a.log.InfoContext(ctx, "created exchange", ExchangeNameAttr(a.cfg.exchangeName))
	return nil
}

// Close implements the [io.Closer] interface.
func (a *Admin) Close() error {
	return a.lc.Close(nil, a.s.Close)
}
