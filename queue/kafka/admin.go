// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"context"
	"errors"
	"log/slog"

	"github.com/z5labs/mq/queue"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Admin inspects and creates the topic described by a configuration.
type Admin struct {
	cfg   config
	lc    *queue.Lifecycle
	log   *slog.Logger
	admin adminClient

	closeClient func()
}

// NewAdmin validates cfg and connects to the brokers. The configuration is
// validated like an outbound queue, so GroupId is not accepted.
func NewAdmin(ctx context.Context, raw map[string]string, log *slog.Logger) (*Admin, error) {
	log = logger(log)

	cfg, err := parseConfig(raw, queue.Outbound)
	if err != nil {
		return nil, err
	}

	opts, err := clientOptions(log, cfg)
	if err != nil {
		return nil, queue.NewError(queue.FailedToInitializeMessageQueue, err, cfg.errorContext()...)
	}

	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, queue.NewError(queue.FailedToInitializeMessageQueue, err, cfg.errorContext()...)
	}
	return newAdmin(cfg, kadm.NewClient(cl), cl.Close, log), nil
}

func newAdmin(cfg config, admin adminClient, closeClient func(), log *slog.Logger) *Admin {
	a := &Admin{
		cfg:         cfg,
		lc:          queue.NewLifecycle(log, cfg.errorContext()...),
		log:         log,
		admin:       admin,
		closeClient: closeClient,
	}
	a.lc.Initialized()
	return a
}

// QueueExists reports whether the configured topic exists.
func (a *Admin) QueueExists(ctx context.Context) (bool, error) {
	err := a.lc.RequireInitialized()
	if err != nil {
		return false, a.lc.Wrap(err, queue.FailedToCheckQueueExistence)
	}

	ok, err := topicExists(ctx, a.admin, a.cfg.topic)
	if err != nil {
		return false, a.lc.Wrap(err, queue.FailedToCheckQueueExistence)
	}
	return ok, nil
}

// CreateQueue creates the configured topic with Partitions partitions, each
// replicated ReplicationFactor times. Creating a topic which already exists
// succeeds.
func (a *Admin) CreateQueue(ctx context.Context) error {
	err := a.lc.RequireInitialized()
	if err != nil {
		return a.lc.Wrap(err, queue.FailedToCreateMessageQueue)
	}

	resp, err := a.admin.CreateTopics(ctx, a.cfg.partitions, a.cfg.replicationFactor, nil, a.cfg.topic)
	if err != nil {
		return a.lc.Wrap(err, queue.FailedToCreateMessageQueue)
	}

	r, ok := resp[a.cfg.topic]
	if ok && r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
		return a.lc.Wrap(r.Err, queue.FailedToCreateMessageQueue)
	}
	a.log.InfoContext(
		ctx,
		"created topic",
		TopicAttr(a.cfg.topic),
		slog.Int("partitions", int(a.cfg.partitions)),
	)
	return nil
}

// Close implements the [io.Closer] interface.
func (a *Admin) Close() error {
	return a.lc.Close(nil, func() error {
		a.closeClient()
		return nil
	})
}
