// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package kafka implements the fire-and-forget roles on Apache Kafka.
//
// A queue is a topic. Inbound queues consume it as a member of a consumer
// group, handing the records of every assigned partition to the handler in
// offset order. Acknowledging a record commits it and abandoning it rewinds
// the partition so the record is fetched again.
package kafka

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/z5labs/mq/internal/messaging"
	"github.com/z5labs/mq/queue"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

type base struct {
	cfg   config
	lc    *queue.Lifecycle
	in    *messaging.Instruments
	opts  []kgo.Opt
	admin adminClient

	closeClient func()
}

// connect creates the client shared by the admin operations of a queue and
// checks that the topic exists.
func connect(ctx context.Context, raw map[string]string, dir queue.Direction, log *slog.Logger) (*base, *kgo.Client, error) {
	log = logger(log)

	cfg, err := parseConfig(raw, dir)
	if err != nil {
		return nil, nil, err
	}

	lc := queue.NewLifecycle(log, cfg.errorContext()...)
	opts, err := clientOptions(log, cfg)
	if err != nil {
		return nil, nil, lc.Wrap(err, queue.FailedToInitializeMessageQueue)
	}

	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, nil, lc.Wrap(err, queue.FailedToInitializeMessageQueue)
	}

	err = cl.Ping(ctx)
	if err != nil {
		cl.Close()
		return nil, nil, lc.Wrap(err, queue.FailedToInitializeMessageQueue)
	}

	b := newBase(cfg, lc, log, opts, kadm.NewClient(cl), cl.Close)
	err = b.open(ctx)
	if err != nil {
		cl.Close()
		return nil, nil, err
	}
	return b, cl, nil
}

func newBase(cfg config, lc *queue.Lifecycle, log *slog.Logger, opts []kgo.Opt, admin adminClient, closeClient func()) *base {
	return &base{
		cfg:         cfg,
		lc:          lc,
		in:          instruments(log, cfg.topic),
		opts:        opts,
		admin:       admin,
		closeClient: closeClient,
	}
}

func (b *base) open(ctx context.Context) error {
	ok, err := topicExists(ctx, b.admin, b.cfg.topic)
	if err != nil {
		return b.lc.Wrap(err, queue.FailedToCheckQueueExistence)
	}
	if !ok {
		return b.lc.Error(queue.QueueDoesNotExist, errTopicNotFound)
	}

	b.lc.Initialized()
	b.in.Logger().InfoContext(
		ctx,
		"initialized queue",
		BrokersAttr(b.cfg.address()),
		TopicAttr(b.cfg.topic),
	)
	return nil
}

// Address implements the [queue.Queue] interface.
func (b *base) Address() string {
	return b.cfg.address()
}

func (b *base) release() error {
	b.closeClient()
	return nil
}

// InboundFaF consumes fire-and-forget messages from a topic as a member of
// a consumer group.
type InboundFaF struct {
	*base
	handler messaging.Slot[queue.MessageHandler]

	newConsumer func(...kgo.Opt) (consumerClient, error)

	// settleMu keeps commits and rewinds from interleaving.
	settleMu sync.Mutex
}

// NewInboundFaF validates cfg, connects to the brokers and checks that the
// topic exists. The group is joined once receiving starts.
func NewInboundFaF(ctx context.Context, raw map[string]string, log *slog.Logger) (*InboundFaF, error) {
	b, _, err := connect(ctx, raw, queue.Inbound, log)
	if err != nil {
		return nil, err
	}
	return newInboundFaF(b, func(opts ...kgo.Opt) (consumerClient, error) {
		return kgo.NewClient(opts...)
	}), nil
}

func newInboundFaF(b *base, newConsumer func(...kgo.Opt) (consumerClient, error)) *InboundFaF {
	return &InboundFaF{
		base:        b,
		newConsumer: newConsumer,
	}
}

// OnMessageReady implements the [queue.InboundFaF] interface.
func (q *InboundFaF) OnMessageReady(h queue.MessageHandler) {
	q.handler.Set(h)
}

// HasMessage reports whether the topic holds records the group has not
// committed yet.
func (q *InboundFaF) HasMessage(ctx context.Context) (bool, error) {
	err := q.lc.RequireInitialized()
	if err != nil {
		return false, q.lc.Wrap(err, queue.FailedToCheckQueueHasMessage)
	}

	n, err := lag(ctx, q.admin, q.cfg.topic, q.cfg.groupID)
	if err != nil {
		return false, q.lc.Wrap(err, queue.FailedToCheckQueueHasMessage)
	}
	return n > 0, nil
}

// StartReceivingMessage implements the [queue.InboundFaF] interface.
func (q *InboundFaF) StartReceivingMessage(ctx context.Context) error {
	return q.lc.Start(ctx, queue.FailedToStartReceivingMessage, func(loopCtx context.Context) error {
		h, ok := q.handler.Get()
		if !ok {
			return queue.ErrNoHandler
		}

		log := q.in.Logger().With(GroupIDAttr(q.cfg.groupID))
		loop := newEventLoop(log, q.cfg.maxConcurrent, nil)

		revoked := loop.onPartitionsRevoked(loopCtx)
		opts := append(slices.Clone(q.opts), consumerOptions(q.cfg)...)
		opts = append(
			opts,
			kgo.OnPartitionsAssigned(loop.onPartitionsAssigned(loopCtx)),
			kgo.OnPartitionsRevoked(func(ctx context.Context, cl *kgo.Client, m map[string][]int32) {
				revoked(ctx, cl, m)
				q.commitMarked(ctx, cl)
			}),
			kgo.OnPartitionsLost(loop.onPartitionsLost(loopCtx)),
		)

		client, err := q.newConsumer(opts...)
		if err != nil {
			return err
		}
		loop.handle = func(ctx context.Context, w *partitionWorker, rec *kgo.Record) {
			q.handle(ctx, client, h, w, rec)
		}

		q.lc.Go(func() {
			defer client.Close()

			loop.consume(loopCtx, client)
		})
		return nil
	})
}

// commitMarked commits the records handled without acknowledgment before
// their partitions move to another member.
func (q *InboundFaF) commitMarked(ctx context.Context, cl *kgo.Client) {
	if q.cfg.ack || cl == nil {
		return
	}
	err := cl.CommitMarkedOffsets(ctx)
	if err != nil {
		q.in.Logger().WarnContext(ctx, "failed to commit offsets of revoked partitions", slog.Any("error", err))
	}
}

func (q *InboundFaF) handle(ctx context.Context, client consumerClient, h queue.MessageHandler, w *partitionWorker, rec *kgo.Record) {
	msg := queue.Message{
		Body: rec.Value,
		Ack:  q.acknowledgment(client, w, rec),
	}
	if !q.in.HandleMessage(ctx, q.lc, h, msg) {
		// Never committed, so the group fetches it again.
		return
	}
	if !q.cfg.ack {
		client.MarkCommitRecords(rec)
	}
}

func (q *InboundFaF) acknowledgment(client consumerClient, w *partitionWorker, rec *kgo.Record) *queue.Acknowledgment {
	return q.in.Acknowledgment(
		q.cfg.ack,
		queue.SettlerFuncs{
			AckFunc: func(ctx context.Context) error {
				q.settleMu.Lock()
				defer q.settleMu.Unlock()

				return client.CommitRecords(ctx, rec)
			},
			NackFunc: func(context.Context) error {
				q.settleMu.Lock()
				defer q.settleMu.Unlock()

				w.rewindTo(rec.Offset)
				client.SetOffsets(map[string]map[int32]kgo.EpochOffset{
					rec.Topic: {
						rec.Partition: {Epoch: rec.LeaderEpoch, Offset: rec.Offset},
					},
				})
				return nil
			},
		},
		q.lc.Context(),
	)
}

// StopReceivingMessage implements the [queue.InboundFaF] interface. The
// group is left once in-flight handlers return.
func (q *InboundFaF) StopReceivingMessage(ctx context.Context) {
	q.lc.Stop(ctx, queue.FailedToStopReceivingMessage, nil)
}

// Close implements the [io.Closer] interface.
func (q *InboundFaF) Close() error {
	return q.lc.Close(nil, q.release)
}

// OutboundFaF produces fire-and-forget messages to a topic.
type OutboundFaF struct {
	*base
	producer producerClient
}

// NewOutboundFaF validates cfg, connects to the brokers and checks that the
// topic exists.
func NewOutboundFaF(ctx context.Context, raw map[string]string, log *slog.Logger) (*OutboundFaF, error) {
	b, cl, err := connect(ctx, raw, queue.Outbound, log)
	if err != nil {
		return nil, err
	}
	return &OutboundFaF{base: b, producer: cl}, nil
}

// SendMessage implements the [queue.OutboundFaF] interface. It returns once
// every in-sync replica has stored the record.
func (q *OutboundFaF) SendMessage(ctx context.Context, body []byte) error {
	err := q.lc.RequireInitialized()
	if err != nil {
		return q.lc.Wrap(err, queue.FailedToSendMessage)
	}

	err = q.in.Send(ctx, "send", func(ctx context.Context) error {
		return q.producer.ProduceSync(ctx, &kgo.Record{Topic: q.cfg.topic, Value: body}).FirstErr()
	})
	if err != nil {
		return q.lc.Wrap(err, queue.FailedToSendMessage)
	}
	return nil
}

// Close implements the [io.Closer] interface.
func (q *OutboundFaF) Close() error {
	return q.lc.Close(nil, q.release)
}
