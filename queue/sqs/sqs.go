// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package sqs implements the fire-and-forget queue roles on Amazon SQS.
//
// Address is the endpoint URL, or "aws" for the regional endpoint. Static
// credentials may be given as the user info of the URL, otherwise the
// default AWS credential chain applies. The queue must exist before a queue
// is initialized. [Admin] creates it.
package sqs

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/z5labs/mq/internal/messaging"
	"github.com/z5labs/mq/queue"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

const receiveRetryDelay = time.Second

type base struct {
	cfg    config
	lc     *queue.Lifecycle
	in     *messaging.Instruments
	client Client
	url    string
}

func connect(ctx context.Context, raw map[string]string, dir queue.Direction, log *slog.Logger) (*base, error) {
	log = logger(log)

	cfg, err := parseConfig(raw, dir)
	if err != nil {
		return nil, err
	}

	client, err := newClient(ctx, cfg.region, &cfg.endpoint)
	if err != nil {
		return nil, queue.NewError(queue.FailedToInitializeMessageQueue, err, cfg.errorContext()...)
	}
	return open(ctx, cfg, client, log)
}

// open resolves the queue URL through client.
func open(ctx context.Context, cfg config, client Client, log *slog.Logger) (*base, error) {
	lc := queue.NewLifecycle(log, cfg.errorContext()...)

	url, ok, err := queueURL(ctx, client, cfg.queueName)
	if err != nil {
		return nil, lc.Wrap(err, queue.FailedToCheckQueueExistence)
	}
	if !ok {
		return nil, lc.Error(queue.QueueDoesNotExist, nil)
	}

	b := &base{
		cfg:    cfg,
		lc:     lc,
		in:     instruments(log, cfg.queueName),
		client: client,
		url:    url,
	}
	lc.Initialized()
	b.in.Logger().InfoContext(ctx, "initialized queue", QueueNameAttr(cfg.queueName), QueueURLAttr(url))
	return b, nil
}

// Address implements the [queue.Queue] interface.
func (b *base) Address() string {
	return b.cfg.address()
}

// InboundFaF receives fire-and-forget messages with long polling.
type InboundFaF struct {
	*base
	handler messaging.Slot[queue.MessageHandler]
}

// NewInboundFaF validates cfg and resolves the queue.
func NewInboundFaF(ctx context.Context, raw map[string]string, log *slog.Logger) (*InboundFaF, error) {
	b, err := connect(ctx, raw, queue.Inbound, log)
	if err != nil {
		return nil, err
	}
	return &InboundFaF{base: b}, nil
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

		q.lc.Go(func() {
			q.receive(loopCtx, h)
		})
		return nil
	})
}

// receive polls until ctx is done. At most MaxConcurrentReceiveCallback
// handlers run at once.
func (q *InboundFaF) receive(ctx context.Context, h queue.MessageHandler) {
	log := q.in.Logger()
	sem := semaphore.NewWeighted(int64(q.cfg.maxConcurrent))

	var wg sync.WaitGroup
	defer wg.Wait()

	// Stopping must not cancel handlers which are already running.
	handlerCtx := context.WithoutCancel(ctx)
	for {
		out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(q.url),
			MaxNumberOfMessages: q.cfg.receiveBatch(),
			WaitTimeSeconds:     int32(waitTime / time.Second),
			VisibilityTimeout:   int32(q.cfg.lockDuration / time.Second),
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			queue.LogError(ctx, log, q.lc.Wrap(err, queue.FailedToReceiveMessage))
			select {
			case <-ctx.Done():
				return
			case <-time.After(receiveRetryDelay):
			}
			continue
		}

		for _, m := range out.Messages {
			err := sem.Acquire(ctx, 1)
			if err != nil {
				q.release(handlerCtx, m)
				continue
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				defer sem.Release(1)

				q.handle(handlerCtx, h, m)
			}()
		}
	}
}

func (q *InboundFaF) handle(ctx context.Context, h queue.MessageHandler, m types.Message) {
	if !q.cfg.ack {
		err := q.deleteMessage(ctx, m.ReceiptHandle)
		if err != nil {
			q.in.Logger().WarnContext(ctx, "failed to delete message on receipt", MessageIDAttr(aws.ToString(m.MessageId)), slog.Any("error", err))
		}
	}

	msg := queue.Message{
		Body: []byte(aws.ToString(m.Body)),
		Ack:  q.acknowledgment(m.ReceiptHandle),
	}
	if !q.in.HandleMessage(ctx, q.lc, h, msg) {
		q.release(ctx, m)
	}
}

func (q *InboundFaF) deleteMessage(ctx context.Context, receipt *string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.url),
		ReceiptHandle: receipt,
	})
	return err
}

// makeVisible ends the visibility timeout of a received message so it can
// be received again right away.
func (q *InboundFaF) makeVisible(ctx context.Context, receipt *string) error {
	_, err := q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(q.url),
		ReceiptHandle:     receipt,
		VisibilityTimeout: 0,
	})
	return err
}

func (q *InboundFaF) acknowledgment(receipt *string) *queue.Acknowledgment {
	return q.in.Acknowledgment(
		q.cfg.ack,
		queue.SettlerFuncs{
			AckFunc: func(ctx context.Context) error {
				return q.deleteMessage(ctx, receipt)
			},
			NackFunc: func(ctx context.Context) error {
				return q.makeVisible(ctx, receipt)
			},
		},
		q.lc.Context(),
	)
}

// release returns a message which was received after the queue stopped.
func (q *InboundFaF) release(ctx context.Context, m types.Message) {
	if !q.cfg.ack {
		return
	}
	err := q.makeVisible(ctx, m.ReceiptHandle)
	if err != nil {
		q.in.Logger().WarnContext(ctx, "failed to release message", MessageIDAttr(aws.ToString(m.MessageId)), slog.Any("error", err))
	}
}

// HasMessage reports whether the approximate number of visible messages is
// greater than zero.
func (q *InboundFaF) HasMessage(ctx context.Context) (bool, error) {
	err := q.lc.RequireInitialized()
	if err != nil {
		return false, q.lc.Wrap(err, queue.FailedToCheckQueueHasMessage)
	}

	out, err := q.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(q.url),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameApproximateNumberOfMessages},
	})
	if err != nil {
		return false, q.lc.Wrap(err, queue.FailedToCheckQueueHasMessage)
	}

	n, err := strconv.ParseInt(out.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessages)], 10, 64)
	if err != nil {
		return false, q.lc.Wrap(err, queue.FailedToCheckQueueHasMessage)
	}
	return n > 0, nil
}

// StopReceivingMessage implements the [queue.InboundFaF] interface.
func (q *InboundFaF) StopReceivingMessage(ctx context.Context) {
	q.lc.Stop(ctx, queue.FailedToStopReceivingMessage, nil)
}

// Close implements the [io.Closer] interface.
func (q *InboundFaF) Close() error {
	return q.lc.Close(nil, nil)
}

// OutboundFaF sends fire-and-forget messages.
type OutboundFaF struct {
	*base
}

// NewOutboundFaF validates cfg and resolves the queue.
func NewOutboundFaF(ctx context.Context, raw map[string]string, log *slog.Logger) (*OutboundFaF, error) {
	b, err := connect(ctx, raw, queue.Outbound, log)
	if err != nil {
		return nil, err
	}
	return &OutboundFaF{base: b}, nil
}

// SendMessage implements the [queue.OutboundFaF] interface. Messages sent
// to a FIFO queue share a single message group.
func (q *OutboundFaF) SendMessage(ctx context.Context, body []byte) error {
	err := q.lc.RequireInitialized()
	if err != nil {
		return q.lc.Wrap(err, queue.FailedToSendMessage)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.url),
		MessageBody: aws.String(string(body)),
	}
	if q.cfg.fifo() {
		input.MessageGroupId = aws.String(q.cfg.queueName)
		if !q.cfg.duplicateDetection {
			input.MessageDeduplicationId = aws.String(uuid.NewString())
		}
	}

	err = q.in.Send(ctx, "send", func(ctx context.Context) error {
		_, err := q.client.SendMessage(ctx, input)
		return err
	})
	if err != nil {
		return q.lc.Wrap(err, queue.FailedToSendMessage)
	}
	return nil
}

// Close implements the [io.Closer] interface.
func (q *OutboundFaF) Close() error {
	return q.lc.Close(nil, nil)
}
