// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package sqs

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"

	"github.com/z5labs/mq/queue"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// Admin inspects and creates the queue described by a configuration.
// Queues are created through NamespaceAddress.
type Admin struct {
	cfg       config
	lc        *queue.Lifecycle
	log       *slog.Logger
	client    Client
	namespace Client
}

// NewAdmin validates cfg and builds the clients used by the admin
// operations.
func NewAdmin(ctx context.Context, raw map[string]string, log *slog.Logger) (*Admin, error) {
	log = logger(log)

	cfg, err := parseConfig(raw, queue.Inbound)
	if err != nil {
		return nil, err
	}

	client, err := newClient(ctx, cfg.region, &cfg.endpoint)
	if err != nil {
		return nil, queue.NewError(queue.FailedToInitializeMessageQueue, err, cfg.errorContext()...)
	}

	var namespace Client
	if cfg.namespace != nil {
		namespace, err = newClient(ctx, cfg.region, cfg.namespace)
		if err != nil {
			return nil, queue.NewError(queue.FailedToInitializeMessageQueue, err, cfg.errorContext()...)
		}
	}
	return newAdmin(cfg, client, namespace, log), nil
}

func newAdmin(cfg config, client, namespace Client, log *slog.Logger) *Admin {
	a := &Admin{
		cfg:       cfg,
		lc:        queue.NewLifecycle(log, cfg.errorContext()...),
		log:       log,
		client:    client,
		namespace: namespace,
	}
	a.lc.Initialized()
	return a
}

// QueueExists reports whether the configured queue exists.
func (a *Admin) QueueExists(ctx context.Context) (bool, error) {
	err := a.lc.RequireInitialized()
	if err != nil {
		return false, a.lc.Wrap(err, queue.FailedToCheckQueueExistence)
	}

	_, ok, err := queueURL(ctx, a.client, a.cfg.queueName)
	if err != nil {
		return false, a.lc.Wrap(err, queue.FailedToCheckQueueExistence)
	}
	return ok, nil
}

type redrivePolicy struct {
	DeadLetterTargetArn string `json:"deadLetterTargetArn"`
	MaxReceiveCount     string `json:"maxReceiveCount"`
}

// CreateQueue creates the configured queue. With dead lettering enabled a
// dead letter queue is created first and messages move there after
// MaxDeliveryCount receives.
func (a *Admin) CreateQueue(ctx context.Context) error {
	err := a.lc.RequireInitialized()
	if err != nil {
		return a.lc.Wrap(err, queue.FailedToCreateMessageQueue)
	}
	if a.namespace == nil {
		return a.lc.Error(
			queue.MissingNamespaceAddressInConfiguration,
			nil,
			queue.ParameterNameKey, NamespaceAddressKey,
		)
	}

	if keys := a.cfg.unsupported(); len(keys) > 0 {
		a.log.WarnContext(ctx, "settings are not natively supported and are ignored", slog.String("settings", strings.Join(keys, ",")))
	}

	attrs := a.cfg.queueAttributes()
	if a.cfg.deadLettering {
		policy, err := a.createDeadLetterQueue(ctx)
		if err != nil {
			return a.lc.Wrap(err, queue.FailedToCreateMessageQueue)
		}
		attrs[string(types.QueueAttributeNameRedrivePolicy)] = policy
	}

	_, err = a.namespace.CreateQueue(ctx, &sqs.CreateQueueInput{
		QueueName:  aws.String(a.cfg.queueName),
		Attributes: attrs,
	})
	if err != nil {
		return a.lc.Wrap(err, queue.FailedToCreateMessageQueue)
	}
	a.log.InfoContext(ctx, "created queue", QueueNameAttr(a.cfg.queueName))
	return nil
}

// createDeadLetterQueue returns the redrive policy pointing at it.
func (a *Admin) createDeadLetterQueue(ctx context.Context) (string, error) {
	attrs := map[string]string{}
	if a.cfg.fifo() {
		attrs[string(types.QueueAttributeNameFifoQueue)] = "true"
	}

	out, err := a.namespace.CreateQueue(ctx, &sqs.CreateQueueInput{
		QueueName:  aws.String(a.cfg.deadLetterQueueName()),
		Attributes: attrs,
	})
	if err != nil {
		return "", err
	}

	arn, err := a.namespace.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       out.QueueUrl,
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
	})
	if err != nil {
		return "", err
	}

	b, err := json.Marshal(redrivePolicy{
		DeadLetterTargetArn: arn.Attributes[string(types.QueueAttributeNameQueueArn)],
		MaxReceiveCount:     strconv.Itoa(int(a.cfg.maxDeliveryCount)),
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Close implements the [io.Closer] interface.
func (a *Admin) Close() error {
	return a.lc.Close(nil, nil)
}
