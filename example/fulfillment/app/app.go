// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package app consumes orders from RabbitMQ and publishes a shipment for
// each of them to Kafka.
package app

import (
	"context"
	"errors"

	"github.com/z5labs/mq"
	"github.com/z5labs/mq/queue"
)

// Init resolves the Orders and Shipments queues and wires the processor
// between them.
func Init(ctx context.Context, _ mq.Config, p queue.ConfigurationProvider) ([]mq.Receiver, error) {
	shipments, err := mq.NewOutboundFaF[Shipment](ctx, p, "Shipments")
	if err != nil {
		return nil, err
	}

	orders, err := mq.NewInboundFaF[Order](ctx, p, "Orders")
	if err != nil {
		return nil, errors.Join(err, shipments.Close())
	}
	orders.OnMessageReady(NewProcessor(shipments))

	// shipments stays open until every in-flight order is handled
	return []mq.Receiver{mq.Sender(shipments), mq.Messages(orders)}, nil
}
