// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/z5labs/mq"
)

// Order is received on the Orders queue.
type Order struct {
	ID      string   `json:"id"`
	Items   []string `json:"items"`
	Address string   `json:"address"`
}

// Shipment is published to the Shipments queue for every valid order.
type Shipment struct {
	OrderID string   `json:"order_id"`
	Items   []string `json:"items"`
	Address string   `json:"address"`
}

type shipmentSender interface {
	SendMessage(context.Context, Shipment) error
}

// Processor turns orders into shipments.
//
// An order is acknowledged only once its shipment is published. A failed
// publish abandons the order so the broker redelivers it. Invalid orders
// are acknowledged and dropped since a retry would fail the same way.
type Processor struct {
	log       *slog.Logger
	shipments shipmentSender
}

// NewProcessor
func NewProcessor(shipments shipmentSender) *Processor {
	return &Processor{
		log:       mq.Logger("github.com/z5labs/mq/example/fulfillment/app"),
		shipments: shipments,
	}
}

// HandleMessage implements the [mq.MessageHandler] interface.
func (p *Processor) HandleMessage(ctx context.Context, m mq.Message[Order]) error {
	order := m.Body

	err := validate(order)
	if err != nil {
		p.log.WarnContext(ctx, "dropping invalid order", slog.String("order_id", order.ID), slog.Any("error", err))
		return m.Ack.Acknowledge(ctx)
	}

	err = p.shipments.SendMessage(ctx, Shipment{
		OrderID: order.ID,
		Items:   order.Items,
		Address: order.Address,
	})
	if err != nil {
		m.Ack.TryAbandonAcknowledgment(ctx)
		return err
	}

	p.log.InfoContext(ctx, "order shipped", slog.String("order_id", order.ID))
	return m.Ack.Acknowledge(ctx)
}

var (
	errMissingID      = errors.New("order has no id")
	errNoItems        = errors.New("order has no items")
	errMissingAddress = errors.New("order has no shipping address")
)

func validate(o Order) error {
	switch {
	case o.ID == "":
		return errMissingID
	case len(o.Items) == 0:
		return errNoItems
	case o.Address == "":
		return errMissingAddress
	}
	return nil
}
