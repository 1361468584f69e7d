// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package rabbitmq

import "log/slog"

// QueueNameAttr returns a slog attribute for the queue name.
func QueueNameAttr(name string) slog.Attr {
	return slog.String("messaging.destination.name", name)
}

// AddressAttr returns a slog attribute for the broker address.
func AddressAttr(addr string) slog.Attr {
	return slog.String("server.address", addr)
}

// ExchangeNameAttr returns a slog attribute for the exchange name.
func ExchangeNameAttr(name string) slog.Attr {
	return slog.String("messaging.rabbitmq.exchange.name", name)
}

// RoutingKeyAttr returns a slog attribute for the routing key.
func RoutingKeyAttr(key string) slog.Attr {
	return slog.String("messaging.rabbitmq.destination.routing_key", key)
}

// DeliveryTagAttr returns a slog attribute for the delivery tag.
func DeliveryTagAttr(tag uint64) slog.Attr {
	return slog.Uint64("messaging.rabbitmq.message.delivery_tag", tag)
}
