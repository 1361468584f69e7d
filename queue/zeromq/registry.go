// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package zeromq

import "github.com/z5labs/mq/queue"

// Implementation names used in configuration.
const (
	InboundFaFName  = "ZmqInboundFaF"
	OutboundFaFName = "ZmqOutboundFaF"
	InboundRaRName  = "ZmqInboundRaR"
	OutboundRaRName = "ZmqOutboundRaR"
)

// Implementations returns the registry entries of this backend.
func Implementations() []queue.Implementation {
	return []queue.Implementation{
		{Name: InboundFaFName, Role: queue.RoleInboundFaF, NewInboundFaF: queue.InboundFaFOf(NewInboundFaF)},
		{Name: OutboundFaFName, Role: queue.RoleOutboundFaF, NewOutboundFaF: queue.OutboundFaFOf(NewOutboundFaF)},
		{Name: InboundRaRName, Role: queue.RoleInboundRaR, NewInboundRaR: queue.InboundRaROf(NewInboundRaR)},
		{Name: OutboundRaRName, Role: queue.RoleOutboundRaR, NewOutboundRaR: queue.OutboundRaROf(NewOutboundRaR)},
	}
}
