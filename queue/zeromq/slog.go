// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package zeromq

import (
	"log/slog"

	"github.com/go-zeromq/zmq4"
)

// AddressAttr returns a slog attribute for a ZeroMQ endpoint.
func AddressAttr(addr string) slog.Attr {
	return slog.String("server.address", addr)
}

// SocketTypeAttr returns a slog attribute for a ZeroMQ socket type.
func SocketTypeAttr(typ zmq4.SocketType) slog.Attr {
	return slog.String("messaging.zeromq.socket.type", string(typ))
}
