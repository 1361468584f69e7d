// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package mq provides transport agnostic message queues resolved from
// symbolic configuration identifiers.
//
// A queue is requested by role and identifier:
//
//	q, err := mq.NewInboundFaF[Order](ctx, provider.Env("MQ"), "Orders")
//
// The configuration behind "Orders" names the backend through its
// Implementation key, for example RmqInboundFaF, and carries the backend
// specific settings. Payloads are serialized as JSON unless another [Codec]
// is supplied.
package mq

import (
	"log/slog"

	"go.opentelemetry.io/contrib/bridges/otelslog"
)

// Logger returns a [slog.Logger] which forwards records to the global
// OpenTelemetry logger provider.
func Logger(name string) *slog.Logger {
	return otelslog.NewLogger(name)
}
