// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package sqs

import (
	"log/slog"

	"github.com/z5labs/mq/internal/messaging"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
)

const instrumentationName = "github.com/z5labs/mq/queue/sqs"

func logger(log *slog.Logger) *slog.Logger {
	if log != nil {
		return log
	}
	return otelslog.NewLogger(instrumentationName)
}

func instruments(log *slog.Logger, queueName string) *messaging.Instruments {
	return messaging.New(
		log,
		otel.Tracer(instrumentationName),
		otel.Meter(instrumentationName),
		messaging.Destination{System: "aws_sqs", Name: queueName},
	)
}
