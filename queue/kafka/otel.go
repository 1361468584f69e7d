// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"log/slog"

	"github.com/z5labs/mq/internal/messaging"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
)

const instrumentationName = "github.com/z5labs/mq/queue/kafka"

func logger(log *slog.Logger) *slog.Logger {
	if log != nil {
		return log
	}
	return otelslog.NewLogger(instrumentationName)
}

func instruments(log *slog.Logger, topic string) *messaging.Instruments {
	return messaging.New(
		log,
		otel.Tracer(instrumentationName),
		otel.Meter(instrumentationName),
		messaging.Destination{System: "kafka", Name: topic},
	)
}

// hooks traces and measures every request the client makes to the brokers.
func hooks(groupID string) kgo.Opt {
	tracerOpts := []kotel.TracerOpt{
		kotel.TracerProvider(otel.GetTracerProvider()),
		kotel.TracerPropagator(otel.GetTextMapPropagator()),
		kotel.LinkSpans(),
	}
	if groupID != "" {
		tracerOpts = append(tracerOpts, kotel.ConsumerGroup(groupID))
	}

	return kgo.WithHooks(
		kotel.NewTracer(tracerOpts...),
		kotel.NewMeter(
			kotel.MeterProvider(otel.GetMeterProvider()),
			kotel.WithMergedConnectsMeter(),
		),
	)
}
