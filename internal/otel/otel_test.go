// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package otel

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/z5labs/mq/config"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/sdk/instrumentation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/log/logtest"
)

func otlp(typ config.OTLPConnType) config.Exporter {
	return config.Exporter{
		Type: config.OTLPExporterType,
		OTLP: config.OTLP{Type: typ, Target: "localhost:4317"},
	}
}

func TestInitialize(t *testing.T) {
	t.Run("will install the stdout log exporter", func(t *testing.T) {
		t.Run("if no exporter is configured", func(t *testing.T) {
			ctx := context.Background()

			shutdown, err := Initialize(ctx, config.OTel{
				Log: config.Log{
					Processor: config.LogProcessor{Type: config.SimpleLogProcessorType},
				},
			})
			require.NoError(t, err)
			require.NoError(t, shutdown(ctx))
		})
	})

	t.Run("will return an error", func(t *testing.T) {
		testCases := []struct {
			Name   string
			Config config.OTel
			Assert func(*testing.T, error)
		}{
			{
				Name: "if an unknown otlp conn type is configured for traces",
				Config: config.OTel{
					Trace: config.Trace{
						Processor: config.SpanProcessor{Type: config.BatchSpanProcessorType},
						Exporter:  otlp("unknown"),
					},
				},
				Assert: func(t *testing.T, err error) {
					var uerr UnknownOTLPConnTypeError
					require.ErrorAs(t, err, &uerr)
					require.Equal(t, config.OTLPConnType("unknown"), uerr.Type)
				},
			},
			{
				Name: "if an unknown span processor type is configured",
				Config: config.OTel{
					Trace: config.Trace{
						Processor: config.SpanProcessor{Type: "unknown"},
						Exporter:  otlp(config.OTLPGRPC),
					},
				},
				Assert: func(t *testing.T, err error) {
					var uerr UnknownSpanProcessorTypeError
					require.ErrorAs(t, err, &uerr)
					require.Equal(t, config.SpanProcessorType("unknown"), uerr.Type)
				},
			},
			{
				Name: "if an unknown metric reader type is configured",
				Config: config.OTel{
					Metric: config.Metric{
						Reader:   config.MetricReader{Type: "unknown"},
						Exporter: otlp(config.OTLPGRPC),
					},
				},
				Assert: func(t *testing.T, err error) {
					var uerr UnknownMetricReaderTypeError
					require.ErrorAs(t, err, &uerr)
					require.Equal(t, config.MetricReaderType("unknown"), uerr.Type)
				},
			},
			{
				Name: "if an unknown otlp conn type is configured for logs",
				Config: config.OTel{
					Log: config.Log{
						Processor: config.LogProcessor{Type: config.BatchLogProcessorType},
						Exporter:  otlp("unknown"),
					},
				},
				Assert: func(t *testing.T, err error) {
					var uerr UnknownOTLPConnTypeError
					require.ErrorAs(t, err, &uerr)
				},
			},
			{
				Name: "if an unknown log processor type is configured",
				Config: config.OTel{
					Log: config.Log{
						Processor: config.LogProcessor{Type: "unknown"},
					},
				},
				Assert: func(t *testing.T, err error) {
					var uerr UnknownLogProcessorTypeError
					require.ErrorAs(t, err, &uerr)
					require.Equal(t, config.LogProcessorType("unknown"), uerr.Type)
				},
			},
			{
				Name: "if a log level is unknown",
				Config: config.OTel{
					Log: config.Log{
						Processor: config.LogProcessor{Type: config.SimpleLogProcessorType},
						Levels:    map[string]string{"github.com/z5labs/mq": "verbose"},
					},
				},
				Assert: func(t *testing.T, err error) {
					var uerr UnknownLogLevelError
					require.ErrorAs(t, err, &uerr)
				},
			},
		}

		for _, testCase := range testCases {
			t.Run(testCase.Name, func(t *testing.T) {
				shutdown, err := Initialize(t.Context(), testCase.Config)
				require.Nil(t, shutdown)
				testCase.Assert(t, err)
			})
		}
	})
}

func TestStdoutExporter(t *testing.T) {
	t.Run("will write records as slog records", func(t *testing.T) {
		var buf bytes.Buffer
		exp := newStdoutExporter(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

		r := logtest.RecordFactory{
			Timestamp:            time.Now(),
			Severity:             log.SeverityWarn,
			Body:                 log.StringValue("failed to send reply"),
			InstrumentationScope: &instrumentation.Scope{Name: "github.com/z5labs/mq/queue/rabbitmq"},
			Attributes: []log.KeyValue{
				log.String("messaging.destination.name", "orders"),
				log.Int64("attempt", 2),
			},
		}.NewRecord()

		require.NoError(t, exp.Export(context.Background(), []sdklog.Record{r}))

		var out map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
		require.Equal(t, "WARN", out["level"])
		require.Equal(t, "failed to send reply", out["msg"])
		require.Equal(t, "github.com/z5labs/mq/queue/rabbitmq", out["logger"])
		require.Equal(t, "orders", out["messaging.destination.name"])
		require.Equal(t, float64(2), out["attempt"])
		require.NotContains(t, out, "otel")
	})
}
