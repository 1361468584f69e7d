// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package mq

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/z5labs/mq/config"

	"github.com/stretchr/testify/require"
)

func TestReadConfig(t *testing.T) {
	t.Run("will apply the defaults", func(t *testing.T) {
		cfg, err := ReadConfig(strings.NewReader("queues: {}"))
		require.NoError(t, err)

		require.Equal(t, config.NoExporterType, cfg.OTel.Trace.Exporter.Type)
		require.Equal(t, config.BatchSpanProcessorType, cfg.OTel.Trace.Processor.Type)
		require.Equal(t, config.PeriodicReaderType, cfg.OTel.Metric.Reader.Type)
		require.Equal(t, 60*time.Second, cfg.OTel.Metric.Reader.Periodic.ExportInterval)
		require.Equal(t, config.BatchLogProcessorType, cfg.OTel.Log.Processor.Type)
		require.Empty(t, cfg.Queues)
	})

	t.Run("will overlay the queues section", func(t *testing.T) {
		cfg, err := ReadConfig(strings.NewReader(`
queues:
  Orders:
    Implementation: RmqInboundFaF
    Address: amqp://localhost:5672
    QueueName: orders
    MaxConcurrentReceiveCallback: 4
`))
		require.NoError(t, err)

		orders := cfg.Queues["Orders"]
		require.Equal(t, "RmqInboundFaF", orders["Implementation"])
		require.Equal(t, "orders", orders["QueueName"])
		require.EqualValues(t, 4, orders["MaxConcurrentReceiveCallback"])
	})

	t.Run("will substitute environment variables", func(t *testing.T) {
		t.Setenv("ORDERS_QUEUE", "orders-eu")

		cfg, err := ReadConfig(strings.NewReader(`
queues:
  Orders:
    Implementation: SqsInboundFaF
    QueueName: {{env "ORDERS_QUEUE"}}
    Address: {{env "ORDERS_ADDRESS" | default "http://localhost:4566"}}
`))
		require.NoError(t, err)
		require.Equal(t, "orders-eu", cfg.Queues["Orders"]["QueueName"])
		require.Equal(t, "http://localhost:4566", cfg.Queues["Orders"]["Address"])
	})

	t.Run("will read log levels", func(t *testing.T) {
		cfg, err := ReadConfig(strings.NewReader(`
otel:
  log:
    levels:
      github.com/z5labs/mq: warn
`))
		require.NoError(t, err)
		require.Equal(t, map[string]string{"github.com/z5labs/mq": "warn"}, cfg.OTel.Log.Levels)
	})
}

func TestConfig_InitializeOTel(t *testing.T) {
	t.Run("will not return an error", func(t *testing.T) {
		t.Run("with the default parameters", func(t *testing.T) {
			cfg, err := ReadConfig(strings.NewReader("queues: {}"))
			require.NoError(t, err)

			shutdown, err := cfg.InitializeOTel(context.Background())
			require.NoError(t, err)
			require.NoError(t, shutdown(context.Background()))
		})
	})
}
