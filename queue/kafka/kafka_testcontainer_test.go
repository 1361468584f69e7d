//go:build testcontainers

// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/z5labs/mq/queue"
)

// setupKafkaContainer starts a single KRaft broker on the host network and
// returns its address.
func setupKafkaContainer(t *testing.T) string {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image: "docker.io/apache/kafka-native:latest",
		HostConfigModifier: func(hc *container.HostConfig) {
			hc.NetworkMode = "host"
		},
		User: "root",
		Env: map[string]string{
			"KAFKA_NODE_ID":                   "1",
			"KAFKA_PROCESS_ROLES":             "broker,controller",
			"KAFKA_CONTROLLER_QUORUM_VOTERS":  "1@localhost:9093",
			"KAFKA_CONTROLLER_LISTENER_NAMES": "CONTROLLER",

			"KAFKA_LISTENERS":                      "PLAINTEXT://0.0.0.0:9092,CONTROLLER://0.0.0.0:9093",
			"KAFKA_ADVERTISED_LISTENERS":           "PLAINTEXT://localhost:9092",
			"KAFKA_LISTENER_SECURITY_PROTOCOL_MAP": "PLAINTEXT:PLAINTEXT,CONTROLLER:PLAINTEXT",
			"KAFKA_INTER_BROKER_LISTENER_NAME":     "PLAINTEXT",

			"KAFKA_LOG_DIRS":   "/var/lib/kafka/data",
			"KAFKA_CLUSTER_ID": "WmV3pZkQR0O6n5j3x8j6bg==",

			"KAFKA_OFFSETS_TOPIC_REPLICATION_FACTOR":         "1",
			"KAFKA_TRANSACTION_STATE_LOG_REPLICATION_FACTOR": "1",
			"KAFKA_TRANSACTION_STATE_LOG_MIN_ISR":            "1",
			"KAFKA_GROUP_INITIAL_REBALANCE_DELAY_MS":         "0",
			"KAFKA_AUTO_CREATE_TOPICS_ENABLE":                "false",
		},
		WaitingFor: wait.ForLog("Kafka Server started").WithStartupTimeout(60 * time.Second),
	}

	kafkaContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start Kafka container")

	t.Cleanup(func() {
		if err := kafkaContainer.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate Kafka container: %v", err)
		}
	})

	return "localhost:9092"
}

func topicConfig(broker, topic string) map[string]string {
	return map[string]string{
		"Address":    broker,
		"QueueName":  topic,
		"Partitions": "2",
	}
}

// createTopic creates topic through the admin and waits for it to be listed.
func createTopic(t *testing.T, broker, topic string) {
	t.Helper()

	ctx := context.Background()
	admin, err := NewAdmin(ctx, topicConfig(broker, topic), queue.NopLogger())
	require.NoError(t, err)
	defer admin.Close()

	require.NoError(t, admin.CreateQueue(ctx))
	require.Eventually(t, func() bool {
		ok, err := admin.QueueExists(ctx)
		return err == nil && ok
	}, 10*time.Second, 100*time.Millisecond)
}

func TestKafka_Testcontainers(t *testing.T) {
	broker := setupKafkaContainer(t)

	t.Run("will return QueueDoesNotExist", func(t *testing.T) {
		t.Run("if the topic was never created", func(t *testing.T) {
			raw := topicConfig(broker, "missing")
			delete(raw, "Partitions")

			_, err := NewOutboundFaF(context.Background(), raw, queue.NopLogger())
			require.Equal(t, queue.QueueDoesNotExist, queue.CodeOf(err))
		})
	})

	t.Run("will deliver sent messages to the group", func(t *testing.T) {
		ctx := context.Background()
		topic := "orders"
		createTopic(t, broker, topic)

		out, err := NewOutboundFaF(ctx, topicConfig(broker, topic), queue.NopLogger())
		require.NoError(t, err)
		defer out.Close()

		inCfg := topicConfig(broker, topic)
		inCfg["GroupId"] = "billing"
		inCfg["Acknowledgment"] = "true"
		inCfg["MaxConcurrentReceiveCallback"] = "2"
		in, err := NewInboundFaF(ctx, inCfg, queue.NopLogger())
		require.NoError(t, err)
		defer in.Close()

		received := make(chan string, 10)
		in.OnMessageReady(messageHandlerFunc(func(ctx context.Context, msg queue.Message) error {
			received <- string(msg.Body)
			return msg.Ack.Acknowledge(ctx)
		}))
		require.NoError(t, in.StartReceivingMessage(ctx))

		for i := range 3 {
			require.NoError(t, out.SendMessage(ctx, []byte(fmt.Sprintf("order-%d", i))))
		}

		got := map[string]bool{}
		for range 3 {
			select {
			case body := <-received:
				got[body] = true
			case <-time.After(30 * time.Second):
				t.Fatal("timed out waiting for messages")
			}
		}
		require.Equal(t, map[string]bool{"order-0": true, "order-1": true, "order-2": true}, got)

		require.Eventually(t, func() bool {
			ok, err := in.HasMessage(ctx)
			return err == nil && !ok
		}, 10*time.Second, 200*time.Millisecond)
	})

	t.Run("will redeliver an abandoned message", func(t *testing.T) {
		ctx := context.Background()
		topic := "payments"
		createTopic(t, broker, topic)

		out, err := NewOutboundFaF(ctx, topicConfig(broker, topic), queue.NopLogger())
		require.NoError(t, err)
		defer out.Close()

		inCfg := topicConfig(broker, topic)
		inCfg["GroupId"] = "ledger"
		inCfg["Acknowledgment"] = "true"
		in, err := NewInboundFaF(ctx, inCfg, queue.NopLogger())
		require.NoError(t, err)
		defer in.Close()

		deliveries := make(chan string, 10)
		attempts := 0
		in.OnMessageReady(messageHandlerFunc(func(ctx context.Context, msg queue.Message) error {
			attempts++
			deliveries <- string(msg.Body)
			if attempts == 1 {
				return msg.Ack.AbandonAcknowledgment(ctx)
			}
			return msg.Ack.Acknowledge(ctx)
		}))
		require.NoError(t, in.StartReceivingMessage(ctx))
		require.NoError(t, out.SendMessage(ctx, []byte("payment-1")))

		for range 2 {
			select {
			case body := <-deliveries:
				require.Equal(t, "payment-1", body)
			case <-time.After(30 * time.Second):
				t.Fatal("timed out waiting for redelivery")
			}
		}
	})

	t.Run("will reject sends once closed", func(t *testing.T) {
		ctx := context.Background()
		topic := "refunds"
		createTopic(t, broker, topic)

		out, err := NewOutboundFaF(ctx, topicConfig(broker, topic), queue.NopLogger())
		require.NoError(t, err)
		require.NoError(t, out.Close())

		err = out.SendMessage(ctx, []byte("refund"))
		require.Equal(t, queue.MessageQueueIsNotInitialized, queue.CodeOf(err))
	})
}
