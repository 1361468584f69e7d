// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package zeromq

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/z5labs/mq/queue"
)

func inprocAddress() string {
	return "inproc://" + uuid.NewString()
}

func TestParseEndpoint(t *testing.T) {
	testCases := []struct {
		Name string
		Raw  string
		Dir  queue.Direction
		Want endpoint
	}{
		{Name: "bind prefix", Raw: "@tcp://*:5555", Dir: queue.Outbound, Want: endpoint{addr: "tcp://*:5555", bind: true}},
		{Name: "connect prefix", Raw: ">tcp://localhost:5555", Dir: queue.Inbound, Want: endpoint{addr: "tcp://localhost:5555"}},
		{Name: "inbound default", Raw: "tcp://*:5555", Dir: queue.Inbound, Want: endpoint{addr: "tcp://*:5555", bind: true}},
		{Name: "outbound default", Raw: "tcp://localhost:5555", Dir: queue.Outbound, Want: endpoint{addr: "tcp://localhost:5555"}},
	}

	for _, testCase := range testCases {
		t.Run(testCase.Name, func(t *testing.T) {
			require.Equal(t, testCase.Want, parseEndpoint(testCase.Raw, testCase.Dir))
		})
	}
}

func TestNewInboundFaF(t *testing.T) {
	t.Run("will return MissingRequiredConfigurationParameter", func(t *testing.T) {
		t.Run("if the address is missing", func(t *testing.T) {
			_, err := NewInboundFaF(context.Background(), map[string]string{}, queue.NopLogger())
			require.Error(t, err)

			qe, ok := queue.AsError(err)
			require.True(t, ok)
			require.Equal(t, queue.MissingRequiredConfigurationParameter, qe.Code)
			require.Equal(t, queue.AddressConfigKey, qe.Context[queue.ParameterNameKey])
			require.Equal(t, QueueContext, qe.Context[queue.QueueContextKey])
		})
	})

	t.Run("will return NotSupportedConfigurationParameters", func(t *testing.T) {
		t.Run("if a key of another backend is set", func(t *testing.T) {
			_, err := NewInboundFaF(context.Background(), map[string]string{
				"Address":        inprocAddress(),
				"Acknowledgment": "true",
			}, queue.NopLogger())
			require.Error(t, err)
			require.Equal(t, queue.NotSupportedConfigurationParameters, queue.CodeOf(err))
		})
	})
}

func TestFaF(t *testing.T) {
	t.Run("will deliver every message sent", func(t *testing.T) {
		ctx := context.Background()
		addr := inprocAddress()

		in, err := NewInboundFaF(ctx, map[string]string{"Address": addr}, queue.NopLogger())
		require.NoError(t, err)
		defer in.Close()

		out, err := NewOutboundFaF(ctx, map[string]string{"Address": addr}, queue.NopLogger())
		require.NoError(t, err)
		defer out.Close()

		const n = 20
		received := make(chan string, n)
		in.OnMessageReady(queue.MessageHandlerFunc(func(ctx context.Context, m queue.Message) error {
			require.False(t, m.Ack.IsAcknowledgmentConfigured())
			received <- string(m.Body)
			return nil
		}))
		require.NoError(t, in.StartReceivingMessage(ctx))

		var wg sync.WaitGroup
		for i := range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				require.NoError(t, out.SendMessage(ctx, fmt.Appendf(nil, "message-%d", i)))
			}()
		}
		wg.Wait()

		got := make(map[string]bool, n)
		for range n {
			select {
			case body := <-received:
				got[body] = true
			case <-time.After(10 * time.Second):
				t.Fatal("timed out waiting for messages")
			}
		}
		require.Len(t, got, n)
	})

	t.Run("will treat a second start as a no-op", func(t *testing.T) {
		ctx := context.Background()

		in, err := NewInboundFaF(ctx, map[string]string{"Address": inprocAddress()}, queue.NopLogger())
		require.NoError(t, err)
		defer in.Close()

		in.OnMessageReady(queue.MessageHandlerFunc(func(context.Context, queue.Message) error {
			return nil
		}))
		require.NoError(t, in.StartReceivingMessage(ctx))
		require.NoError(t, in.StartReceivingMessage(ctx))

		in.StopReceivingMessage(ctx)
		in.StopReceivingMessage(ctx)
	})

	t.Run("will fail to start without a handler", func(t *testing.T) {
		in, err := NewInboundFaF(context.Background(), map[string]string{"Address": inprocAddress()}, queue.NopLogger())
		require.NoError(t, err)
		defer in.Close()

		err = in.StartReceivingMessage(context.Background())
		require.ErrorIs(t, err, queue.ErrNoHandler)
		require.Equal(t, queue.FailedToStartReceivingMessage, queue.CodeOf(err))
	})

	t.Run("will report a buffered message before receiving starts", func(t *testing.T) {
		ctx := context.Background()
		addr := inprocAddress()

		in, err := NewInboundFaF(ctx, map[string]string{"Address": addr}, queue.NopLogger())
		require.NoError(t, err)
		defer in.Close()

		out, err := NewOutboundFaF(ctx, map[string]string{"Address": addr}, queue.NopLogger())
		require.NoError(t, err)
		defer out.Close()

		require.NoError(t, out.SendMessage(ctx, []byte("hello")))
		require.Eventually(t, func() bool {
			has, err := in.HasMessage(ctx)
			return err == nil && has
		}, 5*time.Second, 10*time.Millisecond)
	})

	t.Run("if the queue is closed", func(t *testing.T) {
		t.Run("will fail to send with MessageQueueIsNotInitialized", func(t *testing.T) {
			ctx := context.Background()
			addr := inprocAddress()

			in, err := NewInboundFaF(ctx, map[string]string{"Address": addr}, queue.NopLogger())
			require.NoError(t, err)
			defer in.Close()

			out, err := NewOutboundFaF(ctx, map[string]string{"Address": addr}, queue.NopLogger())
			require.NoError(t, err)
			require.NoError(t, out.Close())
			require.NoError(t, out.Close())

			err = out.SendMessage(ctx, []byte("late"))
			require.Equal(t, queue.MessageQueueIsNotInitialized, queue.CodeOf(err))
		})
	})
}

func TestRaR(t *testing.T) {
	t.Run("will correlate every response with its request", func(t *testing.T) {
		ctx := context.Background()
		addr := inprocAddress()

		server, err := NewInboundRaR(ctx, map[string]string{"Address": addr}, queue.NopLogger())
		require.NoError(t, err)
		defer server.Close()

		client, err := NewOutboundRaR(ctx, map[string]string{"Address": addr}, queue.NopLogger())
		require.NoError(t, err)
		defer client.Close()

		server.OnRequestReady(queue.RequestHandlerFunc(func(ctx context.Context, r queue.Request) error {
			return r.Respond(ctx, append([]byte("echo:"), r.Body...))
		}))
		require.NoError(t, server.StartReceivingRequest(ctx))

		const n = 10
		responses := make(chan queue.Response, n)
		client.OnResponseReady(queue.ResponseHandlerFunc(func(ctx context.Context, r queue.Response) error {
			responses <- r
			return nil
		}))

		sent := make(map[string]string, n)
		for i := range n {
			body := fmt.Sprintf("request-%d", i)
			id, err := client.SendRequest(ctx, []byte(body))
			require.NoError(t, err)
			sent[id] = body
		}

		for range n {
			select {
			case r := <-responses:
				body, ok := sent[r.CorrelationID]
				require.True(t, ok)
				require.Equal(t, "echo:"+body, string(r.Body))
				delete(sent, r.CorrelationID)
			case <-time.After(10 * time.Second):
				t.Fatal("timed out waiting for responses")
			}
		}
		require.Empty(t, sent)
		require.Zero(t, client.corr.Outstanding())
	})

	t.Run("will reject a second response to the same request", func(t *testing.T) {
		ctx := context.Background()
		addr := inprocAddress()

		server, err := NewInboundRaR(ctx, map[string]string{"Address": addr}, queue.NopLogger())
		require.NoError(t, err)
		defer server.Close()

		client, err := NewOutboundRaR(ctx, map[string]string{"Address": addr}, queue.NopLogger())
		require.NoError(t, err)
		defer client.Close()

		secondErr := make(chan error, 1)
		server.OnRequestReady(queue.RequestHandlerFunc(func(ctx context.Context, r queue.Request) error {
			err := r.Respond(ctx, []byte("first"))
			if err != nil {
				return err
			}
			secondErr <- r.Respond(ctx, []byte("second"))
			return nil
		}))
		require.NoError(t, server.StartReceivingRequest(ctx))

		_, err = client.SendRequest(ctx, []byte("ping"))
		require.NoError(t, err)

		select {
		case err := <-secondErr:
			require.ErrorIs(t, err, queue.ErrAlreadyResponded)
			require.Equal(t, queue.FailedToSendResponseMessage, queue.CodeOf(err))
		case <-time.After(10 * time.Second):
			t.Fatal("timed out waiting for the request")
		}
	})
}

func TestImplementations(t *testing.T) {
	t.Run("will register every role", func(t *testing.T) {
		r := queue.NewRegistry(Implementations()...)
		require.Equal(t, []string{InboundFaFName, InboundRaRName, OutboundFaFName, OutboundRaRName}, r.Names())
	})
}
