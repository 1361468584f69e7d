// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package nats

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	natsio "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// conn owns a single server connection and re-opens it once it has been
// closed for good. Transient disconnects are handled by the client itself.
type conn struct {
	log  *slog.Logger
	url  string
	opts []natsio.Option

	mu     sync.Mutex
	nc     *natsio.Conn
	js     jetstream.JetStream
	closed bool
}

// dial connects to the server. The password is dropped from cfg once it has
// been handed to the client options.
func dial(log *slog.Logger, cfg *config) (*conn, error) {
	c := &conn{
		log: log,
		url: cfg.url,
		opts: []natsio.Option{
			natsio.Name(instrumentationName),
			natsio.Timeout(cfg.connectionTimeout),
			natsio.MaxReconnects(-1),
			natsio.ReconnectWait(reconnectWait),
			natsio.DisconnectErrHandler(func(_ *natsio.Conn, err error) {
				if err != nil {
					log.Warn("disconnected from server", AddressAttr(cfg.address()), slog.Any("error", err))
				}
			}),
			natsio.ReconnectHandler(func(nc *natsio.Conn) {
				log.Info("reconnected to server", AddressAttr(nc.ConnectedUrlRedacted()))
			}),
		},
	}
	if cfg.userName != "" {
		c.opts = append(c.opts, natsio.UserInfo(cfg.userName, cfg.password))
	}
	cfg.password = ""

	err := c.open()
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (c *conn) open() error {
	nc, err := natsio.Connect(c.url, c.opts...)
	if err != nil {
		return err
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return err
	}
	c.nc = nc
	c.js = js
	return nil
}

func (c *conn) current() (*natsio.Conn, jetstream.JetStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, nil, natsio.ErrConnectionClosed
	}
	if c.nc != nil && !c.nc.IsClosed() {
		return c.nc, c.js, nil
	}
	err := c.open()
	if err != nil {
		return nil, nil, err
	}
	c.log.Info("re-opened closed connection")
	return c.nc, c.js, nil
}

// ensureStream looks up the stream and creates it with work queue retention
// when it does not exist yet.
func (c *conn) ensureStream(ctx context.Context, cfg config) (jetstream.Stream, error) {
	_, js, err := c.current()
	if err != nil {
		return nil, err
	}

	s, err := js.Stream(ctx, cfg.streamName())
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return nil, err
	}

	storage := jetstream.MemoryStorage
	if cfg.durable {
		storage = jetstream.FileStorage
	}
	return js.CreateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.streamName(),
		Subjects:  []string{cfg.subject},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   storage,
	})
}

// messageCount is the number of messages held by the stream, acknowledged
// messages being removed by work queue retention.
func (c *conn) messageCount(ctx context.Context, name string) (uint64, error) {
	_, js, err := c.current()
	if err != nil {
		return 0, err
	}
	s, err := js.Stream(ctx, name)
	if err != nil {
		return 0, err
	}
	return s.CachedInfo().State.Msgs, nil
}

// publish stores msg in its stream. A closed connection is re-opened once.
func (c *conn) publish(ctx context.Context, msg *natsio.Msg) error {
	for attempt := 0; ; attempt++ {
		_, js, err := c.current()
		if err != nil {
			return err
		}
		_, err = js.PublishMsg(ctx, msg)
		if attempt == 0 && errors.Is(err, natsio.ErrConnectionClosed) {
			continue
		}
		return err
	}
}

// reply publishes msg on core NATS without persistence.
func (c *conn) reply(msg *natsio.Msg) error {
	for attempt := 0; ; attempt++ {
		nc, _, err := c.current()
		if err != nil {
			return err
		}
		err = nc.PublishMsg(msg)
		if attempt == 0 && errors.Is(err, natsio.ErrConnectionClosed) {
			continue
		}
		return err
	}
}

func (c *conn) subscribe(subject string, cb natsio.MsgHandler) (*natsio.Subscription, error) {
	nc, _, err := c.current()
	if err != nil {
		return nil, err
	}
	return nc.Subscribe(subject, cb)
}

// Close implements the [io.Closer] interface.
func (c *conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.nc == nil {
		return nil
	}
	c.nc.Close()
	c.nc = nil
	c.js = nil
	return nil
}
