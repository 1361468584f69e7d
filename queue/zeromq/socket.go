// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package zeromq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/z5labs/mq/queue"
)

var errUnexpectedSocketType = errors.New("zeromq: unexpected socket type")

var newSocket = map[zmq4.SocketType]func(context.Context, ...zmq4.Option) zmq4.Socket{
	zmq4.Pull:   zmq4.NewPull,
	zmq4.Push:   zmq4.NewPush,
	zmq4.Router: zmq4.NewRouter,
	zmq4.Dealer: zmq4.NewDealer,
}

// socket owns a single native socket. Sends are serialized since zmq4
// sockets are not safe for concurrent writers.
type socket struct {
	sck    zmq4.Socket
	cancel context.CancelFunc

	sendMu sync.Mutex
}

func openSocket(ctx context.Context, log *slog.Logger, typ zmq4.SocketType, ep endpoint, opts ...zmq4.Option) (*socket, error) {
	ctor, ok := newSocket[typ]
	if !ok {
		return nil, queue.NewError(queue.InvalidZeroMqSocketType, fmt.Errorf("%w: %s", errUnexpectedSocketType, typ))
	}

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	opts = append(opts, zmq4.WithDialerRetry(250*time.Millisecond))
	sck := ctor(sctx, opts...)
	if sck.Type() != typ {
		cancel()
		sck.Close()
		return nil, queue.NewError(queue.InvalidZeroMqSocketType, fmt.Errorf("%w: %s", errUnexpectedSocketType, sck.Type()))
	}

	err := sck.SetOption(zmq4.OptionHWM, highWatermark)
	if err != nil {
		log.WarnContext(ctx, "socket does not support a high watermark", slog.Any("error", err))
	}

	if ep.bind {
		err = sck.Listen(ep.addr)
	} else {
		err = sck.Dial(ep.addr)
	}
	if err != nil {
		cancel()
		sck.Close()
		return nil, queue.NewError(queue.FailedToCreateZeroMqSocket, err)
	}

	return &socket{sck: sck, cancel: cancel}, nil
}

func (s *socket) send(msg zmq4.Msg) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.sck.Send(msg)
}

func (s *socket) Close() error {
	err := s.sck.Close()
	s.cancel()
	return err
}

// inbox reads the socket on its own goroutine and holds at most one
// message which has been read but not yet handled.
type inbox struct {
	log *slog.Logger
	ch  chan zmq4.Msg

	closing chan struct{}
	done    chan struct{}

	mu   sync.Mutex
	held *zmq4.Msg
}

func readInto(log *slog.Logger, s *socket) *inbox {
	ib := &inbox{
		log:     log,
		ch:      make(chan zmq4.Msg, 1),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go ib.read(s)
	return ib
}

func (ib *inbox) read(s *socket) {
	defer close(ib.done)

	for {
		msg, err := s.sck.Recv()
		if err != nil {
			select {
			case <-ib.closing:
			default:
				ib.log.Warn("stopped reading from socket", slog.Any("error", err))
			}
			return
		}

		select {
		case <-ib.closing:
			return
		case ib.ch <- msg:
		}
	}
}

// next returns the held message, if any, or waits for the next one.
func (ib *inbox) next(ctx context.Context) (zmq4.Msg, bool) {
	ib.mu.Lock()
	if ib.held != nil {
		msg := *ib.held
		ib.held = nil
		ib.mu.Unlock()
		return msg, true
	}
	ib.mu.Unlock()

	select {
	case <-ctx.Done():
		return zmq4.Msg{}, false
	case <-ib.done:
		return zmq4.Msg{}, false
	case msg := <-ib.ch:
		return msg, true
	}
}

// putBack holds msg so the next call to next returns it.
func (ib *inbox) putBack(msg zmq4.Msg) {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	ib.held = &msg
}

func (ib *inbox) pending() bool {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	return ib.held != nil || len(ib.ch) > 0
}

// closeWith stops reading and closes the socket.
func (ib *inbox) closeWith(s *socket) error {
	close(ib.closing)
	err := s.Close()
	<-ib.done
	return err
}
