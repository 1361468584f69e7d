// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package queue

import (
	"context"
	"log/slog"
	"sync"
)

// State is the lifecycle state of a queue.
type State int

const (
	StateUninitialized State = iota
	StateIdle
	StateReceiving
	StateDisposed
)

// String implements the [fmt.Stringer] interface.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateReceiving:
		return "Receiving"
	case StateDisposed:
		return "Disposed"
	default:
		return "Uninitialized"
	}
}

// Lifecycle guards the state transitions shared by every backend.
//
// Start and Stop are idempotent. Close runs exactly once, waits for in-flight
// handlers to return and then releases native resources.
type Lifecycle struct {
	log *slog.Logger
	kvs []string

	mu       sync.Mutex
	state    State
	cancel   context.CancelFunc
	stopCode Code
	inflight sync.WaitGroup
	loops    sync.WaitGroup
	closeErr error
}

// NewLifecycle initializes a [Lifecycle] in the Uninitialized state. The kvs
// are added to the context of every error the lifecycle produces.
func NewLifecycle(log *slog.Logger, kvs ...string) *Lifecycle {
	return &Lifecycle{
		log: LoggerOrNop(log),
		kvs: kvs,
	}
}

// Context returns the error context key/value pairs of the queue.
func (l *Lifecycle) Context() []string {
	return l.kvs
}

// Error initializes an [Error] carrying the queue context.
func (l *Lifecycle) Error(code Code, cause error, kvs ...string) *Error {
	return NewError(code, cause, append(kvs, l.kvs...)...)
}

// Wrap is [Wrap] with the queue context.
func (l *Lifecycle) Wrap(err error, code Code, kvs ...string) *Error {
	return Wrap(err, code, append(kvs, l.kvs...)...)
}

// Initialized moves an Uninitialized queue to Idle.
func (l *Lifecycle) Initialized() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StateUninitialized {
		l.state = StateIdle
	}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// RequireInitialized returns MessageQueueIsNotInitialized unless the queue is
// Idle or Receiving.
func (l *Lifecycle) RequireInitialized() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.requireInitialized()
}

func (l *Lifecycle) requireInitialized() error {
	if l.state == StateIdle || l.state == StateReceiving {
		return nil
	}
	return l.Error(MessageQueueIsNotInitialized, nil)
}

// Start moves an Idle queue to Receiving by calling fn. The context given to fn
// stays alive until the queue stops receiving. Starting a queue which is
// already receiving does nothing. Any error returned by fn is wrapped with code.
func (l *Lifecycle) Start(ctx context.Context, code Code, fn func(context.Context) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.requireInitialized()
	if err != nil {
		return err
	}
	if l.state == StateReceiving {
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	err = fn(loopCtx)
	if err != nil {
		cancel()
		return l.Wrap(err, code)
	}

	l.cancel = cancel
	l.stopCode = stopCodeFor(code)
	l.state = StateReceiving
	return nil
}

// stopCodeFor returns the code reported by Close when stopping a queue
// started with code fails.
func stopCodeFor(code Code) Code {
	if code == FailedToStartReceivingRequest {
		return FailedToStopReceivingRequest
	}
	return FailedToStopReceivingMessage
}

// Stop moves a Receiving queue back to Idle by calling fn. Stopping a queue
// which is not receiving does nothing. Errors are logged with code, never
// returned.
func (l *Lifecycle) Stop(ctx context.Context, code Code, fn func(context.Context) error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateReceiving {
		return
	}
	l.stop(ctx, code, fn)
	l.state = StateIdle
}

func (l *Lifecycle) stop(ctx context.Context, code Code, fn func(context.Context) error) {
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	if fn == nil {
		return
	}
	err := fn(ctx)
	if err != nil {
		LogError(ctx, l.log, l.Wrap(err, code))
	}
}

// Go runs a background goroutine, typically a receive loop started from the
// fn passed to Start. Close waits for every goroutine after releasing native
// resources, so f must return once those are released.
func (l *Lifecycle) Go(f func()) {
	l.loops.Add(1)
	go func() {
		defer l.loops.Done()
		f()
	}()
}

// Begin registers an in-flight handler invocation. It reports false if the
// queue is no longer receiving, in which case the delivery must not be handed
// to the handler. The returned func must be called once the handler returns.
func (l *Lifecycle) Begin() (done func(), ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateReceiving {
		return nil, false
	}
	l.inflight.Add(1)
	return l.inflight.Done, true
}

// Close disposes the queue. It stops receiving using stop, waits for in-flight
// handlers and then calls release. Subsequent calls return the first result.
// A stop failure is logged with the stop code matching the code given to Start.
func (l *Lifecycle) Close(stop func(context.Context) error, release func() error) error {
	l.mu.Lock()
	if l.state == StateDisposed {
		err := l.closeErr
		l.mu.Unlock()
		return err
	}
	if l.state == StateReceiving {
		l.stop(context.Background(), l.stopCode, stop)
	}
	l.state = StateDisposed
	l.mu.Unlock()

	l.inflight.Wait()

	var err error
	if release != nil {
		err = release()
	}
	l.loops.Wait()

	l.mu.Lock()
	l.closeErr = err
	l.mu.Unlock()
	return err
}
