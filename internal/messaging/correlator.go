// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/z5labs/mq/queue"
	"github.com/z5labs/mq/queue/correlation"
)

// Correlator matches replies to the requests sent by an OutboundRaR queue.
type Correlator struct {
	in *Instruments
	lc *queue.Lifecycle

	handlers Slot[queue.ResponseHandler]

	mu     sync.Mutex
	table  *correlation.Table
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCorrelator initializes a [Correlator] whose requests never expire.
func NewCorrelator(in *Instruments, lc *queue.Lifecycle) *Correlator {
	c := &Correlator{
		in: in,
		lc: lc,
	}
	c.ExpireRequestsAfter(0)
	return c
}

// ExpireRequestsAfter replaces the outstanding request table with one
// whose entries expire after ttl.
func (c *Correlator) ExpireRequestsAfter(ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stop()

	c.table = correlation.NewTable(
		correlation.WithTTL(ttl),
		correlation.WithOnExpire(func(id string) {
			c.in.log.Warn("request expired before a response was received", CorrelationIDAttr(id))
		}),
	)
	if ttl <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(1)
	go func(t *correlation.Table) {
		defer c.wg.Done()
		t.Run(ctx)
	}(c.table)
}

func (c *Correlator) stop() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.wg.Wait()
}

func (c *Correlator) current() *correlation.Table {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.table
}

// OnResponseReady registers the single response handler.
func (c *Correlator) OnResponseReady(h queue.ResponseHandler) {
	c.handlers.Set(h)
}

// Track records a new outstanding request and returns its correlation id.
func (c *Correlator) Track() string {
	return c.current().Track()
}

// Forget drops a request which could not be sent.
func (c *Correlator) Forget(id string) {
	c.current().Resolve(id)
}

// Outstanding returns the number of requests still awaiting a reply.
func (c *Correlator) Outstanding() int {
	return c.current().Len()
}

// Deliver hands a reply to the registered handler if its correlation id is
// outstanding. Unknown, late or duplicate replies are discarded.
func (c *Correlator) Deliver(ctx context.Context, correlationID string, body []byte) {
	if !c.current().Resolve(correlationID) {
		c.in.log.DebugContext(ctx, "discarding reply with unknown correlation id", CorrelationIDAttr(correlationID))
		return
	}

	h, ok := c.handlers.Get()
	if !ok {
		c.in.log.DebugContext(ctx, "discarding reply received before a handler was registered", CorrelationIDAttr(correlationID))
		return
	}

	c.in.HandleResponse(ctx, c.lc, h, queue.Response{
		Body:          body,
		CorrelationID: correlationID,
	})
}

// Close stops expiring requests and forgets every outstanding one.
func (c *Correlator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stop()
	return c.table.Close()
}

// CorrelationIDAttr returns a slog attribute for a request correlation id.
func CorrelationIDAttr(id string) slog.Attr {
	return slog.String("messaging.message.conversation_id", id)
}
