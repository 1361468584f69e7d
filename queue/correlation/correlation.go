// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package correlation tracks outstanding requests until their response
// arrives or they expire.
package correlation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/z5labs/mq/concurrent"
)

// Options are configurable parameters of a [Table].
type Options struct {
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
	onExpire func(id string)
}

// Option sets a value on [Options].
type Option interface {
	ApplyOption(*Options)
}

type optionFunc func(*Options)

func (f optionFunc) ApplyOption(o *Options) {
	f(o)
}

// WithTTL sets how long a request stays outstanding. Zero, the default,
// means requests never expire.
func WithTTL(d time.Duration) Option {
	return optionFunc(func(o *Options) {
		o.ttl = d
	})
}

// WithSweepInterval sets how often [Table.Run] removes expired requests.
// It defaults to a tenth of the TTL with a floor of one second.
func WithSweepInterval(d time.Duration) Option {
	return optionFunc(func(o *Options) {
		o.interval = d
	})
}

// WithClock overrides the source of the current time.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(o *Options) {
		o.now = now
	})
}

// WithOnExpire registers a callback invoked for every expired request.
func WithOnExpire(f func(id string)) Option {
	return optionFunc(func(o *Options) {
		o.onExpire = f
	})
}

// Table is the set of outstanding request correlation ids.
type Table struct {
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
	onExpire func(string)

	entries *concurrent.Cache[string, time.Time]
}

// NewTable initializes a [Table].
func NewTable(opts ...Option) *Table {
	o := &Options{
		now: time.Now,
	}
	for _, opt := range opts {
		opt.ApplyOption(o)
	}

	interval := o.interval
	if interval <= 0 {
		interval = max(o.ttl/10, time.Second)
	}

	return &Table{
		ttl:      o.ttl,
		interval: interval,
		now:      o.now,
		onExpire: o.onExpire,
		entries:  concurrent.NewCache[string, time.Time](),
	}
}

// Track generates a new correlation id and records it as outstanding.
func (t *Table) Track() string {
	id := uuid.NewString()

	var deadline time.Time
	if t.ttl > 0 {
		deadline = t.now().Add(t.ttl)
	}
	t.entries.Set(id, deadline)
	return id
}

// Resolve removes id and reports whether it was outstanding. Each id
// resolves at most once.
func (t *Table) Resolve(id string) bool {
	_, ok := t.entries.LoadAndDelete(id)
	return ok
}

// Len returns the number of outstanding requests.
func (t *Table) Len() int {
	return t.entries.Len()
}

// Sweep removes every request whose deadline is before now and returns how
// many were removed.
func (t *Table) Sweep(now time.Time) int {
	expired := t.entries.DeleteFunc(func(_ string, deadline time.Time) bool {
		return !deadline.IsZero() && deadline.Before(now)
	})
	if t.onExpire != nil {
		for _, id := range expired {
			t.onExpire(id)
		}
	}
	return len(expired)
}

// Run sweeps expired requests periodically until ctx is done. It returns
// immediately if requests never expire.
func (t *Table) Run(ctx context.Context) {
	if t.ttl <= 0 {
		return
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep(t.now())
		}
	}
}

// Close forgets every outstanding request.
func (t *Table) Close() error {
	t.entries.Clear()
	return nil
}
