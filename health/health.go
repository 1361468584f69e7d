// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package health composes checks of queue state into a single verdict.
package health

import (
	"context"
	"errors"
	"sync/atomic"
)

// Monitor reports whether the thing it watches is in the desired state.
type Monitor interface {
	Healthy(context.Context) (bool, error)
}

// MonitorFunc is an adapter to allow the use of ordinary functions as [Monitor]s.
type MonitorFunc func(context.Context) (bool, error)

// Healthy implements the [Monitor] interface.
func (f MonitorFunc) Healthy(ctx context.Context) (bool, error) {
	return f(ctx)
}

// Binary is a [Monitor] flipped explicitly by its owner. It is safe for
// concurrent use and the zero value is unhealthy.
type Binary struct {
	healthy atomic.Bool
}

// MarkUnhealthy
func (b *Binary) MarkUnhealthy() {
	b.healthy.Store(false)
}

// MarkHealthy
func (b *Binary) MarkHealthy() {
	b.healthy.Store(true)
}

// Healthy implements the [Monitor] interface.
func (b *Binary) Healthy(context.Context) (bool, error) {
	return b.healthy.Load(), nil
}

// Backlog is implemented by inbound queues.
type Backlog interface {
	HasMessage(context.Context) (bool, error)
}

// Empty is healthy once q reports no waiting messages.
func Empty(q Backlog) Monitor {
	return MonitorFunc(func(ctx context.Context) (bool, error) {
		has, err := q.HasMessage(ctx)
		if err != nil {
			return false, err
		}
		return !has, nil
	})
}

// AndMonitor is healthy when every monitor is. It stops at the first
// unhealthy monitor or error.
type AndMonitor []Monitor

// And
func And(ms ...Monitor) AndMonitor {
	return AndMonitor(ms)
}

// Healthy implements the [Monitor] interface.
func (am AndMonitor) Healthy(ctx context.Context) (bool, error) {
	for _, m := range am {
		healthy, err := m.Healthy(ctx)
		if !healthy || err != nil {
			return false, err
		}
	}
	return true, nil
}

// OrMonitor is healthy when any monitor is. Errors of the monitors
// checked before a healthy one are dropped, otherwise they are joined.
type OrMonitor []Monitor

// Or
func Or(ms ...Monitor) OrMonitor {
	return OrMonitor(ms)
}

// Healthy implements the [Monitor] interface.
func (om OrMonitor) Healthy(ctx context.Context) (bool, error) {
	var errs []error
	for _, m := range om {
		healthy, err := m.Healthy(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if healthy {
			return true, nil
		}
	}
	return false, errors.Join(errs...)
}
