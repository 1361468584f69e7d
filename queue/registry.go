// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package queue

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
)

// Role is the combination of direction and messaging pattern a queue serves.
type Role int

const (
	RoleInboundFaF Role = iota + 1
	RoleOutboundFaF
	RoleInboundRaR
	RoleOutboundRaR
)

// String implements the [fmt.Stringer] interface.
func (r Role) String() string {
	switch r {
	case RoleInboundFaF:
		return "InboundFaF"
	case RoleOutboundFaF:
		return "OutboundFaF"
	case RoleInboundRaR:
		return "InboundRaR"
	case RoleOutboundRaR:
		return "OutboundRaR"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// InstantiationCode returns the code reported when a queue of this role
// cannot be created.
func (r Role) InstantiationCode() Code {
	switch r {
	case RoleOutboundFaF:
		return FailedToInstantiateOutboundFaFMq
	case RoleInboundRaR:
		return FailedToInstantiateInboundRaRMq
	case RoleOutboundRaR:
		return FailedToInstantiateOutboundRaRMq
	default:
		return FailedToInstantiateInboundFaFMq
	}
}

// Direction returns whether the role consumes or produces.
func (r Role) Direction() Direction {
	if r == RoleOutboundFaF || r == RoleOutboundRaR {
		return Outbound
	}
	return Inbound
}

// Implementation binds an implementation name, as used in configuration, to
// the constructor of a single role. Exactly the constructor matching Role
// must be set.
type Implementation struct {
	Name string
	Role Role

	NewInboundFaF  Constructor[InboundFaF]
	NewOutboundFaF Constructor[OutboundFaF]
	NewInboundRaR  Constructor[InboundRaR]
	NewOutboundRaR Constructor[OutboundRaR]
}

func (impl Implementation) validate() error {
	if impl.Name == "" {
		return fmt.Errorf("queue: implementation name must not be empty")
	}

	set := map[Role]bool{
		RoleInboundFaF:  impl.NewInboundFaF != nil,
		RoleOutboundFaF: impl.NewOutboundFaF != nil,
		RoleInboundRaR:  impl.NewInboundRaR != nil,
		RoleOutboundRaR: impl.NewOutboundRaR != nil,
	}
	if _, ok := set[impl.Role]; !ok {
		return fmt.Errorf("queue: implementation %s has unknown role %s", impl.Name, impl.Role)
	}
	for role, ok := range set {
		if ok != (role == impl.Role) {
			return fmt.Errorf("queue: implementation %s must only set the constructor for %s", impl.Name, impl.Role)
		}
	}
	return nil
}

// Registry is an immutable set of [Implementation]s keyed by name.
type Registry struct {
	impls map[string]Implementation
}

// NewRegistry initializes a [Registry]. It panics if two implementations
// share a name or an implementation does not set exactly the constructor
// for its role.
func NewRegistry(impls ...Implementation) *Registry {
	r := &Registry{
		impls: make(map[string]Implementation, len(impls)),
	}
	for _, impl := range impls {
		err := impl.validate()
		if err != nil {
			panic(err)
		}
		if _, exists := r.impls[impl.Name]; exists {
			panic(fmt.Sprintf("queue: implementation %s registered more than once", impl.Name))
		}
		r.impls[impl.Name] = impl
	}
	return r
}

// Names returns every registered implementation name in sorted order.
func (r *Registry) Names() []string {
	return slices.Sorted(maps.Keys(r.impls))
}

// Resolve looks up the implementation registered under name for role.
func (r *Registry) Resolve(name string, role Role) (Implementation, error) {
	impl, ok := r.impls[name]
	if !ok {
		return Implementation{}, NewError(role.InstantiationCode(), ErrUnknownImplementation, ImplementationKey, name)
	}
	if impl.Role != role {
		return Implementation{}, NewError(role.InstantiationCode(), ErrRoleMismatch, ImplementationKey, name)
	}
	return impl, nil
}

// Constructor is the signature every backend constructor shares.
type Constructor[Q any] func(context.Context, map[string]string, *slog.Logger) (Q, error)

func adapt[Q any, R any](f Constructor[Q], conv func(Q) R) Constructor[R] {
	return func(ctx context.Context, cfg map[string]string, log *slog.Logger) (R, error) {
		q, err := f(ctx, cfg, log)
		if err != nil {
			var zero R
			return zero, err
		}
		return conv(q), nil
	}
}

// InboundFaFOf adapts a constructor of a concrete queue type so that a
// failed construction yields a nil interface.
func InboundFaFOf[Q InboundFaF](f Constructor[Q]) Constructor[InboundFaF] {
	return adapt(f, func(q Q) InboundFaF { return q })
}

// OutboundFaFOf is [InboundFaFOf] for [OutboundFaF].
func OutboundFaFOf[Q OutboundFaF](f Constructor[Q]) Constructor[OutboundFaF] {
	return adapt(f, func(q Q) OutboundFaF { return q })
}

// InboundRaROf is [InboundFaFOf] for [InboundRaR].
func InboundRaROf[Q InboundRaR](f Constructor[Q]) Constructor[InboundRaR] {
	return adapt(f, func(q Q) InboundRaR { return q })
}

// OutboundRaROf is [InboundFaFOf] for [OutboundRaR].
func OutboundRaROf[Q OutboundRaR](f Constructor[Q]) Constructor[OutboundRaR] {
	return adapt(f, func(q Q) OutboundRaR { return q })
}
