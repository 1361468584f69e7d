// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package mq

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/z5labs/mq/queue"
	"github.com/z5labs/mq/queue/kafka"
	"github.com/z5labs/mq/queue/nats"
	"github.com/z5labs/mq/queue/rabbitmq"
	"github.com/z5labs/mq/queue/sqs"
	"github.com/z5labs/mq/queue/zeromq"
)

// DefaultRequestTTL is how long an outbound request waits for its response
// unless overridden with [WithRequestTTL].
const DefaultRequestTTL = 5 * time.Minute

var (
	defaultRegistryOnce sync.Once
	defaultRegistry     *queue.Registry
)

// DefaultRegistry returns the [queue.Registry] containing every built-in backend.
func DefaultRegistry() *queue.Registry {
	defaultRegistryOnce.Do(func() {
		var impls []queue.Implementation
		impls = append(impls, rabbitmq.Implementations()...)
		impls = append(impls, sqs.Implementations()...)
		impls = append(impls, zeromq.Implementations()...)
		impls = append(impls, nats.Implementations()...)
		impls = append(impls, kafka.Implementations()...)
		defaultRegistry = queue.NewRegistry(impls...)
	})
	return defaultRegistry
}

// Options are configurable parameters of the queue factory functions.
type Options struct {
	registry   *queue.Registry
	log        *slog.Logger
	codec      Codec
	requestTTL time.Duration
}

// Option sets a value on [Options].
type Option interface {
	ApplyOption(*Options)
}

type optionFunc func(*Options)

func (f optionFunc) ApplyOption(o *Options) {
	f(o)
}

// WithRegistry sets the [queue.Registry] implementations are resolved from.
func WithRegistry(r *queue.Registry) Option {
	return optionFunc(func(o *Options) {
		o.registry = r
	})
}

// WithLogger sets the logger used by the factory and handed to the backend.
func WithLogger(log *slog.Logger) Option {
	return optionFunc(func(o *Options) {
		o.log = log
	})
}

// WithCodec sets the [Codec] used for payloads. The default is [JSON].
func WithCodec(c Codec) Option {
	return optionFunc(func(o *Options) {
		o.codec = c
	})
}

// WithRequestTTL sets how long outbound requests wait for their response.
// Zero means forever. It only applies to [NewOutboundRaR].
func WithRequestTTL(d time.Duration) Option {
	return optionFunc(func(o *Options) {
		o.requestTTL = d
	})
}

func newOptions(opts []Option) *Options {
	o := &Options{
		codec:      JSON{},
		requestTTL: DefaultRequestTTL,
	}
	for _, opt := range opts {
		opt.ApplyOption(o)
	}
	if o.registry == nil {
		o.registry = DefaultRegistry()
	}
	return o
}

func (o *Options) logger() *slog.Logger {
	if o.log != nil {
		return o.log
	}
	return Logger("github.com/z5labs/mq")
}

var errNilQueue = errors.New("mq: implementation returned a nil queue")

// instantiate resolves the configuration behind id and constructs the queue
// registered for its Implementation. It never returns a queue together
// with an error.
func instantiate[Q comparable](
	ctx context.Context,
	p queue.ConfigurationProvider,
	id string,
	role queue.Role,
	o *Options,
	pick func(queue.Implementation) queue.Constructor[Q],
) (Q, error) {
	var zero Q
	log := o.logger()
	code := role.InstantiationCode()

	fail := func(err *queue.Error) (Q, error) {
		queue.LogError(ctx, log, err)
		return zero, err
	}

	raw, err := p.GetConfiguration(ctx, id)
	if err != nil {
		return fail(queue.NewError(code, err))
	}

	name := strings.TrimSpace(raw[queue.ImplementationConfigKey])
	if name == "" {
		return fail(queue.NewError(
			queue.MissingRequiredConfigurationParameter,
			nil,
			queue.ParameterNameKey, queue.ImplementationConfigKey,
		))
	}

	impl, err := o.registry.Resolve(name, role)
	if err != nil {
		qe, _ := queue.AsError(err)
		return fail(qe)
	}

	q, err := pick(impl)(ctx, raw, o.log)
	if err != nil {
		return fail(queue.Wrap(err, code, queue.ImplementationKey, name))
	}
	if q == zero {
		return fail(queue.NewError(code, errNilQueue, queue.ImplementationKey, name))
	}
	return q, nil
}

func newInboundFaF(ctx context.Context, p queue.ConfigurationProvider, id string, o *Options) (queue.InboundFaF, error) {
	return instantiate(ctx, p, id, queue.RoleInboundFaF, o, func(impl queue.Implementation) queue.Constructor[queue.InboundFaF] {
		return impl.NewInboundFaF
	})
}

func newOutboundFaF(ctx context.Context, p queue.ConfigurationProvider, id string, o *Options) (queue.OutboundFaF, error) {
	return instantiate(ctx, p, id, queue.RoleOutboundFaF, o, func(impl queue.Implementation) queue.Constructor[queue.OutboundFaF] {
		return impl.NewOutboundFaF
	})
}

func newInboundRaR(ctx context.Context, p queue.ConfigurationProvider, id string, o *Options) (queue.InboundRaR, error) {
	return instantiate(ctx, p, id, queue.RoleInboundRaR, o, func(impl queue.Implementation) queue.Constructor[queue.InboundRaR] {
		return impl.NewInboundRaR
	})
}

func newOutboundRaR(ctx context.Context, p queue.ConfigurationProvider, id string, o *Options) (queue.OutboundRaR, error) {
	q, err := instantiate(ctx, p, id, queue.RoleOutboundRaR, o, func(impl queue.Implementation) queue.Constructor[queue.OutboundRaR] {
		return impl.NewOutboundRaR
	})
	if err != nil {
		return nil, err
	}
	if exp, ok := q.(queue.RequestExpirer); ok {
		exp.ExpireRequestsAfter(o.requestTTL)
	}
	return q, nil
}
