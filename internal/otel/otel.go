// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package otel installs the global OpenTelemetry providers used by the
// queue instrumentation.
package otel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/z5labs/mq/concurrent"
	"github.com/z5labs/mq/config"
	"github.com/z5labs/mq/internal/detector"

	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ShutdownFunc flushes and stops the installed providers.
type ShutdownFunc func(context.Context) error

// Initialize installs the global providers described by cfg. Traces and
// metrics are only collected when an exporter is configured for them. Logs
// fall back to JSON on stdout.
func Initialize(ctx context.Context, cfg config.OTel) (ShutdownFunc, error) {
	r, err := resource.Detect(
		ctx,
		detector.TelemetrySDK(),
		detector.Host(),
		detector.Process(),
		detector.ServiceName(cfg.Resource.ServiceName),
		detector.ServiceVersion(cfg.Resource.ServiceVersion),
		detector.ServiceInstanceID(),
	)
	if err != nil {
		return nil, err
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.Baggage{},
		propagation.TraceContext{},
	))

	b := &bootstrap{
		r:     r,
		conns: concurrent.NewCache[string, *grpc.ClientConn](),
	}
	steps := []func(context.Context, config.OTel) error{
		b.traces,
		b.metrics,
		b.logs,
	}
	for _, step := range steps {
		err := step(ctx, cfg)
		if err != nil {
			return nil, errors.Join(err, b.shutdown(ctx))
		}
	}
	return b.shutdown, nil
}

type bootstrap struct {
	r         *resource.Resource
	conns     *concurrent.Cache[string, *grpc.ClientConn]
	shutdowns []ShutdownFunc
}

func (b *bootstrap) shutdown(ctx context.Context) error {
	var errs []error
	for i := len(b.shutdowns) - 1; i >= 0; i-- {
		errs = append(errs, b.shutdowns[i](ctx))
	}
	b.shutdowns = nil
	return errors.Join(errs...)
}

// conn shares a single gRPC connection between exporters of the same
// collector.
func (b *bootstrap) conn(cfg config.OTLP) (*grpc.ClientConn, error) {
	cc, err := b.conns.GetOr(cfg.Target, func() (*grpc.ClientConn, error) {
		return grpc.NewClient(cfg.Target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	})
	if err != nil {
		return nil, err
	}
	b.shutdowns = append(b.shutdowns, func(context.Context) error {
		if _, ok := b.conns.LoadAndDelete(cfg.Target); !ok {
			return nil
		}
		return cc.Close()
	})
	return cc, nil
}

// UnknownOTLPConnTypeError is returned for an OTLP transport other than
// grpc or http.
type UnknownOTLPConnTypeError struct {
	Type config.OTLPConnType
}

func (e UnknownOTLPConnTypeError) Error() string {
	return fmt.Sprintf("unknown otlp conn type: %q", e.Type)
}

// UnknownSpanProcessorTypeError is returned for an unsupported span
// processor.
type UnknownSpanProcessorTypeError struct {
	Type config.SpanProcessorType
}

func (e UnknownSpanProcessorTypeError) Error() string {
	return fmt.Sprintf("unknown span processor type: %q", e.Type)
}

// UnknownMetricReaderTypeError is returned for an unsupported metric reader.
type UnknownMetricReaderTypeError struct {
	Type config.MetricReaderType
}

func (e UnknownMetricReaderTypeError) Error() string {
	return fmt.Sprintf("unknown metric reader type: %q", e.Type)
}

// UnknownLogProcessorTypeError is returned for an unsupported log processor.
type UnknownLogProcessorTypeError struct {
	Type config.LogProcessorType
}

func (e UnknownLogProcessorTypeError) Error() string {
	return fmt.Sprintf("unknown log processor type: %q", e.Type)
}

func (b *bootstrap) traces(ctx context.Context, cfg config.OTel) error {
	tc := cfg.Trace
	if !tc.Exporter.Enabled() {
		return nil
	}
	if tc.Processor.Type != config.BatchSpanProcessorType {
		return UnknownSpanProcessorTypeError{Type: tc.Processor.Type}
	}

	var (
		exp trace.SpanExporter
		err error
	)
	switch tc.Exporter.OTLP.Type {
	case config.OTLPGRPC:
		var cc *grpc.ClientConn
		cc, err = b.conn(tc.Exporter.OTLP)
		if err != nil {
			return err
		}
		exp, err = otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(cc))
	case config.OTLPHTTP:
		exp, err = otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(tc.Exporter.OTLP.Target))
	default:
		return UnknownOTLPConnTypeError{Type: tc.Exporter.OTLP.Type}
	}
	if err != nil {
		return err
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(
			exp,
			trace.WithBatchTimeout(tc.Processor.Batch.ExportInterval),
			trace.WithMaxExportBatchSize(tc.Processor.Batch.MaxSize),
		),
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(tc.Sampling.Ratio))),
		trace.WithResource(b.r),
	)
	otel.SetTracerProvider(tp)
	b.shutdowns = append(b.shutdowns, tp.Shutdown)
	return nil
}

func (b *bootstrap) metrics(ctx context.Context, cfg config.OTel) error {
	mc := cfg.Metric
	if !mc.Exporter.Enabled() {
		return nil
	}
	if mc.Reader.Type != config.PeriodicReaderType {
		return UnknownMetricReaderTypeError{Type: mc.Reader.Type}
	}

	var (
		exp metric.Exporter
		err error
	)
	switch mc.Exporter.OTLP.Type {
	case config.OTLPGRPC:
		var cc *grpc.ClientConn
		cc, err = b.conn(mc.Exporter.OTLP)
		if err != nil {
			return err
		}
		exp, err = otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(cc))
	case config.OTLPHTTP:
		exp, err = otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(mc.Exporter.OTLP.Target))
	default:
		return UnknownOTLPConnTypeError{Type: mc.Exporter.OTLP.Type}
	}
	if err != nil {
		return err
	}

	mp := metric.NewMeterProvider(
		metric.WithReader(metric.NewPeriodicReader(
			exp,
			metric.WithInterval(mc.Reader.Periodic.ExportInterval),
			metric.WithProducer(runtime.NewProducer()),
		)),
		metric.WithResource(b.r),
	)
	otel.SetMeterProvider(mp)
	b.shutdowns = append(b.shutdowns, mp.Shutdown)

	return runtime.Start(runtime.WithMinimumReadMemStatsInterval(time.Second))
}

func (b *bootstrap) logs(ctx context.Context, cfg config.OTel) error {
	lc := cfg.Log

	var (
		exp log.Exporter
		err error
	)
	switch {
	case !lc.Exporter.Enabled():
		exp = newStdoutExporter(slog.NewJSONHandler(os.Stdout, nil))
	case lc.Exporter.OTLP.Type == config.OTLPGRPC:
		var cc *grpc.ClientConn
		cc, err = b.conn(lc.Exporter.OTLP)
		if err != nil {
			return err
		}
		exp, err = otlploggrpc.New(ctx, otlploggrpc.WithGRPCConn(cc))
	case lc.Exporter.OTLP.Type == config.OTLPHTTP:
		exp, err = otlploghttp.New(ctx, otlploghttp.WithEndpoint(lc.Exporter.OTLP.Target))
	default:
		return UnknownOTLPConnTypeError{Type: lc.Exporter.OTLP.Type}
	}
	if err != nil {
		return err
	}

	var p log.Processor
	switch lc.Processor.Type {
	case config.SimpleLogProcessorType:
		p = log.NewSimpleProcessor(exp)
	case config.BatchLogProcessorType:
		p = log.NewBatchProcessor(
			exp,
			log.WithExportInterval(lc.Processor.Batch.ExportInterval),
			log.WithExportMaxBatchSize(lc.Processor.Batch.MaxSize),
		)
	default:
		return UnknownLogProcessorTypeError{Type: lc.Processor.Type}
	}

	p, err = newLevelFilter(p, lc.Levels)
	if err != nil {
		return err
	}

	lp := log.NewLoggerProvider(
		log.WithProcessor(p),
		log.WithResource(b.r),
	)
	global.SetLoggerProvider(lp)
	b.shutdowns = append(b.shutdowns, lp.Shutdown)
	return nil
}
