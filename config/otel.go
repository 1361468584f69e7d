// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package config defines the telemetry section of an mq application's
// YAML configuration.
package config

import "time"

// Resource identifies the service in every exported signal.
type Resource struct {
	ServiceName    string `config:"service_name"`
	ServiceVersion string `config:"service_version"`
}

// Batch bounds how long and how many records are buffered before export.
type Batch struct {
	ExportInterval time.Duration `config:"export_interval"`
	MaxSize        int           `config:"max_size"`
}

// OTLPConnType selects the OTLP transport.
type OTLPConnType string

const (
	OTLPHTTP OTLPConnType = "http"
	OTLPGRPC OTLPConnType = "grpc"
)

// OTLP locates a collector.
type OTLP struct {
	Type   OTLPConnType `config:"type"`
	Target string       `config:"target"`
}

// ExporterType selects where a signal is exported. Anything other than
// [OTLPExporterType] disables exporting of that signal.
type ExporterType string

const (
	NoExporterType   ExporterType = "none"
	OTLPExporterType ExporterType = "otlp"
)

// Exporter configures the exporter of a single signal.
type Exporter struct {
	Type ExporterType `config:"type"`
	OTLP OTLP         `config:"otlp"`
}

// Enabled reports whether the signal should be exported at all.
func (e Exporter) Enabled() bool {
	return e.Type == OTLPExporterType
}

// SpanProcessorType
type SpanProcessorType string

const (
	BatchSpanProcessorType SpanProcessorType = "batch"
)

// SpanProcessor
type SpanProcessor struct {
	Type  SpanProcessorType `config:"type"`
	Batch Batch             `config:"batch"`
}

// Trace configures the global tracer provider used by the queue
// instrumentation.
type Trace struct {
	Processor SpanProcessor `config:"processor"`
	Sampling  struct {
		Ratio float64 `config:"ratio"`
	} `config:"sampling"`
	Exporter Exporter `config:"exporter"`
}

// MetricReaderType
type MetricReaderType string

const (
	PeriodicReaderType MetricReaderType = "periodic"
)

// MetricReader
type MetricReader struct {
	Type     MetricReaderType `config:"type"`
	Periodic struct {
		ExportInterval time.Duration `config:"export_interval"`
	} `config:"periodic"`
}

// Metric configures the global meter provider. Runtime metrics are
// collected alongside the queue metrics.
type Metric struct {
	Reader   MetricReader `config:"reader"`
	Exporter Exporter     `config:"exporter"`
}

// LogProcessorType
type LogProcessorType string

const (
	SimpleLogProcessorType LogProcessorType = "simple"
	BatchLogProcessorType  LogProcessorType = "batch"
)

// LogProcessor
type LogProcessor struct {
	Type  LogProcessorType `config:"type"`
	Batch Batch            `config:"batch"`
}

// Log configures the global logger provider behind [mq.Logger]. Records
// are written to stdout as JSON unless an OTLP exporter is configured.
//
// Levels maps a logger name, or a prefix of one, to the minimum level
// emitted for it:
//
//	levels:
//	  github.com/z5labs/mq: warn
//	  github.com/z5labs/mq/queue/kafka: debug
type Log struct {
	Processor LogProcessor      `config:"processor"`
	Exporter  Exporter          `config:"exporter"`
	Levels    map[string]string `config:"levels"`
}

// OTel
type OTel struct {
	Resource Resource `config:"resource"`
	Trace    Trace    `config:"trace"`
	Metric   Metric   `config:"metric"`
	Log      Log      `config:"log"`
}
