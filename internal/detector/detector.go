// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package detector provides the resource detectors describing an mq
// process.
package detector

import (
	"context"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
)

type telemetrySDK struct{}

// TelemetrySDK describes the OpenTelemetry SDK in use.
func TelemetrySDK() resource.Detector {
	return telemetrySDK{}
}

func (telemetrySDK) Detect(context.Context) (*resource.Resource, error) {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.TelemetrySDKName("opentelemetry"),
		semconv.TelemetrySDKLanguageGo,
		semconv.TelemetrySDKVersion(sdk.Version()),
	), nil
}

// Host
func Host() resource.Detector {
	return resource.StringDetector(semconv.SchemaURL, semconv.HostNameKey, os.Hostname)
}

// Process identifies the running process by its pid and executable.
func Process() resource.Detector {
	return processDetector{}
}

type processDetector struct{}

func (processDetector) Detect(context.Context) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{semconv.ProcessPID(os.Getpid())}
	if exe, err := os.Executable(); err == nil {
		attrs = append(attrs, semconv.ProcessExecutableName(filepath.Base(exe)))
	}
	return resource.NewWithAttributes(semconv.SchemaURL, attrs...), nil
}

// ServiceName falls back to the executable name, the same way the SDK
// names an unknown service.
func ServiceName(name string) resource.Detector {
	return resource.StringDetector(semconv.SchemaURL, semconv.ServiceNameKey, func() (string, error) {
		if len(name) > 0 {
			return name, nil
		}
		exe, err := os.Executable()
		if err != nil {
			return "unknown_service:go", nil
		}
		return "unknown_service:" + filepath.Base(exe), nil
	})
}

// ServiceVersion
func ServiceVersion(version string) resource.Detector {
	return resource.StringDetector(semconv.SchemaURL, semconv.ServiceVersionKey, func() (string, error) {
		return version, nil
	})
}

// ServiceInstanceID gives every process of a service a random identity so
// competing consumers of one queue can be told apart.
func ServiceInstanceID() resource.Detector {
	return resource.StringDetector(semconv.SchemaURL, semconv.ServiceInstanceIDKey, func() (string, error) {
		return uuid.NewString(), nil
	})
}
