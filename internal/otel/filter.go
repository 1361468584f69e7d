// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package otel

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// severityOffset converts between slog levels and OTel severities.
const severityOffset = log.SeverityDebug - log.Severity(slog.LevelDebug)

type minimumLevel struct {
	prefix   string
	severity log.Severity
}

// levelFilter drops records below the minimum level configured for the
// longest prefix of their logger name. Loggers matching no prefix are
// never filtered.
type levelFilter struct {
	sdklog.Processor

	levels []minimumLevel
}

// UnknownLogLevelError is returned for a level slog cannot parse.
type UnknownLogLevelError struct {
	Logger string
	Level  string
}

func (e UnknownLogLevelError) Error() string {
	return fmt.Sprintf("unknown log level for logger %q: %q", e.Logger, e.Level)
}

func newLevelFilter(inner sdklog.Processor, levels map[string]string) (sdklog.Processor, error) {
	if len(levels) == 0 {
		return inner, nil
	}

	f := &levelFilter{
		Processor: inner,
		levels:    make([]minimumLevel, 0, len(levels)),
	}
	for name, s := range levels {
		var lvl slog.Level
		err := lvl.UnmarshalText([]byte(s))
		if err != nil {
			return nil, UnknownLogLevelError{Logger: name, Level: s}
		}
		f.levels = append(f.levels, minimumLevel{
			prefix:   name,
			severity: log.Severity(lvl) + severityOffset,
		})
	}
	slices.SortFunc(f.levels, func(a, b minimumLevel) int {
		return cmp.Compare(len(b.prefix), len(a.prefix))
	})
	return f, nil
}

// OnEmit implements [sdklog.Processor].
func (f *levelFilter) OnEmit(ctx context.Context, r *sdklog.Record) error {
	if !f.allows(r.InstrumentationScope().Name, r.Severity()) {
		return nil
	}
	return f.Processor.OnEmit(ctx, r)
}

func (f *levelFilter) allows(name string, sev log.Severity) bool {
	for _, l := range f.levels {
		if strings.HasPrefix(name, l.prefix) {
			return sev >= l.severity
		}
	}
	return true
}
