// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package mq

import (
	"bytes"
	"context"
	_ "embed"
	"io"
	"os"

	"github.com/z5labs/mq/config"
	"github.com/z5labs/mq/internal/otel"

	bedrockcfg "github.com/z5labs/bedrock/config"
)

// ConfigSource standardizes the template for configuration of mq applications.
// The [io.Reader] is expected to be YAML with support for Go templating. Currently,
// only 2 template functions are supported:
//   - env - this allows environment variables to be substituted into the YAML
//   - default - define a default value in case the original value is nil
func ConfigSource(r io.Reader) bedrockcfg.Source {
	return bedrockcfg.FromYaml(
		bedrockcfg.RenderTextTemplate(
			r,
			bedrockcfg.TemplateFunc("env", func(key string) any {
				v, ok := os.LookupEnv(key)
				if ok {
					return v
				}
				return nil
			}),
			bedrockcfg.TemplateFunc("default", func(def, v any) any {
				if v == nil {
					return def
				}
				return v
			}),
		),
	)
}

//go:embed default_config.yaml
var defaultConfig []byte

// DefaultConfig returns the default config source which corresponds to the [Config] type.
func DefaultConfig() bedrockcfg.Source {
	return ConfigSource(bytes.NewReader(defaultConfig))
}

// ReadConfig reads the default config overlaid with r.
func ReadConfig(r io.Reader) (Config, error) {
	m, err := bedrockcfg.Read(bedrockcfg.MultiSource(
		DefaultConfig(),
		ConfigSource(r),
	))
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	err = m.Unmarshal(&cfg)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Config defines the common configuration for all mq based applications.
//
// Queues maps a configuration identifier to the flat settings of a single
// queue:
//
//	queues:
//	  Orders:
//	    Implementation: RmqInboundFaF
//	    Address: localhost
//	    QueueName: orders
type Config struct {
	OTel   config.OTel               `config:"otel"`
	Queues map[string]map[string]any `config:"queues"`
}

// InitializeOTel sets the global OpenTelemetry providers from the OTel
// section. The returned function flushes and stops them.
func (cfg Config) InitializeOTel(ctx context.Context) (func(context.Context) error, error) {
	return otel.Initialize(ctx, cfg.OTel)
}
