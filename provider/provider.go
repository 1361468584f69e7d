// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package provider implements [queue.ConfigurationProvider]s over common
// configuration sources.
package provider

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"strings"
	"sync"

	"github.com/z5labs/mq/queue"

	bedrockcfg "github.com/z5labs/bedrock/config"
)

// ErrNotFound is returned when no configuration exists for an identifier.
var ErrNotFound = errors.New("provider: configuration not found")

func notFound(id string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Map is a static set of queue configurations keyed by identifier.
type Map map[string]map[string]string

// GetConfiguration implements the [queue.ConfigurationProvider] interface.
// The returned map is a copy.
func (m Map) GetConfiguration(_ context.Context, id string) (map[string]string, error) {
	cfg, ok := m[id]
	if !ok {
		return nil, notFound(id)
	}
	return maps.Clone(cfg), nil
}

// Queues converts a decoded YAML queues section into a [Map]. Scalar values
// are formatted with their default format, nil values are dropped.
func Queues(section map[string]map[string]any) Map {
	m := make(Map, len(section))
	for id, raw := range section {
		cfg := make(map[string]string, len(raw))
		for k, v := range raw {
			if v == nil {
				continue
			}
			cfg[k] = fmt.Sprint(v)
		}
		m[id] = cfg
	}
	return m
}

type bedrockQueues struct {
	Queues map[string]map[string]any `config:"queues"`
}

// Bedrock reads src once, on first use, and serves the queues section of it.
func Bedrock(src bedrockcfg.Source) queue.ConfigurationProvider {
	return &bedrockProvider{src: src}
}

type bedrockProvider struct {
	src bedrockcfg.Source

	once sync.Once
	m    Map
	err  error
}

func (p *bedrockProvider) GetConfiguration(ctx context.Context, id string) (map[string]string, error) {
	p.once.Do(func() {
		cfgMap, err := bedrockcfg.Read(p.src)
		if err != nil {
			p.err = err
			return
		}

		var cfg bedrockQueues
		err = cfgMap.Unmarshal(&cfg)
		if err != nil {
			p.err = err
			return
		}
		p.m = Queues(cfg.Queues)
	})
	if p.err != nil {
		return nil, p.err
	}
	return p.m.GetConfiguration(ctx, id)
}

// Namespaced serves a flat key/value set where every key has the form
// "Identifier:Key". Identifiers are matched case-insensitively.
type Namespaced map[string]string

// GetConfiguration implements the [queue.ConfigurationProvider] interface.
func (n Namespaced) GetConfiguration(_ context.Context, id string) (map[string]string, error) {
	cfg := make(map[string]string)
	for k, v := range n {
		ns, key, ok := strings.Cut(k, ":")
		if !ok || key == "" || !strings.EqualFold(ns, id) {
			continue
		}
		cfg[key] = v
	}
	if len(cfg) == 0 {
		return nil, notFound(id)
	}
	return cfg, nil
}

// EnvProvider reads configuration from environment variables.
type EnvProvider struct {
	prefix  string
	environ func() []string
}

// Env returns a provider which reads variables named PREFIX_<ID>__<Key>.
// The prefix and identifier are matched case-insensitively and the key
// keeps its case.
//
//	ORDERS_Orders__Implementation=RmqInboundFaF
//	ORDERS_Orders__Address=localhost
func Env(prefix string) *EnvProvider {
	return &EnvProvider{
		prefix:  prefix,
		environ: os.Environ,
	}
}

// GetConfiguration implements the [queue.ConfigurationProvider] interface.
func (p *EnvProvider) GetConfiguration(_ context.Context, id string) (map[string]string, error) {
	want := id + "__"
	if p.prefix != "" {
		want = p.prefix + "_" + want
	}

	cfg := make(map[string]string)
	for _, kv := range p.environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || len(name) <= len(want) {
			continue
		}
		if !strings.EqualFold(name[:len(want)], want) {
			continue
		}
		cfg[name[len(want):]] = value
	}
	if len(cfg) == 0 {
		return nil, notFound(id)
	}
	return cfg, nil
}
