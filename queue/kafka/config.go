// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/z5labs/mq/queue"
	"github.com/z5labs/mq/queue/settings"
)

// QueueContext identifies this backend in error contexts.
const QueueContext = "Kafka"

// Configuration keys specific to this backend.
const (
	GroupIDKey                      = "GroupId"
	ClientIDKey                     = "ClientId"
	AcknowledgmentKey               = "Acknowledgment"
	MaxConcurrentReceiveCallbackKey = "MaxConcurrentReceiveCallback"
	SessionTimeoutInSecondsKey      = "SessionTimeoutInSeconds"
	RebalanceTimeoutInSecondsKey    = "RebalanceTimeoutInSeconds"
	PartitionsKey                   = "Partitions"
	ReplicationFactorKey            = "ReplicationFactor"
	EnableTLSKey                    = "EnableTls"
	TLSCAFileKey                    = "TlsCaFile"
	TLSCertFileKey                  = "TlsCertFile"
	TLSKeyFileKey                   = "TlsKeyFile"
)

var schema = settings.Schema{
	{Key: queue.AddressConfigKey, Kind: settings.NonBlankString, Required: true},
	{Key: queue.QueueNameConfigKey, Kind: settings.NonBlankString, Required: true},
	{Key: GroupIDKey, Kind: settings.NonBlankString, Required: true, Applies: settings.InboundOnly},
	{Key: ClientIDKey, Kind: settings.NonBlankString},
	{Key: AcknowledgmentKey, Kind: settings.Bool, Default: "false", Applies: settings.InboundOnly},
	{Key: MaxConcurrentReceiveCallbackKey, Kind: settings.Uint16, Default: "1", Applies: settings.InboundOnly},
	{Key: SessionTimeoutInSecondsKey, Kind: settings.Int, Default: "45", Applies: settings.InboundOnly},
	{Key: RebalanceTimeoutInSecondsKey, Kind: settings.Int, Default: "30", Applies: settings.InboundOnly},
	{Key: PartitionsKey, Kind: settings.Int32, Default: "1"},
	{Key: ReplicationFactorKey, Kind: settings.Int16, Default: "1"},
	{Key: EnableTLSKey, Kind: settings.Bool, Default: "false"},
	{Key: TLSCAFileKey, Kind: settings.NonBlankString, RequiresKey: EnableTLSKey},
	{Key: TLSCertFileKey, Kind: settings.NonBlankString, RequiresKey: EnableTLSKey, RequiredWith: TLSKeyFileKey},
	{Key: TLSKeyFileKey, Kind: settings.NonBlankString, RequiresKey: EnableTLSKey, RequiredWith: TLSCertFileKey},
}

var errNoBrokers = errors.New("kafka: address lists no brokers")

type config struct {
	brokers  []string
	topic    string
	groupID  string
	clientID string

	ack           bool
	maxConcurrent int

	sessionTimeout   time.Duration
	rebalanceTimeout time.Duration

	partitions        int32
	replicationFactor int16

	tls      bool
	caFile   string
	certFile string
	keyFile  string
}

func parseConfig(raw map[string]string, dir queue.Direction) (config, error) {
	vals, err := settings.Validate(raw, dir, schema)
	if err != nil {
		return config{}, queue.Wrap(err, queue.GeneralConfigurationParsingError, queue.QueueContextKey, QueueContext)
	}

	cfg := config{
		brokers:           splitBrokers(vals.String(queue.AddressConfigKey)),
		topic:             vals.String(queue.QueueNameConfigKey),
		groupID:           vals.String(GroupIDKey),
		clientID:          vals.String(ClientIDKey),
		ack:               vals.Bool(AcknowledgmentKey),
		maxConcurrent:     int(vals.Uint16(MaxConcurrentReceiveCallbackKey)),
		sessionTimeout:    vals.Duration(SessionTimeoutInSecondsKey, time.Second),
		rebalanceTimeout:  vals.Duration(RebalanceTimeoutInSecondsKey, time.Second),
		partitions:        vals.Int32(PartitionsKey),
		replicationFactor: vals.Int16(ReplicationFactorKey),
		tls:               vals.Bool(EnableTLSKey),
		caFile:            vals.String(TLSCAFileKey),
		certFile:          vals.String(TLSCertFileKey),
		keyFile:           vals.String(TLSKeyFileKey),
	}
	if len(cfg.brokers) == 0 {
		return config{}, invalid(queue.AddressConfigKey, errNoBrokers)
	}
	if cfg.partitions < 1 {
		return config{}, invalid(PartitionsKey, fmt.Errorf("kafka: partitions must be positive: %d", cfg.partitions))
	}
	if cfg.replicationFactor < 1 {
		return config{}, invalid(ReplicationFactorKey, fmt.Errorf("kafka: replication factor must be positive: %d", cfg.replicationFactor))
	}
	if cfg.maxConcurrent < 1 {
		cfg.maxConcurrent = 1
	}
	return cfg, nil
}

func invalid(key string, err error) *queue.Error {
	return queue.NewError(
		queue.InvalidValueForConfigurationParameter,
		err,
		queue.ParameterNameKey, key,
		queue.QueueContextKey, QueueContext,
	)
}

func splitBrokers(s string) []string {
	var brokers []string
	for _, b := range strings.Split(s, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func (cfg config) address() string {
	return strings.Join(cfg.brokers, ",")
}

// tlsConfig returns nil when TLS is disabled.
func (cfg config) tlsConfig() (*tls.Config, error) {
	if !cfg.tls {
		return nil, nil
	}

	tc := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}
	if cfg.certFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.certFile, cfg.keyFile)
		if err != nil {
			return nil, fmt.Errorf("kafka: failed to load client certificate: %w", err)
		}
		tc.Certificates = []tls.Certificate{cert}
	}
	if cfg.caFile != "" {
		pem, err := os.ReadFile(cfg.caFile)
		if err != nil {
			return nil, fmt.Errorf("kafka: failed to read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("kafka: no certificates found in %s", cfg.caFile)
		}
		tc.RootCAs = pool
	}
	return tc, nil
}

func (cfg config) errorContext() []string {
	kvs := []string{
		queue.QueueContextKey, QueueContext,
		queue.AddressKey, cfg.address(),
		queue.QueueNameKey, cfg.topic,
	}
	if cfg.groupID != "" {
		kvs = append(kvs, GroupIDKey, cfg.groupID)
	}
	return kvs
}
