// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package rabbitmq

import (
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/z5labs/mq/queue"
	"github.com/z5labs/mq/queue/settings"
)

// QueueContext identifies this backend in error contexts.
const QueueContext = "RabbitMq"

// Configuration keys specific to this backend.
const (
	PortKey                         = "Port"
	UserNameKey                     = "UserName"
	PasswordKey                     = "Password"
	ExchangeNameKey                 = "ExchangeName"
	ExchangeTypeKey                 = "ExchangeType"
	RoutingKeyKey                   = "RoutingKey"
	DurableExchangeKey              = "DurableExchange"
	DurableQueueKey                 = "DurableQueue"
	DurableMessageKey               = "DurableMessage"
	AcknowledgmentKey               = "Acknowledgment"
	MaxConcurrentReceiveCallbackKey = "MaxConcurrentReceiveCallback"
	ConnectionTimeoutInMinutesKey   = "ConnectionTimeoutInMinutes"
)

// Exchange types accepted by ExchangeType.
const (
	ExchangeDirect  = "direct"
	ExchangeFanout  = "fanout"
	ExchangeTopic   = "topic"
	ExchangeHeaders = "headers"
)

const (
	defaultPort = 5672

	// heartbeat doubles as the network recovery interval.
	heartbeat = 30 * time.Second
)

var schema = settings.Schema{
	{Key: queue.AddressConfigKey, Kind: settings.NonBlankString, Required: true},
	{Key: queue.QueueNameConfigKey, Kind: settings.NonBlankString, Required: true},
	{Key: PortKey, Kind: settings.Uint16, Default: strconv.Itoa(defaultPort)},
	{Key: UserNameKey, Kind: settings.NonBlankString, Required: true},
	{Key: PasswordKey, Kind: settings.NonBlankString, Required: true},
	{Key: ExchangeNameKey, Kind: settings.NonBlankString},
	{Key: RoutingKeyKey, Kind: settings.String, RequiresKey: ExchangeNameKey, RequiredWith: ExchangeNameKey},
	{
		Key:         ExchangeTypeKey,
		Kind:        settings.Enum,
		Values:      []string{ExchangeDirect, ExchangeFanout, ExchangeTopic, ExchangeHeaders},
		Default:     ExchangeDirect,
		RequiresKey: ExchangeNameKey,
	},
	{Key: DurableExchangeKey, Kind: settings.Bool, Default: "false", RequiresKey: ExchangeNameKey},
	{Key: DurableQueueKey, Kind: settings.Bool, Default: "false"},
	{Key: DurableMessageKey, Kind: settings.Bool, Default: "false"},
	{Key: AcknowledgmentKey, Kind: settings.Bool, Default: "false", Applies: settings.InboundOnly},
	{Key: MaxConcurrentReceiveCallbackKey, Kind: settings.Uint16, Default: "1", Applies: settings.InboundOnly},
	{Key: ConnectionTimeoutInMinutesKey, Kind: settings.Int, Default: "3"},
}

type config struct {
	host     string
	port     uint16
	userName string
	password string

	queueName       string
	exchangeName    string
	exchangeType    string
	routingKey      string
	durableExchange bool
	durableQueue    bool
	durableMessage  bool

	ack               bool
	maxConcurrent     int
	connectionTimeout time.Duration
}

func parseConfig(raw map[string]string, dir queue.Direction) (config, error) {
	vals, err := settings.Validate(raw, dir, schema)
	if err != nil {
		return config{}, queue.Wrap(err, queue.GeneralConfigurationParsingError, queue.QueueContextKey, QueueContext)
	}

	cfg := config{
		host:              vals.String(queue.AddressConfigKey),
		port:              vals.Uint16(PortKey),
		userName:          vals.String(UserNameKey),
		password:          vals.String(PasswordKey),
		queueName:         vals.String(queue.QueueNameConfigKey),
		exchangeName:      vals.String(ExchangeNameKey),
		exchangeType:      vals.String(ExchangeTypeKey),
		routingKey:        vals.String(RoutingKeyKey),
		durableExchange:   vals.Bool(DurableExchangeKey),
		durableQueue:      vals.Bool(DurableQueueKey),
		durableMessage:    vals.Bool(DurableMessageKey),
		ack:               vals.Bool(AcknowledgmentKey),
		maxConcurrent:     int(vals.Uint16(MaxConcurrentReceiveCallbackKey)),
		connectionTimeout: vals.Duration(ConnectionTimeoutInMinutesKey, time.Minute),
	}
	if cfg.maxConcurrent < 1 {
		cfg.maxConcurrent = 1
	}
	return cfg, nil
}

func (cfg config) hostPort() string {
	return net.JoinHostPort(cfg.host, strconv.Itoa(int(cfg.port)))
}

// address never contains credentials.
func (cfg config) address() string {
	u := url.URL{Scheme: "amqp", Host: cfg.hostPort()}
	return u.String()
}

// publishKey is the routing key messages are published with. Without an
// exchange messages go through the default exchange straight to the queue.
func (cfg config) publishKey() string {
	if cfg.exchangeName == "" {
		return cfg.queueName
	}
	return cfg.routingKey
}

func (cfg config) deliveryMode() uint8 {
	if cfg.durableMessage {
		return 2
	}
	return 1
}

func (cfg config) errorContext() []string {
	kvs := []string{
		queue.QueueContextKey, QueueContext,
		queue.AddressKey, cfg.address(),
		queue.QueueNameKey, cfg.queueName,
	}
	if cfg.exchangeName != "" {
		kvs = append(kvs, queue.ExchangeNameKey, cfg.exchangeName)
	}
	if cfg.routingKey != "" {
		kvs = append(kvs, queue.RoutingKeyKey, cfg.routingKey)
	}
	return kvs
}
