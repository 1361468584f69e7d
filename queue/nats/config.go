// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package nats

import (
	"net/url"
	"strings"
	"time"

	"github.com/z5labs/mq/queue"
	"github.com/z5labs/mq/queue/settings"
)

// QueueContext identifies this backend in error contexts.
const QueueContext = "Nats"

// Configuration keys specific to this backend.
const (
	UserNameKey                     = "UserName"
	PasswordKey                     = "Password"
	DurableQueueKey                 = "DurableQueue"
	AcknowledgmentKey               = "Acknowledgment"
	MaxConcurrentReceiveCallbackKey = "MaxConcurrentReceiveCallback"
	AckWaitInSecondsKey             = "AckWaitInSeconds"
	ConnectionTimeoutInMinutesKey   = "ConnectionTimeoutInMinutes"
)

// Header names carried on every request and response.
const (
	CorrelationIDHeader = "Correlation-Id"
	ReplyToHeader       = "Reply-To"
)

const reconnectWait = 2 * time.Second

var schema = settings.Schema{
	{Key: queue.AddressConfigKey, Kind: settings.NonBlankString, Required: true},
	{Key: queue.QueueNameConfigKey, Kind: settings.NonBlankString, Required: true},
	{Key: UserNameKey, Kind: settings.NonBlankString},
	{Key: PasswordKey, Kind: settings.NonBlankString, RequiresKey: UserNameKey},
	{Key: DurableQueueKey, Kind: settings.Bool, Default: "false"},
	{Key: AcknowledgmentKey, Kind: settings.Bool, Default: "false", Applies: settings.InboundOnly},
	{Key: MaxConcurrentReceiveCallbackKey, Kind: settings.Uint16, Default: "1", Applies: settings.InboundOnly},
	{Key: AckWaitInSecondsKey, Kind: settings.Int, Default: "30", Applies: settings.InboundOnly},
	{Key: ConnectionTimeoutInMinutesKey, Kind: settings.Int, Default: "3"},
}

type config struct {
	url      string
	userName string
	password string

	subject       string
	durable       bool
	ack           bool
	maxConcurrent int
	ackWait       time.Duration

	connectionTimeout time.Duration
}

func parseConfig(raw map[string]string, dir queue.Direction) (config, error) {
	vals, err := settings.Validate(raw, dir, schema)
	if err != nil {
		return config{}, queue.Wrap(err, queue.GeneralConfigurationParsingError, queue.QueueContextKey, QueueContext)
	}

	cfg := config{
		url:               vals.String(queue.AddressConfigKey),
		userName:          vals.String(UserNameKey),
		password:          vals.String(PasswordKey),
		subject:           vals.String(queue.QueueNameConfigKey),
		durable:           vals.Bool(DurableQueueKey),
		ack:               vals.Bool(AcknowledgmentKey),
		maxConcurrent:     int(vals.Uint16(MaxConcurrentReceiveCallbackKey)),
		ackWait:           vals.Duration(AckWaitInSecondsKey, time.Second),
		connectionTimeout: vals.Duration(ConnectionTimeoutInMinutesKey, time.Minute),
	}
	if cfg.maxConcurrent < 1 {
		cfg.maxConcurrent = 1
	}
	return cfg, nil
}

// address is the server URL without user info.
func (cfg config) address() string {
	u, err := url.Parse(cfg.url)
	if err != nil || u.Host == "" {
		return cfg.url
	}
	u.User = nil
	return u.String()
}

// streamName derives a JetStream stream name from the subject. Stream names
// cannot contain subject tokens or whitespace.
func (cfg config) streamName() string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', '/', '\\', ' ', '\t', '\n':
			return '_'
		}
		return r
	}, cfg.subject)
}

func (cfg config) consumerName() string {
	return cfg.streamName() + "-mq"
}

func (cfg config) errorContext() []string {
	return []string{
		queue.QueueContextKey, QueueContext,
		queue.AddressKey, cfg.address(),
		queue.QueueNameKey, cfg.subject,
	}
}
