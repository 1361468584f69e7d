// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package sqs

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/z5labs/mq/queue"
	"github.com/z5labs/mq/queue/settings"

	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// QueueContext identifies this backend in error contexts.
const QueueContext = "Sqs"

// Configuration keys specific to this backend.
const (
	RegionKey                       = "Region"
	NamespaceAddressKey             = "NamespaceAddress"
	AcknowledgmentKey               = "Acknowledgment"
	MaxConcurrentReceiveCallbackKey = "MaxConcurrentReceiveCallback"
	LockDurationInSecondsKey        = "LockDurationInSeconds"
	MessageTimeToLiveInMinutesKey   = "MessageTimeToLiveInMinutes"
	MaxDeliveryCountKey             = "MaxDeliveryCount"
	EnableDeadLetteringKey          = "EnableDeadLettering"
	MaxSizeInMegabytesKey           = "MaxSizeInMegabytes"
	EnablePartitioningKey           = "EnablePartitioning"
	EnableBatchedOperationsKey      = "EnableBatchedOperations"
	RequiresDuplicateDetectionKey   = "RequiresDuplicateDetection"
)

// DefaultEndpoint selects the regional AWS endpoint instead of a custom one.
const DefaultEndpoint = "aws"

const (
	// maxReceiveBatch is the most messages a single receive may return.
	maxReceiveBatch = 10

	// waitTime is the long polling duration of a receive.
	waitTime = 20 * time.Second

	maxRetention         = 14 * 24 * time.Hour
	maxMessageSize int64 = 256 * 1024

	fifoSuffix = ".fifo"
)

var schema = settings.Schema{
	{Key: queue.AddressConfigKey, Kind: settings.NonBlankString, Required: true},
	{Key: queue.QueueNameConfigKey, Kind: settings.NonBlankString, Required: true},
	{Key: RegionKey, Kind: settings.NonBlankString, Default: "us-east-1"},
	{Key: NamespaceAddressKey, Kind: settings.NonBlankString},
	{Key: AcknowledgmentKey, Kind: settings.Bool, Default: "true", Applies: settings.InboundOnly},
	{Key: MaxConcurrentReceiveCallbackKey, Kind: settings.Uint16, Default: "1", Applies: settings.InboundOnly},
	{Key: LockDurationInSecondsKey, Kind: settings.Int, Default: "300"},
	{Key: MessageTimeToLiveInMinutesKey, Kind: settings.Int, Default: "43200"},
	{Key: MaxDeliveryCountKey, Kind: settings.Int16, Default: "5"},
	{Key: EnableDeadLetteringKey, Kind: settings.Bool, Default: "true"},
	{Key: MaxSizeInMegabytesKey, Kind: settings.Int64, Default: "1024"},
	{Key: EnablePartitioningKey, Kind: settings.Bool, Default: "false"},
	{Key: EnableBatchedOperationsKey, Kind: settings.Bool, Default: "false"},
	{Key: RequiresDuplicateDetectionKey, Kind: settings.Bool, Default: "false"},
}

var errDuplicateDetectionNeedsFifo = errors.New("sqs: duplicate detection requires a queue name ending in " + fifoSuffix)

var errCredentialsWithoutSecret = errors.New("sqs: endpoint user info must carry both an access key id and a secret")

// endpoint is an SQS endpoint whose static credentials, if any, have been
// split off the URL.
type endpoint struct {
	url       string
	accessKey string
	secretKey string
}

func parseEndpoint(raw string) (endpoint, error) {
	if strings.EqualFold(strings.TrimSpace(raw), DefaultEndpoint) {
		return endpoint{}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return endpoint{}, err
	}
	if u.Scheme == "" || u.Host == "" {
		return endpoint{}, errors.New("sqs: endpoint must be an absolute URL")
	}

	var ep endpoint
	if u.User != nil {
		secret, ok := u.User.Password()
		if !ok || u.User.Username() == "" {
			return endpoint{}, errCredentialsWithoutSecret
		}
		ep.accessKey = u.User.Username()
		ep.secretKey = secret
		u.User = nil
	}
	ep.url = u.String()
	return ep, nil
}

// address never contains credentials.
func (ep endpoint) address() string {
	if ep.url == "" {
		return DefaultEndpoint
	}
	return ep.url
}

type config struct {
	endpoint  endpoint
	namespace *endpoint
	region    string
	queueName string

	ack           bool
	maxConcurrent int
	lockDuration  time.Duration

	retention          time.Duration
	maxDeliveryCount   int16
	deadLettering      bool
	maxSizeInMegabytes int64
	partitioning       bool
	batchedOperations  bool
	duplicateDetection bool
}

func parseConfig(raw map[string]string, dir queue.Direction) (config, error) {
	vals, err := settings.Validate(raw, dir, schema)
	if err != nil {
		return config{}, queue.Wrap(err, queue.GeneralConfigurationParsingError, queue.QueueContextKey, QueueContext)
	}

	invalid := func(key string, err error) (config, error) {
		return config{}, queue.NewError(
			queue.InvalidValueForConfigurationParameter,
			err,
			queue.ParameterNameKey, key,
			queue.QueueContextKey, QueueContext,
		)
	}

	ep, err := parseEndpoint(vals.String(queue.AddressConfigKey))
	if err != nil {
		return invalid(queue.AddressConfigKey, err)
	}

	cfg := config{
		endpoint:           ep,
		region:             vals.String(RegionKey),
		queueName:          vals.String(queue.QueueNameConfigKey),
		ack:                vals.Bool(AcknowledgmentKey),
		maxConcurrent:      int(vals.Uint16(MaxConcurrentReceiveCallbackKey)),
		lockDuration:       vals.Duration(LockDurationInSecondsKey, time.Second),
		retention:          vals.Duration(MessageTimeToLiveInMinutesKey, time.Minute),
		maxDeliveryCount:   vals.Int16(MaxDeliveryCountKey),
		deadLettering:      vals.Bool(EnableDeadLetteringKey),
		maxSizeInMegabytes: vals.Int64(MaxSizeInMegabytesKey),
		partitioning:       vals.Bool(EnablePartitioningKey),
		batchedOperations:  vals.Bool(EnableBatchedOperationsKey),
		duplicateDetection: vals.Bool(RequiresDuplicateDetectionKey),
	}
	if vals.Has(NamespaceAddressKey) {
		ns, err := parseEndpoint(vals.String(NamespaceAddressKey))
		if err != nil {
			return invalid(NamespaceAddressKey, err)
		}
		cfg.namespace = &ns
	}
	if cfg.duplicateDetection && !cfg.fifo() {
		return invalid(queue.QueueNameConfigKey, errDuplicateDetectionNeedsFifo)
	}
	if cfg.maxConcurrent < 1 {
		cfg.maxConcurrent = 1
	}
	return cfg, nil
}

// receiveBatch is the number of messages asked for in a single receive.
func (cfg config) receiveBatch() int32 {
	return int32(min(cfg.maxConcurrent, maxReceiveBatch))
}

func (cfg config) fifo() bool {
	return strings.HasSuffix(cfg.queueName, fifoSuffix)
}

func (cfg config) address() string {
	return cfg.endpoint.address()
}

func (cfg config) errorContext() []string {
	return []string{
		queue.QueueContextKey, QueueContext,
		queue.AddressKey, cfg.address(),
		queue.QueueNameKey, cfg.queueName,
	}
}

// queueAttributes maps the create-queue settings onto SQS attributes.
// Retention and message size are clamped to what SQS accepts.
func (cfg config) queueAttributes() map[string]string {
	retention := min(max(cfg.retention, time.Minute), maxRetention)
	size := min(max(cfg.maxSizeInMegabytes, 1)*1024*1024, maxMessageSize)

	attrs := map[string]string{
		string(types.QueueAttributeNameVisibilityTimeout):      strconv.Itoa(int(cfg.lockDuration / time.Second)),
		string(types.QueueAttributeNameMessageRetentionPeriod): strconv.Itoa(int(retention / time.Second)),
		string(types.QueueAttributeNameMaximumMessageSize):     strconv.FormatInt(size, 10),
	}
	if cfg.fifo() {
		attrs[string(types.QueueAttributeNameFifoQueue)] = "true"
	}
	if cfg.duplicateDetection {
		attrs[string(types.QueueAttributeNameContentBasedDeduplication)] = "true"
	}
	return attrs
}

// deadLetterQueueName keeps the FIFO suffix last.
func (cfg config) deadLetterQueueName() string {
	if cfg.fifo() {
		return strings.TrimSuffix(cfg.queueName, fifoSuffix) + "-dlq" + fifoSuffix
	}
	return cfg.queueName + "-dlq"
}

// unsupported lists enabled settings SQS has no equivalent for.
func (cfg config) unsupported() []string {
	var keys []string
	if cfg.partitioning {
		keys = append(keys, EnablePartitioningKey)
	}
	if cfg.batchedOperations {
		keys = append(keys, EnableBatchedOperationsKey)
	}
	return keys
}
