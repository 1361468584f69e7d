// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"context"
	"errors"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kslog"
)

var errTopicNotFound = errors.New("kafka: topic does not exist")

// consumerClient is the subset of [kgo.Client] used to consume a topic as
// part of a group.
type consumerClient interface {
	PollFetches(context.Context) kgo.Fetches
	CommitRecords(context.Context, ...*kgo.Record) error
	MarkCommitRecords(...*kgo.Record)
	SetOffsets(map[string]map[int32]kgo.EpochOffset)
	Close()
}

type producerClient interface {
	ProduceSync(context.Context, ...*kgo.Record) kgo.ProduceResults
}

// adminClient is the subset of [kadm.Client] used to inspect and create
// topics and to compute consumer lag.
type adminClient interface {
	ListTopics(context.Context, ...string) (kadm.TopicDetails, error)
	CreateTopics(ctx context.Context, partitions int32, replicationFactor int16, configs map[string]*string, topics ...string) (kadm.CreateTopicResponses, error)
	ListStartOffsets(context.Context, ...string) (kadm.ListedOffsets, error)
	ListEndOffsets(context.Context, ...string) (kadm.ListedOffsets, error)
	FetchOffsets(context.Context, string) (kadm.OffsetResponses, error)
}

// clientOptions are shared by every client of a queue.
func clientOptions(log *slog.Logger, cfg config) ([]kgo.Opt, error) {
	opts := []kgo.Opt{
		kgo.WithLogger(kslog.New(log)),
		hooks(cfg.groupID),
		kgo.SeedBrokers(cfg.brokers...),
	}
	if cfg.clientID != "" {
		opts = append(opts, kgo.ClientID(cfg.clientID))
	}

	tc, err := cfg.tlsConfig()
	if err != nil {
		return nil, err
	}
	if tc != nil {
		opts = append(opts, kgo.DialTLSConfig(tc))
	}
	return opts, nil
}

// consumerOptions joins the group and consumes the topic. Without
// acknowledgment only records marked on receipt are committed.
func consumerOptions(cfg config) []kgo.Opt {
	opts := []kgo.Opt{
		kgo.ConsumerGroup(cfg.groupID),
		kgo.ConsumeTopics(cfg.topic),
		kgo.Balancers(kgo.CooperativeStickyBalancer()),
		kgo.SessionTimeout(cfg.sessionTimeout),
		kgo.RebalanceTimeout(cfg.rebalanceTimeout),
	}
	if cfg.ack {
		return append(opts, kgo.DisableAutoCommit())
	}
	return append(opts, kgo.AutoCommitMarks())
}

func topicExists(ctx context.Context, adm adminClient, topic string) (bool, error) {
	details, err := adm.ListTopics(ctx, topic)
	if err != nil {
		return false, err
	}
	d, ok := details[topic]
	return ok && d.Err == nil, nil
}

// lag is the number of records in topic which group has not committed yet.
// Partitions without a committed offset count from their start offset.
func lag(ctx context.Context, adm adminClient, topic, group string) (int64, error) {
	start, err := adm.ListStartOffsets(ctx, topic)
	if err != nil {
		return 0, err
	}
	end, err := adm.ListEndOffsets(ctx, topic)
	if err != nil {
		return 0, err
	}
	committed, err := adm.FetchOffsets(ctx, group)
	if err != nil {
		return 0, err
	}

	var total int64
	for p, eo := range end[topic] {
		if eo.Err != nil {
			return 0, eo.Err
		}

		from := start[topic][p].Offset
		if c, ok := committed.Lookup(topic, p); ok && c.Err == nil && c.At >= 0 {
			from = c.At
		}
		if eo.Offset > from {
			total += eo.Offset - from
		}
	}
	return total, nil
}
