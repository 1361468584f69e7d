// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/sourcegraph/conc/pool"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/semaphore"
)

type topicPartition struct {
	topic     string
	partition int32
}

// releasedPartition is a revoked or lost partition. done is closed once its
// worker has stopped.
type releasedPartition struct {
	topicPartition

	reason string
	done   chan struct{}
}

type recordHandler func(context.Context, *partitionWorker, *kgo.Record)

// partitionWorker hands the records of a single partition to the handler in
// offset order.
type partitionWorker struct {
	topicPartition

	batches chan []*kgo.Record
	cancel  context.CancelFunc
	done    chan struct{}

	// rewind is the offset the partition was rewound to, or -1. Records
	// past it which were fetched before the rewind are skipped.
	rewind atomic.Int64
}

func newPartitionWorker(tp topicPartition) *partitionWorker {
	w := &partitionWorker{
		topicPartition: tp,
		batches:        make(chan []*kgo.Record),
		done:           make(chan struct{}),
	}
	w.rewind.Store(-1)
	return w
}

// rewindTo records that the partition will be consumed again from offset.
func (w *partitionWorker) rewindTo(offset int64) {
	for {
		cur := w.rewind.Load()
		if cur >= 0 && cur <= offset {
			return
		}
		if w.rewind.CompareAndSwap(cur, offset) {
			return
		}
	}
}

func (w *partitionWorker) skip(rec *kgo.Record) bool {
	to := w.rewind.Load()
	if to < 0 {
		return false
	}
	if rec.Offset > to {
		return true
	}
	w.rewind.CompareAndSwap(to, -1)
	return false
}

// run stops once batches is closed. Handlers run with a context which is
// not cancelled when the partition is released.
func (w *partitionWorker) run(ctx context.Context, sem *semaphore.Weighted, handle recordHandler) {
	defer close(w.done)

	handlerCtx := context.WithoutCancel(ctx)
	for batch := range w.batches {
		for _, rec := range batch {
			if ctx.Err() != nil {
				break
			}
			if w.skip(rec) {
				continue
			}

			err := sem.Acquire(ctx, 1)
			if err != nil {
				break
			}
			handle(handlerCtx, w, rec)
			sem.Release(1)
		}
	}
}

// eventLoop serializes partition assignment changes with the dispatch of
// fetched records so that records are never sent to a released partition.
type eventLoop struct {
	log    *slog.Logger
	sem    *semaphore.Weighted
	handle recordHandler

	fetches  chan kgo.FetchTopic
	assigned chan topicPartition
	released chan releasedPartition

	workers map[topicPartition]*partitionWorker
	pool    *pool.Pool
}

func newEventLoop(log *slog.Logger, maxConcurrent int, handle recordHandler) *eventLoop {
	return &eventLoop{
		log:      log,
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		handle:   handle,
		fetches:  make(chan kgo.FetchTopic),
		assigned: make(chan topicPartition),
		released: make(chan releasedPartition),
		workers:  make(map[topicPartition]*partitionWorker),
		pool:     pool.New(),
	}
}

type onPartitionCallback[C any] func(ctx context.Context, client C, partitions map[string][]int32)

func (loop *eventLoop) onPartitionsAssigned(ctx context.Context) onPartitionCallback[*kgo.Client] {
	return func(_ context.Context, _ *kgo.Client, assigned map[string][]int32) {
		for topic, partitions := range assigned {
			for _, partition := range partitions {
				select {
				case <-ctx.Done():
					return
				case loop.assigned <- topicPartition{topic: topic, partition: partition}:
				}
			}
		}
	}
}

// onPartitionsRevoked returns once the workers of every revoked partition
// have stopped, so their records can still be committed.
func (loop *eventLoop) onPartitionsRevoked(ctx context.Context) onPartitionCallback[*kgo.Client] {
	return func(_ context.Context, _ *kgo.Client, revoked map[string][]int32) {
		loop.releasePartitions(ctx, "revoked", revoked, true)
	}
}

func (loop *eventLoop) onPartitionsLost(ctx context.Context) onPartitionCallback[*kgo.Client] {
	return func(_ context.Context, _ *kgo.Client, lost map[string][]int32) {
		loop.releasePartitions(ctx, "lost", lost, false)
	}
}

func (loop *eventLoop) releasePartitions(ctx context.Context, reason string, partitions map[string][]int32, wait bool) {
	var pending []chan struct{}
	for topic, ps := range partitions {
		for _, partition := range ps {
			rp := releasedPartition{
				topicPartition: topicPartition{topic: topic, partition: partition},
				reason:         reason,
				done:           make(chan struct{}),
			}
			select {
			case <-ctx.Done():
				return
			case loop.released <- rp:
			}
			pending = append(pending, rp.done)
		}
	}
	if !wait {
		return
	}
	for _, done := range pending {
		select {
		case <-ctx.Done():
			return
		case <-done:
		}
	}
}

type pollFetcher interface {
	PollFetches(context.Context) kgo.Fetches
}

// consume runs until ctx is done and every worker has stopped.
func (loop *eventLoop) consume(ctx context.Context, client pollFetcher) {
	p := pool.New()
	p.Go(func() {
		loop.fetchRecords(ctx, client)
	})
	p.Go(func() {
		loop.run(ctx)
	})
	p.Wait()
}

func (loop *eventLoop) fetchRecords(ctx context.Context, client pollFetcher) {
	for {
		fetches := client.PollFetches(ctx)
		if ctx.Err() != nil || fetches.IsClientClosed() {
			loop.log.InfoContext(ctx, "stopped fetching", slog.Any("error", ctx.Err()))
			return
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			loop.log.WarnContext(
				ctx,
				"failed to fetch records",
				TopicAttr(topic),
				PartitionAttr(partition),
				slog.Any("error", err),
			)
		})

		for _, fetch := range fetches {
			for _, topic := range fetch.Topics {
				select {
				case <-ctx.Done():
					return
				case loop.fetches <- topic:
				}
			}
		}
	}
}

func (loop *eventLoop) run(ctx context.Context) {
	defer loop.shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		case tp := <-loop.assigned:
			loop.assign(ctx, tp)
		case rp := <-loop.released:
			loop.release(ctx, rp)
		case ft := <-loop.fetches:
			loop.dispatch(ctx, ft)
		}
	}
}

func (loop *eventLoop) shutdown() {
	for tp, w := range loop.workers {
		w.cancel()
		close(w.batches)
		delete(loop.workers, tp)
	}
	loop.pool.Wait()
}

func (loop *eventLoop) assign(ctx context.Context, tp topicPartition) {
	loop.log.InfoContext(ctx, "topic partition assigned", TopicAttr(tp.topic), PartitionAttr(tp.partition))

	if _, exists := loop.workers[tp]; exists {
		return
	}

	w := newPartitionWorker(tp)
	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	loop.workers[tp] = w
	loop.pool.Go(func() {
		w.run(workerCtx, loop.sem, loop.handle)
	})
}

func (loop *eventLoop) release(ctx context.Context, rp releasedPartition) {
	loop.log.InfoContext(
		ctx,
		"topic partition "+rp.reason,
		TopicAttr(rp.topic),
		PartitionAttr(rp.partition),
	)

	w, exists := loop.workers[rp.topicPartition]
	if !exists {
		close(rp.done)
		return
	}

	w.cancel()
	close(w.batches)
	delete(loop.workers, rp.topicPartition)
	go func() {
		<-w.done
		close(rp.done)
	}()
}

func (loop *eventLoop) dispatch(ctx context.Context, ft kgo.FetchTopic) {
	for _, fp := range ft.Partitions {
		if len(fp.Records) == 0 {
			continue
		}

		tp := topicPartition{topic: ft.Topic, partition: fp.Partition}
		w, exists := loop.workers[tp]
		if !exists {
			loop.log.WarnContext(
				ctx,
				"topic partition not found for fetched records",
				TopicAttr(tp.topic),
				PartitionAttr(tp.partition),
			)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case w.batches <- fp.Records:
		}
	}
}
