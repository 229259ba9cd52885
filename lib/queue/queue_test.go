/*
 * RapidPhotoFlow
 * Copyright (C) 2025  RapidPhotoFlow contributors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/rapidphotoflow/photoflow/lib/defaults"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	return srv, client
}

type recordingProcessor struct {
	mu   sync.Mutex
	jobs []Job
	err  error
}

func (p *recordingProcessor) Process(ctx context.Context, job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, job)
	return p.err
}

func (p *recordingProcessor) processed() []Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Job(nil), p.jobs...)
}

func TestProducerEnqueue(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)
	p := NewProducer(client, nil)

	err := p.Enqueue(ctx, Job{PhotoID: "p1", Filename: "cat.jpg", StoragePath: "abc.jpg"})
	require.NoError(t, err)
	err = p.Enqueue(ctx, Job{PhotoID: "p2", Filename: "dog.png", StoragePath: "def.png"})
	require.NoError(t, err)

	msgs, err := client.XRange(ctx, defaults.StreamName, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "p1", msgs[0].Values["photoId"])
	require.Equal(t, "cat.jpg", msgs[0].Values["filename"])
	require.Equal(t, "abc.jpg", msgs[0].Values["storagePath"])

	// The group is ensured after the first append so a worker starting
	// later can join immediately.
	groups, err := client.XInfoGroups(ctx, defaults.StreamName).Result()
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Equal(t, defaults.ConsumerGroup, groups[0].Name)
}

func TestProducerRejectsEmptyPhotoID(t *testing.T) {
	_, client := newTestRedis(t)
	p := NewProducer(client, nil)
	require.Error(t, p.Enqueue(context.Background(), Job{Filename: "cat.jpg"}))
}

func TestEnsureGroupTolerantOfExisting(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)

	require.NoError(t, ensureGroup(ctx, client, defaults.StreamName, defaults.ConsumerGroup))
	require.NoError(t, ensureGroup(ctx, client, defaults.StreamName, defaults.ConsumerGroup))
}

func TestConsumerProcessesAndAcks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, client := newTestRedis(t)

	proc := &recordingProcessor{}
	consumer, err := NewConsumer(ConsumerConfig{
		Client:          client,
		Processor:       proc,
		ReadInterval:    10 * time.Millisecond,
		ReclaimInterval: time.Hour,
	})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		consumer.Run(ctx)
	}()

	producer := NewProducer(client, nil)
	require.NoError(t, producer.Enqueue(ctx, Job{PhotoID: "p1", Filename: "cat.jpg", StoragePath: "abc.jpg"}))

	require.Eventually(t, func() bool {
		return len(proc.processed()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, "p1", proc.processed()[0].PhotoID)

	require.Eventually(t, func() bool {
		pending, err := client.XPending(ctx, defaults.StreamName, defaults.ConsumerGroup).Result()
		return err == nil && pending.Count == 0
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestConsumerLeavesFailedJobPending(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, client := newTestRedis(t)

	proc := &recordingProcessor{err: context.DeadlineExceeded}
	consumer, err := NewConsumer(ConsumerConfig{
		Client:          client,
		Processor:       proc,
		ReadInterval:    10 * time.Millisecond,
		ReclaimInterval: time.Hour,
	})
	require.NoError(t, err)
	go consumer.Run(ctx)

	producer := NewProducer(client, nil)
	require.NoError(t, producer.Enqueue(ctx, Job{PhotoID: "p1", Filename: "cat.jpg", StoragePath: "abc.jpg"}))

	require.Eventually(t, func() bool {
		return len(proc.processed()) >= 1
	}, 5*time.Second, 10*time.Millisecond)

	pending, err := client.XPending(ctx, defaults.StreamName, defaults.ConsumerGroup).Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), pending.Count)
}

func TestConsumerReclaimsIdleMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, client := newTestRedis(t)

	producer := NewProducer(client, nil)
	require.NoError(t, producer.Enqueue(ctx, Job{PhotoID: "p1", Filename: "cat.jpg", StoragePath: "abc.jpg"}))

	// Deliver the message to a consumer that then disappears without
	// acknowledging it.
	_, err := client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    defaults.ConsumerGroup,
		Consumer: "crashed-worker",
		Streams:  []string{defaults.StreamName, ">"},
		Count:    1,
		Block:    -1,
	}).Result()
	require.NoError(t, err)

	// miniredis tracks pending idle time against the wall clock, so use a
	// tiny MinIdle and let real idle accrue instead of fast-forwarding.
	proc := &recordingProcessor{}
	consumer, err := NewConsumer(ConsumerConfig{
		Client:          client,
		Processor:       proc,
		ReadInterval:    time.Hour,
		MinIdle:         10 * time.Millisecond,
		ReclaimInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	go consumer.Run(ctx)

	require.Eventually(t, func() bool {
		return len(proc.processed()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, "p1", proc.processed()[0].PhotoID)
}

func TestConsumerAcksMalformedMessage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, client := newTestRedis(t)

	require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{
		Stream: defaults.StreamName,
		Values: map[string]any{"unrelated": "value"},
	}).Err())

	proc := &recordingProcessor{}
	consumer, err := NewConsumer(ConsumerConfig{
		Client:          client,
		Processor:       proc,
		ReadInterval:    10 * time.Millisecond,
		ReclaimInterval: time.Hour,
	})
	require.NoError(t, err)
	go consumer.Run(ctx)

	require.Eventually(t, func() bool {
		pending, err := client.XPending(ctx, defaults.StreamName, defaults.ConsumerGroup).Result()
		return err == nil && pending.Count == 0
	}, 5*time.Second, 10*time.Millisecond)
	require.Empty(t, proc.processed())
}
