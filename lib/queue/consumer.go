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
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/rapidphotoflow/photoflow/lib/defaults"
)

// Processor handles one dequeued job. A nil return acknowledges the message;
// a non-nil return leaves it pending so the reclaim loop can retry it later.
// Processors own their failure policy: a job that has been terminally failed
// should be reported as nil so it is acknowledged and never redelivered.
type Processor interface {
	Process(ctx context.Context, job Job) error
}

// ConsumerConfig configures the consumer-group runtime.
type ConsumerConfig struct {
	// Client is the Redis client to consume from.
	Client redis.UniversalClient
	// Processor receives every dequeued job.
	Processor Processor
	// Stream is the stream to consume, defaults to the shared job stream.
	Stream string
	// Group is the consumer group name.
	Group string
	// Consumer is this instance's name within the group. Set it per replica
	// when scaling horizontally.
	Consumer string
	// ReadBatch caps how many new messages one live tick reads.
	ReadBatch int64
	// ReadInterval is the live loop period.
	ReadInterval time.Duration
	// ClaimBatch caps how many pending messages one reclaim tick takes over.
	ClaimBatch int64
	// MinIdle is how long a delivered message must sit unacknowledged before
	// it becomes eligible for reclaim.
	MinIdle time.Duration
	// ReclaimInterval is the reclaim loop period.
	ReclaimInterval time.Duration
	// Workers bounds concurrent job processing.
	Workers int
	// Clock drives both loops, swapped out in tests.
	Clock clockwork.Clock
	// Logger emits consumer diagnostics.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *ConsumerConfig) CheckAndSetDefaults() error {
	if c.Client == nil {
		return trace.BadParameter("missing parameter Client")
	}
	if c.Processor == nil {
		return trace.BadParameter("missing parameter Processor")
	}
	if c.Stream == "" {
		c.Stream = defaults.StreamName
	}
	if c.Group == "" {
		c.Group = defaults.ConsumerGroup
	}
	if c.Consumer == "" {
		c.Consumer = defaults.ConsumerName
	}
	if c.ReadBatch <= 0 {
		c.ReadBatch = defaults.ReadBatchSize
	}
	if c.ReadInterval <= 0 {
		c.ReadInterval = defaults.ReadInterval
	}
	if c.ClaimBatch <= 0 {
		c.ClaimBatch = defaults.ReclaimBatchSize
	}
	if c.MinIdle <= 0 {
		c.MinIdle = defaults.ReclaimMinIdle
	}
	if c.ReclaimInterval <= 0 {
		c.ReclaimInterval = defaults.ReclaimInterval
	}
	if c.Workers <= 0 {
		c.Workers = defaults.ProcessingConcurrency
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	c.Logger = c.Logger.With("component", "queue", "consumer", c.Consumer)
	return nil
}

// Consumer reads jobs off the stream as part of a consumer group and feeds
// them to the processor through a bounded worker pool. Two loops drive it: a
// live loop reading fresh deliveries and a reclaim loop taking over messages
// another consumer received but never acknowledged.
type Consumer struct {
	cfg  ConsumerConfig
	slot chan struct{}
	wg   sync.WaitGroup
}

// NewConsumer creates the runtime without starting it.
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Consumer{
		cfg:  cfg,
		slot: make(chan struct{}, cfg.Workers),
	}, nil
}

// Run consumes until the context is cancelled, then waits for in-flight
// handlers to settle. Messages skipped because the pool was saturated stay
// pending and come back through the reclaim path.
func (c *Consumer) Run(ctx context.Context) error {
	if err := ensureGroup(ctx, c.cfg.Client, c.cfg.Stream, c.cfg.Group); err != nil {
		return trace.Wrap(err)
	}
	c.cfg.Logger.InfoContext(ctx, "Consumer started.", "stream", c.cfg.Stream, "group", c.cfg.Group)

	readTicker := c.cfg.Clock.NewTicker(c.cfg.ReadInterval)
	defer readTicker.Stop()
	reclaimTicker := c.cfg.Clock.NewTicker(c.cfg.ReclaimInterval)
	defer reclaimTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.wg.Wait()
			return nil
		case <-readTicker.Chan():
			c.readTick(ctx)
		case <-reclaimTicker.Chan():
			c.reclaimTick(ctx)
		}
	}
}

func (c *Consumer) readTick(ctx context.Context) {
	streams, err := c.cfg.Client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    c.cfg.ReadBatch,
		Block:    -1,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return
		}
		if isNoGroup(err) {
			// The stream or group vanished underneath us, recreate and
			// pick up on the next tick.
			if err := ensureGroup(ctx, c.cfg.Client, c.cfg.Stream, c.cfg.Group); err != nil {
				c.cfg.Logger.WarnContext(ctx, "Failed to recreate consumer group.", "error", err)
			}
			return
		}
		c.cfg.Logger.WarnContext(ctx, "Failed to read from stream.", "error", err)
		return
	}
	for _, stream := range streams {
		c.dispatch(ctx, stream.Messages)
	}
}

func (c *Consumer) reclaimTick(ctx context.Context) {
	messages, _, err := c.cfg.Client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.cfg.Stream,
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		MinIdle:  c.cfg.MinIdle,
		Start:    "0-0",
		Count:    c.cfg.ClaimBatch,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || isNoGroup(err) {
			return
		}
		c.cfg.Logger.WarnContext(ctx, "Failed to reclaim pending messages.", "error", err)
		return
	}
	if len(messages) > 0 {
		c.cfg.Logger.InfoContext(ctx, "Reclaimed pending messages.", "count", len(messages))
	}
	c.dispatch(ctx, messages)
}

// dispatch hands each message to the pool without ever blocking the tick. A
// saturated pool leaves the remainder pending for a later reclaim.
func (c *Consumer) dispatch(ctx context.Context, messages []redis.XMessage) {
	for _, msg := range messages {
		select {
		case c.slot <- struct{}{}:
		default:
			c.cfg.Logger.WarnContext(ctx, "Worker pool saturated, leaving message pending.", "message_id", msg.ID)
			continue
		}
		c.wg.Add(1)
		go func(msg redis.XMessage) {
			defer c.wg.Done()
			defer func() { <-c.slot }()
			c.handle(ctx, msg)
		}(msg)
	}
}

func (c *Consumer) handle(ctx context.Context, msg redis.XMessage) {
	job, err := jobFromValues(msg.Values)
	if err != nil {
		// Malformed messages can never succeed, acknowledge so they do not
		// cycle through reclaim forever.
		c.cfg.Logger.WarnContext(ctx, "Discarding malformed message.", "message_id", msg.ID, "error", err)
		c.ack(ctx, msg.ID)
		return
	}
	if err := c.cfg.Processor.Process(ctx, job); err != nil {
		c.cfg.Logger.WarnContext(ctx, "Processing failed, message stays pending.",
			"message_id", msg.ID, "photo_id", job.PhotoID, "error", err)
		return
	}
	c.ack(ctx, msg.ID)
}

func (c *Consumer) ack(ctx context.Context, messageID string) {
	if err := c.cfg.Client.XAck(ctx, c.cfg.Stream, c.cfg.Group, messageID).Err(); err != nil {
		c.cfg.Logger.WarnContext(ctx, "Failed to acknowledge message.", "message_id", messageID, "error", err)
	}
}
