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
	"log/slog"
	"strings"
	"sync"

	"github.com/gravitational/trace"
	"github.com/redis/go-redis/v9"

	"github.com/rapidphotoflow/photoflow/lib/defaults"
)

// Producer appends processing jobs to the stream. The stream itself is
// created implicitly by the first append; the consumer group is ensured
// lazily after that so a worker starting later still finds it.
type Producer struct {
	client redis.UniversalClient
	stream string
	group  string
	logger *slog.Logger

	groupOnce sync.Once
}

// NewProducer returns a producer on the default stream and group.
func NewProducer(client redis.UniversalClient, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{
		client: client,
		stream: defaults.StreamName,
		group:  defaults.ConsumerGroup,
		logger: logger.With("component", "queue"),
	}
}

// Enqueue appends one job to the stream.
func (p *Producer) Enqueue(ctx context.Context, job Job) error {
	if job.PhotoID == "" {
		return trace.BadParameter("job is missing a photo id")
	}
	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: job.values(),
	}).Err(); err != nil {
		return trace.ConnectionProblem(err, "appending job for photo %v to stream %v", job.PhotoID, p.stream)
	}
	p.groupOnce.Do(func() {
		if err := ensureGroup(ctx, p.client, p.stream, p.group); err != nil {
			p.logger.WarnContext(ctx, "Failed to ensure consumer group after append.", "error", err)
		}
	})
	return nil
}

// ensureGroup creates the consumer group at the start of the stream,
// treating an already existing group as success.
func ensureGroup(ctx context.Context, client redis.UniversalClient, stream, group string) error {
	err := client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return trace.ConnectionProblem(err, "creating consumer group %v on stream %v", group, stream)
	}
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

func isNoGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "NOGROUP")
}
