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

// Package defaults holds the shared tunables of the ingest and worker
// processes. Values that are also part of the external contract (stream
// names, batch sizes, idle times) live here so both roles agree on them.
package defaults

import "time"

const (
	// MaxFileSize is the per-file upload limit.
	MaxFileSize = 10 * 1024 * 1024
	// MaxBatchBytes is the upper bound on a whole upload request body.
	MaxBatchBytes = 5 * 1024 * 1024 * 1024
	// MaxBatchFiles is the maximum number of files accepted in one batch.
	MaxBatchFiles = 1000
	// MaxFilenameLength is the longest storage filename we will produce.
	MaxFilenameLength = 255

	// UploadConcurrency bounds concurrent blob uploads per ingest call.
	UploadConcurrency = 10
	// ProcessingConcurrency bounds concurrent photo processings per worker.
	ProcessingConcurrency = 40

	// StreamName is the queue stream carrying processing jobs.
	StreamName = "photo_stream"
	// ConsumerGroup is the worker consumer group on StreamName.
	ConsumerGroup = "workers"
	// ConsumerName is the default consumer name; override it when running
	// more than one worker.
	ConsumerName = "worker-1"

	// ReadBatchSize is how many new messages one read tick may claim.
	ReadBatchSize = 40
	// ReadInterval is the live loop tick.
	ReadInterval = time.Second
	// ReclaimBatchSize is how many pending messages one reclaim tick may claim.
	ReclaimBatchSize = 10
	// ReclaimInterval is the pending reclaim tick.
	ReclaimInterval = 30 * time.Second
	// ReclaimMinIdle is how long a delivered message must sit unacked
	// before another consumer may claim it.
	ReclaimMinIdle = time.Minute

	// PhotoBucket and ThumbnailBucket are the object store bucket names.
	PhotoBucket     = "photos"
	ThumbnailBucket = "thumbnails"

	// BroadcastTopic receives every status transition on any photo.
	// Per-photo topics are BroadcastTopicPrefix + photo id.
	BroadcastTopic       = "photo-status/all"
	BroadcastTopicPrefix = "photo-status/"

	// SubscriberQueueSize bounds the per-subscriber notification backlog;
	// the oldest entry is dropped on overflow.
	SubscriberQueueSize = 64

	// DatabasePoolMargin is added to ProcessingConcurrency to size the
	// connection pool: each worker holds a connection across a transition.
	DatabasePoolMargin = 10
	// DatabasePoolMinIdle keeps warm connections around between bursts.
	DatabasePoolMinIdle = 10
	// DatabaseAcquireTimeout bounds waiting for a pooled connection.
	DatabaseAcquireTimeout = 30 * time.Second

	// WebSocketPingInterval keeps idle subscriber connections alive.
	WebSocketPingInterval = 30 * time.Second
	// WebSocketWriteTimeout bounds a single frame write to a subscriber.
	WebSocketWriteTimeout = 10 * time.Second

	// DefaultPageSize is used when a listing request does not specify one.
	DefaultPageSize = 20
	// MaxPageSize caps a caller-provided page size.
	MaxPageSize = 200
)
