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

// Package ingest is the batch upload pipeline: it validates candidate files,
// stores the originals in the blob store with bounded parallelism, persists
// each photo, hands it to the processing queue and reports a per-file
// breakdown. A batch only fails as a whole when every file in it fails.
package ingest

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gravitational/trace"
	"golang.org/x/sync/errgroup"

	"github.com/rapidphotoflow/photoflow/lib/defaults"
	"github.com/rapidphotoflow/photoflow/lib/photo"
	"github.com/rapidphotoflow/photoflow/lib/queue"
)

// File is one candidate upload. Data must be an owned buffer, not a view
// into a request body.
type File struct {
	Filename    string
	ContentType string
	Data        []byte
}

// FileError reports why one file of a batch was rejected. Code is one of the
// Code* constants; Error is the human-readable reason.
type FileError struct {
	Filename string `json:"filename"`
	Code     string `json:"code"`
	Error    string `json:"error"`
}

// Result is the per-file breakdown of one batch.
type Result struct {
	Succeeded []*photo.Photo `json:"succeeded"`
	Failed    []FileError    `json:"failed"`
}

// BlobStore stores original photo bytes.
type BlobStore interface {
	Upload(ctx context.Context, key, contentType string, data []byte) error
}

// Store persists new photo rows.
type Store interface {
	Create(ctx context.Context, p *photo.Photo, eventMessage string) (*photo.Photo, error)
}

// Enqueuer appends processing jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, job queue.Job) error
}

// Transitioner applies lifecycle transitions.
type Transitioner interface {
	Transition(ctx context.Context, photoID string, target photo.Status, message string) (*photo.Photo, error)
}

// Notifier broadcasts newly persisted photos.
type Notifier interface {
	NotifyStatus(photoID string, status photo.Status, message string)
}

// PipelineConfig configures the ingest pipeline.
type PipelineConfig struct {
	// Blobs receives the original bytes.
	Blobs BlobStore
	// Photos persists the metadata rows.
	Photos Store
	// Queue receives one job per persisted photo.
	Queue Enqueuer
	// Lifecycle applies the Queued and Failed transitions.
	Lifecycle Transitioner
	// Notifier announces the initial Uploaded state.
	Notifier Notifier
	// Concurrency bounds parallel blob uploads per batch.
	Concurrency int
	// Logger emits pipeline diagnostics.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *PipelineConfig) CheckAndSetDefaults() error {
	if c.Blobs == nil {
		return trace.BadParameter("missing parameter Blobs")
	}
	if c.Photos == nil {
		return trace.BadParameter("missing parameter Photos")
	}
	if c.Queue == nil {
		return trace.BadParameter("missing parameter Queue")
	}
	if c.Lifecycle == nil {
		return trace.BadParameter("missing parameter Lifecycle")
	}
	if c.Notifier == nil {
		return trace.BadParameter("missing parameter Notifier")
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaults.UploadConcurrency
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	c.Logger = c.Logger.With("component", "ingest")
	return nil
}

// Pipeline ingests photo batches.
type Pipeline struct {
	cfg PipelineConfig
}

// NewPipeline creates the pipeline.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Pipeline{cfg: cfg}, nil
}

// Ingest runs one batch. Validation failures, upload failures and
// persistence failures are collected per file; processing continues for the
// rest of the batch. The returned error is non-nil only when the batch as a
// whole is rejected or every single file failed.
func (p *Pipeline) Ingest(ctx context.Context, files []File) (*Result, error) {
	if len(files) == 0 {
		return nil, trace.BadParameter("no files in upload batch")
	}
	if len(files) > defaults.MaxBatchFiles {
		return nil, trace.BadParameter("batch of %d files exceeds the limit of %d", len(files), defaults.MaxBatchFiles)
	}
	var total int64
	for _, f := range files {
		total += int64(len(f.Data))
	}
	if total > defaults.MaxBatchBytes {
		return nil, trace.BadParameter("batch of %d bytes exceeds the limit of %d", total, defaults.MaxBatchBytes)
	}

	var (
		mu     sync.Mutex
		result Result
	)
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(p.cfg.Concurrency)
	for _, f := range files {
		group.Go(func() error {
			created, err := p.ingestOne(gctx, f)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed = append(result.Failed, FileError{
					Filename: f.Filename,
					Code:     failureCode(err),
					Error:    trace.UserMessage(err),
				})
			} else {
				result.Succeeded = append(result.Succeeded, created)
			}
			return nil
		})
	}
	group.Wait()

	if len(result.Succeeded) == 0 {
		return &result, trace.BadParameter("all %d files in the batch failed", len(files))
	}
	return &result, nil
}

// ingestOne takes one file all the way from validation to Queued. Once the
// blob is stored it is never rolled back: a photo that fails after that
// point lands in Failed with its blob retained for inspection.
func (p *Pipeline) ingestOne(ctx context.Context, f File) (*photo.Photo, error) {
	contentType, err := validate(f)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	sanitized := photo.SanitizeFilename(f.Filename)
	key := photo.StorageKey(sanitized)
	if err := p.cfg.Blobs.Upload(ctx, key, contentType, f.Data); err != nil {
		p.cfg.Logger.WarnContext(ctx, "Blob upload failed.", "filename", f.Filename, "error", err)
		return nil, trace.Wrap(err)
	}

	created, err := p.cfg.Photos.Create(ctx, &photo.Photo{
		OriginalFilename: f.Filename,
		Filename:         sanitized,
		Status:           photo.StatusUploaded,
		Size:             int64(len(f.Data)),
		MimeType:         contentType,
		StoragePath:      key,
	}, "File uploaded successfully")
	if err != nil {
		p.cfg.Logger.WarnContext(ctx, "Failed to persist photo, blob retained.", "filename", f.Filename, "key", key, "error", err)
		return nil, trace.Wrap(err)
	}
	p.cfg.Notifier.NotifyStatus(created.ID, photo.StatusUploaded, "File uploaded successfully")

	if err := p.cfg.Queue.Enqueue(ctx, queue.Job{
		PhotoID:     created.ID,
		Filename:    created.Filename,
		StoragePath: created.StoragePath,
	}); err != nil {
		return nil, p.fail(ctx, created, err)
	}

	queued, err := p.cfg.Lifecycle.Transition(ctx, created.ID, photo.StatusQueued, "Photo queued for processing")
	if err != nil {
		return nil, p.fail(ctx, created, err)
	}
	if queued == nil {
		return created, nil
	}
	return queued, nil
}

// fail records the terminal Failed state for a persisted photo and returns
// the original cause as the per-file error.
func (p *Pipeline) fail(ctx context.Context, created *photo.Photo, cause error) error {
	if _, err := p.cfg.Lifecycle.Transition(ctx, created.ID, photo.StatusFailed, cause.Error()); err != nil {
		p.cfg.Logger.ErrorContext(ctx, "Failed to record failed state.", "photo_id", created.ID, "error", err)
	}
	return trace.Wrap(cause)
}
