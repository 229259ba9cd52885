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

// Package blobstore adapts an S3-compatible object store for photo bytes.
// Originals and thumbnails live in two separate buckets; keys are sanitized
// storage filenames generated by the ingest pipeline, never raw user input.
package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/gravitational/trace"

	"github.com/rapidphotoflow/photoflow/lib/defaults"
)

// Config holds the connection parameters for the object store. An empty
// Endpoint targets real AWS; MinIO and other S3-compatible stores need the
// endpoint plus path-style addressing.
type Config struct {
	// Endpoint overrides the S3 endpoint (MinIO et al).
	Endpoint string
	// Region is the AWS region; MinIO accepts any non-empty value.
	Region string
	// AccessKey and SecretKey are static credentials. Empty values fall
	// back to the ambient AWS credential chain.
	AccessKey string
	SecretKey string
	// Bucket stores original photo bytes.
	Bucket string
	// ThumbnailBucket stores derived thumbnails.
	ThumbnailBucket string
	// ForcePathStyle uses path-style bucket addressing, required by MinIO.
	ForcePathStyle bool
	// Logger is the parent logger; a component child is derived from it.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Region == "" {
		c.Region = "us-east-1"
	}
	if c.Bucket == "" {
		c.Bucket = defaults.PhotoBucket
	}
	if c.ThumbnailBucket == "" {
		c.ThumbnailBucket = defaults.ThumbnailBucket
	}
	if c.Bucket == c.ThumbnailBucket {
		return trace.BadParameter("photo and thumbnail buckets must differ")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// client is the subset of the S3 API the handler uses.
type client interface {
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// uploader matches the manager.Uploader Upload method.
type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Handler is the bucket-scoped blob store adapter. It is safe for concurrent
// use: every upload owns its byte slice and the underlying SDK client is
// goroutine-safe.
type Handler struct {
	Config
	client   client
	uploader uploader
	logger   *slog.Logger
}

// New builds a Handler from config, dialing the configured endpoint.
func New(ctx context.Context, cfg Config) (*Handler, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &Handler{
		Config:   cfg,
		client:   s3Client,
		uploader: manager.NewUploader(s3Client),
		logger:   cfg.Logger.With("component", "blobstore"),
	}, nil
}

// EnsureBuckets idempotently creates the photo and thumbnail buckets.
func (h *Handler) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{h.Bucket, h.ThumbnailBucket} {
		_, err := h.client.CreateBucket(ctx, &s3.CreateBucketInput{
			Bucket: aws.String(bucket),
		})
		if err != nil && !bucketExists(err) {
			return trace.Wrap(convertS3Error(err), "creating bucket %q", bucket)
		}
		h.logger.InfoContext(ctx, "Bucket ready.", "bucket", bucket)
	}
	return nil
}

// Upload stores an original photo under key. The data slice must be owned by
// the caller for the duration of the call; it is never retained.
func (h *Handler) Upload(ctx context.Context, key, contentType string, data []byte) error {
	return h.put(ctx, h.Bucket, key, contentType, data)
}

// UploadThumbnail stores a thumbnail under key.
func (h *Handler) UploadThumbnail(ctx context.Context, key, contentType string, data []byte) error {
	return h.put(ctx, h.ThumbnailBucket, key, contentType, data)
}

func (h *Handler) put(ctx context.Context, bucket, key, contentType string, data []byte) error {
	start := time.Now()
	_, err := h.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return trace.Wrap(convertS3Error(err), "PutObject %v/%v", bucket, key)
	}
	h.logger.DebugContext(ctx, "Uploaded object.",
		"bucket", bucket, "key", key, "bytes", len(data), "elapsed", time.Since(start).String())
	return nil
}

// Download returns a reader over the original photo bytes plus the stored
// content type. The caller owns the reader.
func (h *Handler) Download(ctx context.Context, key string) (io.ReadCloser, string, error) {
	return h.get(ctx, h.Bucket, key)
}

// DownloadThumbnail returns a reader over the thumbnail bytes.
func (h *Handler) DownloadThumbnail(ctx context.Context, key string) (io.ReadCloser, string, error) {
	return h.get(ctx, h.ThumbnailBucket, key)
}

func (h *Handler) get(ctx context.Context, bucket, key string) (io.ReadCloser, string, error) {
	out, err := h.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, "", trace.Wrap(convertS3Error(err), "GetObject %v/%v", bucket, key)
	}
	return out.Body, aws.ToString(out.ContentType), nil
}

// Delete removes the original photo object. Deleting a missing key is not
// an error.
func (h *Handler) Delete(ctx context.Context, key string) error {
	return h.del(ctx, h.Bucket, key)
}

// DeleteThumbnail removes the thumbnail object.
func (h *Handler) DeleteThumbnail(ctx context.Context, key string) error {
	return h.del(ctx, h.ThumbnailBucket, key)
}

func (h *Handler) del(ctx context.Context, bucket, key string) error {
	_, err := h.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		err = convertS3Error(err)
		if trace.IsNotFound(err) {
			return nil
		}
		return trace.Wrap(err, "DeleteObject %v/%v", bucket, key)
	}
	return nil
}

func bucketExists(err error) bool {
	var owned *s3types.BucketAlreadyOwnedByYou
	var exists *s3types.BucketAlreadyExists
	return errors.As(err, &owned) || errors.As(err, &exists)
}

// convertS3Error maps SDK errors to trace semantics so callers can branch on
// trace.IsNotFound without importing AWS types.
func convertS3Error(err error) error {
	if err == nil {
		return nil
	}
	var noSuchKey *s3types.NoSuchKey
	var noSuchBucket *s3types.NoSuchBucket
	var notFound *s3types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &noSuchBucket) || errors.As(err, &notFound) {
		return trace.NotFound("%s", err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchKey" {
		return trace.NotFound("%s", err)
	}
	return trace.Wrap(err)
}
