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

// Package service assembles the process: it connects the metadata store,
// the object store and Redis, wires the ingest pipeline, queue runtime,
// lifecycle coordinator and API together for the configured role, and tears
// everything down in reverse order on shutdown.
package service

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gravitational/trace"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/rapidphotoflow/photoflow/lib/blobstore"
	"github.com/rapidphotoflow/photoflow/lib/defaults"
	"github.com/rapidphotoflow/photoflow/lib/eventlog"
	"github.com/rapidphotoflow/photoflow/lib/ingest"
	"github.com/rapidphotoflow/photoflow/lib/lifecycle"
	"github.com/rapidphotoflow/photoflow/lib/metadata"
	"github.com/rapidphotoflow/photoflow/lib/notify"
	"github.com/rapidphotoflow/photoflow/lib/queue"
	"github.com/rapidphotoflow/photoflow/lib/web"
)

// Run starts the process for the configured role and blocks until the
// context is cancelled or a component fails.
func Run(ctx context.Context, cfg *Config) error {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}
	logger := cfg.Logger

	repository, err := metadata.New(ctx, metadata.Config{
		ConnString:   cfg.DatabaseURL,
		PoolMaxConns: cfg.Workers + defaults.DatabasePoolMargin,
		Clock:        cfg.Clock,
		Logger:       logger,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	defer repository.Close()
	if err := repository.SetupAndMigrate(ctx); err != nil {
		return trace.Wrap(err)
	}

	blobs, err := blobstore.New(ctx, blobstore.Config{
		Endpoint:        cfg.S3Endpoint,
		Region:          cfg.S3Region,
		AccessKey:       cfg.S3AccessKey,
		SecretKey:       cfg.S3SecretKey,
		Bucket:          cfg.PhotoBucket,
		ThumbnailBucket: cfg.ThumbnailBucket,
		ForcePathStyle:  cfg.S3Endpoint != "",
		Logger:          logger,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	if err := blobs.EnsureBuckets(ctx); err != nil {
		return trace.Wrap(err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return trace.ConnectionProblem(err, "connecting to redis at %v", cfg.RedisAddr)
	}

	broker := notify.NewBroker(logger)
	notifier := notify.NewStatusNotifier(broker, cfg.Clock)
	coordinator := lifecycle.New(repository, notifier, logger)
	events := eventlog.New(repository)
	producer := queue.NewProducer(redisClient, logger)

	group, ctx := errgroup.WithContext(ctx)

	if cfg.Role == RoleAPI || cfg.Role == RoleAll {
		pipeline, err := ingest.NewPipeline(ingest.PipelineConfig{
			Blobs:     blobs,
			Photos:    repository,
			Queue:     producer,
			Lifecycle: coordinator,
			Notifier:  notifier,
			Logger:    logger,
		})
		if err != nil {
			return trace.Wrap(err)
		}
		handler, err := web.NewHandler(web.Config{
			Photos:    repository,
			Blobs:     blobs,
			Ingest:    pipeline,
			Lifecycle: coordinator,
			Events:    events,
			Broker:    broker,
			Clock:     cfg.Clock,
			Logger:    logger,
		})
		if err != nil {
			return trace.Wrap(err)
		}
		server := &http.Server{Addr: cfg.ListenAddr, Handler: handler}
		group.Go(func() error {
			logger.InfoContext(ctx, "HTTP API listening.", "addr", cfg.ListenAddr)
			if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return trace.Wrap(err)
			}
			return nil
		})
		group.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return trace.Wrap(server.Shutdown(shutdownCtx))
		})
	}

	if cfg.Role == RoleWorker || cfg.Role == RoleAll {
		worker, err := queue.NewWorker(queue.WorkerConfig{
			Photos:    repository,
			Lifecycle: coordinator,
			Events:    events,
			Clock:     cfg.Clock,
			Logger:    logger,
		})
		if err != nil {
			return trace.Wrap(err)
		}
		consumer, err := queue.NewConsumer(queue.ConsumerConfig{
			Client:    redisClient,
			Processor: worker,
			Consumer:  cfg.ConsumerName,
			Workers:   cfg.Workers,
			Clock:     cfg.Clock,
			Logger:    logger,
		})
		if err != nil {
			return trace.Wrap(err)
		}
		group.Go(func() error {
			return trace.Wrap(consumer.Run(ctx))
		})
	}

	return trace.Wrap(group.Wait())
}
