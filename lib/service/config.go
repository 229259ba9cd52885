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

package service

import (
	"log/slog"
	"os"
	"strings"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/rapidphotoflow/photoflow/lib/defaults"
)

// Role selects which parts of the process to start.
type Role string

const (
	// RoleAPI runs the HTTP API and the ingest pipeline.
	RoleAPI Role = "api"
	// RoleWorker runs the queue consumer and the processing simulation.
	RoleWorker Role = "worker"
	// RoleAll runs everything in one process.
	RoleAll Role = "all"
)

// Config is the process configuration, read from PHOTOFLOW_* environment
// variables.
type Config struct {
	// Role selects api, worker or all.
	Role Role
	// ListenAddr is the HTTP listen address.
	ListenAddr string
	// DatabaseURL is the Postgres connection string.
	DatabaseURL string
	// RedisAddr is the Redis host:port.
	RedisAddr string
	// RedisPassword is optional.
	RedisPassword string
	// S3Endpoint points at the S3-compatible object store.
	S3Endpoint string
	// S3Region is the object store region.
	S3Region string
	// S3AccessKey and S3SecretKey are static credentials.
	S3AccessKey string
	S3SecretKey string
	// PhotoBucket and ThumbnailBucket override the default bucket names.
	PhotoBucket     string
	ThumbnailBucket string
	// ConsumerName is this worker's name within the consumer group.
	ConsumerName string
	// Workers bounds concurrent photo processing.
	Workers int
	// Clock is swapped out in tests.
	Clock clockwork.Clock
	// Logger is the root logger.
	Logger *slog.Logger
}

// ConfigFromEnv reads the process configuration from the environment.
func ConfigFromEnv() (*Config, error) {
	cfg := &Config{
		Role:            Role(strings.ToLower(env("PHOTOFLOW_ROLE", string(RoleAll)))),
		ListenAddr:      env("PHOTOFLOW_LISTEN_ADDR", ":8080"),
		DatabaseURL:     os.Getenv("PHOTOFLOW_POSTGRES_URL"),
		RedisAddr:       env("PHOTOFLOW_REDIS_ADDR", "localhost:6379"),
		RedisPassword:   os.Getenv("PHOTOFLOW_REDIS_PASSWORD"),
		S3Endpoint:      os.Getenv("PHOTOFLOW_S3_ENDPOINT"),
		S3Region:        env("PHOTOFLOW_S3_REGION", "us-east-1"),
		S3AccessKey:     os.Getenv("PHOTOFLOW_S3_ACCESS_KEY"),
		S3SecretKey:     os.Getenv("PHOTOFLOW_S3_SECRET_KEY"),
		PhotoBucket:     os.Getenv("PHOTOFLOW_S3_PHOTO_BUCKET"),
		ThumbnailBucket: os.Getenv("PHOTOFLOW_S3_THUMBNAIL_BUCKET"),
		ConsumerName:    env("PHOTOFLOW_CONSUMER_NAME", defaults.ConsumerName),
	}
	return cfg, trace.Wrap(cfg.CheckAndSetDefaults())
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	switch c.Role {
	case RoleAPI, RoleWorker, RoleAll:
	case "":
		c.Role = RoleAll
	default:
		return trace.BadParameter("unknown role %q, expected api, worker or all", c.Role)
	}
	if c.DatabaseURL == "" {
		return trace.BadParameter("PHOTOFLOW_POSTGRES_URL must be set")
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.RedisAddr == "" {
		c.RedisAddr = "localhost:6379"
	}
	if c.ConsumerName == "" {
		c.ConsumerName = defaults.ConsumerName
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
	return nil
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
