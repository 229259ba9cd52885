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

// Command photoflow runs the photo ingest and processing service.
// Configuration comes from PHOTOFLOW_* environment variables; the role flag
// picks which parts of the system this process hosts.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rapidphotoflow/photoflow/lib/service"
)

func main() {
	role := flag.String("role", "", "role to run: api, worker or all (overrides PHOTOFLOW_ROLE)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug || os.Getenv("PHOTOFLOW_DEBUG") == "true" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := service.ConfigFromEnv()
	if err != nil {
		logger.Error("Invalid configuration.", "error", err)
		os.Exit(1)
	}
	cfg.Logger = logger
	if *role != "" {
		cfg.Role = service.Role(*role)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := service.Run(ctx, cfg); err != nil {
		logger.Error("Service terminated.", "error", err)
		os.Exit(1)
	}
}
