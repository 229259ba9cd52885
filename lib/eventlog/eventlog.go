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

// Package eventlog records and queries the append-only history of a photo.
// Every state transition and processing sub-step lands here; entries are
// never updated or deleted while the photo exists.
package eventlog

import (
	"context"

	"github.com/gravitational/trace"
	"github.com/rapidphotoflow/photoflow/lib/metadata"
	"github.com/rapidphotoflow/photoflow/lib/photo"
)

// Store is the slice of the metadata repository the log needs.
type Store interface {
	AppendEvent(ctx context.Context, photoID, eventType, message, metadata string) (*photo.Event, error)
	EventsByPhoto(ctx context.Context, photoID string) ([]*photo.Event, error)
	ListEvents(ctx context.Context, filter metadata.EventFilter) ([]*photo.Event, int, error)
}

// Log is the event history service.
type Log struct {
	store Store
}

// New returns a log backed by the given store.
func New(store Store) *Log {
	return &Log{store: store}
}

// Append records one event. The photo must exist; a dangling photo id
// surfaces as a not-found error. Metadata is an optional JSON blob.
func (l *Log) Append(ctx context.Context, photoID, eventType, message, metadata string) (*photo.Event, error) {
	event, err := l.store.AppendEvent(ctx, photoID, eventType, message, metadata)
	return event, trace.Wrap(err)
}

// Step records one processing sub-step as a PROCESSING event.
func (l *Log) Step(ctx context.Context, photoID, message string) error {
	_, err := l.Append(ctx, photoID, photo.EventProcessing, message, "")
	return trace.Wrap(err)
}

// ByPhoto returns a photo's full history, newest first.
func (l *Log) ByPhoto(ctx context.Context, photoID string) ([]*photo.Event, error) {
	events, err := l.store.EventsByPhoto(ctx, photoID)
	return events, trace.Wrap(err)
}

// Query returns a filtered, paginated page of events plus the total count.
func (l *Log) Query(ctx context.Context, filter metadata.EventFilter) ([]*photo.Event, int, error) {
	events, total, err := l.store.ListEvents(ctx, filter)
	return events, total, trace.Wrap(err)
}
