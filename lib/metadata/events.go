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

package metadata

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype/zeronull"

	"github.com/rapidphotoflow/photoflow/lib/defaults"
	"github.com/rapidphotoflow/photoflow/lib/photo"
)

const eventColumns = `seq, id::text, photo_id::text, event_type,
	COALESCE(message, ''), COALESCE(metadata::text, ''), timestamp`

func scanEvent(row pgx.Row) (*photo.Event, error) {
	var e photo.Event
	err := row.Scan(&e.Seq, &e.ID, &e.PhotoID, &e.EventType, &e.Message, &e.Metadata, &e.Timestamp)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &e, nil
}

// AppendEvent inserts one event with a server-assigned timestamp. The
// bigserial seq column breaks ties when two events land on the same
// wall-clock tick, keeping per-photo order stable.
func (r *Repository) AppendEvent(ctx context.Context, photoID, eventType, message, metadata string) (*photo.Event, error) {
	now := r.clock.Now().UTC()
	e := &photo.Event{
		ID:        uuid.NewString(),
		PhotoID:   photoID,
		EventType: eventType,
		Message:   message,
		Metadata:  metadata,
		Timestamp: now,
	}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO event_log (id, photo_id, event_type, message, metadata, timestamp)
		VALUES ($1::uuid, $2::uuid, $3, $4, $5, $6) RETURNING seq`,
		e.ID, photoID, eventType, message, zeronull.Text(metadata), now,
	).Scan(&e.Seq)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, trace.NotFound("photo %v not found", photoID)
		}
		return nil, trace.Wrap(err)
	}
	return e, nil
}

// EventsByPhoto returns all events for one photo, newest first.
func (r *Repository) EventsByPhoto(ctx context.Context, photoID string) ([]*photo.Event, error) {
	return r.queryEvents(ctx,
		"SELECT "+eventColumns+` FROM event_log
		WHERE photo_id = $1::uuid ORDER BY timestamp DESC, seq DESC`, photoID)
}

// EventFilter restricts an event log query. Both filters present means both
// are applied in-store.
type EventFilter struct {
	PhotoID   string
	EventType string
	Page      int
	PageSize  int
}

// ListEvents queries the event log, newest first.
func (r *Repository) ListEvents(ctx context.Context, filter EventFilter) ([]*photo.Event, int, error) {
	if filter.PageSize <= 0 {
		filter.PageSize = defaults.DefaultPageSize
	}
	if filter.PageSize > defaults.MaxPageSize {
		filter.PageSize = defaults.MaxPageSize
	}
	if filter.Page < 0 {
		filter.Page = 0
	}

	where := "TRUE"
	args := []any{}
	switch {
	case filter.PhotoID != "" && filter.EventType != "":
		where = "photo_id = $1::uuid AND event_type = $2"
		args = append(args, filter.PhotoID, filter.EventType)
	case filter.PhotoID != "":
		where = "photo_id = $1::uuid"
		args = append(args, filter.PhotoID)
	case filter.EventType != "":
		where = "event_type = $1"
		args = append(args, filter.EventType)
	}

	var total int
	if err := r.pool.QueryRow(ctx,
		"SELECT count(*) FROM event_log WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, trace.Wrap(err)
	}

	n := len(args)
	args = append(args, filter.PageSize, filter.Page*filter.PageSize)
	events, err := r.queryEvents(ctx,
		"SELECT "+eventColumns+" FROM event_log WHERE "+where+
			" ORDER BY timestamp DESC, seq DESC"+
			" LIMIT $"+strconv.Itoa(n+1)+" OFFSET $"+strconv.Itoa(n+2),
		args...)
	if err != nil {
		return nil, 0, trace.Wrap(err)
	}
	return events, total, nil
}

func (r *Repository) queryEvents(ctx context.Context, query string, args ...any) ([]*photo.Event, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()

	var events []*photo.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		events = append(events, e)
	}
	return events, trace.Wrap(rows.Err())
}
