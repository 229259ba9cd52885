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

	"github.com/gravitational/trace"
	"github.com/jackc/pgx/v5"
)

// migrations are applied in order inside a single transaction guarded by the
// migration table. Append only; never edit an entry that has shipped.
var migrations = []string{
	`CREATE TABLE photo (
		id uuid PRIMARY KEY,
		short_id text UNIQUE,
		original_filename text NOT NULL,
		filename text NOT NULL,
		status text NOT NULL,
		size bigint NOT NULL,
		mime_type text,
		storage_path text,
		thumbnail_path text,
		metadata jsonb,
		is_favorite boolean NOT NULL DEFAULT false,
		uploaded_at timestamptz NOT NULL,
		processed_at timestamptz,
		deleted_at timestamptz,
		created_at timestamptz NOT NULL,
		updated_at timestamptz NOT NULL
	)`,
	`CREATE INDEX photo_status_idx ON photo (status)`,
	`CREATE INDEX photo_uploaded_at_idx ON photo (uploaded_at DESC)`,
	`CREATE INDEX photo_favorite_idx ON photo (is_favorite) WHERE is_favorite`,
	`CREATE INDEX photo_deleted_at_idx ON photo (deleted_at)`,
	`CREATE INDEX photo_updated_at_idx ON photo (updated_at)`,
	`CREATE TABLE event_log (
		seq bigserial,
		id uuid PRIMARY KEY,
		photo_id uuid NOT NULL REFERENCES photo (id) ON DELETE CASCADE,
		event_type text NOT NULL,
		message text,
		metadata jsonb,
		timestamp timestamptz NOT NULL
	)`,
	`CREATE INDEX event_log_photo_id_idx ON event_log (photo_id)`,
	`CREATE INDEX event_log_timestamp_idx ON event_log (timestamp DESC)`,
	`CREATE INDEX event_log_event_type_idx ON event_log (event_type)`,
}

// SetupAndMigrate brings the schema up to the current version. Concurrent
// callers serialize on an advisory lock so two processes starting at once do
// not race the migration table.
func (r *Repository) SetupAndMigrate(ctx context.Context) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return trace.Wrap(err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockID); err != nil {
		return trace.Wrap(err)
	}

	if _, err := tx.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS migration (
			version integer PRIMARY KEY,
			created timestamptz NOT NULL DEFAULT now()
		)`,
	); err != nil {
		return trace.Wrap(err)
	}

	var version int
	if err := tx.QueryRow(ctx,
		"SELECT COALESCE(max(version), 0) FROM migration",
	).Scan(&version); err != nil {
		return trace.Wrap(err)
	}
	if version > len(migrations) {
		return trace.BadParameter("database schema version %v is newer than this binary supports (%v)",
			version, len(migrations))
	}

	for i := version; i < len(migrations); i++ {
		if _, err := tx.Exec(ctx, migrations[i]); err != nil {
			return trace.Wrap(err, "applying migration %v", i+1)
		}
		if _, err := tx.Exec(ctx,
			"INSERT INTO migration (version) VALUES ($1)", i+1,
		); err != nil {
			return trace.Wrap(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return trace.Wrap(err)
	}
	if version < len(migrations) {
		r.logger.InfoContext(ctx, "Applied schema migrations.",
			"from", version, "to", len(migrations))
	}
	return nil
}

// migrationLockID is an arbitrary but stable advisory lock key.
const migrationLockID = 0x70686f746f // "photo"
