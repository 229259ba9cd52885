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

// Package metadata is the Postgres repository for photos and their event
// log. Status transitions and their matching events are committed in one
// transaction; per-photo serialization relies on row-level locking, not
// application locks.
package metadata

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype/zeronull"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/rapidphotoflow/photoflow/lib/defaults"
	"github.com/rapidphotoflow/photoflow/lib/photo"
)

// Config holds the repository connection parameters.
type Config struct {
	// ConnString is a pgx connection string or URL.
	ConnString string
	// PoolMaxConns caps the connection pool. Zero means
	// ProcessingConcurrency + DatabasePoolMargin, sized so every worker
	// can hold a connection across a transition without starving ingest.
	PoolMaxConns int
	// PoolMinConns keeps warm idle connections. Zero means the default.
	PoolMinConns int
	// AcquireTimeout bounds waiting for a pooled connection.
	AcquireTimeout time.Duration
	// Clock supplies all row timestamps.
	Clock clockwork.Clock
	// Logger is the parent logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.ConnString == "" {
		return trace.BadParameter("missing ConnString")
	}
	if c.PoolMaxConns == 0 {
		c.PoolMaxConns = defaults.ProcessingConcurrency + defaults.DatabasePoolMargin
	}
	if c.PoolMinConns == 0 {
		c.PoolMinConns = defaults.DatabasePoolMinIdle
	}
	if c.AcquireTimeout == 0 {
		c.AcquireTimeout = defaults.DatabaseAcquireTimeout
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Repository provides photo and event log persistence.
type Repository struct {
	pool   *pgxpool.Pool
	clock  clockwork.Clock
	logger *slog.Logger
}

// New connects the pool and returns a Repository. Call SetupAndMigrate
// before first use.
func New(ctx context.Context, cfg Config) (*Repository, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	poolCfg.MaxConns = int32(cfg.PoolMaxConns)
	poolCfg.MinConns = int32(cfg.PoolMinConns)
	poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, trace.ConnectionProblem(err, "connecting to metadata store")
	}

	return &Repository{
		pool:   pool,
		clock:  cfg.Clock,
		logger: cfg.Logger.With("component", "metadata"),
	}, nil
}

// Close releases the connection pool.
func (r *Repository) Close() {
	r.pool.Close()
}

const photoColumns = `id::text, COALESCE(short_id, ''), original_filename, filename, status,
	size, COALESCE(mime_type, ''), COALESCE(storage_path, ''), COALESCE(thumbnail_path, ''),
	COALESCE(metadata::text, ''), is_favorite, uploaded_at, processed_at, deleted_at,
	created_at, updated_at`

func scanPhoto(row pgx.Row) (*photo.Photo, error) {
	var p photo.Photo
	err := row.Scan(
		&p.ID, &p.ShortID, &p.OriginalFilename, &p.Filename, &p.Status,
		&p.Size, &p.MimeType, &p.StoragePath, &p.ThumbnailPath,
		&p.Metadata, &p.IsFavorite, &p.UploadedAt, &p.ProcessedAt, &p.DeletedAt,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, trace.NotFound("photo not found")
		}
		return nil, trace.Wrap(err)
	}
	return &p, nil
}

// shortIDAttempts bounds regeneration when the unique index rejects a token.
const shortIDAttempts = 3

// Create inserts a photo in state Uploaded together with its UPLOADED event,
// in one transaction. ID, ShortID and all timestamps are assigned here.
func (r *Repository) Create(ctx context.Context, p *photo.Photo, eventMessage string) (*photo.Photo, error) {
	now := r.clock.Now().UTC()
	p.ID = uuid.NewString()
	p.Status = photo.StatusUploaded
	p.UploadedAt = now
	p.CreatedAt = now
	p.UpdatedAt = now

	var err error
	for attempt := 0; attempt < shortIDAttempts; attempt++ {
		p.ShortID = photo.ShortID()
		err = r.createOnce(ctx, p, eventMessage, now)
		if err == nil {
			return p, nil
		}
		if !isUniqueViolation(err) {
			return nil, trace.Wrap(err)
		}
		r.logger.DebugContext(ctx, "Short id collision, regenerating.", "short_id", p.ShortID)
	}
	return nil, trace.Wrap(err, "allocating a unique short id")
}

func (r *Repository) createOnce(ctx context.Context, p *photo.Photo, eventMessage string, now time.Time) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return trace.Wrap(err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO photo (id, short_id, original_filename, filename, status, size,
			mime_type, storage_path, thumbnail_path, metadata, is_favorite,
			uploaded_at, created_at, updated_at)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, false, $11, $11, $11)`,
		p.ID, p.ShortID, p.OriginalFilename, p.Filename, p.Status, p.Size,
		zeronull.Text(p.MimeType), zeronull.Text(p.StoragePath),
		zeronull.Text(p.ThumbnailPath), zeronull.Text(p.Metadata), now,
	); err != nil {
		return trace.Wrap(err)
	}

	if err := insertEvent(ctx, tx, p.ID, photo.EventUploaded, eventMessage, "", now); err != nil {
		return trace.Wrap(err)
	}

	return trace.Wrap(tx.Commit(ctx))
}

func insertEvent(ctx context.Context, tx pgx.Tx, photoID, eventType, message, metadata string, ts time.Time) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO event_log (id, photo_id, event_type, message, metadata, timestamp)
		VALUES ($1::uuid, $2::uuid, $3, $4, $5, $6)`,
		uuid.NewString(), photoID, eventType, message, zeronull.Text(metadata), ts,
	)
	return trace.Wrap(err)
}

// Get fetches a photo by id, soft-deleted rows included; callers decide
// whether trashed rows are visible.
func (r *Repository) Get(ctx context.Context, id string) (*photo.Photo, error) {
	row := r.pool.QueryRow(ctx,
		"SELECT "+photoColumns+" FROM photo WHERE id = $1::uuid", id)
	p, err := scanPhoto(row)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return p, nil
}

// GetByShortID fetches a photo by its short identifier.
func (r *Repository) GetByShortID(ctx context.Context, shortID string) (*photo.Photo, error) {
	row := r.pool.QueryRow(ctx,
		"SELECT "+photoColumns+" FROM photo WHERE short_id = $1", shortID)
	p, err := scanPhoto(row)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return p, nil
}

// Exists reports whether a photo row is present, trashed or not.
func (r *Repository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM photo WHERE id = $1::uuid)", id).Scan(&exists)
	if err != nil {
		return false, trace.Wrap(err)
	}
	return exists, nil
}

// ListParams filters and pages photo listings.
type ListParams struct {
	// Status restricts the listing to one lifecycle state.
	Status photo.Status
	// FavoritesOnly restricts the listing to favorites.
	FavoritesOnly bool
	// Page is zero-based.
	Page     int
	PageSize int
}

func (p *ListParams) checkAndSetDefaults() {
	if p.PageSize <= 0 {
		p.PageSize = defaults.DefaultPageSize
	}
	if p.PageSize > defaults.MaxPageSize {
		p.PageSize = defaults.MaxPageSize
	}
	if p.Page < 0 {
		p.Page = 0
	}
}

// List returns non-trashed photos newest first, plus the total row count for
// pagination.
func (r *Repository) List(ctx context.Context, params ListParams) ([]*photo.Photo, int, error) {
	params.checkAndSetDefaults()

	where := "deleted_at IS NULL"
	args := []any{}
	if params.Status != "" {
		args = append(args, params.Status)
		where += " AND status = $1"
	}
	if params.FavoritesOnly {
		where += " AND is_favorite"
	}

	var total int
	if err := r.pool.QueryRow(ctx,
		"SELECT count(*) FROM photo WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, trace.Wrap(err)
	}

	limitArgs := append(args, params.PageSize, params.Page*params.PageSize)
	query := "SELECT " + photoColumns + " FROM photo WHERE " + where +
		" ORDER BY uploaded_at DESC" +
		" LIMIT $" + strconv.Itoa(len(args)+1) + " OFFSET $" + strconv.Itoa(len(args)+2)
	photos, err := r.queryPhotos(ctx, query, limitArgs...)
	if err != nil {
		return nil, 0, trace.Wrap(err)
	}
	return photos, total, nil
}

// ListTrash returns soft-deleted photos, most recently trashed first.
func (r *Repository) ListTrash(ctx context.Context, page, pageSize int) ([]*photo.Photo, int, error) {
	params := ListParams{Page: page, PageSize: pageSize}
	params.checkAndSetDefaults()

	var total int
	if err := r.pool.QueryRow(ctx,
		"SELECT count(*) FROM photo WHERE deleted_at IS NOT NULL").Scan(&total); err != nil {
		return nil, 0, trace.Wrap(err)
	}

	photos, err := r.queryPhotos(ctx,
		"SELECT "+photoColumns+` FROM photo WHERE deleted_at IS NOT NULL
		ORDER BY deleted_at DESC LIMIT $1 OFFSET $2`,
		params.PageSize, params.Page*params.PageSize)
	if err != nil {
		return nil, 0, trace.Wrap(err)
	}
	return photos, total, nil
}

// ListByIDs returns the photos whose ids are in ids; missing ids are
// silently skipped.
func (r *Repository) ListByIDs(ctx context.Context, ids []string) ([]*photo.Photo, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.queryPhotos(ctx,
		"SELECT "+photoColumns+" FROM photo WHERE id = ANY($1::uuid[])", ids)
}

// UpdatedSince returns every photo whose updated_at is strictly after since,
// ordered by updated_at ascending, optionally restricted to an id set. This
// is the polling fallback for subscribers without a live channel.
func (r *Repository) UpdatedSince(ctx context.Context, since time.Time, ids []string) ([]*photo.Photo, error) {
	if len(ids) > 0 {
		return r.queryPhotos(ctx,
			"SELECT "+photoColumns+` FROM photo
			WHERE updated_at > $1 AND id = ANY($2::uuid[])
			ORDER BY updated_at ASC`, since, ids)
	}
	return r.queryPhotos(ctx,
		"SELECT "+photoColumns+" FROM photo WHERE updated_at > $1 ORDER BY updated_at ASC", since)
}

func (r *Repository) queryPhotos(ctx context.Context, query string, args ...any) ([]*photo.Photo, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()

	var photos []*photo.Photo
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		photos = append(photos, p)
	}
	return photos, trace.Wrap(rows.Err())
}

// TransitionStatus atomically applies a lifecycle transition: the row is
// locked, the transition table consulted, and on apply the status update and
// the matching event commit together with the same wall-clock instant.
//
// Return shape: (photo, DecisionApply, nil) on success, (photo,
// DecisionNoop, nil) when the photo is already terminal, trace.NotFound when
// the row is gone, trace.BadParameter when the transition table denies.
func (r *Repository) TransitionStatus(ctx context.Context, id string, target photo.Status, message string) (*photo.Photo, photo.Decision, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, photo.DecisionDenied, trace.Wrap(err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		"SELECT "+photoColumns+" FROM photo WHERE id = $1::uuid FOR UPDATE", id)
	p, err := scanPhoto(row)
	if err != nil {
		return nil, photo.DecisionDenied, trace.Wrap(err)
	}

	switch decision := photo.Decide(p.Status, target); decision {
	case photo.DecisionNoop:
		return p, photo.DecisionNoop, nil
	case photo.DecisionDenied:
		return nil, photo.DecisionDenied, trace.BadParameter(
			"transition %v -> %v is not allowed", p.Status, target)
	}

	now := r.clock.Now().UTC()
	if target.IsTerminal() {
		if _, err := tx.Exec(ctx,
			"UPDATE photo SET status = $2, processed_at = $3, updated_at = $3 WHERE id = $1::uuid",
			id, target, now); err != nil {
			return nil, photo.DecisionDenied, trace.Wrap(err)
		}
		p.ProcessedAt = &now
	} else {
		if _, err := tx.Exec(ctx,
			"UPDATE photo SET status = $2, updated_at = $3 WHERE id = $1::uuid",
			id, target, now); err != nil {
			return nil, photo.DecisionDenied, trace.Wrap(err)
		}
	}
	p.Status = target
	p.UpdatedAt = now

	if err := insertEvent(ctx, tx, id, string(target), message, "", now); err != nil {
		return nil, photo.DecisionDenied, trace.Wrap(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, photo.DecisionDenied, trace.Wrap(err)
	}
	return p, photo.DecisionApply, nil
}

// ToggleFavorite flips the favorite flag.
func (r *Repository) ToggleFavorite(ctx context.Context, id string) (*photo.Photo, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE photo SET is_favorite = NOT is_favorite, updated_at = $2
		WHERE id = $1::uuid RETURNING `+photoColumns,
		id, r.clock.Now().UTC())
	p, err := scanPhoto(row)
	return p, trace.Wrap(err)
}

// Rename updates the display filename and records a RENAMED event in the
// same transaction. The storage key is untouched.
func (r *Repository) Rename(ctx context.Context, id, newName string) (*photo.Photo, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		"SELECT "+photoColumns+" FROM photo WHERE id = $1::uuid FOR UPDATE", id)
	p, err := scanPhoto(row)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	oldName := p.OriginalFilename

	now := r.clock.Now().UTC()
	if _, err := tx.Exec(ctx,
		"UPDATE photo SET original_filename = $2, updated_at = $3 WHERE id = $1::uuid",
		id, newName, now); err != nil {
		return nil, trace.Wrap(err)
	}
	p.OriginalFilename = newName
	p.UpdatedAt = now

	message := "Photo renamed from '" + oldName + "' to '" + newName + "'"
	if err := insertEvent(ctx, tx, id, photo.EventRenamed, message, "", now); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, trace.Wrap(err)
	}
	return p, nil
}

// SoftDelete moves a photo to the trash with a compare-and-set on
// updated_at. A conflicting concurrent update (a worker finishing the photo
// mid-delete) is retried once with a fresh read; a row that disappears is a
// no-op.
func (r *Repository) SoftDelete(ctx context.Context, id string) error {
	for attempt := 0; attempt < 2; attempt++ {
		p, err := r.Get(ctx, id)
		if err != nil {
			if trace.IsNotFound(err) {
				return nil
			}
			return trace.Wrap(err)
		}
		if p.Deleted() {
			return nil
		}

		now := r.clock.Now().UTC()
		tag, err := r.pool.Exec(ctx,
			"UPDATE photo SET deleted_at = $2, updated_at = $2 WHERE id = $1::uuid AND updated_at = $3",
			id, now, p.UpdatedAt)
		if err != nil {
			return trace.Wrap(err)
		}
		if tag.RowsAffected() > 0 {
			return nil
		}
		r.logger.DebugContext(ctx, "Concurrent update during soft delete, retrying.", "photo_id", id)
	}
	return trace.CompareFailed("photo %v kept changing during delete", id)
}

// Restore pulls a photo out of the trash and records a RESTORED event.
func (r *Repository) Restore(ctx context.Context, id string) (*photo.Photo, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer tx.Rollback(ctx)

	now := r.clock.Now().UTC()
	row := tx.QueryRow(ctx,
		`UPDATE photo SET deleted_at = NULL, updated_at = $2
		WHERE id = $1::uuid AND deleted_at IS NOT NULL
		RETURNING `+photoColumns,
		id, now)
	p, err := scanPhoto(row)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	if err := insertEvent(ctx, tx, id, photo.EventRestored, "Photo restored from trash", "", now); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, trace.Wrap(err)
	}
	return p, nil
}

// HardDelete removes the row permanently (events cascade) and returns the
// deleted photo so the caller can clean up its blobs.
func (r *Repository) HardDelete(ctx context.Context, id string) (*photo.Photo, error) {
	row := r.pool.QueryRow(ctx,
		"DELETE FROM photo WHERE id = $1::uuid RETURNING "+photoColumns, id)
	p, err := scanPhoto(row)
	return p, trace.Wrap(err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
