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
	"os"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/rapidphotoflow/photoflow/lib/photo"
)

// urlEnvVar points the suite at a scratch Postgres database. The tests
// truncate both tables between cases.
const urlEnvVar = "PHOTOFLOW_TEST_POSTGRES_URL"

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	url, ok := os.LookupEnv(urlEnvVar)
	if !ok {
		t.Skipf("Missing %v environment variable.", urlEnvVar)
	}

	ctx := context.Background()
	r, err := New(ctx, Config{ConnString: url})
	require.NoError(t, err)
	t.Cleanup(r.Close)

	require.NoError(t, r.SetupAndMigrate(ctx))
	_, err = r.pool.Exec(ctx, "TRUNCATE photo CASCADE")
	require.NoError(t, err)
	return r
}

func createTestPhoto(t *testing.T, r *Repository) *photo.Photo {
	t.Helper()
	p, err := r.Create(context.Background(), &photo.Photo{
		OriginalFilename: "beach.png",
		Filename:         "deadbeef.png",
		Size:             1024,
		MimeType:         "image/png",
		StoragePath:      "photos/deadbeef.png",
	}, "Photo uploaded successfully: beach.png")
	require.NoError(t, err)
	return p
}

func TestCreateAssignsIdentityAndFirstEvent(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()

	p := createTestPhoto(t, r)
	require.NotEmpty(t, p.ID)
	require.True(t, photo.ValidShortID(p.ShortID))
	require.Equal(t, photo.StatusUploaded, p.Status)
	require.Nil(t, p.ProcessedAt)

	events, err := r.EventsByPhoto(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, photo.EventUploaded, events[0].EventType)

	got, err := r.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, "beach.png", got.OriginalFilename)
	require.Equal(t, int64(1024), got.Size)

	byShort, err := r.GetByShortID(ctx, p.ShortID)
	require.NoError(t, err)
	require.Equal(t, p.ID, byShort.ID)
}

func TestTransitionHappyPath(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()
	p := createTestPhoto(t, r)

	for _, target := range []photo.Status{photo.StatusQueued, photo.StatusProcessing, photo.StatusCompleted} {
		updated, decision, err := r.TransitionStatus(ctx, p.ID, target, "step "+string(target))
		require.NoError(t, err)
		require.Equal(t, photo.DecisionApply, decision)
		require.Equal(t, target, updated.Status)
	}

	final, err := r.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, photo.StatusCompleted, final.Status)
	require.NotNil(t, final.ProcessedAt)

	// event log newest first: COMPLETED, PROCESSING, QUEUED, UPLOADED
	events, err := r.EventsByPhoto(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, events, 4)
	require.Equal(t, photo.EventCompleted, events[0].EventType)
	require.Equal(t, photo.EventUploaded, events[3].EventType)
}

func TestTransitionTerminalIsNoop(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()
	p := createTestPhoto(t, r)

	for _, target := range []photo.Status{photo.StatusQueued, photo.StatusProcessing, photo.StatusCompleted} {
		_, _, err := r.TransitionStatus(ctx, p.ID, target, "")
		require.NoError(t, err)
	}

	// a re-delivered message must not regress the terminal state or append
	_, decision, err := r.TransitionStatus(ctx, p.ID, photo.StatusProcessing, "redelivered")
	require.NoError(t, err)
	require.Equal(t, photo.DecisionNoop, decision)

	events, err := r.EventsByPhoto(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, events, 4)
}

func TestTransitionDenied(t *testing.T) {
	r := newTestRepository(t)
	p := createTestPhoto(t, r)

	_, _, err := r.TransitionStatus(context.Background(), p.ID, photo.StatusCompleted, "")
	require.Error(t, err)
	require.True(t, trace.IsBadParameter(err))
}

func TestTransitionMissingPhoto(t *testing.T) {
	r := newTestRepository(t)

	_, _, err := r.TransitionStatus(context.Background(),
		"00000000-0000-0000-0000-000000000000", photo.StatusQueued, "")
	require.True(t, trace.IsNotFound(err))
}

func TestSoftDeleteAndRestore(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()
	p := createTestPhoto(t, r)

	require.NoError(t, r.SoftDelete(ctx, p.ID))

	got, err := r.Get(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, got.Deleted())

	// gone from normal listings, present in trash
	listed, total, err := r.List(ctx, ListParams{})
	require.NoError(t, err)
	require.Empty(t, listed)
	require.Zero(t, total)

	trash, total, err := r.ListTrash(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, trash, 1)
	require.Equal(t, 1, total)

	// deleting an already-deleted or missing photo is a no-op
	require.NoError(t, r.SoftDelete(ctx, p.ID))
	require.NoError(t, r.SoftDelete(ctx, "00000000-0000-0000-0000-000000000000"))

	restored, err := r.Restore(ctx, p.ID)
	require.NoError(t, err)
	require.False(t, restored.Deleted())

	events, err := r.EventsByPhoto(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, photo.EventRestored, events[0].EventType)
}

func TestHardDeleteCascades(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()
	p := createTestPhoto(t, r)

	deleted, err := r.HardDelete(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, p.StoragePath, deleted.StoragePath)

	_, err = r.Get(ctx, p.ID)
	require.True(t, trace.IsNotFound(err))

	events, err := r.EventsByPhoto(ctx, p.ID)
	require.NoError(t, err)
	require.Empty(t, events, "events must cascade on photo delete")

	_, err = r.HardDelete(ctx, p.ID)
	require.True(t, trace.IsNotFound(err))
}

func TestUpdatedSince(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()

	before := time.Now().UTC().Add(-time.Second)
	a := createTestPhoto(t, r)
	b := createTestPhoto(t, r)

	updated, err := r.UpdatedSince(ctx, before, nil)
	require.NoError(t, err)
	require.Len(t, updated, 2)

	// restricted to one id
	updated, err = r.UpdatedSince(ctx, before, []string{b.ID})
	require.NoError(t, err)
	require.Len(t, updated, 1)
	require.Equal(t, b.ID, updated[0].ID)

	// nothing after the latest update
	updated, err = r.UpdatedSince(ctx, time.Now().UTC().Add(time.Hour), nil)
	require.NoError(t, err)
	require.Empty(t, updated)
	_ = a
}

func TestListEventsFiltering(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()
	a := createTestPhoto(t, r)
	b := createTestPhoto(t, r)

	_, _, err := r.TransitionStatus(ctx, a.ID, photo.StatusQueued, "queued")
	require.NoError(t, err)

	byPhoto, total, err := r.ListEvents(ctx, EventFilter{PhotoID: a.ID})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Len(t, byPhoto, 2)

	byType, total, err := r.ListEvents(ctx, EventFilter{EventType: photo.EventUploaded})
	require.NoError(t, err)
	require.Equal(t, 2, total)

	both, total, err := r.ListEvents(ctx, EventFilter{PhotoID: b.ID, EventType: photo.EventQueued})
	require.NoError(t, err)
	require.Zero(t, total)
	require.Empty(t, both)
	_ = byType
}

func TestToggleFavoriteAndRename(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()
	p := createTestPhoto(t, r)

	fav, err := r.ToggleFavorite(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, fav.IsFavorite)

	unfav, err := r.ToggleFavorite(ctx, p.ID)
	require.NoError(t, err)
	require.False(t, unfav.IsFavorite)

	renamed, err := r.Rename(ctx, p.ID, "sunset.png")
	require.NoError(t, err)
	require.Equal(t, "sunset.png", renamed.OriginalFilename)
	require.Equal(t, p.Filename, renamed.Filename, "storage key must not change on rename")

	events, err := r.EventsByPhoto(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, photo.EventRenamed, events[0].EventType)
}

func TestAppendEventMissingPhoto(t *testing.T) {
	r := newTestRepository(t)

	_, err := r.AppendEvent(context.Background(),
		"00000000-0000-0000-0000-000000000000", photo.EventProcessing, "orphan", "")
	require.True(t, trace.IsNotFound(err))
}
