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

package lifecycle

import (
	"context"
	"testing"

	"github.com/gravitational/trace"
	"github.com/rapidphotoflow/photoflow/lib/photo"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	photo    *photo.Photo
	decision photo.Decision
	err      error

	gotTarget  photo.Status
	gotMessage string
}

func (f *fakeStore) TransitionStatus(ctx context.Context, photoID string, target photo.Status, message string) (*photo.Photo, photo.Decision, error) {
	f.gotTarget = target
	f.gotMessage = message
	return f.photo, f.decision, f.err
}

type recordingNotifier struct {
	calls []string
}

func (r *recordingNotifier) NotifyStatus(photoID string, status photo.Status, message string) {
	r.calls = append(r.calls, photoID+"/"+string(status))
}

func TestTransitionApplyNotifies(t *testing.T) {
	store := &fakeStore{
		photo:    &photo.Photo{ID: "p1", Status: photo.StatusProcessing},
		decision: photo.DecisionApply,
	}
	notifier := &recordingNotifier{}
	c := New(store, notifier, nil)

	p, err := c.Transition(context.Background(), "p1", photo.StatusProcessing, "Processing started")
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Equal(t, photo.StatusProcessing, store.gotTarget)
	require.Equal(t, []string{"p1/PROCESSING"}, notifier.calls)
}

func TestTransitionNoopIsSilent(t *testing.T) {
	store := &fakeStore{
		photo:    &photo.Photo{ID: "p1", Status: photo.StatusCompleted},
		decision: photo.DecisionNoop,
	}
	notifier := &recordingNotifier{}
	c := New(store, notifier, nil)

	p, err := c.Transition(context.Background(), "p1", photo.StatusProcessing, "late delivery")
	require.NoError(t, err)
	require.Nil(t, p)
	require.Empty(t, notifier.calls)
}

func TestTransitionMissingPhotoIsSilent(t *testing.T) {
	store := &fakeStore{err: trace.NotFound("photo %q not found", "p9")}
	notifier := &recordingNotifier{}
	c := New(store, notifier, nil)

	p, err := c.Transition(context.Background(), "p9", photo.StatusCompleted, "done")
	require.NoError(t, err)
	require.Nil(t, p)
	require.Empty(t, notifier.calls)
}

func TestTransitionDeniedPropagates(t *testing.T) {
	store := &fakeStore{err: trace.BadParameter("cannot transition UPLOADED to COMPLETED")}
	notifier := &recordingNotifier{}
	c := New(store, notifier, nil)

	_, err := c.Transition(context.Background(), "p1", photo.StatusCompleted, "skip ahead")
	require.True(t, trace.IsBadParameter(err))
	require.Empty(t, notifier.calls)
}
