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

// Package lifecycle coordinates photo status transitions: it applies the
// transition through the metadata store and fans the result out to live
// subscribers. All status changes go through the Coordinator so persistence
// and notification never diverge.
package lifecycle

import (
	"context"
	"log/slog"

	"github.com/gravitational/trace"
	"github.com/rapidphotoflow/photoflow/lib/photo"
)

// Store applies transitions against durable state.
type Store interface {
	TransitionStatus(ctx context.Context, photoID string, target photo.Status, message string) (*photo.Photo, photo.Decision, error)
}

// Notifier broadcasts applied transitions.
type Notifier interface {
	NotifyStatus(photoID string, status photo.Status, message string)
}

// Coordinator is the single entry point for status changes.
type Coordinator struct {
	store    Store
	notifier Notifier
	logger   *slog.Logger
}

// New returns a coordinator over the given store and notifier.
func New(store Store, notifier Notifier, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:    store,
		notifier: notifier,
		logger:   logger.With("component", "lifecycle"),
	}
}

// Transition moves the photo to the target status. An already-reached or
// terminally absorbed target is a silent no-op returning (nil, nil), as is a
// photo that no longer exists; an illegal transition returns a bad parameter
// error. On success the updated photo is returned after subscribers have
// been notified.
func (c *Coordinator) Transition(ctx context.Context, photoID string, target photo.Status, message string) (*photo.Photo, error) {
	p, decision, err := c.store.TransitionStatus(ctx, photoID, target, message)
	if err != nil {
		if trace.IsNotFound(err) {
			c.logger.InfoContext(ctx, "Transition target no longer exists.", "photo_id", photoID, "target", target)
			return nil, nil
		}
		return nil, trace.Wrap(err)
	}
	if decision == photo.DecisionNoop {
		return nil, nil
	}
	c.notifier.NotifyStatus(p.ID, p.Status, message)
	return p, nil
}
