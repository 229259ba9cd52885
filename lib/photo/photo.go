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

// Package photo defines the domain model shared by the ingest and worker
// roles: the photo entity, its lifecycle status machine, and the append-only
// event log entry.
package photo

import (
	"time"

	"github.com/gravitational/trace"
)

// Status is the lifecycle state of a photo.
type Status string

const (
	StatusUploaded   Status = "UPLOADED"
	StatusQueued     Status = "QUEUED"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// ParseStatus converts the wire representation of a status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusUploaded, StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return Status(s), nil
	}
	return "", trace.BadParameter("unknown photo status %q", s)
}

// IsTerminal reports whether no further transitions are allowed from s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Decision is the outcome of consulting the transition table.
type Decision int

const (
	// DecisionApply means the transition is allowed and should be persisted.
	DecisionApply Decision = iota
	// DecisionNoop means the photo is already in a terminal state; the
	// transition is silently dropped (at-least-once delivery tolerance).
	DecisionNoop
	// DecisionDenied means the transition is a programming error.
	DecisionDenied
)

// transitions is the static allow table: transitions[from][to].
var transitions = map[Status]map[Status]bool{
	StatusUploaded:   {StatusQueued: true, StatusFailed: true},
	StatusQueued:     {StatusProcessing: true, StatusFailed: true},
	StatusProcessing: {StatusCompleted: true, StatusFailed: true},
}

// Decide evaluates the transition table for a current/target status pair.
// Terminal states absorb every further transition as a no-op so that
// re-delivered queue messages cannot regress a finished photo.
func Decide(current, target Status) Decision {
	if current.IsTerminal() {
		return DecisionNoop
	}
	if transitions[current][target] {
		return DecisionApply
	}
	return DecisionDenied
}

// Event types recorded in the event log. Status transitions use the status
// name itself; RENAMED and RESTORED come from user actions.
const (
	EventUploaded   = "UPLOADED"
	EventQueued     = "QUEUED"
	EventProcessing = "PROCESSING"
	EventCompleted  = "COMPLETED"
	EventFailed     = "FAILED"
	EventRenamed    = "RENAMED"
	EventRestored   = "RESTORED"
)

// Photo is the primary entity. Status and the processed/updated timestamps
// are mutated only through the lifecycle coordinator; user actions touch the
// favorite, filename and deletion fields.
type Photo struct {
	ID               string     `json:"id"`
	ShortID          string     `json:"shortId,omitempty"`
	OriginalFilename string     `json:"originalFilename"`
	Filename         string     `json:"filename"`
	Status           Status     `json:"status"`
	Size             int64      `json:"size"`
	MimeType         string     `json:"mimeType"`
	StoragePath      string     `json:"storagePath"`
	ThumbnailPath    string     `json:"thumbnailPath,omitempty"`
	Metadata         string     `json:"metadata,omitempty"`
	IsFavorite       bool       `json:"isFavorite"`
	UploadedAt       time.Time  `json:"uploadedAt"`
	ProcessedAt      *time.Time `json:"processedAt,omitempty"`
	DeletedAt        *time.Time `json:"deletedAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Deleted reports whether the photo is in the trash.
func (p *Photo) Deleted() bool {
	return p.DeletedAt != nil
}

// Event is one append-only event log entry. Seq is a store-assigned
// monotonic tiebreaker so per-photo ordering survives timestamp collisions.
type Event struct {
	ID        string    `json:"id"`
	Seq       int64     `json:"-"`
	PhotoID   string    `json:"photoId"`
	EventType string    `json:"eventType"`
	Message   string    `json:"message"`
	Metadata  string    `json:"metadata,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
