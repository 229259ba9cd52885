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

// Package queue moves processing jobs between the ingest side and the worker
// side over a Redis stream with a consumer group. Delivery is at least once:
// unacknowledged messages are reclaimed after a minimum idle period, so
// everything downstream of a dequeue must be idempotent.
package queue

import (
	"strings"

	"github.com/gravitational/trace"
)

// Job is one unit of processing work, encoded as flat stream fields.
type Job struct {
	PhotoID     string
	Filename    string
	StoragePath string
}

const (
	fieldPhotoID     = "photoId"
	fieldFilename    = "filename"
	fieldStoragePath = "storagePath"
)

func (j Job) values() map[string]any {
	return map[string]any{
		fieldPhotoID:     j.PhotoID,
		fieldFilename:    j.Filename,
		fieldStoragePath: j.StoragePath,
	}
}

func jobFromValues(values map[string]any) (Job, error) {
	job := Job{
		PhotoID:     stringField(values, fieldPhotoID),
		Filename:    stringField(values, fieldFilename),
		StoragePath: stringField(values, fieldStoragePath),
	}
	if job.PhotoID == "" {
		return Job{}, trace.BadParameter("stream message is missing the %s field", fieldPhotoID)
	}
	return job, nil
}

func stringField(values map[string]any, key string) string {
	s, _ := values[key].(string)
	return strings.TrimSpace(s)
}
