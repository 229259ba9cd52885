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

package ingest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gravitational/trace"

	"github.com/rapidphotoflow/photoflow/lib/defaults"
	"github.com/rapidphotoflow/photoflow/lib/photo"
)

var allowedContentTypes = map[string]string{
	"image/jpeg": "image/jpeg",
	// Non-standard alias some clients send, normalized on storage.
	"image/jpg":  "image/jpeg",
	"image/png":  "image/png",
	"image/webp": "image/webp",
	"image/gif":  "image/gif",
}

var allowedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".gif":  true,
}

// Machine-readable reasons attached to per-file failures.
const (
	CodeFileTooLarge      = "FILE_TOO_LARGE"
	CodeUnsupportedFormat = "UNSUPPORTED_FORMAT"
	CodeValidationError   = "VALIDATION_ERROR"
	CodeProcessingError   = "PROCESSING_ERROR"
)

// formatError marks a rejection caused by the file's declared type or
// extension, so it maps to UNSUPPORTED_FORMAT rather than the generic
// validation code.
type formatError struct {
	msg string
}

func (e formatError) Error() string { return e.msg }

// failureCode maps a per-file error to its taxonomy code. Anything past
// validation (upload, persistence, enqueue) is a processing error.
func failureCode(err error) string {
	var fe formatError
	switch {
	case trace.IsLimitExceeded(err):
		return CodeFileTooLarge
	case errors.As(err, &fe):
		return CodeUnsupportedFormat
	case trace.IsBadParameter(err):
		return CodeValidationError
	}
	return CodeProcessingError
}

// validate runs the per-file checks and returns the normalized content type.
func validate(f File) (string, error) {
	if int64(len(f.Data)) > defaults.MaxFileSize {
		return "", trace.LimitExceeded("file exceeds the maximum size of %d bytes", defaults.MaxFileSize)
	}
	contentType, ok := allowedContentTypes[strings.ToLower(strings.TrimSpace(f.ContentType))]
	if !ok {
		return "", trace.Wrap(formatError{msg: fmt.Sprintf("unsupported content type %q", f.ContentType)})
	}
	if ext := photo.Extension(f.Filename); !allowedExtensions[ext] {
		return "", trace.Wrap(formatError{msg: fmt.Sprintf("unsupported file extension %q", ext)})
	}
	if len(f.Data) == 0 {
		return "", trace.BadParameter("file is empty")
	}
	return contentType, nil
}
