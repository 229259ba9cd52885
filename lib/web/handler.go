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

// Package web exposes the HTTP and websocket API. Handlers return values
// and errors; the envelope, status codes and the failure code taxonomy are
// applied in one place.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"

	"github.com/rapidphotoflow/photoflow/lib/ingest"
	"github.com/rapidphotoflow/photoflow/lib/metadata"
	"github.com/rapidphotoflow/photoflow/lib/notify"
	"github.com/rapidphotoflow/photoflow/lib/photo"
)

// Failure codes returned in the error envelope. The per-file codes are
// shared with the ingest pipeline, which also attaches them to every entry
// in the failed-files breakdown.
const (
	CodeValidationError   = ingest.CodeValidationError
	CodeFileTooLarge      = ingest.CodeFileTooLarge
	CodeUnsupportedFormat = ingest.CodeUnsupportedFormat
	CodeProcessingError   = ingest.CodeProcessingError
	CodeNotFound          = "NOT_FOUND"
	CodeStorageError      = "STORAGE_ERROR"
	CodeDatabaseError     = "DATABASE_ERROR"
	CodeInternalError     = "INTERNAL_ERROR"
)

// PhotoStore is the slice of the metadata repository the API serves.
type PhotoStore interface {
	Get(ctx context.Context, id string) (*photo.Photo, error)
	GetByShortID(ctx context.Context, shortID string) (*photo.Photo, error)
	List(ctx context.Context, params metadata.ListParams) ([]*photo.Photo, int, error)
	ListTrash(ctx context.Context, page, pageSize int) ([]*photo.Photo, int, error)
	UpdatedSince(ctx context.Context, since time.Time, ids []string) ([]*photo.Photo, error)
	ToggleFavorite(ctx context.Context, id string) (*photo.Photo, error)
	Rename(ctx context.Context, id, newName string) (*photo.Photo, error)
	SoftDelete(ctx context.Context, id string) error
	Restore(ctx context.Context, id string) (*photo.Photo, error)
	HardDelete(ctx context.Context, id string) (*photo.Photo, error)
}

// BlobStore serves and deletes stored photo bytes.
type BlobStore interface {
	Download(ctx context.Context, key string) (io.ReadCloser, string, error)
	DownloadThumbnail(ctx context.Context, key string) (io.ReadCloser, string, error)
	Delete(ctx context.Context, key string) error
	DeleteThumbnail(ctx context.Context, key string) error
}

// Ingester runs upload batches.
type Ingester interface {
	Ingest(ctx context.Context, files []ingest.File) (*ingest.Result, error)
}

// Transitioner applies lifecycle transitions.
type Transitioner interface {
	Transition(ctx context.Context, photoID string, target photo.Status, message string) (*photo.Photo, error)
}

// EventStore queries the photo history.
type EventStore interface {
	ByPhoto(ctx context.Context, photoID string) ([]*photo.Event, error)
	Query(ctx context.Context, filter metadata.EventFilter) ([]*photo.Event, int, error)
}

// Config configures the API handler.
type Config struct {
	// Photos is the metadata store.
	Photos PhotoStore
	// Blobs is the object store.
	Blobs BlobStore
	// Ingest runs upload batches.
	Ingest Ingester
	// Lifecycle applies status transitions.
	Lifecycle Transitioner
	// Events serves the event log.
	Events EventStore
	// Broker feeds websocket subscribers.
	Broker *notify.Broker
	// Clock stamps responses.
	Clock clockwork.Clock
	// Logger emits request diagnostics.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Photos == nil {
		return trace.BadParameter("missing parameter Photos")
	}
	if c.Blobs == nil {
		return trace.BadParameter("missing parameter Blobs")
	}
	if c.Ingest == nil {
		return trace.BadParameter("missing parameter Ingest")
	}
	if c.Lifecycle == nil {
		return trace.BadParameter("missing parameter Lifecycle")
	}
	if c.Events == nil {
		return trace.BadParameter("missing parameter Events")
	}
	if c.Broker == nil {
		return trace.BadParameter("missing parameter Broker")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	c.Logger = c.Logger.With("component", "web")
	return nil
}

// Handler is the API router.
type Handler struct {
	cfg    Config
	router *httprouter.Router
}

// NewHandler builds the router with all API routes bound.
func NewHandler(cfg Config) (*Handler, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	h := &Handler{cfg: cfg, router: httprouter.New()}

	// The router forbids a static segment next to a wildcard, so the
	// reserved path segments "trash", "upload" and "status" are routed
	// through the :id handlers and peeled off there.
	h.post("/api/photos/:id", h.postPhotos)
	h.get("/api/photos", h.listPhotos)
	h.get("/api/photos/:id", h.getPhotoOrTrash)
	h.get("/api/photos/:id/download", h.download)
	h.get("/api/photos/:id/thumbnail", h.thumbnail)
	h.get("/api/photos/:id/poll", h.pollStatus)
	h.patch("/api/photos/:id/status", h.updateStatus)
	h.patch("/api/photos/:id/favorite", h.toggleFavorite)
	h.patch("/api/photos/:id/rename", h.rename)
	h.delete("/api/photos/:id", h.trashOrEmptyTrash)
	h.post("/api/photos/:id/restore", h.restore)
	h.delete("/api/photos/:id/permanent", h.permanentDelete)
	h.get("/api/events", h.listEvents)
	h.router.GET("/api/ws/status", h.statusSocket)

	return h, nil
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) get(path string, fn handlerFunc)    { h.router.GET(path, h.makeHandler(fn)) }
func (h *Handler) post(path string, fn handlerFunc)   { h.router.POST(path, h.makeHandler(fn)) }
func (h *Handler) patch(path string, fn handlerFunc)  { h.router.PATCH(path, h.makeHandler(fn)) }
func (h *Handler) delete(path string, fn handlerFunc) { h.router.DELETE(path, h.makeHandler(fn)) }

// handlerFunc is an API handler returning a response value for the JSON
// layer. A nil value with a nil error means the handler wrote the response
// itself.
type handlerFunc func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error)

// statusCoder lets a response value pick its own success status code.
type statusCoder interface {
	StatusCode() int
}

func (h *Handler) makeHandler(fn handlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		out, err := fn(w, r, p)
		if err != nil {
			h.replyError(w, r, err)
			return
		}
		if out == nil {
			return
		}
		code := http.StatusOK
		if sc, ok := out.(statusCoder); ok {
			code = sc.StatusCode()
		}
		replyJSON(w, code, out)
	}
}

// errorResponse is the uniform error envelope.
type errorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Path      string    `json:"path"`
	Details   any       `json:"details,omitempty"`
}

// codedError pins a failure code onto an error for the envelope, overriding
// the default mapping from the error type.
type codedError struct {
	err  error
	code string
}

func (e *codedError) Error() string { return e.err.Error() }
func (e *codedError) Unwrap() error { return e.err }

func withCode(err error, code string) error {
	if err == nil {
		return nil
	}
	return &codedError{err: err, code: code}
}

// detailedError carries structured details, such as the per-file breakdown
// of a fully failed batch, into the envelope.
type detailedError struct {
	err     error
	details any
}

func (e *detailedError) Error() string { return e.err.Error() }
func (e *detailedError) Unwrap() error { return e.err }

func withDetails(err error, details any) error {
	if err == nil {
		return nil
	}
	return &detailedError{err: err, details: details}
}

func classify(err error) (int, string) {
	var coded *codedError
	if errors.As(err, &coded) {
		switch coded.code {
		case CodeNotFound:
			return http.StatusNotFound, coded.code
		case CodeValidationError, CodeFileTooLarge, CodeUnsupportedFormat:
			return http.StatusBadRequest, coded.code
		default:
			return http.StatusInternalServerError, coded.code
		}
	}
	switch {
	case trace.IsNotFound(err):
		return http.StatusNotFound, CodeNotFound
	case trace.IsBadParameter(err):
		return http.StatusBadRequest, CodeValidationError
	case trace.IsLimitExceeded(err):
		return http.StatusBadRequest, CodeFileTooLarge
	case trace.IsConnectionProblem(err):
		return http.StatusInternalServerError, CodeDatabaseError
	default:
		return http.StatusInternalServerError, CodeInternalError
	}
}

func (h *Handler) replyError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		h.cfg.Logger.ErrorContext(r.Context(), "Request failed.", "path", r.URL.Path, "error", err)
	}
	resp := errorResponse{
		Error:     code,
		Message:   trace.UserMessage(err),
		Timestamp: h.cfg.Clock.Now().UTC(),
		Path:      r.URL.Path,
	}
	var detailed *detailedError
	if errors.As(err, &detailed) {
		resp.Details = detailed.details
	}
	replyJSON(w, status, resp)
}

func replyJSON(w http.ResponseWriter, code int, val any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(val)
}

func readJSON(r *http.Request, val any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return trace.Wrap(err)
	}
	if err := json.Unmarshal(data, val); err != nil {
		return trace.BadParameter("invalid request body: %v", err)
	}
	return nil
}
