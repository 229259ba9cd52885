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

package web

import (
	"context"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/rapidphotoflow/photoflow/lib/defaults"
	"github.com/rapidphotoflow/photoflow/lib/ingest"
	"github.com/rapidphotoflow/photoflow/lib/metadata"
	"github.com/rapidphotoflow/photoflow/lib/photo"
)

// uploadResponse is the per-file breakdown of an accepted batch.
type uploadResponse struct {
	*ingest.Result
}

func (uploadResponse) StatusCode() int { return http.StatusCreated }

// postPhotos peels the static "upload" segment off the :id route.
func (h *Handler) postPhotos(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	if p.ByName("id") != "upload" {
		return nil, trace.NotFound("path not found")
	}
	return h.upload(w, r, p)
}

// POST /api/photos/upload
func (h *Handler) upload(w http.ResponseWriter, r *http.Request, _ httprouter.Params) (any, error) {
	files, err := readMultipartFiles(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	result, err := h.cfg.Ingest.Ingest(r.Context(), files)
	if err != nil {
		if result != nil && len(result.Failed) > 0 {
			return nil, withDetails(err, result.Failed)
		}
		return nil, trace.Wrap(err)
	}
	return uploadResponse{result}, nil
}

// readMultipartFiles streams the multipart body into owned buffers,
// enforcing the batch limits before buffering gets out of hand.
func readMultipartFiles(r *http.Request) ([]ingest.File, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, trace.BadParameter("expected a multipart upload: %v", err)
	}
	var (
		files []ingest.File
		total int64
	)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, trace.BadParameter("malformed multipart body: %v", err)
		}
		if part.FileName() == "" {
			part.Close()
			continue
		}
		if len(files) >= defaults.MaxBatchFiles {
			part.Close()
			return nil, trace.BadParameter("batch exceeds the limit of %d files", defaults.MaxBatchFiles)
		}
		// Read one byte past the per-file cap so oversized files are
		// rejected by validation instead of silently truncated.
		data, err := io.ReadAll(io.LimitReader(part, defaults.MaxFileSize+1))
		part.Close()
		if err != nil {
			return nil, trace.Wrap(err)
		}
		total += int64(len(data))
		if total > defaults.MaxBatchBytes {
			return nil, trace.BadParameter("batch exceeds the limit of %d bytes", defaults.MaxBatchBytes)
		}
		contentType := part.Header.Get("Content-Type")
		if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
			contentType = mediaType
		}
		files = append(files, ingest.File{
			Filename:    part.FileName(),
			ContentType: contentType,
			Data:        data,
		})
	}
	return files, nil
}

// listResponse is one page of photos.
type listResponse struct {
	Photos   []*photo.Photo `json:"photos"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"pageSize"`
}

// GET /api/photos
func (h *Handler) listPhotos(w http.ResponseWriter, r *http.Request, _ httprouter.Params) (any, error) {
	q := r.URL.Query()
	params := metadata.ListParams{
		FavoritesOnly: q.Get("favorites") == "true",
	}
	if s := q.Get("status"); s != "" {
		status, err := photo.ParseStatus(s)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		params.Status = status
	}
	params.Page, params.PageSize = pageParams(q.Get("page"), q.Get("pageSize"))

	photos, total, err := h.cfg.Photos.List(r.Context(), params)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return listResponse{Photos: photos, Total: total, Page: params.Page, PageSize: params.PageSize}, nil
}

// GET /api/photos/trash
func (h *Handler) listTrash(w http.ResponseWriter, r *http.Request, _ httprouter.Params) (any, error) {
	q := r.URL.Query()
	page, pageSize := pageParams(q.Get("page"), q.Get("pageSize"))
	photos, total, err := h.cfg.Photos.ListTrash(r.Context(), page, pageSize)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return listResponse{Photos: photos, Total: total, Page: page, PageSize: pageSize}, nil
}

// getPhotoOrTrash peels the static "trash" segment off the :id route.
func (h *Handler) getPhotoOrTrash(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	if p.ByName("id") == "trash" {
		return h.listTrash(w, r, p)
	}
	return h.getPhoto(w, r, p)
}

// GET /api/photos/:id
//
// Photos are addressable by full id or short id; trashed photos are hidden.
func (h *Handler) getPhoto(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	got, err := h.lookupPhoto(r.Context(), p.ByName("id"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if got.Deleted() {
		return nil, trace.NotFound("photo %q not found", p.ByName("id"))
	}
	return got, nil
}

func (h *Handler) lookupPhoto(ctx context.Context, id string) (*photo.Photo, error) {
	if _, err := uuid.Parse(id); err == nil {
		got, err := h.cfg.Photos.Get(ctx, id)
		return got, trace.Wrap(err)
	}
	if photo.ValidShortID(id) {
		got, err := h.cfg.Photos.GetByShortID(ctx, id)
		return got, trace.Wrap(err)
	}
	return nil, trace.NotFound("photo %q not found", id)
}

// resolveID canonicalizes an id or short id to the photo's full id. The
// metadata store only takes full ids on mutation.
func (h *Handler) resolveID(ctx context.Context, id string) (string, error) {
	if _, err := uuid.Parse(id); err == nil {
		return id, nil
	}
	got, err := h.lookupPhoto(ctx, id)
	if err != nil {
		return "", trace.Wrap(err)
	}
	return got.ID, nil
}

// GET /api/photos/:id/download
func (h *Handler) download(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	got, err := h.lookupPhoto(r.Context(), p.ByName("id"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	body, contentType, err := h.cfg.Blobs.Download(r.Context(), got.StoragePath)
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.Wrap(err)
		}
		return nil, withCode(err, CodeStorageError)
	}
	defer body.Close()
	if contentType == "" {
		contentType = got.MimeType
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": got.Filename}))
	io.Copy(w, body)
	return nil, nil
}

// GET /api/photos/:id/thumbnail
func (h *Handler) thumbnail(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	got, err := h.lookupPhoto(r.Context(), p.ByName("id"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if got.ThumbnailPath == "" {
		return nil, trace.NotFound("photo %q has no thumbnail", got.ID)
	}
	body, contentType, err := h.cfg.Blobs.DownloadThumbnail(r.Context(), got.ThumbnailPath)
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.Wrap(err)
		}
		return nil, withCode(err, CodeStorageError)
	}
	defer body.Close()
	if contentType == "" {
		contentType = got.MimeType
	}
	w.Header().Set("Content-Type", contentType)
	io.Copy(w, body)
	return nil, nil
}

// PATCH /api/photos/:id/status
func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	var req struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := readJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	target, err := photo.ParseStatus(req.Status)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	id, err := h.resolveID(r.Context(), p.ByName("id"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	updated, err := h.cfg.Lifecycle.Transition(r.Context(), id, target, req.Message)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if updated == nil {
		// Idempotent no-op, report current state.
		current, err := h.cfg.Photos.Get(r.Context(), id)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		return current, nil
	}
	return updated, nil
}

// PATCH /api/photos/:id/favorite
func (h *Handler) toggleFavorite(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	id, err := h.resolveID(r.Context(), p.ByName("id"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	updated, err := h.cfg.Photos.ToggleFavorite(r.Context(), id)
	return updated, trace.Wrap(err)
}

// PATCH /api/photos/:id/rename
func (h *Handler) rename(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	var req struct {
		Filename string `json:"filename"`
	}
	if err := readJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	if strings.TrimSpace(req.Filename) == "" {
		return nil, trace.BadParameter("filename must not be empty")
	}
	id, err := h.resolveID(r.Context(), p.ByName("id"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	updated, err := h.cfg.Photos.Rename(r.Context(), id, photo.SanitizeFilename(req.Filename))
	return updated, trace.Wrap(err)
}

// messageResponse is a minimal acknowledgement body.
type messageResponse struct {
	Message string `json:"message"`
}

// trashOrEmptyTrash peels the static "trash" segment off the :id route.
func (h *Handler) trashOrEmptyTrash(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	if p.ByName("id") == "trash" {
		return h.emptyTrash(w, r, p)
	}
	return h.trashPhoto(w, r, p)
}

// DELETE /api/photos/:id
func (h *Handler) trashPhoto(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	id, err := h.resolveID(r.Context(), p.ByName("id"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := h.cfg.Photos.SoftDelete(r.Context(), id); err != nil {
		return nil, trace.Wrap(err)
	}
	return messageResponse{Message: "photo moved to trash"}, nil
}

// POST /api/photos/:id/restore
func (h *Handler) restore(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	id, err := h.resolveID(r.Context(), p.ByName("id"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	restored, err := h.cfg.Photos.Restore(r.Context(), id)
	return restored, trace.Wrap(err)
}

// DELETE /api/photos/:id/permanent
func (h *Handler) permanentDelete(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	id, err := h.resolveID(r.Context(), p.ByName("id"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	deleted, err := h.cfg.Photos.HardDelete(r.Context(), id)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	h.deleteBlobs(r.Context(), deleted)
	return messageResponse{Message: "photo permanently deleted"}, nil
}

// DELETE /api/photos/trash
func (h *Handler) emptyTrash(w http.ResponseWriter, r *http.Request, _ httprouter.Params) (any, error) {
	deleted := 0
	for {
		photos, _, err := h.cfg.Photos.ListTrash(r.Context(), 0, defaults.MaxPageSize)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if len(photos) == 0 {
			break
		}
		for _, got := range photos {
			if _, err := h.cfg.Photos.HardDelete(r.Context(), got.ID); err != nil {
				if trace.IsNotFound(err) {
					continue
				}
				return nil, trace.Wrap(err)
			}
			h.deleteBlobs(r.Context(), got)
			deleted++
		}
	}
	return map[string]int{"deleted": deleted}, nil
}

// deleteBlobs removes the original and thumbnail objects, tolerating
// whatever is already gone.
func (h *Handler) deleteBlobs(ctx context.Context, got *photo.Photo) {
	if err := h.cfg.Blobs.Delete(ctx, got.StoragePath); err != nil && !trace.IsNotFound(err) {
		h.cfg.Logger.WarnContext(ctx, "Failed to delete blob.", "photo_id", got.ID, "key", got.StoragePath, "error", err)
	}
	if got.ThumbnailPath == "" {
		return
	}
	if err := h.cfg.Blobs.DeleteThumbnail(ctx, got.ThumbnailPath); err != nil && !trace.IsNotFound(err) {
		h.cfg.Logger.WarnContext(ctx, "Failed to delete thumbnail.", "photo_id", got.ID, "key", got.ThumbnailPath, "error", err)
	}
}

// pollResponse reports every photo updated since the client's watermark.
type pollResponse struct {
	Photos    []*photo.Photo `json:"photos"`
	Timestamp time.Time      `json:"timestamp"`
}

// GET /api/photos/status/poll?since=<RFC3339>&photoIds=<comma list>
//
// The returned timestamp is the watermark for the next call. The route is
// registered as /api/photos/:id/poll; only the "status" spelling is valid.
func (h *Handler) pollStatus(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	if p.ByName("id") != "status" {
		return nil, trace.NotFound("path not found")
	}
	q := r.URL.Query()
	since, err := time.Parse(time.RFC3339, q.Get("since"))
	if err != nil {
		return nil, trace.BadParameter("invalid since parameter: %v", err)
	}
	var ids []string
	if raw := q.Get("photoIds"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}
	photos, err := h.cfg.Photos.UpdatedSince(r.Context(), since, ids)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if photos == nil {
		photos = []*photo.Photo{}
	}
	return pollResponse{Photos: photos, Timestamp: h.cfg.Clock.Now().UTC()}, nil
}

func pageParams(pageRaw, sizeRaw string) (int, int) {
	page := 0
	if n, err := strconv.Atoi(pageRaw); err == nil && n > 0 {
		page = n
	}
	size := defaults.DefaultPageSize
	if n, err := strconv.Atoi(sizeRaw); err == nil && n > 0 {
		size = min(n, defaults.MaxPageSize)
	}
	return page, size
}
