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
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/rapidphotoflow/photoflow/lib/defaults"
	"github.com/rapidphotoflow/photoflow/lib/photo"
	"github.com/rapidphotoflow/photoflow/lib/queue"
)

// ingestFixture implements every pipeline dependency in memory.
type ingestFixture struct {
	mu          sync.Mutex
	blobs       map[string][]byte
	created     []*photo.Photo
	jobs        []queue.Job
	transitions []string
	notified    []string

	uploadErr  error
	createErr  error
	enqueueErr error
}

func newIngestFixture() *ingestFixture {
	return &ingestFixture{blobs: make(map[string][]byte)}
}

func (f *ingestFixture) Upload(ctx context.Context, key, contentType string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return f.uploadErr
	}
	f.blobs[key] = data
	return nil
}

func (f *ingestFixture) Create(ctx context.Context, p *photo.Photo, eventMessage string) (*photo.Photo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	out := *p
	out.ID = fmt.Sprintf("photo-%d", len(f.created)+1)
	f.created = append(f.created, &out)
	return &out, nil
}

func (f *ingestFixture) Enqueue(ctx context.Context, job queue.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *ingestFixture) Transition(ctx context.Context, photoID string, target photo.Status, message string) (*photo.Photo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = append(f.transitions, photoID+"/"+string(target))
	return &photo.Photo{ID: photoID, Status: target}, nil
}

func (f *ingestFixture) NotifyStatus(photoID string, status photo.Status, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, photoID+"/"+string(status))
}

func newTestPipeline(t *testing.T, f *ingestFixture) *Pipeline {
	t.Helper()
	p, err := NewPipeline(PipelineConfig{
		Blobs:     f,
		Photos:    f,
		Queue:     f,
		Lifecycle: f,
		Notifier:  f,
	})
	require.NoError(t, err)
	return p
}

func jpeg(name string, size int) File {
	return File{Filename: name, ContentType: "image/jpeg", Data: make([]byte, size)}
}

func TestIngestSingleFile(t *testing.T) {
	f := newIngestFixture()
	p := newTestPipeline(t, f)

	result, err := p.Ingest(context.Background(), []File{jpeg("cat photo.jpg", 128)})
	require.NoError(t, err)
	require.Len(t, result.Succeeded, 1)
	require.Empty(t, result.Failed)

	got := result.Succeeded[0]
	require.Equal(t, photo.StatusQueued, got.Status)
	require.Len(t, f.blobs, 1)
	require.Len(t, f.jobs, 1)
	require.Equal(t, got.ID, f.jobs[0].PhotoID)
	require.Equal(t, []string{got.ID + "/QUEUED"}, f.transitions)
	require.Equal(t, []string{got.ID + "/UPLOADED"}, f.notified)

	require.Equal(t, "cat photo.jpg", f.created[0].OriginalFilename)
	require.Equal(t, "cat_photo.jpg", f.created[0].Filename)
}

func TestIngestNormalizesJpgAlias(t *testing.T) {
	f := newIngestFixture()
	p := newTestPipeline(t, f)

	result, err := p.Ingest(context.Background(), []File{
		{Filename: "cat.jpg", ContentType: "image/jpg", Data: []byte{1}},
	})
	require.NoError(t, err)
	require.Len(t, result.Succeeded, 1)
	require.Equal(t, "image/jpeg", f.created[0].MimeType)
}

func TestIngestPartialFailure(t *testing.T) {
	f := newIngestFixture()
	p := newTestPipeline(t, f)

	result, err := p.Ingest(context.Background(), []File{
		jpeg("good.jpg", 128),
		{Filename: "too-big.jpg", ContentType: "image/jpeg", Data: make([]byte, defaults.MaxFileSize+1)},
		{Filename: "notes.txt", ContentType: "text/plain", Data: []byte("hello")},
		{Filename: "empty.png", ContentType: "image/png", Data: nil},
		{Filename: "renamed.pdf", ContentType: "image/png", Data: []byte{1}},
	})
	require.NoError(t, err)
	require.Len(t, result.Succeeded, 1)
	require.Len(t, result.Failed, 4)

	failed := map[string]FileError{}
	for _, fe := range result.Failed {
		failed[fe.Filename] = fe
	}
	require.Contains(t, failed["too-big.jpg"].Error, "maximum size")
	require.Contains(t, failed["notes.txt"].Error, "content type")
	require.Contains(t, failed["empty.png"].Error, "empty")
	require.Contains(t, failed["renamed.pdf"].Error, "extension")

	require.Equal(t, CodeFileTooLarge, failed["too-big.jpg"].Code)
	require.Equal(t, CodeUnsupportedFormat, failed["notes.txt"].Code)
	require.Equal(t, CodeValidationError, failed["empty.png"].Code)
	require.Equal(t, CodeUnsupportedFormat, failed["renamed.pdf"].Code)
}

func TestIngestAllFilesFailing(t *testing.T) {
	f := newIngestFixture()
	p := newTestPipeline(t, f)

	result, err := p.Ingest(context.Background(), []File{
		{Filename: "notes.txt", ContentType: "text/plain", Data: []byte("hello")},
	})
	require.True(t, trace.IsBadParameter(err))
	require.Len(t, result.Failed, 1)
}

func TestIngestEmptyBatch(t *testing.T) {
	f := newIngestFixture()
	p := newTestPipeline(t, f)

	_, err := p.Ingest(context.Background(), nil)
	require.True(t, trace.IsBadParameter(err))
}

func TestIngestBatchTooLarge(t *testing.T) {
	f := newIngestFixture()
	p := newTestPipeline(t, f)

	files := make([]File, defaults.MaxBatchFiles+1)
	for i := range files {
		files[i] = jpeg("cat.jpg", 1)
	}
	_, err := p.Ingest(context.Background(), files)
	require.True(t, trace.IsBadParameter(err))
	require.Empty(t, f.blobs)
}

func TestIngestEnqueueFailureLandsInFailed(t *testing.T) {
	f := newIngestFixture()
	f.enqueueErr = trace.ConnectionProblem(nil, "queue unavailable")
	p := newTestPipeline(t, f)

	result, err := p.Ingest(context.Background(), []File{jpeg("cat.jpg", 128)})
	require.True(t, trace.IsBadParameter(err))
	require.Len(t, result.Failed, 1)
	require.Contains(t, result.Failed[0].Error, "queue unavailable")
	require.Equal(t, CodeProcessingError, result.Failed[0].Code)

	// The blob stays put and the photo is terminally Failed.
	require.Len(t, f.blobs, 1)
	require.Equal(t, []string{"photo-1/FAILED"}, f.transitions)
}

func TestIngestUploadFailure(t *testing.T) {
	f := newIngestFixture()
	f.uploadErr = trace.ConnectionProblem(nil, "object store unavailable")
	p := newTestPipeline(t, f)

	result, err := p.Ingest(context.Background(), []File{jpeg("cat.jpg", 128)})
	require.Error(t, err)
	require.Len(t, result.Failed, 1)
	require.Empty(t, f.created)
	require.Empty(t, f.notified)
}
