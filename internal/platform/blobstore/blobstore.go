// Package blobstore stores the binary attachments of the clinic (patient
// photos, documents and lab report files). It defines the Store interface, a
// GridFS backend, an in-memory backend for development and tests, a readiness
// Gate used while the backing connection is still being established, and an
// Echo handler that streams files back to clients.
package blobstore

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/clinic/internal/platform/apperr"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	ErrBlobNotFound    = apperr.New(apperr.KindNotFound, "file not found")
	ErrFileTooLarge    = apperr.New(apperr.KindValidation, "file exceeds maximum allowed size")
	ErrMissingFileName = apperr.New(apperr.KindValidation, "file name is required")
	ErrInvalidID       = apperr.New(apperr.KindValidation, "invalid file id")
	ErrNotReady        = apperr.New(apperr.KindUpstream, "blob store is not ready")
)

// MaxFileSize is the maximum allowed blob size in bytes (100 MB).
const MaxFileSize = 100 * 1024 * 1024

// DefaultContentType is reported for blobs stored without a content type.
const DefaultContentType = "application/octet-stream"

// Metadata describes a stored blob.
type Metadata struct {
	ID          string    `json:"id"`
	FileName    string    `json:"filename"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"length"`
	UploadedAt  time.Time `json:"uploadDate"`
}

// Store is the contract for blob storage backends. Put either stores the whole
// stream and returns its metadata or fails leaving nothing visible. Get
// returns a reader the caller must close.
type Store interface {
	Put(ctx context.Context, fileName, contentType string, content io.Reader) (Metadata, error)
	Get(ctx context.Context, id string) (io.ReadCloser, Metadata, error)
	Stat(ctx context.Context, id string) (Metadata, error)
	Delete(ctx context.Context, id string) error
}

// limitReader fails with ErrFileTooLarge once more than n bytes are read.
type limitReader struct {
	r io.Reader
	n int64
}

func newLimitReader(r io.Reader, n int64) *limitReader {
	return &limitReader{r: r, n: n}
}

func (l *limitReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.n -= int64(n)
	if l.n < 0 {
		return n, ErrFileTooLarge
	}
	return n, err
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

type storedBlob struct {
	metadata Metadata
	content  []byte
}

// Memory is a thread-safe in-memory Store for development and tests.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string]*storedBlob
	limit int64
}

// NewMemory returns an empty Memory store with the default size limit.
func NewMemory() *Memory {
	return &Memory{
		blobs: make(map[string]*storedBlob),
		limit: MaxFileSize,
	}
}

func (s *Memory) Put(ctx context.Context, fileName, contentType string, content io.Reader) (Metadata, error) {
	if fileName == "" {
		return Metadata{}, ErrMissingFileName
	}
	if err := ctx.Err(); err != nil {
		return Metadata{}, err
	}

	data, err := io.ReadAll(newLimitReader(content, s.limit))
	if err != nil {
		return Metadata{}, err
	}
	if contentType == "" {
		contentType = DefaultContentType
	}

	meta := Metadata{
		ID:          uuid.New().String(),
		FileName:    fileName,
		ContentType: contentType,
		Size:        int64(len(data)),
		UploadedAt:  time.Now().UTC(),
	}

	s.mu.Lock()
	s.blobs[meta.ID] = &storedBlob{metadata: meta, content: data}
	s.mu.Unlock()

	return meta, nil
}

func (s *Memory) Get(_ context.Context, id string) (io.ReadCloser, Metadata, error) {
	s.mu.RLock()
	blob, ok := s.blobs[id]
	s.mu.RUnlock()

	if !ok {
		return nil, Metadata{}, ErrBlobNotFound
	}
	return io.NopCloser(bytes.NewReader(blob.content)), blob.metadata, nil
}

func (s *Memory) Stat(_ context.Context, id string) (Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	blob, ok := s.blobs[id]
	if !ok {
		return Metadata{}, ErrBlobNotFound
	}
	return blob.metadata, nil
}

func (s *Memory) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[id]; !ok {
		return ErrBlobNotFound
	}
	delete(s.blobs, id)
	return nil
}

// Len returns the number of stored blobs.
func (s *Memory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
