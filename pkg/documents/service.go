package documents

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/caseload/pkg/rbac"
)

// StorageGuard is the storage side of the subscription guard
type StorageGuard interface {
	CheckStorage(ctx context.Context, firmID string, incomingBytes int64) error
	IncrementStorage(ctx context.Context, firmID string, bytes int64) error
	DecrementStorage(ctx context.Context, firmID string, bytes int64) error
}

// UploadInput describes one upload. Size is the declared length of Body
// and is what the storage ceiling is checked against.
type UploadInput struct {
	Name        string
	ContentType string
	CaseID      *string
	Size        int64
	Body        io.Reader
}

// Service coordinates blob storage, metadata and the storage counter
type Service struct {
	store  *Store
	blobs  BlobStore
	guard  StorageGuard
	logger *logrus.Logger
	now    func() time.Time
}

// NewService creates a new document service
func NewService(store *Store, blobs BlobStore, guard StorageGuard, logger *logrus.Logger) *Service {
	return &Service{store: store, blobs: blobs, guard: guard, logger: logger, now: time.Now}
}

// Blobs exposes the blob store for health checks
func (s *Service) Blobs() BlobStore {
	return s.blobs
}

// Upload checks the storage ceiling, writes the blob, records the metadata
// row and bumps the firm's usage counter. A counter failure after a
// successful upload is logged and not returned, so usage can drift low.
func (s *Service) Upload(ctx context.Context, userID, firmID string, in UploadInput) (*Document, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, &rbac.ValidationError{Field: "name", Message: "is required"}
	}
	if in.Size <= 0 {
		return nil, &rbac.ValidationError{Field: "size", Message: "must be positive"}
	}
	if in.ContentType == "" {
		in.ContentType = "application/octet-stream"
	}

	if err := s.guard.CheckStorage(ctx, firmID, in.Size); err != nil {
		return nil, err
	}

	doc := &Document{
		ID:          uuid.NewString(),
		FirmID:      firmID,
		CaseID:      in.CaseID,
		Name:        in.Name,
		ContentType: in.ContentType,
		SizeBytes:   in.Size,
		UploadedBy:  userID,
		CreatedAt:   s.now().UTC(),
	}
	doc.BlobKey = BlobKey(firmID, doc.ID)

	hash := sha256.New()
	counted := &countingReader{r: io.TeeReader(io.LimitReader(in.Body, in.Size+1), hash)}
	if err := s.blobs.Put(ctx, doc.BlobKey, counted, in.Size, in.ContentType); err != nil {
		return nil, fmt.Errorf("failed to store document content: %w", err)
	}
	if counted.n != in.Size {
		s.discardBlob(ctx, doc.BlobKey)
		return nil, &rbac.ValidationError{
			Field:   "size",
			Message: fmt.Sprintf("declared %d bytes but received %d", in.Size, counted.n),
		}
	}
	doc.Checksum = hex.EncodeToString(hash.Sum(nil))

	if err := s.store.Create(ctx, doc); err != nil {
		s.discardBlob(ctx, doc.BlobKey)
		return nil, err
	}

	if err := s.guard.IncrementStorage(ctx, firmID, doc.SizeBytes); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"firm_id":     firmID,
			"document_id": doc.ID,
			"bytes":       doc.SizeBytes,
		}).Error("storage counter not incremented after upload")
	}
	return doc, nil
}

// Get returns the document metadata
func (s *Service) Get(ctx context.Context, firmID, id string) (*Document, error) {
	return s.store.Get(ctx, firmID, id)
}

// Open returns the metadata and a reader over the content
func (s *Service) Open(ctx context.Context, firmID, id string) (*Document, io.ReadCloser, error) {
	doc, err := s.store.Get(ctx, firmID, id)
	if err != nil {
		return nil, nil, err
	}
	body, err := s.blobs.Get(ctx, doc.BlobKey)
	if errors.Is(err, ErrBlobNotFound) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	return doc, body, nil
}

// List returns one page of documents inside scope
func (s *Service) List(ctx context.Context, firmID string, scope rbac.ResourceScope, opts ListOptions) ([]*Document, int, error) {
	return s.store.List(ctx, firmID, scope, opts)
}

// Delete removes the blob, then the row, then releases the bytes from the
// usage counter. A blob that is already gone does not stop the delete.
func (s *Service) Delete(ctx context.Context, firmID, id string) error {
	doc, err := s.store.Get(ctx, firmID, id)
	if err != nil {
		return err
	}

	if err := s.blobs.Delete(ctx, doc.BlobKey); err != nil && !errors.Is(err, ErrBlobNotFound) {
		return fmt.Errorf("failed to delete document content: %w", err)
	}
	if err := s.store.Delete(ctx, firmID, id); err != nil {
		return err
	}

	if err := s.guard.DecrementStorage(ctx, firmID, doc.SizeBytes); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"firm_id":     firmID,
			"document_id": id,
			"bytes":       doc.SizeBytes,
		}).Error("storage counter not decremented after delete")
	}
	return nil
}

func (s *Service) discardBlob(ctx context.Context, key string) {
	if err := s.blobs.Delete(ctx, key); err != nil && !errors.Is(err, ErrBlobNotFound) {
		s.logger.WithError(err).WithField("blob_key", key).Warn("failed to remove orphaned blob")
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
