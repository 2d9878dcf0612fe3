package service

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pdfstore/internal/logging"
	"pdfstore/internal/model"
	"pdfstore/internal/repository"
	"pdfstore/internal/storage"
)

var (
	ErrFilenameRequired = errors.New("filename is required")
	ErrUnsupportedType  = errors.New("only PDF uploads are supported")
	ErrEmptyFile        = errors.New("uploaded file is empty")
	ErrInvalidPDF       = errors.New("uploaded file does not look like a valid PDF")
	ErrStorage          = errors.New("failed to store uploaded file")
	ErrNotFound         = errors.New("document not found")
	ErrInvalidMetadata  = errors.New("stored metadata is invalid")
)

// BlobSuffix is appended to the document id to name its PDF blob.
const BlobSuffix = ".pdf"

var tracer = otel.Tracer("pdfstore/internal/service")

// requestIDAttr tags spans with the X-Request-ID of the calling request.
func requestIDAttr(ctx context.Context) attribute.KeyValue {
	return attribute.String("http.request_id", logging.RequestIDFromContext(ctx))
}

// BlobKey returns the storage key of the PDF content for id.
func BlobKey(id string) string { return id + BlobSuffix }

// Download is a fetched document. The caller must close Body.
type Download struct {
	Metadata model.DocumentMetadata
	Body     io.ReadCloser
	Size     int64
}

// DocumentService defines the use cases for handling documents.
type DocumentService interface {
	// Upload validates the declared filename, content type and the PDF header,
	// then stores the blob followed by its metadata record. If either write fails
	// both are removed on a best-effort basis.
	Upload(ctx context.Context, r io.Reader, filename string, contentType string, size int64) (*model.DocumentMetadata, error)

	// List returns every valid metadata record, most recently uploaded first.
	List(ctx context.Context) ([]model.DocumentMetadata, error)

	// Fetch opens the blob of a document together with its metadata.
	Fetch(ctx context.Context, id string) (*Download, error)
}

// Option customizes a documentService.
type Option func(*documentService)

// WithClock overrides the time source used for uploaded_at.
func WithClock(now func() time.Time) Option {
	return func(s *documentService) { s.now = now }
}

// WithIDGenerator overrides how document ids are generated.
func WithIDGenerator(gen func() string) Option {
	return func(s *documentService) { s.newID = gen }
}

// WithLogger sets the logger used for skipped records and rollback failures.
func WithLogger(l *logging.Logger) Option {
	return func(s *documentService) { s.log = l }
}

// WithMetrics enables upload counters.
func WithMetrics(m *Metrics) Option {
	return func(s *documentService) { s.metrics = m }
}

// documentService is a concrete implementation of DocumentService.
type documentService struct {
	store   storage.Storage
	repo    repository.DocumentRepository
	now     func() time.Time
	newID   func() string
	log     *logging.Logger
	metrics *Metrics
}

// NewDocumentService constructs a new DocumentService.
func NewDocumentService(store storage.Storage, repo repository.DocumentRepository, opts ...Option) DocumentService {
	s := &documentService{
		store: store,
		repo:  repo,
		now:   time.Now,
		newID: NewID,
		log:   logging.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewID returns a random 128-bit identifier as 32 lowercase hex characters.
// Collisions are not checked against existing records.
func NewID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

func (s *documentService) Upload(ctx context.Context, r io.Reader, filename string, contentType string, size int64) (*model.DocumentMetadata, error) {
	ctx, span := tracer.Start(ctx, "DocumentService.Upload",
		trace.WithAttributes(
			attribute.String("document.content_type", contentType),
			attribute.Int64("document.declared_size", size),
			requestIDAttr(ctx),
		))
	defer span.End()

	doc, err := s.upload(ctx, r, filename, contentType, size)
	s.metrics.observeUpload(doc, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("document.id", doc.ID))
	return doc, nil
}

func (s *documentService) upload(ctx context.Context, r io.Reader, filename string, contentType string, size int64) (*model.DocumentMetadata, error) {
	name := SanitizeFilename(filename)
	if name == "" {
		return nil, ErrFilenameRequired
	}
	if !IsAcceptedContentType(contentType) {
		return nil, ErrUnsupportedType
	}
	if r == nil {
		return nil, ErrEmptyFile
	}

	br := bufio.NewReader(r)
	head, err := br.Peek(len(pdfSignature))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(head) == 0 {
		return nil, ErrEmptyFile
	}
	if !HasPDFSignature(head) {
		return nil, ErrInvalidPDF
	}

	if size <= 0 {
		size = -1
	}

	id := s.newID()
	// TIMESTAMPTZ stores microseconds
	uploadedAt := s.now().UTC().Truncate(time.Microsecond)

	info, err := s.store.Put(ctx, BlobKey(id), br, storage.PutObjectOptions{
		Size:        size,
		ContentType: model.ContentTypePDF,
	})
	if err != nil {
		return nil, s.rollback(ctx, id, fmt.Errorf("%w: write blob: %w", ErrStorage, err))
	}

	doc := &model.DocumentMetadata{
		ID:          id,
		Filename:    name,
		ContentType: model.ContentTypePDF,
		SizeBytes:   info.Size,
		UploadedAt:  uploadedAt,
	}
	if err := s.repo.Create(ctx, doc); err != nil {
		return nil, s.rollback(ctx, id, fmt.Errorf("%w: write metadata: %w", ErrStorage, err))
	}
	return doc, nil
}

// rollback removes whatever part of the document was written. It keeps
// running after the request is cancelled. Failures are logged and appended
// to cause, never returned in its place.
func (s *documentService) rollback(ctx context.Context, id string, cause error) error {
	ctx = context.WithoutCancel(ctx)

	rbErr := errors.Join(
		s.store.Delete(ctx, BlobKey(id)),
		s.repo.Delete(ctx, id),
	)
	if rbErr == nil {
		return cause
	}

	s.log.ErrorContext(ctx, "upload_rollback_failed", rbErr, map[string]any{
		"document_id": id,
		"cause":       cause.Error(),
	})
	return fmt.Errorf("%w; rollback failed: %v", cause, rbErr)
}

func (s *documentService) List(ctx context.Context) ([]model.DocumentMetadata, error) {
	ctx, span := tracer.Start(ctx, "DocumentService.List", trace.WithAttributes(requestIDAttr(ctx)))
	defer span.End()

	docs, err := s.repo.List(ctx, func(key string, err error) {
		s.metrics.observeSkip()
		s.log.WarnContext(ctx, "metadata_skipped", map[string]any{
			"key":   key,
			"error": err.Error(),
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].UploadedAt.After(docs[j].UploadedAt)
	})
	span.SetAttributes(attribute.Int("documents.count", len(docs)))
	return docs, nil
}

func (s *documentService) Fetch(ctx context.Context, id string) (*Download, error) {
	ctx, span := tracer.Start(ctx, "DocumentService.Fetch",
		trace.WithAttributes(attribute.String("document.id", id), requestIDAttr(ctx)))
	defer span.End()

	dl, err := s.fetch(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return dl, err
}

func (s *documentService) fetch(ctx context.Context, id string) (*Download, error) {
	if id == "" {
		return nil, ErrNotFound
	}

	meta, err := s.repo.FindByID(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrNotFound
		case errors.Is(err, repository.ErrInvalidMetadata):
			return nil, fmt.Errorf("%w: %w", ErrInvalidMetadata, err)
		}
		return nil, err
	}

	body, info, err := s.store.Get(ctx, BlobKey(id))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open blob: %w", err)
	}

	return &Download{Metadata: *meta, Body: body, Size: info.Size}, nil
}
