package sidecar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"pdfstore/internal/model"
	"pdfstore/internal/repository"
	"pdfstore/internal/storage"
)

// Suffix is appended to the document id to name its metadata record.
const Suffix = ".json"

// maxRecordSize bounds how much of a record is read; anything larger is corrupt.
const maxRecordSize = 64 << 10

// DocumentSidecar stores each metadata record as "<id>.json" in the same
// Storage that holds the blob.
type DocumentSidecar struct {
	store storage.Storage
}

// NewDocumentSidecar creates a sidecar repository over store.
func NewDocumentSidecar(store storage.Storage) *DocumentSidecar {
	return &DocumentSidecar{store: store}
}

var _ repository.DocumentRepository = (*DocumentSidecar)(nil)

// Key returns the storage key of the record for id.
func Key(id string) string { return id + Suffix }

func (r *DocumentSidecar) Create(ctx context.Context, doc *model.DocumentMetadata) error {
	data, err := model.MarshalMetadata(doc)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = r.store.Put(ctx, Key(doc.ID), bytes.NewReader(data), storage.PutObjectOptions{
		Size:        int64(len(data)),
		ContentType: "application/json",
	})
	return err
}

func (r *DocumentSidecar) FindByID(ctx context.Context, id string) (*model.DocumentMetadata, error) {
	return r.read(ctx, Key(id))
}

// List reads every "*.json" record independently.
func (r *DocumentSidecar) List(ctx context.Context, skip repository.SkipFunc) ([]model.DocumentMetadata, error) {
	objs, err := r.store.List(ctx, Suffix)
	if err != nil {
		return nil, err
	}

	out := make([]model.DocumentMetadata, 0, len(objs))
	for _, obj := range objs {
		doc, err := r.read(ctx, obj.Key)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				// removed since the scan
				continue
			}
			if skip != nil {
				skip(obj.Key, err)
			}
			continue
		}
		out = append(out, *doc)
	}
	return out, nil
}

func (r *DocumentSidecar) Delete(ctx context.Context, id string) error {
	return r.store.Delete(ctx, Key(id))
}

func (r *DocumentSidecar) read(ctx context.Context, key string) (*model.DocumentMetadata, error) {
	rc, _, err := r.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxRecordSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	if len(data) > maxRecordSize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", repository.ErrInvalidMetadata, key, maxRecordSize)
	}

	doc, err := model.UnmarshalMetadata(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return doc, nil
}
