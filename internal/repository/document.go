package repository

import (
	"context"
	"errors"

	"pdfstore/internal/model"
)

// Package repository contains metadata record persistence.
// Implementations live in subpackages: sidecar (JSON files next to the blobs) and postgres.

var (
	// ErrNotFound is returned when no metadata record exists for an id.
	ErrNotFound = errors.New("metadata record not found")
	// ErrInvalidMetadata is returned when a stored record exists but fails schema validation.
	ErrInvalidMetadata = model.ErrInvalidMetadata
)

// DocumentRepository defines persistence of metadata records only.
// No business logic here, only persistence.
type DocumentRepository interface {
	// Create stores a new metadata record. Records are never updated in place.
	Create(ctx context.Context, doc *model.DocumentMetadata) error

	// FindByID returns the record for id, ErrNotFound when absent,
	// or ErrInvalidMetadata when the stored record is corrupt.
	FindByID(ctx context.Context, id string) (*model.DocumentMetadata, error)

	// List returns every valid record. Invalid records are skipped and reported
	// through the optional skip callback instead of failing the call.
	List(ctx context.Context, skip SkipFunc) ([]model.DocumentMetadata, error)

	// Delete removes a record by id. It returns nil if the record did not exist.
	Delete(ctx context.Context, id string) error
}

// SkipFunc is told about records List had to leave out.
type SkipFunc func(key string, err error)
