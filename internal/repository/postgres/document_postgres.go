package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pdfstore/internal/model"
	"pdfstore/internal/repository"
)

// DocumentPostgres is a PostgreSQL implementation of repository.DocumentRepository.
// It uses database/sql with parameterized queries and contains no business logic.
type DocumentPostgres struct {
	db *sql.DB
}

// NewDocumentPostgres creates a new DocumentPostgres repository.
func NewDocumentPostgres(db *sql.DB) *DocumentPostgres {
	return &DocumentPostgres{db: db}
}

var _ repository.DocumentRepository = (*DocumentPostgres)(nil)

// Create inserts a new metadata row.
func (r *DocumentPostgres) Create(ctx context.Context, doc *model.DocumentMetadata) error {
	const q = `
		INSERT INTO documents (id, filename, content_type, size_bytes, uploaded_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.ExecContext(ctx, q,
		doc.ID,
		doc.Filename,
		doc.ContentType,
		doc.SizeBytes,
		doc.UploadedAt,
	)
	return err
}

// FindByID fetches a single metadata row by its ID.
func (r *DocumentPostgres) FindByID(ctx context.Context, id string) (*model.DocumentMetadata, error) {
	const q = `
		SELECT id, filename, content_type, size_bytes, uploaded_at
		FROM documents
		WHERE id = $1
	`
	var d model.DocumentMetadata
	if err := scanDocument(r.db.QueryRowContext(ctx, q, id), &d); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// List returns all rows, most recent first.
func (r *DocumentPostgres) List(ctx context.Context, skip repository.SkipFunc) ([]model.DocumentMetadata, error) {
	const q = `
		SELECT id, filename, content_type, size_bytes, uploaded_at
		FROM documents
		ORDER BY uploaded_at DESC
	`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.DocumentMetadata, 0)
	for rows.Next() {
		var d model.DocumentMetadata
		if err := scanDocument(rows, &d); err != nil {
			return nil, err
		}
		if err := d.Validate(); err != nil {
			if skip != nil {
				skip(d.ID, fmt.Errorf("row %q: %w", d.ID, err))
			}
			continue
		}
		items = append(items, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// Delete removes a metadata row by ID. It does not return an error if the row does not exist.
func (r *DocumentPostgres) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM documents WHERE id = $1`
	_, err := r.db.ExecContext(ctx, q, id)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(s scanner, d *model.DocumentMetadata) error {
	if err := s.Scan(
		&d.ID,
		&d.Filename,
		&d.ContentType,
		&d.SizeBytes,
		&d.UploadedAt,
	); err != nil {
		return err
	}
	d.UploadedAt = d.UploadedAt.UTC()
	return nil
}
