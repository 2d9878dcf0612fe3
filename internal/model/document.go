package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"
)

// ContentTypePDF is the canonical media type recorded for every stored document.
const ContentTypePDF = "application/pdf"

// DocumentMetadata describes one uploaded PDF.
// It is a pure domain model: the same value is stored as a sidecar record,
// returned by the HTTP layer and scanned from the database index.
type DocumentMetadata struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// ErrInvalidMetadata is returned when a stored record does not match the schema.
var ErrInvalidMetadata = errors.New("invalid document metadata")

// Validate checks the domain invariants of a decoded record.
func (m *DocumentMetadata) Validate() error {
	switch {
	case m.ID == "":
		return fmt.Errorf("%w: id is empty", ErrInvalidMetadata)
	case m.Filename == "":
		return fmt.Errorf("%w: filename is empty", ErrInvalidMetadata)
	case m.ContentType == "":
		return fmt.Errorf("%w: content_type is empty", ErrInvalidMetadata)
	case m.SizeBytes < 0:
		return fmt.Errorf("%w: size_bytes is negative", ErrInvalidMetadata)
	case m.UploadedAt.IsZero():
		return fmt.Errorf("%w: uploaded_at is zero", ErrInvalidMetadata)
	}
	return nil
}

// metadataFields are the exact keys of a stored record. Matching is
// case-sensitive, unlike encoding/json struct decoding.
var metadataFields = []string{"id", "filename", "content_type", "size_bytes", "uploaded_at"}

// MarshalMetadata encodes a record the way sidecar files are stored on disk.
func MarshalMetadata(m *DocumentMetadata) ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// UnmarshalMetadata decodes a stored record with a strict schema: keys must
// match exactly and appear once, and missing fields, nulls, wrong types and
// trailing data are rejected.
func UnmarshalMetadata(data []byte) (*DocumentMetadata, error) {
	fields, err := readObject(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	for _, name := range metadataFields {
		raw, ok := fields[name]
		if !ok {
			return nil, fmt.Errorf("%w: missing field %q", ErrInvalidMetadata, name)
		}
		if bytes.Equal(raw, []byte("null")) {
			return nil, fmt.Errorf("%w: field %q is null", ErrInvalidMetadata, name)
		}
	}

	var m DocumentMetadata
	decode := []struct {
		name string
		dst  any
	}{
		{"id", &m.ID},
		{"filename", &m.Filename},
		{"content_type", &m.ContentType},
		{"size_bytes", &m.SizeBytes},
		{"uploaded_at", &m.UploadedAt},
	}
	for _, f := range decode {
		if err := json.Unmarshal(fields[f.name], f.dst); err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrInvalidMetadata, f.name, err)
		}
	}
	m.UploadedAt = m.UploadedAt.UTC()

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// readObject splits a single JSON object into its raw values, rejecting
// keys outside metadataFields and keys that repeat.
func readObject(data []byte) (map[string]json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("record is not a JSON object")
	}

	fields := make(map[string]json.RawMessage, len(metadataFields))
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := tok.(string)
		if !slices.Contains(metadataFields, key) {
			return nil, fmt.Errorf("unknown field %q", key)
		}
		if _, dup := fields[key]; dup {
			return nil, fmt.Errorf("duplicate field %q", key)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		fields[key] = raw
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after object")
	}
	return fields, nil
}
