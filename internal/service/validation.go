package service

import (
	"bytes"
	"strings"
)

// pdfSignature is the header every accepted upload must start with.
var pdfSignature = []byte("%PDF-")

// acceptedContentTypes lists the declared media types allowed for upload:
// the canonical PDF type and one legacy variant.
var acceptedContentTypes = map[string]struct{}{
	"application/pdf":   {},
	"application/x-pdf": {},
}

// SanitizeFilename reduces a client-declared filename to its base component.
// Both '/' and '\' count as separators. "." and ".." reduce to the empty string.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = strings.TrimRight(name, "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if name == "." || name == ".." {
		return ""
	}
	return name
}

// IsAcceptedContentType reports whether the declared Content-Type is exactly
// one of the accepted PDF types. Case variants and parameters are rejected.
func IsAcceptedContentType(contentType string) bool {
	_, ok := acceptedContentTypes[contentType]
	return ok
}

// HasPDFSignature reports whether head starts with the PDF header.
func HasPDFSignature(head []byte) bool {
	return bytes.HasPrefix(head, pdfSignature)
}
