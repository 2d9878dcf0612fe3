package service

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"pdfstore/internal/model"
)

// Metrics holds the document counters exported on /metrics.
type Metrics struct {
	uploads       *prometheus.CounterVec
	uploadedBytes prometheus.Counter
	skipped       prometheus.Counter
}

// NewMetrics creates and registers the document metrics on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		uploads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "documents_uploaded_total",
				Help: "Upload attempts by result.",
			},
			[]string{"result"},
		),
		uploadedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "documents_uploaded_bytes_total",
			Help: "Bytes of PDF content stored.",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "documents_metadata_skipped_total",
			Help: "Metadata records left out of listings because they failed validation.",
		}),
	}

	for _, c := range []prometheus.Collector{m.uploads, m.uploadedBytes, m.skipped} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeUpload(doc *model.DocumentMetadata, err error) {
	if m == nil {
		return
	}
	if err == nil {
		m.uploads.WithLabelValues("success").Inc()
		m.uploadedBytes.Add(float64(doc.SizeBytes))
		return
	}
	m.uploads.WithLabelValues(uploadResult(err)).Inc()
}

func (m *Metrics) observeSkip() {
	if m == nil {
		return
	}
	m.skipped.Inc()
}

func uploadResult(err error) string {
	switch {
	case errors.Is(err, ErrFilenameRequired):
		return "filename_required"
	case errors.Is(err, ErrUnsupportedType):
		return "unsupported_type"
	case errors.Is(err, ErrEmptyFile):
		return "empty_file"
	case errors.Is(err, ErrInvalidPDF):
		return "invalid_pdf"
	default:
		return "storage_error"
	}
}
