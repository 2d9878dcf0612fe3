package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pdfstore/internal/logging"
	"pdfstore/internal/model"
	"pdfstore/internal/repository/sidecar"
	"pdfstore/internal/service"
	serviceMocks "pdfstore/internal/service/mocks"
	"pdfstore/internal/storage"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const samplePDF = "%PDF-1.4\n1 0 obj\n<<>>\nendobj\ntrailer\n<<>>\n%%EOF"

// multipartBody builds a form with a single "file" part carrying contentType.
func multipartBody(t *testing.T, filename, contentType string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := writer.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func decodeError(t *testing.T, resp *http.Response) errorPayload {
	t.Helper()
	var res errorPayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	return res
}

func TestHealthCheck(t *testing.T) {
	db, dbMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	storageErr := error(nil)
	app := fiber.New()
	app.Get("/health", HealthCheck(
		DependencyCheck{Name: "storage", Ping: func(ctx context.Context) error { return storageErr }},
		DependencyCheck{Name: "database", Ping: db.PingContext},
	))

	t.Run("healthy", func(t *testing.T) {
		dbMock.ExpectPing().WillReturnError(nil)

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]string
		json.NewDecoder(resp.Body).Decode(&body)
		assert.Equal(t, "healthy", body["status"])
	})

	t.Run("database down", func(t *testing.T) {
		dbMock.ExpectPing().WillReturnError(errors.New("db error"))

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		res := decodeError(t, resp)
		assert.Equal(t, "SERVICE_UNAVAILABLE", res.Error.Code)
		assert.Equal(t, "database unavailable", res.Error.Message)
	})

	t.Run("storage down", func(t *testing.T) {
		storageErr = errors.New("disk gone")
		defer func() { storageErr = nil }()

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, "storage unavailable", decodeError(t, resp).Error.Message)
	})

	assert.NoError(t, dbMock.ExpectationsWereMet())
}

func TestLivenessProbe(t *testing.T) {
	app := fiber.New()
	app.Get("/healthz", LivenessProbe())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	resp, _ := app.Test(req)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_events_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Add(3)

	app := fiber.New()
	app.Get("/metrics", Metrics(reg))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp, _ := app.Test(req)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "test_events_total 3")
}

func TestUploadDocument(t *testing.T) {
	mockSvc := new(serviceMocks.MockDocumentService)
	app := fiber.New()
	app.Post("/upload", UploadDocument(mockSvc))

	t.Run("success", func(t *testing.T) {
		body, ct := multipartBody(t, "sample.pdf", "application/pdf", []byte(samplePDF))

		expectedDoc := &model.DocumentMetadata{
			ID:          "0123456789abcdef0123456789abcdef",
			Filename:    "sample.pdf",
			ContentType: model.ContentTypePDF,
			SizeBytes:   int64(len(samplePDF)),
			UploadedAt:  time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC),
		}
		mockSvc.On("Upload", mock.Anything, mock.Anything, "sample.pdf", "application/pdf", int64(len(samplePDF))).
			Return(expectedDoc, nil).Once()

		req := httptest.NewRequest(http.MethodPost, "/upload", body)
		req.Header.Set("Content-Type", ct)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusCreated, resp.StatusCode)

		var result map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
		assert.Equal(t, expectedDoc.ID, result["id"])
		assert.Equal(t, "sample.pdf", result["filename"])
		assert.Equal(t, "application/pdf", result["content_type"])
		assert.Equal(t, float64(len(samplePDF)), result["size_bytes"])
		assert.Equal(t, "2026-10-16T09:00:00Z", result["uploaded_at"])
		assert.Len(t, result, 5)
		mockSvc.AssertExpectations(t)
	})

	t.Run("no file", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/upload", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "FILE_REQUIRED", decodeError(t, resp).Error.Code)
	})

	t.Run("wrong field name", func(t *testing.T) {
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		part, _ := writer.CreateFormFile("document", "sample.pdf")
		part.Write([]byte(samplePDF))
		writer.Close()

		req := httptest.NewRequest(http.MethodPost, "/upload", body)
		req.Header.Set("Content-Type", writer.FormDataContentType())
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "FILE_REQUIRED", decodeError(t, resp).Error.Code)
	})

	errorCases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"filename required", service.ErrFilenameRequired, http.StatusBadRequest, "FILENAME_REQUIRED"},
		{"unsupported type", service.ErrUnsupportedType, http.StatusBadRequest, "UNSUPPORTED_MEDIA_TYPE"},
		{"empty file", service.ErrEmptyFile, http.StatusBadRequest, "EMPTY_FILE"},
		{"invalid pdf", service.ErrInvalidPDF, http.StatusBadRequest, "INVALID_PDF"},
		{"storage failure", fmt.Errorf("%w: write blob: disk full", service.ErrStorage), http.StatusInternalServerError, "STORAGE_ERROR"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			body, ct := multipartBody(t, "sample.pdf", "application/pdf", []byte(samplePDF))
			mockSvc.On("Upload", mock.Anything, mock.Anything, "sample.pdf", "application/pdf", mock.Anything).
				Return(nil, tc.err).Once()

			req := httptest.NewRequest(http.MethodPost, "/upload", body)
			req.Header.Set("Content-Type", ct)
			resp, _ := app.Test(req)

			assert.Equal(t, tc.wantStatus, resp.StatusCode)
			res := decodeError(t, resp)
			assert.Equal(t, tc.wantCode, res.Error.Code)
			assert.NotContains(t, res.Error.Message, "disk full")
			mockSvc.AssertExpectations(t)
		})
	}
}

func TestStoreUpload_OpenFailure(t *testing.T) {
	mockSvc := new(serviceMocks.MockDocumentService)
	app := fiber.New()
	app.Post("/upload", func(c *fiber.Ctx) error {
		// a header with neither in-memory content nor a spool file cannot be opened
		return storeUpload(c, mockSvc, &multipart.FileHeader{Filename: "sample.pdf"})
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/upload", nil))
	require.NoError(t, err)

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "STORAGE_ERROR", decodeError(t, resp).Error.Code)
	mockSvc.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestListDocuments(t *testing.T) {
	mockSvc := new(serviceMocks.MockDocumentService)
	app := fiber.New()
	app.Get("/documents", ListDocuments(mockSvc))

	t.Run("success", func(t *testing.T) {
		now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
		docs := []model.DocumentMetadata{
			{ID: "b", Filename: "new.pdf", ContentType: model.ContentTypePDF, SizeBytes: 2, UploadedAt: now},
			{ID: "a", Filename: "old.pdf", ContentType: model.ContentTypePDF, SizeBytes: 1, UploadedAt: now.Add(-time.Hour)},
		}
		mockSvc.On("List", mock.Anything).Return(docs, nil).Once()

		req := httptest.NewRequest(http.MethodGet, "/documents", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var result []model.DocumentMetadata
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
		require.Len(t, result, 2)
		assert.Equal(t, "b", result[0].ID)
		assert.Equal(t, "a", result[1].ID)
		mockSvc.AssertExpectations(t)
	})

	t.Run("empty", func(t *testing.T) {
		mockSvc.On("List", mock.Anything).Return(nil, nil).Once()

		req := httptest.NewRequest(http.MethodGet, "/documents", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, "[]", string(body))
		mockSvc.AssertExpectations(t)
	})

	t.Run("service error", func(t *testing.T) {
		mockSvc.On("List", mock.Anything).Return(nil, errors.New("service error")).Once()

		req := httptest.NewRequest(http.MethodGet, "/documents", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.Equal(t, "INTERNAL_ERROR", decodeError(t, resp).Error.Code)
		mockSvc.AssertExpectations(t)
	})
}

func TestFetchDocument(t *testing.T) {
	mockSvc := new(serviceMocks.MockDocumentService)
	app := fiber.New()
	app.Get("/documents/:id/pdf", FetchDocument(mockSvc))

	t.Run("success", func(t *testing.T) {
		id := "0123456789abcdef0123456789abcdef"
		dl := &service.Download{
			Metadata: model.DocumentMetadata{ID: id, Filename: "report.pdf", ContentType: model.ContentTypePDF, SizeBytes: int64(len(samplePDF))},
			Body:     io.NopCloser(strings.NewReader(samplePDF)),
			Size:     int64(len(samplePDF)),
		}
		mockSvc.On("Fetch", mock.Anything, id).Return(dl, nil).Once()

		req := httptest.NewRequest(http.MethodGet, "/documents/"+id+"/pdf", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
		assert.Contains(t, resp.Header.Get("Content-Disposition"), `filename="report.pdf"`)
		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, samplePDF, string(body))
		mockSvc.AssertExpectations(t)
	})

	t.Run("not found", func(t *testing.T) {
		mockSvc.On("Fetch", mock.Anything, "missing").Return(nil, service.ErrNotFound).Once()

		req := httptest.NewRequest(http.MethodGet, "/documents/missing/pdf", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "NOT_FOUND", decodeError(t, resp).Error.Code)
		mockSvc.AssertExpectations(t)
	})

	t.Run("invalid metadata", func(t *testing.T) {
		mockSvc.On("Fetch", mock.Anything, "broken").
			Return(nil, fmt.Errorf("%w: unexpected field", service.ErrInvalidMetadata)).Once()

		req := httptest.NewRequest(http.MethodGet, "/documents/broken/pdf", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.Equal(t, "INVALID_METADATA", decodeError(t, resp).Error.Code)
		mockSvc.AssertExpectations(t)
	})

	t.Run("service error", func(t *testing.T) {
		mockSvc.On("Fetch", mock.Anything, "x").Return(nil, errors.New("io error")).Once()

		req := httptest.NewRequest(http.MethodGet, "/documents/x/pdf", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.Equal(t, "INTERNAL_ERROR", decodeError(t, resp).Error.Code)
		mockSvc.AssertExpectations(t)
	})
}

func TestRouting(t *testing.T) {
	app := fiber.New(fiber.Config{
		ErrorHandler: ErrorHandler(),
		BodyLimit:    1024,
	})

	mockSvc := new(serviceMocks.MockDocumentService)
	RegisterRoutes(app, mockSvc)

	t.Run("not found route", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/non-existent", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "NOT_FOUND", decodeError(t, resp).Error.Code)
	})

	t.Run("method not allowed", func(t *testing.T) {
		// /upload only accepts POST
		req := httptest.NewRequest(http.MethodGet, "/upload", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
		assert.Equal(t, "METHOD_NOT_ALLOWED", decodeError(t, resp).Error.Code)
	})

	t.Run("payload too large", func(t *testing.T) {
		body, ct := multipartBody(t, "big.pdf", "application/pdf", append([]byte("%PDF-"), bytes.Repeat([]byte("x"), 4096)...))

		req := httptest.NewRequest(http.MethodPost, "/upload", body)
		req.Header.Set("Content-Type", ct)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
		assert.Equal(t, "PAYLOAD_TOO_LARGE", decodeError(t, resp).Error.Code)
		mockSvc.AssertNotCalled(t, "Upload")
	})
}

// newLocalApp serves the routes over a real storage root.
func newLocalApp(t *testing.T) (*fiber.App, string) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "storage")
	store, err := storage.NewLocal(root)
	require.NoError(t, err)

	svc := service.NewDocumentService(store, sidecar.NewDocumentSidecar(store),
		service.WithLogger(logging.New(io.Discard, time.UTC)))

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler()})
	RegisterRoutes(app, svc, DependencyCheck{Name: "storage", Ping: store.Ping})
	return app, root
}

func upload(t *testing.T, app *fiber.App, filename, contentType string, content []byte) *http.Response {
	t.Helper()
	body, ct := multipartBody(t, filename, contentType, content)
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", ct)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func listDocuments(t *testing.T, app *fiber.App) []map[string]any {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/documents", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var docs []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&docs))
	return docs
}

func TestEndToEnd_UploadListFetch(t *testing.T) {
	app, root := newLocalApp(t)

	resp := upload(t, app, "sample.pdf", "application/pdf", []byte(samplePDF))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	id, _ := created["id"].(string)
	assert.Len(t, id, 32)
	assert.Equal(t, "sample.pdf", created["filename"])
	assert.Equal(t, "application/pdf", created["content_type"])
	assert.Equal(t, float64(len(samplePDF)), created["size_bytes"])

	assert.FileExists(t, filepath.Join(root, id+".pdf"))
	assert.FileExists(t, filepath.Join(root, id+".json"))

	docs := listDocuments(t, app)
	require.Len(t, docs, 1)
	assert.Equal(t, id, docs[0]["id"])

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/documents/"+id+"/pdf", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, samplePDF, string(body))

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEndToEnd_Rejections(t *testing.T) {
	app, root := newLocalApp(t)

	cases := []struct {
		name        string
		filename    string
		contentType string
		content     []byte
		wantCode    string
	}{
		{"non-pdf content type", "sample.txt", "text/plain", []byte("hello"), "UNSUPPORTED_MEDIA_TYPE"},
		{"empty pdf", "empty.pdf", "application/pdf", nil, "EMPTY_FILE"},
		{"bad signature", "fake.pdf", "application/pdf", []byte("not a pdf"), "INVALID_PDF"},
		{"upper-case content type", "upper.pdf", "APPLICATION/PDF", []byte(samplePDF), "UNSUPPORTED_MEDIA_TYPE"},
		{"content type with parameters", "param.pdf", "application/pdf; charset=binary", []byte(samplePDF), "UNSUPPORTED_MEDIA_TYPE"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := upload(t, app, tc.filename, tc.contentType, tc.content)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, tc.wantCode, decodeError(t, resp).Error.Code)
		})
	}

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Empty(t, listDocuments(t, app))
}

func TestEndToEnd_AcceptsLegacyContentType(t *testing.T) {
	app, _ := newLocalApp(t)

	resp := upload(t, app, "legacy.pdf", "application/x-pdf", []byte(samplePDF))
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	docs := listDocuments(t, app)
	require.Len(t, docs, 1)
	assert.Equal(t, "application/pdf", docs[0]["content_type"])
}

func TestEndToEnd_ListOrderAndCorruptRecord(t *testing.T) {
	app, root := newLocalApp(t)

	var ids []string
	for i := 0; i < 3; i++ {
		resp := upload(t, app, fmt.Sprintf("doc-%d.pdf", i), "application/pdf", []byte(samplePDF))
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		var created map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
		ids = append(ids, created["id"].(string))
		time.Sleep(2 * time.Millisecond)
	}

	docs := listDocuments(t, app)
	require.Len(t, docs, 3)
	assert.Equal(t, ids[2], docs[0]["id"])
	assert.Equal(t, ids[0], docs[2]["id"])

	require.NoError(t, os.WriteFile(filepath.Join(root, "broken.json"), []byte("{not json"), 0o640))
	assert.Len(t, listDocuments(t, app), 3)
}

func TestEndToEnd_FetchMissing(t *testing.T) {
	app, _ := newLocalApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/documents/missing/pdf", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", decodeError(t, resp).Error.Code)
}
