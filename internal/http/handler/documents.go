package handler

import (
	"errors"
	"mime/multipart"

	"github.com/gofiber/fiber/v2"

	"pdfstore/internal/model"
	"pdfstore/internal/service"
)

// UploadDocument godoc
// @Summary Upload a PDF
// @Description Stores a PDF sent as multipart/form-data in the "file" field.
// @Tags documents
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "PDF file (application/pdf or application/x-pdf)"
// @Success 201 {object} model.DocumentMetadata
// @Failure 400 {object} errorPayload
// @Failure 413 {object} errorPayload
// @Failure 500 {object} errorPayload
// @Router /upload [post]
func UploadDocument(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		fh, err := c.FormFile("file")
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_REQUIRED", "file is required")
		}
		return storeUpload(c, docSvc, fh)
	}
}

// storeUpload hands one multipart file to the service. The part is spooled
// by the server, so failing to reopen it is a server-side I/O error.
func storeUpload(c *fiber.Ctx, docSvc service.DocumentService, fh *multipart.FileHeader) error {
	f, err := fh.Open()
	if err != nil {
		return writeError(c, fiber.StatusInternalServerError, "STORAGE_ERROR", "failed to store uploaded file")
	}
	defer f.Close()

	doc, err := docSvc.Upload(c.UserContext(), f, fh.Filename, fh.Header.Get(fiber.HeaderContentType), fh.Size)
	if err != nil {
		return writeUploadError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(doc)
}

// ListDocuments godoc
// @Summary List documents
// @Description Returns every stored document, most recently uploaded first. Corrupt records are left out.
// @Tags documents
// @Produce json
// @Success 200 {array} model.DocumentMetadata
// @Failure 500 {object} errorPayload
// @Router /documents [get]
func ListDocuments(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		docs, err := docSvc.List(c.UserContext())
		if err != nil {
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		if docs == nil {
			docs = []model.DocumentMetadata{}
		}
		return c.JSON(docs)
	}
}

// FetchDocument godoc
// @Summary Download a PDF
// @Tags documents
// @Produce application/pdf
// @Param id path string true "Document ID"
// @Success 200 {file} binary
// @Failure 404 {object} errorPayload
// @Failure 500 {object} errorPayload
// @Router /documents/{id}/pdf [get]
func FetchDocument(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		dl, err := docSvc.Fetch(c.UserContext(), c.Params("id"))
		if err != nil {
			switch {
			case errors.Is(err, service.ErrNotFound):
				return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "document not found")
			case errors.Is(err, service.ErrInvalidMetadata):
				return writeError(c, fiber.StatusInternalServerError, "INVALID_METADATA", "stored metadata is invalid")
			}
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}

		c.Attachment(dl.Metadata.Filename)
		c.Set(fiber.HeaderContentType, model.ContentTypePDF)
		// fasthttp closes the body once it has been streamed
		return c.SendStream(dl.Body, int(dl.Size))
	}
}

func writeUploadError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrFilenameRequired):
		return writeError(c, fiber.StatusBadRequest, "FILENAME_REQUIRED", "filename is required")
	case errors.Is(err, service.ErrUnsupportedType):
		return writeError(c, fiber.StatusBadRequest, "UNSUPPORTED_MEDIA_TYPE", "only PDF uploads are supported")
	case errors.Is(err, service.ErrEmptyFile):
		return writeError(c, fiber.StatusBadRequest, "EMPTY_FILE", "uploaded file is empty")
	case errors.Is(err, service.ErrInvalidPDF):
		return writeError(c, fiber.StatusBadRequest, "INVALID_PDF", "uploaded file does not look like a valid PDF")
	case errors.Is(err, service.ErrStorage):
		return writeError(c, fiber.StatusInternalServerError, "STORAGE_ERROR", "failed to store uploaded file")
	}
	return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
}
