package handler

import (
	"github.com/gofiber/fiber/v2"

	"pdfstore/internal/service"
)

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
// checks are pinged by /health; /metrics and /swagger are mounted by the caller.
func RegisterRoutes(app *fiber.App, docSvc service.DocumentService, checks ...DependencyCheck) {
	app.Get("/health", HealthCheck(checks...))
	app.Get("/healthz", LivenessProbe())

	app.Post("/upload", UploadDocument(docSvc))
	app.Get("/documents", ListDocuments(docSvc))
	app.Get("/documents/:id/pdf", FetchDocument(docSvc))
}
