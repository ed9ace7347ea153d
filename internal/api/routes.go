package api

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/docsage/docsage/internal/service"
	"github.com/docsage/docsage/internal/store"
)

func RegisterRoutes(app *fiber.App, pipeline *service.Pipeline, llm *service.LLMClient, s *store.PgStore, logger *log.Logger) {
	h := NewHandler(pipeline, llm, s, logger)

	app.Get("/health", h.Health)
	app.Get("/models", h.ListModels)
	app.Post("/documents", h.UploadDocument)
	app.Get("/documents", h.ListDocuments)
	app.Get("/documents/:id", h.GetDocument)
	app.Get("/documents/:id/messages", h.ListMessages)
	app.Post("/ask", h.Ask)
	app.Post("/ask/stream", h.AskStream)
}
