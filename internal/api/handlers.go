package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"github.com/docsage/docsage/internal/model"
	"github.com/docsage/docsage/internal/pdf"
	"github.com/docsage/docsage/internal/service"
	"github.com/docsage/docsage/internal/store"
	"github.com/docsage/docsage/internal/util"
)

// Caller identity headers. Authentication itself happens upstream; these
// carry its result.
const (
	headerUserID = "X-User-ID"
	headerTier   = "X-Subscription-Tier"
)

// Handler holds handler dependencies.
type Handler struct {
	pipeline *service.Pipeline
	llm      *service.LLMClient
	store    *store.PgStore
	logger   *log.Logger
}

func NewHandler(pipeline *service.Pipeline, llm *service.LLMClient, s *store.PgStore, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{pipeline: pipeline, llm: llm, store: s, logger: logger}
}

func (h *Handler) Health(c *fiber.Ctx) error {
	return c.SendString("ok")
}

// ListModels proxies the upstream model list.
func (h *Handler) ListModels(c *fiber.Ctx) error {
	models, err := h.llm.ListModels(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(models)
}

// UploadDocument accepts a PDF or plain-text file, extracts its text and
// stores the document. Extraction failure still records the document, with
// null text, so the upload remains visible to its owner.
func (h *Handler) UploadDocument(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "file is required (form field: file)"})
	}

	saveDir := filepath.Join("data", "uploads")
	if err := os.MkdirAll(saveDir, 0o755); err != nil {
		h.logger.Printf("mkdir error: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to prepare storage"})
	}
	savePath := filepath.Join(saveDir, util.Timestamped(filepath.Base(file.Filename)))
	if err := c.SaveFile(file, savePath); err != nil {
		h.logger.Printf("save file error: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to save file"})
	}

	text, extractErr := extractByExtension(savePath)
	if extractErr != nil {
		h.logger.Printf("extract error (%s): %v", file.Filename, extractErr)
	}
	text = pdf.Sanitize(text)

	doc, err := h.store.AddDocument(c.Context(), userID(c), file.Filename, text, extractErr == nil)
	if err != nil {
		h.logger.Printf("db insert error: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to store document"})
	}

	resp := fiber.Map{"id": doc.ID, "name": doc.Name, "chars": len(text)}
	if extractErr != nil {
		resp["warning"] = "text extraction failed; the document cannot be queried"
	}
	return c.JSON(resp)
}

func extractByExtension(path string) (string, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return pdf.ExtractText(path)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (h *Handler) ListDocuments(c *fiber.Ctx) error {
	docs, err := h.store.ListDocuments(c.Context(), userID(c))
	if err != nil {
		h.logger.Printf("list documents error: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to list documents"})
	}
	if docs == nil {
		docs = []model.Document{}
	}
	return c.JSON(docs)
}

func (h *Handler) GetDocument(c *fiber.Ctx) error {
	doc, err := h.store.GetDocument(c.Context(), userID(c), c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "document not found"})
	}
	if err != nil {
		h.logger.Printf("get document error: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load document"})
	}
	return c.JSON(doc)
}

// ListMessages replays a document's conversation, oldest turn first.
func (h *Handler) ListMessages(c *fiber.Ctx) error {
	if _, err := h.store.GetDocument(c.Context(), userID(c), c.Params("id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "document not found"})
		}
		h.logger.Printf("get document error: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load document"})
	}
	msgs, err := h.store.ListMessages(c.Context(), c.Params("id"))
	if err != nil {
		h.logger.Printf("list messages error: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to list messages"})
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	return c.JSON(msgs)
}

// Ask answers a question about a document in one shot.
func (h *Handler) Ask(c *fiber.Ctx) error {
	in, ok := h.askInput(c)
	if !ok {
		return nil
	}

	out, err := h.pipeline.Ask(c.Context(), in)
	if err != nil {
		return h.askError(c, err)
	}

	return c.JSON(fiber.Map{
		"answer":         out.Answer,
		"persona":        out.Persona.String(),
		"chunksTotal":    out.ChunksTotal,
		"chunksRelevant": out.ChunksRelevant,
	})
}

// AskStream answers over server-sent events: one "token" event per delta and
// a final "done" event. Quota rejection happens before the stream opens, so
// it still travels as a plain 429.
func (h *Handler) AskStream(c *fiber.Ctx) error {
	in, ok := h.askInput(c)
	if !ok {
		return nil
	}

	deltas, err := h.pipeline.AskStream(c.Context(), in)
	if err != nil {
		return h.askError(c, err)
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set("Connection", "keep-alive")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		// Drain the channel even after a write failure: the pipeline
		// finishes generation and persistence regardless of the client.
		deliver := true
		for d := range deltas {
			if !deliver {
				continue
			}
			if err := writeSSE(w, d); err != nil {
				h.logger.Printf("ask stream: client gone: %v", err)
				deliver = false
			}
		}
	}))
	return nil
}

func writeSSE(w *bufio.Writer, d service.StreamDelta) error {
	var event string
	var payload any
	switch {
	case d.Err != nil:
		event, payload = "error", fiber.Map{"error": "answer stream interrupted"}
	case d.Done:
		event, payload = "done", fiber.Map{"done": true}
	default:
		event, payload = "token", fiber.Map{"content": d.Content}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	return w.Flush()
}

// askInput validates the request body and resolves the document. On failure
// it writes the error response itself and reports ok=false.
func (h *Handler) askInput(c *fiber.Ctx) (service.AskInput, bool) {
	var req model.AskRequest
	if err := c.BodyParser(&req); err != nil {
		_ = c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request, expected JSON: {\"documentId\":\"...\",\"query\":\"...\"}"})
		return service.AskInput{}, false
	}
	if strings.TrimSpace(req.Query) == "" {
		_ = c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "query must not be empty"})
		return service.AskInput{}, false
	}
	if req.DocumentID == "" {
		_ = c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "documentId is required"})
		return service.AskInput{}, false
	}

	doc, err := h.store.GetDocument(c.Context(), userID(c), req.DocumentID)
	if errors.Is(err, store.ErrNotFound) {
		_ = c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "document not found"})
		return service.AskInput{}, false
	}
	if err != nil {
		h.logger.Printf("get document error: %v", err)
		_ = c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load document"})
		return service.AskInput{}, false
	}

	return service.AskInput{
		DocumentID:   doc.ID,
		DocumentText: doc.Text.String,
		UserID:       userID(c),
		Tier:         tier(c),
		Query:        req.Query,
		Persona:      service.ParsePersona(req.Persona),
	}, true
}

func (h *Handler) askError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrQuotaExceeded):
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error":      "daily message limit reached, try again tomorrow",
			"retryAfter": "24h",
		})
	case errors.Is(err, service.ErrEmptyQuery):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "query must not be empty"})
	default:
		h.logger.Printf("ask error: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to answer the question"})
	}
}

func userID(c *fiber.Ctx) string {
	if v := c.Get(headerUserID); v != "" {
		return v
	}
	return "anonymous"
}

func tier(c *fiber.Ctx) string {
	if v := c.Get(headerTier); v != "" {
		return v
	}
	return model.TierFree
}
