package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"quill/internal/errs"
	"quill/internal/models"
	"quill/internal/services"
)

// ChatHandler handles HTTP requests for chat turns
type ChatHandler struct {
	service *services.ChatService
}

// NewChatHandler creates a new chat handler
func NewChatHandler(service *services.ChatService) *ChatHandler {
	return &ChatHandler{service: service}
}

// Handle answers one chat turn with a single JSON document
// POST /v1/chat
func (h *ChatHandler) Handle(c *fiber.Ctx) error {
	var req models.ChatRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"ok":    false,
			"error": "Invalid request body",
		})
	}

	resp, err := h.service.Chat(c.Context(), &req)
	if err != nil {
		if errs.KindOf(err) != errs.KindInvalidInput {
			log.Printf("❌ [CHAT] %v", err)
		}
		return c.Status(errs.HTTPStatus(err)).JSON(fiber.Map{
			"ok":    false,
			"error": err.Error(),
		})
	}

	return c.JSON(resp)
}

// HandleStream answers one chat turn as a chunked NDJSON stream
// POST /v1/chat-stream
func (h *ChatHandler) HandleStream(c *fiber.Ctx) error {
	var req models.ChatRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"ok":    false,
			"error": "Invalid request body",
		})
	}

	// Rejected turns never reach the network or open a stream.
	if err := req.Validate(); err != nil {
		return c.Status(errs.HTTPStatus(err)).JSON(fiber.Map{
			"ok":    false,
			"error": err.Error(),
		})
	}

	id := uuid.New().String()
	message := req.Message

	c.Set(fiber.HeaderContentType, "application/x-ndjson")
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		sink := &ndjsonSink{w: w}
		// The fiber ctx is gone once this writer runs; the turn owns its
		// own lifetime and a closed client just stops deliveries.
		if err := h.service.StreamTo(context.Background(), id, message, sink); err != nil {
			log.Printf("❌ [CHAT-STREAM] Turn %s rejected: %v", id, err)
		}
	})
	return nil
}

// ndjsonSink writes stream records to the HTTP response, one JSON record per
// line, flushing after each so fragments reach the client as they arrive.
// Once a write fails the client is gone and every later delivery is a silent
// no-op.
type ndjsonSink struct {
	w        *bufio.Writer
	mu       sync.Mutex
	disposed bool
}

func (s *ndjsonSink) OnDelta(id string, delta string) {
	s.write(models.DeltaRecord(delta))
}

func (s *ndjsonSink) OnDone(id string, text *string) {
	s.write(models.DoneRecord(text))
}

func (s *ndjsonSink) write(rec models.StreamRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	data = append(data, '\n')

	if _, err := s.w.Write(data); err != nil {
		s.disposed = true
		return
	}
	if err := s.w.Flush(); err != nil {
		s.disposed = true
	}
}
