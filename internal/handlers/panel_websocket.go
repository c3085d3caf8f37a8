package handlers

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"quill/internal/logging"
	"quill/internal/markdown"
	"quill/internal/models"
	"quill/internal/services"
)

const (
	panelReadDeadline = 300 * time.Second
	panelPingInterval = 30 * time.Second
)

// PanelHandler carries the typed bidirectional channel between the editor
// panel and the host process.
type PanelHandler struct {
	connManager    *services.ConnectionManager
	chatService    *services.ChatService
	explainService *services.ExplainService
	renderer       *markdown.Renderer
}

// NewPanelHandler creates a new panel bridge handler
func NewPanelHandler(connManager *services.ConnectionManager, chatService *services.ChatService, explainService *services.ExplainService, renderer *markdown.Renderer) *PanelHandler {
	return &PanelHandler{
		connManager:    connManager,
		chatService:    chatService,
		explainService: explainService,
		renderer:       renderer,
	}
}

// Handle runs one panel connection
func (h *PanelHandler) Handle(c *websocket.Conn) {
	connID := uuid.New().String()
	conn := models.NewPanelConn(connID, c)

	done := make(chan struct{})

	h.connManager.Add(conn)
	defer func() {
		close(done)
		conn.Close()
		h.connManager.Remove(connID)
	}()

	c.SetReadDeadline(time.Now().Add(panelReadDeadline))
	c.SetPongHandler(func(string) error {
		c.SetReadDeadline(time.Now().Add(panelReadDeadline))
		return nil
	})

	go h.pingLoop(conn, done)
	go h.writeLoop(conn)

	conn.Send(models.HostMessage{
		Type:   models.HostTypeConnected,
		ConnID: connID,
	})

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			log.Printf("🔌 [PANEL] Read loop ended for %s: %v", connID, err)
			return
		}

		var msg models.PanelMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			conn.Send(models.HostMessage{
				Type:    models.HostTypeError,
				Message: "malformed panel message",
			})
			continue
		}

		h.dispatch(conn, msg)
	}
}

// dispatch routes one panel message. Each user turn gets its own correlation
// id and proceeds independently; overlapping turns cannot cross-contaminate.
func (h *PanelHandler) dispatch(conn *models.PanelConn, msg models.PanelMessage) {
	switch msg.Type {
	case models.PanelTypeUserMessage:
		id := uuid.New().String()
		logging.WithTurn(id, conn.ConnID).Debug("user turn started", "chars", len(msg.Text))
		sink := &panelSink{conn: conn, renderer: h.renderer}
		go func() {
			if err := h.chatService.StreamTo(context.Background(), id, msg.Text, sink); err != nil {
				conn.Send(models.HostMessage{
					Type:    models.HostTypeError,
					Message: err.Error(),
				})
			}
		}()

	case models.PanelTypeSeedFromExplain:
		id := uuid.New().String()
		go h.seedFromExplain(conn, id, msg.Term, msg.LanguageID)

	case models.PanelTypeInsertCode:
		// The editor-side listener shares the channel; relay the code back
		// out so it can apply the insertion.
		conn.Send(models.HostMessage{
			Type: models.HostTypeInsertCode,
			Code: msg.Code,
		})

	default:
		conn.Send(models.HostMessage{
			Type:    models.HostTypeError,
			Message: "unknown message type: " + msg.Type,
		})
	}
}

// seedFromExplain answers a hover-initiated turn from the explain path, cache
// included, and presents it like a finished streamed message.
func (h *PanelHandler) seedFromExplain(conn *models.PanelConn, id, term, languageID string) {
	resp, err := h.explainService.Explain(context.Background(), &models.ExplainRequest{
		Query:      term,
		LanguageID: languageID,
	})
	if err != nil {
		conn.Send(models.HostMessage{
			Type:    models.HostTypeError,
			Message: err.Error(),
		})
		return
	}

	conn.Send(models.HostMessage{
		Type: models.HostTypeAIDone,
		ID:   id,
		Text: &resp.Detail,
		HTML: h.renderer.Render(resp.Detail),
	})
}

// writeLoop drains the connection's write channel onto the socket.
func (h *PanelHandler) writeLoop(conn *models.PanelConn) {
	for msg := range conn.WriteChan {
		if err := conn.Conn.WriteJSON(msg); err != nil {
			log.Printf("🔌 [PANEL] Write failed for %s, disposing: %v", conn.ConnID, err)
			conn.Close()
			// Drain so queued senders never block; Send already no-ops.
			for range conn.WriteChan {
			}
			return
		}
	}
}

// pingLoop keeps the connection alive while a slow generation is in flight.
func (h *PanelHandler) pingLoop(conn *models.PanelConn, done chan struct{}) {
	ticker := time.NewTicker(panelPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

// panelSink delivers stream records to one panel as aiDelta/aiDone messages.
// Deltas are raw text appended for responsiveness; only the terminal delivery
// carries the full Markdown re-render.
type panelSink struct {
	conn     *models.PanelConn
	renderer *markdown.Renderer
}

func (s *panelSink) OnDelta(id string, delta string) {
	s.conn.Send(models.HostMessage{
		Type:  models.HostTypeAIDelta,
		ID:    id,
		Delta: delta,
	})
}

func (s *panelSink) OnDone(id string, text *string) {
	msg := models.HostMessage{
		Type: models.HostTypeAIDone,
		ID:   id,
		Text: text,
	}
	if text != nil {
		msg.HTML = s.renderer.Render(*text)
	}
	s.conn.Send(msg)
}
