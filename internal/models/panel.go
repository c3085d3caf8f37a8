package models

import (
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
)

// Panel message types (panel -> host)
const (
	PanelTypeUserMessage     = "userMessage"
	PanelTypeInsertCode      = "insertCode"
	PanelTypeSeedFromExplain = "seedFromExplain"
)

// Host message types (host -> panel)
const (
	HostTypeConnected  = "connected"
	HostTypeAIDelta    = "aiDelta"
	HostTypeAIDone     = "aiDone"
	HostTypeInsertCode = "insertCode"
	HostTypeError      = "error"
)

// PanelMessage is a message from the editor panel to the host. The Type tag
// selects the variant: "userMessage" (Text), "insertCode" (Code) or
// "seedFromExplain" (Term, LanguageID).
type PanelMessage struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Code       string `json:"code,omitempty"`
	Term       string `json:"term,omitempty"`
	LanguageID string `json:"languageId,omitempty"`
}

// HostMessage is a message from the host to the editor panel. The Type tag
// selects the variant: "connected" (ConnID), "aiDelta" (ID, Delta), "aiDone"
// (ID, Text, HTML), "insertCode" (Code) or "error" (Message).
type HostMessage struct {
	Type    string  `json:"type"`
	ConnID  string  `json:"connId,omitempty"`
	ID      string  `json:"id,omitempty"`
	Delta   string  `json:"delta,omitempty"`
	Text    *string `json:"text,omitempty"`
	HTML    string  `json:"html,omitempty"`
	Code    string  `json:"code,omitempty"`
	Message string  `json:"message,omitempty"`
}

// PanelConn is one live panel WebSocket connection. Writes go through a
// buffered channel drained by a single writer goroutine; once the panel is
// disposed every Send becomes a silent no-op.
type PanelConn struct {
	ConnID    string
	Conn      *websocket.Conn
	WriteChan chan HostMessage
	CreatedAt time.Time

	mu     sync.Mutex
	closed bool
}

// NewPanelConn wraps a websocket connection for the bridge.
func NewPanelConn(connID string, conn *websocket.Conn) *PanelConn {
	return &PanelConn{
		ConnID:    connID,
		Conn:      conn,
		WriteChan: make(chan HostMessage, 100),
		CreatedAt: time.Now(),
	}
}

// Send queues a message for the panel. Dropped without error when the panel
// has been disposed or the write buffer is full (slow consumer).
func (p *PanelConn) Send(msg HostMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	select {
	case p.WriteChan <- msg:
	default:
		log.Printf("⚠️  [PANEL] Write buffer full for %s, dropping %s message", p.ConnID, msg.Type)
	}
}

// Close disposes the connection. Safe to call more than once.
func (p *PanelConn) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	close(p.WriteChan)
}

// Disposed reports whether the panel has been closed.
func (p *PanelConn) Disposed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
