package models

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"quill/internal/errs"
)

// MaxChatMessageLen is the longest message accepted by the chat endpoints.
const MaxChatMessageLen = 20000

// ChatRequest is the body of /v1/chat and /v1/chat-stream.
type ChatRequest struct {
	Message string `json:"message"`
}

// Validate rejects empty or over-length messages before any network call.
func (r *ChatRequest) Validate() error {
	if strings.TrimSpace(r.Message) == "" {
		return errs.InvalidInput("message is required")
	}
	if utf8.RuneCountInString(r.Message) > MaxChatMessageLen {
		return errs.InvalidInput("message exceeds %d characters", MaxChatMessageLen)
	}
	return nil
}

// ChatResponse is the non-streaming chat reply.
type ChatResponse struct {
	OK   bool   `json:"ok"`
	Text string `json:"text"`
}

// StreamRecord is one newline-terminated NDJSON record of a chat stream.
// A record is either a delta fragment or the terminal done record; the
// terminal record always carries a "text" field, null when the server has no
// authoritative final text.
type StreamRecord struct {
	Delta string  `json:"delta,omitempty"`
	Done  bool    `json:"done,omitempty"`
	Text  *string `json:"text,omitempty"`
}

// DeltaRecord builds an incremental fragment record.
func DeltaRecord(delta string) StreamRecord {
	return StreamRecord{Delta: delta}
}

// DoneRecord builds the terminal record. text may be nil.
func DoneRecord(text *string) StreamRecord {
	return StreamRecord{Done: true, Text: text}
}

// MarshalJSON emits the exact wire shapes: {"delta":...} for fragments and
// {"done":true,"text":...} for the terminal record, with an explicit null
// text when no authoritative final text exists.
func (r StreamRecord) MarshalJSON() ([]byte, error) {
	if r.Done {
		return json.Marshal(struct {
			Done bool    `json:"done"`
			Text *string `json:"text"`
		}{Done: true, Text: r.Text})
	}
	return json.Marshal(struct {
		Delta string `json:"delta"`
	}{Delta: r.Delta})
}
