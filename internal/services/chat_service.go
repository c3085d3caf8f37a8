package services

import (
	"context"
	"log"
	"time"

	"quill/internal/config"
	"quill/internal/errs"
	"quill/internal/models"
	"quill/internal/relay"
	"quill/internal/upstream"
)

// deltaChunkRunes is the cosmetic chunk size used when the upstream answered
// with one document and we re-emit it as a stream.
const deltaChunkRunes = 48

// ChatService handles chat turns, streaming and not.
type ChatService struct {
	upstream *upstream.Client
	relay    *relay.Relay
	metrics  *Metrics
}

// NewChatService creates a new chat service
func NewChatService(client *upstream.Client, r *relay.Relay, metrics *Metrics) *ChatService {
	return &ChatService{
		upstream: client,
		relay:    r,
		metrics:  metrics,
	}
}

// Chat handles one non-streaming turn.
func (s *ChatService) Chat(ctx context.Context, req *models.ChatRequest) (*models.ChatResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	text, err := s.upstream.Generate(ctx, req.Message)
	if s.metrics != nil {
		s.metrics.ChatRequests.Inc()
		s.metrics.ChatRequestLatency.Observe(time.Since(start).Seconds())
		if err != nil {
			s.metrics.RequestErrors.WithLabelValues(errs.KindOf(err).String()).Inc()
		}
	}
	if err != nil {
		return nil, err
	}

	return &models.ChatResponse{OK: true, Text: text}, nil
}

// StreamTo runs one streaming turn for correlation id, delivering records to
// sink in arrival order. A non-nil error means the turn was rejected before
// any network call or stream state existed; after that point every outcome -
// including upstream failure - resolves through the sink's delta/terminal
// contract instead.
func (s *ChatService) StreamTo(ctx context.Context, id string, message string, sink relay.Sink) error {
	req := models.ChatRequest{Message: message}
	if err := req.Validate(); err != nil {
		return err
	}

	if _, ok := s.relay.Open(id, sink); !ok {
		return errs.InvalidInput("turn %s is already streaming", id)
	}

	if s.metrics != nil {
		s.metrics.ChatRequests.Inc()
	}
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ChatRequestLatency.Observe(time.Since(start).Seconds())
		}
	}()

	if s.upstream.Kind() == config.UpstreamKindGateway {
		body, err := s.upstream.OpenChatStream(ctx, message)
		if err != nil {
			log.Printf("❌ [CHAT] Failed to open upstream stream for %s: %v", id, err)
			s.countError(err)
			s.relay.Fail(id, err.Error())
			return nil
		}
		s.relay.Run(id, body)
		return nil
	}

	// Plain JSON upstream: fetch the full text, then re-emit it as bounded
	// delta records followed by the authoritative terminal record.
	text, err := s.upstream.Generate(ctx, message)
	if err != nil {
		log.Printf("❌ [CHAT] Upstream call failed for %s: %v", id, err)
		s.countError(err)
		s.relay.Fail(id, err.Error())
		return nil
	}

	for _, chunk := range chunkText(text, deltaChunkRunes) {
		s.relay.Dispatch(id, models.DeltaRecord(chunk))
	}
	s.relay.Dispatch(id, models.DoneRecord(&text))
	return nil
}

func (s *ChatService) countError(err error) {
	if s.metrics != nil {
		s.metrics.RequestErrors.WithLabelValues(errs.KindOf(err).String()).Inc()
	}
}

// chunkText splits text into rune-safe chunks of roughly size runes.
func chunkText(text string, size int) []string {
	if size <= 0 {
		return []string{text}
	}

	runes := []rune(text)
	var chunks []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
