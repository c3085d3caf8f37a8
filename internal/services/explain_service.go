package services

import (
	"context"
	"fmt"
	"log"
	"strings"

	"quill/internal/cache"
	"quill/internal/models"
	"quill/internal/upstream"
)

// maxSummaryLen bounds the one-line summary shown in the hover popup.
const maxSummaryLen = 200

// ExplainService answers "explain this term" requests, serving repeats from
// the bounded explanation cache so identical lookups skip the network.
type ExplainService struct {
	cache    *cache.ExplainCache
	upstream *upstream.Client
	metrics  *Metrics
}

// NewExplainService creates a new explain service
func NewExplainService(explainCache *cache.ExplainCache, client *upstream.Client, metrics *Metrics) *ExplainService {
	return &ExplainService{
		cache:    explainCache,
		upstream: client,
		metrics:  metrics,
	}
}

// Explain validates the query, consults the cache and falls back to one
// upstream call. The cache is only populated on success.
func (s *ExplainService) Explain(ctx context.Context, req *models.ExplainRequest) (*models.ExplainResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.ExplainRequests.Inc()
	}

	term := strings.TrimSpace(req.Query)
	key := cache.Key{Term: term, LanguageID: req.LanguageID}

	if detail, ok := s.cache.Get(key); ok {
		if s.metrics != nil {
			s.metrics.ExplainCacheHits.Inc()
		}
		return explainResponse(detail), nil
	}
	if s.metrics != nil {
		s.metrics.ExplainCacheMisses.Inc()
	}

	detail, err := s.upstream.Generate(ctx, explainPrompt(term, req.LanguageID))
	if err != nil {
		log.Printf("❌ [EXPLAIN] Upstream call failed for %q: %v", term, err)
		return nil, err
	}

	s.cache.Put(key, detail)
	log.Printf("✅ [EXPLAIN] Cached explanation for %q (%s), cache size: %d", term, req.LanguageID, s.cache.Len())

	return explainResponse(detail), nil
}

func explainResponse(detail string) *models.ExplainResponse {
	return &models.ExplainResponse{
		OK:      true,
		Summary: summarize(detail),
		Detail:  detail,
	}
}

// summarize extracts the first content line of the Markdown detail, stripped
// of heading/list markers and truncated for the popup.
func summarize(detail string) string {
	for _, line := range strings.Split(detail, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "#*->` ")
		if line == "" {
			continue
		}
		runes := []rune(line)
		if len(runes) > maxSummaryLen {
			return string(runes[:maxSummaryLen]) + "…"
		}
		return line
	}
	return ""
}

func explainPrompt(term, languageID string) string {
	if languageID != "" {
		return fmt.Sprintf(
			"Explain the programming term %q as used in %s. Answer in concise Markdown: one short definition paragraph, then a minimal code example in a fenced block if helpful.",
			term, languageID,
		)
	}
	return fmt.Sprintf(
		"Explain the programming term %q. Answer in concise Markdown: one short definition paragraph, then a minimal code example in a fenced block if helpful.",
		term,
	)
}
