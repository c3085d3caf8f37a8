package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"quill/internal/cache"
	"quill/internal/errs"
	"quill/internal/models"
	"quill/internal/upstream"
)

func newExplainFixture(t *testing.T, handler http.HandlerFunc) (*ExplainService, *httptest.Server, *cache.ExplainCache) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := upstream.New(upstream.Config{
		BaseURL: server.URL,
		APIKey:  "test-key",
		Model:   "test-model",
		Kind:    "openai",
		Timeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to create upstream client: %v", err)
	}

	explainCache := cache.New(10)
	return NewExplainService(explainCache, client, nil), server, explainCache
}

func openAIAnswer(content string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": content}},
			},
		})
	}
}

// TestExplainService_SecondLookupServedFromCache tests that a repeated term
// never reaches the upstream again
func TestExplainService_SecondLookupServedFromCache(t *testing.T) {
	var calls int32
	svc, _, _ := newExplainFixture(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		openAIAnswer("A goroutine is a lightweight thread.")(w, r)
	})

	req := &models.ExplainRequest{Query: "goroutine", LanguageID: "go"}

	first, err := svc.Explain(context.Background(), req)
	if err != nil {
		t.Fatalf("First explain failed: %v", err)
	}
	second, err := svc.Explain(context.Background(), req)
	if err != nil {
		t.Fatalf("Second explain failed: %v", err)
	}

	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("Expected exactly one upstream call, got %d", calls)
	}
	if first.Detail != second.Detail {
		t.Errorf("Cached answer differs: %q vs %q", first.Detail, second.Detail)
	}
	if !second.OK {
		t.Error("Expected ok response from cache")
	}
}

// TestExplainService_FailureDoesNotPopulateCache tests that an upstream error
// surfaces to the caller and leaves the cache empty
func TestExplainService_FailureDoesNotPopulateCache(t *testing.T) {
	svc, _, explainCache := newExplainFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"ok":false,"error":"model overloaded"}`))
	})

	_, err := svc.Explain(context.Background(), &models.ExplainRequest{Query: "defer"})
	if errs.KindOf(err) != errs.KindUpstream {
		t.Fatalf("Expected upstream error, got %v", err)
	}
	if explainCache.Len() != 0 {
		t.Errorf("Expected empty cache after failure, got %d entries", explainCache.Len())
	}
}

// TestExplainService_RejectsInvalidQuery tests validation before any call
func TestExplainService_RejectsInvalidQuery(t *testing.T) {
	var calls int32
	svc, _, _ := newExplainFixture(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	})

	_, err := svc.Explain(context.Background(), &models.ExplainRequest{Query: "   "})
	if errs.KindOf(err) != errs.KindInvalidInput {
		t.Fatalf("Expected invalid-input error, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Errorf("Expected no upstream call for invalid query, got %d", calls)
	}
}

// TestExplainService_CacheKeyNormalizesWhitespace tests that a padded query
// hits the cache entry of its trimmed form
func TestExplainService_CacheKeyNormalizesWhitespace(t *testing.T) {
	var calls int32
	svc, _, _ := newExplainFixture(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		openAIAnswer("answer")(w, r)
	})

	if _, err := svc.Explain(context.Background(), &models.ExplainRequest{Query: "closure"}); err != nil {
		t.Fatalf("Explain failed: %v", err)
	}
	if _, err := svc.Explain(context.Background(), &models.ExplainRequest{Query: "  closure  "}); err != nil {
		t.Fatalf("Explain failed: %v", err)
	}

	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("Expected padded query to hit cache, upstream saw %d calls", calls)
	}
}

// TestSummarize tests first-line extraction for the hover popup
func TestSummarize(t *testing.T) {
	tests := []struct {
		name   string
		detail string
		want   string
	}{
		{"plain line", "A short answer.\nMore detail.", "A short answer."},
		{"heading stripped", "## Goroutines\nBody", "Goroutines"},
		{"list marker stripped", "- first point\n- second", "first point"},
		{"leading blanks skipped", "\n\n  \nreal content", "real content"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := summarize(tt.detail); got != tt.want {
				t.Errorf("summarize() = %q, want %q", got, tt.want)
			}
		})
	}
}
