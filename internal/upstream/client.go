// Package upstream issues the HTTP calls to the configured generative-language
// endpoint. Exactly one POST per call; validation and credential checks happen
// before anything touches the network.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"quill/internal/errs"
)

// Config holds the upstream endpoint settings.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Kind    string // "openai" or "gateway"
	Timeout time.Duration
	Rate    float64 // requests/second, 0 disables the limiter
}

// Client talks to the upstream provider.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	kind    string

	// Non-streaming calls carry an explicit budget; the streaming client has
	// none - the relay's pending-stream TTL covers a hung upstream.
	httpClient   *http.Client
	streamClient *http.Client

	limiter *rate.Limiter
}

// New validates the configured endpoint and builds a client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errs.MissingCredential("no upstream endpoint configured (set UPSTREAM_BASE_URL)")
	}

	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, errs.InvalidInput("invalid upstream endpoint: %q", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Rate), int(cfg.Rate*2)+1)
	}

	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		model:        cfg.Model,
		kind:         cfg.Kind,
		httpClient:   &http.Client{Timeout: timeout},
		streamClient: &http.Client{},
		limiter:      limiter,
	}, nil
}

// Kind returns the configured upstream kind.
func (c *Client) Kind() string {
	return c.kind
}

// chat/completions request and response shapes (OpenAI-compatible)
type completionRequest struct {
	Model    string              `json:"model"`
	Messages []completionMessage `json:"messages"`
	Stream   bool                `json:"stream"`
}

type completionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// gateway shapes (Quill protocol)
type gatewayChatRequest struct {
	Message string `json:"message"`
}

type gatewayChatResponse struct {
	OK   bool   `json:"ok"`
	Text string `json:"text"`
}

// Generate sends prompt to the upstream and returns the full response text.
// One POST, JSON in and out, bounded by the configured timeout.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if c.kind == "gateway" {
		return c.generateGateway(ctx, prompt)
	}
	return c.generateOpenAI(ctx, prompt)
}

func (c *Client) generateOpenAI(ctx context.Context, prompt string) (string, error) {
	if c.apiKey == "" {
		return "", errs.MissingCredential("no API key configured (set UPSTREAM_API_KEY)")
	}

	reqBody, err := json.Marshal(completionRequest{
		Model:    c.model,
		Messages: []completionMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	body, err := c.post(ctx, c.baseURL+"/chat/completions", reqBody)
	if err != nil {
		return "", err
	}

	var result completionResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", errs.Decode(err)
	}
	if len(result.Choices) == 0 {
		return "", errs.Decode(errors.New("no choices in response"))
	}

	return result.Choices[0].Message.Content, nil
}

func (c *Client) generateGateway(ctx context.Context, prompt string) (string, error) {
	reqBody, err := json.Marshal(gatewayChatRequest{Message: prompt})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	body, err := c.post(ctx, c.baseURL+"/v1/chat", reqBody)
	if err != nil {
		return "", err
	}

	var result gatewayChatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", errs.Decode(err)
	}

	return result.Text, nil
}

// post issues the single POST and classifies the outcome.
func (c *Client) post(ctx context.Context, endpoint string, reqBody []byte) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, errs.Timeout("upstream request exceeded budget", err)
		}
		return nil, errs.Transport(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return nil, errs.Timeout("upstream request exceeded budget", err)
		}
		return nil, errs.Transport(err)
	}

	if resp.StatusCode >= 400 {
		return nil, errs.Upstream(resp.StatusCode, errorMessage(body))
	}

	return body, nil
}

// OpenChatStream POSTs message to the gateway's chat-stream endpoint and
// returns the chunked NDJSON body as an open byte stream. The caller owns the
// returned reader.
func (c *Client) OpenChatStream(ctx context.Context, message string) (io.ReadCloser, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	reqBody, err := json.Marshal(gatewayChatRequest{Message: message})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/chat-stream", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, errs.Transport(err)
	}

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, errs.Upstream(resp.StatusCode, errorMessage(body))
	}

	return resp.Body, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// errorMessage extracts a human-readable message from an upstream error body.
// Understands {"ok":false,"error":"..."} and OpenAI's {"error":{"message":...}},
// falling back to the raw body.
func errorMessage(body []byte) string {
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Error) > 0 {
		var msg string
		if json.Unmarshal(envelope.Error, &msg) == nil && msg != "" {
			return msg
		}
		var obj struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(envelope.Error, &obj) == nil && obj.Message != "" {
			return obj.Message
		}
	}

	raw := strings.TrimSpace(string(body))
	if len(raw) > 200 {
		raw = raw[:200]
	}
	if raw == "" {
		raw = "upstream request failed"
	}
	return raw
}
