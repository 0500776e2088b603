// Package openaiembed implements embedding.Provider against an
// OpenAI-compatible embeddings endpoint, grounded on hr.MocoClient's
// HTTPClient dependency-injection pattern (hr/client.go): an interface
// seam over *http.Client so tests supply a mock transport instead of
// hitting the network.
package openaiembed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"eve.evalgo.org/memory/internal/embedding"
)

// HTTPClient is the seam NewProviderWithHTTP injects in tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Provider calls an OpenAI-compatible /v1/embeddings endpoint.
type Provider struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient HTTPClient
}

// New creates a Provider against the default OpenAI API base URL.
func New(apiKey, model string) *Provider {
	return NewWithHTTP("https://api.openai.com", apiKey, model, http.DefaultClient)
}

// NewWithHTTP creates a Provider with an injected client, base URL, and
// model, primarily for testing.
func NewWithHTTP(baseURL, apiKey, model string, httpClient HTTPClient) *Provider {
	return &Provider{baseURL: baseURL, apiKey: apiKey, model: model, httpClient: httpClient}
}

var _ embedding.Provider = (*Provider)(nil)

type embeddingRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// AuthError reports an authentication failure, classified PERMANENT
// (never retried).
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string { return fmt.Sprintf("openaiembed: authentication failed: %s", e.Message) }

// RateLimitedError reports a provider-side rate limit, classified
// TRANSIENT (retried with backoff).
type RateLimitedError struct {
	Message string
}

func (e *RateLimitedError) Error() string { return fmt.Sprintf("openaiembed: rate limited: %s", e.Message) }

// Generate implements embedding.Provider.
func (p *Provider) Generate(ctx context.Context, text string) (embedding.Vector, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, Timeout)
		defer cancel()
	}

	body, err := json.Marshal(embeddingRequest{Input: text, Model: p.model})
	if err != nil {
		return nil, fmt.Errorf("openaiembed: failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openaiembed: failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openaiembed: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openaiembed: failed to read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, &AuthError{Message: string(data)}
	case http.StatusTooManyRequests:
		return nil, &RateLimitedError{Message: string(data)}
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("openaiembed: failed to decode response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("openaiembed: provider error: %s", parsed.Error.Message)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("openaiembed: empty embedding response")
	}
	return embedding.Vector(parsed.Data[0].Embedding), nil
}

// Timeout is the default per-call deadline Generate applies when the
// caller's context carries no deadline of its own.
const Timeout = 30 * time.Second
