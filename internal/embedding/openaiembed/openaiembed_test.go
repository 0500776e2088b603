package openaiembed

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewBufferString(body))}
}

func TestGenerateReturnsEmbedding(t *testing.T) {
	client := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "/v1/embeddings", req.URL.Path)
		assert.Equal(t, "Bearer key", req.Header.Get("Authorization"))
		return jsonResponse(200, `{"data":[{"embedding":[0.1,0.2,0.3]}]}`), nil
	})
	p := NewWithHTTP("https://example.test", "key", "text-embedding-3-small", client)

	v, err := p.Generate(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, float32(0.1), v[0])
	assert.Len(t, v, 3)
}

func TestGenerateReturnsAuthError(t *testing.T) {
	client := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(401, `{"error":{"message":"invalid key"}}`), nil
	})
	p := NewWithHTTP("https://example.test", "bad", "m", client)

	_, err := p.Generate(context.Background(), "hello")
	require.Error(t, err)
	var authErr *AuthError
	assert.ErrorAs(t, err, &authErr)
}

func TestGenerateReturnsRateLimitedError(t *testing.T) {
	client := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(429, `{"error":{"message":"slow down"}}`), nil
	})
	p := NewWithHTTP("https://example.test", "key", "m", client)

	_, err := p.Generate(context.Background(), "hello")
	require.Error(t, err)
	var rateErr *RateLimitedError
	assert.ErrorAs(t, err, &rateErr)
}
