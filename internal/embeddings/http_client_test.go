package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestHTTPClientEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings/", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"brand voice"}, req.Texts)
		assert.Equal(t, "text-embedding-3-small", req.Model)

		_ = json.NewEncoder(w).Encode(embedResponse{
			Embeddings: [][]float64{{0.25, 0.5, 0.75}},
			Dimensions: 3,
			ModelUsed:  req.Model,
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{BaseURL: srv.URL + "/"}, zaptest.NewLogger(t))
	vec, err := c.Embed(context.Background(), "brand voice", "text-embedding-3-small")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, 0.5, 0.75}, vec)
}

func TestHTTPClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float64{{1}}})
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{BaseURL: srv.URL, MaxRetries: 2}, zaptest.NewLogger(t))
	vec, err := c.Embed(context.Background(), "x", "m")
	require.NoError(t, err)
	assert.Equal(t, []float32{1}, vec)
	assert.EqualValues(t, 3, calls.Load())
}

func TestHTTPClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad model", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{BaseURL: srv.URL, MaxRetries: 3}, zaptest.NewLogger(t))
	_, err := c.Embed(context.Background(), "x", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.EqualValues(t, 1, calls.Load())
}

func TestHTTPClientEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embeddings":[]}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{BaseURL: srv.URL}, zaptest.NewLogger(t))
	_, err := c.Embed(context.Background(), "x", "m")
	assert.Error(t, err)
}

func TestHTTPClientCancelledContext(t *testing.T) {
	c := NewHTTPClient(HTTPConfig{BaseURL: "http://127.0.0.1:1", RequestsPerSecond: 1, Burst: 1}, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Embed(ctx, "x", "m")
	assert.Error(t, err)
}
