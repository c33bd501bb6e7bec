package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeServer(t *testing.T, status int, vector []float32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "nomic-embed-text", body["model"])
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  "nomic-embed-text",
			"data": []map[string]any{
				{"object": "embedding", "index": 0, "embedding": vector},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEmbedLearnsDimension(t *testing.T) {
	srv := fakeServer(t, http.StatusOK, []float32{0.1, 0.2, 0.3})
	c, err := NewClient(Config{BaseURL: srv.URL, Model: "nomic-embed-text"})
	require.NoError(t, err)
	assert.Zero(t, c.Dimension())

	v, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, v)
	assert.Equal(t, 3, c.Dimension())
	assert.Equal(t, "openai:nomic-embed-text", c.Name())
}

func TestEmbedPropagatesServerErrors(t *testing.T) {
	srv := fakeServer(t, http.StatusInternalServerError, nil)
	c, err := NewClient(Config{BaseURL: srv.URL, Model: "nomic-embed-text"})
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), "hello")
	require.Error(t, err)
}

func TestEmbedRejectsEmptyText(t *testing.T) {
	c, err := NewClient(Config{BaseURL: "http://localhost:11434/v1", Model: "nomic-embed-text"})
	require.NoError(t, err)
	_, err = c.Embed(context.Background(), " ")
	require.Error(t, err)
}

func TestNewClientRequiresKeyForHostedAPI(t *testing.T) {
	t.Setenv("RAGQA_TEST_MISSING_KEY", "")
	_, err := NewClient(Config{APIKeyEnv: "RAGQA_TEST_MISSING_KEY"})
	require.Error(t, err)
}

func dimensionsServer(t *testing.T, seen *[]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		dims, sent := body["dimensions"]
		*seen = append(*seen, dims)
		if sent && dims != float64(3) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"This model does not support specifying dimensions.","type":"invalid_request_error"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   []map[string]any{{"object": "embedding", "index": 0, "embedding": []float32{0.1, 0.2, 0.3}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEmbedNeverSendsLearnedDimension(t *testing.T) {
	var seen []any
	srv := dimensionsServer(t, &seen)
	c, err := NewClient(Config{BaseURL: srv.URL, Model: "text-embedding-ada-002"})
	require.NoError(t, err)

	for range 3 {
		_, err := c.Embed(context.Background(), "hello")
		require.NoError(t, err)
	}
	assert.Equal(t, []any{nil, nil, nil}, seen)
	assert.Equal(t, 3, c.Dimension())
}

func TestEmbedSendsConfiguredDimension(t *testing.T) {
	var seen []any
	srv := dimensionsServer(t, &seen)
	c, err := NewClient(Config{BaseURL: srv.URL, Model: "text-embedding-3-small", Dimension: 3})
	require.NoError(t, err)

	for range 2 {
		_, err := c.Embed(context.Background(), "hello")
		require.NoError(t, err)
	}
	assert.Equal(t, []any{float64(3), float64(3)}, seen)
}
