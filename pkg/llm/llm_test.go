package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractionClient_Extract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ExtractRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"doc1"}, req.Context)
		_ = json.NewEncoder(w).Encode(ExtractResponse{Facts: map[string]any{"claims": []string{"x"}}})
	}))
	defer srv.Close()

	client := NewExtractionClient(srv.URL, 5*time.Second)
	resp, err := client.Extract(context.Background(), ExtractRequest{Context: []string{"doc1"}})
	require.NoError(t, err)
	assert.NotNil(t, resp.Facts)
}

func TestEmbeddingClient_RejectsWrongDimension(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{0.1, 0.2}})
	}))
	defer srv.Close()

	client := NewEmbeddingClient(srv.URL, 5*time.Second)
	_, err := client.Embed(context.Background(), EmbedRequest{Model: "m", Input: "x"})
	assert.ErrorIs(t, err, ErrWrongDimension)
}

func TestEmbeddingClient_AcceptsCorrectDimension(t *testing.T) {
	vec := make([]float64, embeddingDims)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": vec})
	}))
	defer srv.Close()

	client := NewEmbeddingClient(srv.URL, 5*time.Second)
	got, err := client.Embed(context.Background(), EmbedRequest{Model: "m", Input: "x"})
	require.NoError(t, err)
	assert.Len(t, got, embeddingDims)
}
