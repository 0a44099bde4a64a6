// Package llm talks to the two external sidecars named in §6: the
// extraction worker (POST /extract) and the embedding service
// (POST /api/embeddings). The teacher called an equivalent worker over a
// generated gRPC stub (pb.LLMServiceClient); the .proto that stub was
// generated from isn't in the pack, so these clients are authored
// directly against the plain-JSON-over-HTTP contract §6 specifies
// instead (see DESIGN.md's "Dropped teacher dependencies"). Each call is
// wrapped in a sony/gobreaker circuit breaker (grounded on
// jordigilh-kubernaut/go.mod's github.com/sony/gobreaker dependency and
// the gobreaker.Settings{} shape used in that repo's notification test
// suite), per §5: "A circuit breaker around each LLM call opens after 3
// consecutive failures and auto-closes after a 60s cooldown via a single
// probe."
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
}

// ExtractionClient calls the extraction worker.
type ExtractionClient struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewExtractionClient creates an ExtractionClient with the given timeout.
func NewExtractionClient(baseURL string, timeout time.Duration) *ExtractionClient {
	return &ExtractionClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		breaker: newBreaker("extraction-worker"),
	}
}

// ExtractRequest is the §6 POST /extract body.
type ExtractRequest struct {
	Context       []string `json:"context"`
	PreviousFacts any      `json:"previous_facts"`
}

// ExtractResponse is the §6 POST /extract 200 response.
type ExtractResponse struct {
	Facts any `json:"facts"`
	Drift any `json:"drift"`
}

// Extract calls POST /extract. A request that fails while the breaker is
// open returns gobreaker.ErrOpenState without making a network call.
func (c *ExtractionClient) Extract(ctx context.Context, req ExtractRequest) (*ExtractResponse, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		return doJSON[ExtractResponse](ctx, c.client, c.baseURL+"/extract", req)
	})
	if err != nil {
		return nil, fmt.Errorf("extraction worker call: %w", err)
	}
	resp := result.(ExtractResponse)
	return &resp, nil
}

// EmbeddingClient calls the embedding service.
type EmbeddingClient struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewEmbeddingClient creates an EmbeddingClient with the given timeout.
func NewEmbeddingClient(baseURL string, timeout time.Duration) *EmbeddingClient {
	return &EmbeddingClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		breaker: newBreaker("embedding-service"),
	}
}

// EmbedRequest is the §6 POST /api/embeddings body.
type EmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// embeddingDims is the only accepted embedding width (§6: "Any non-1024
// response is discarded").
const embeddingDims = 1024

// ErrWrongDimension is returned when the embedding service responds with
// a vector that isn't exactly 1024-wide.
var ErrWrongDimension = fmt.Errorf("llm: embedding response is not %d-dimensional", embeddingDims)

// Embed calls POST /api/embeddings and validates the response width.
func (c *EmbeddingClient) Embed(ctx context.Context, req EmbedRequest) ([]float64, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		return doJSON[embedResponse](ctx, c.client, c.baseURL+"/api/embeddings", req)
	})
	if err != nil {
		return nil, fmt.Errorf("embedding service call: %w", err)
	}
	resp := result.(embedResponse)
	if len(resp.Embedding) != embeddingDims {
		return nil, ErrWrongDimension
	}
	return resp.Embedding, nil
}

// ReasonClient calls the reasoning worker backing the governance agent's
// optional LLM-backed variant (SPEC_FULL §C.5). Same plain-JSON-over-HTTP
// shape as ExtractionClient/EmbeddingClient, same circuit breaker.
type ReasonClient struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewReasonClient creates a ReasonClient with the given timeout.
func NewReasonClient(baseURL string, timeout time.Duration) *ReasonClient {
	return &ReasonClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		breaker: newBreaker("reasoning-worker"),
	}
}

// ReasonMessage is one turn of the conversation sent to the reasoning
// worker; role is "system", "user", or "assistant".
type ReasonMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ReasonRequest is the POST /reason body.
type ReasonRequest struct {
	Messages []ReasonMessage `json:"messages"`
}

// ReasonResponse is the POST /reason 200 response.
type ReasonResponse struct {
	Text string `json:"text"`
}

// Reason calls POST /reason. A request that fails while the breaker is
// open returns gobreaker.ErrOpenState without making a network call.
func (c *ReasonClient) Reason(ctx context.Context, req ReasonRequest) (*ReasonResponse, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		return doJSON[ReasonResponse](ctx, c.client, c.baseURL+"/reason", req)
	})
	if err != nil {
		return nil, fmt.Errorf("reasoning worker call: %w", err)
	}
	resp := result.(ReasonResponse)
	return &resp, nil
}

func doJSON[T any](ctx context.Context, client *http.Client, url string, body any) (T, error) {
	var zero T

	encoded, err := json.Marshal(body)
	if err != nil {
		return zero, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return zero, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return zero, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return zero, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return zero, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}
