// Package rerank calls an external cross-encoder reranking API to
// refine a coarse candidate shortlist. The wire format follows the
// common /rerank convention: a query, a list of documents, and a
// response of (index, relevance_score) pairs.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/murmurhq/murmur/internal/fault"
	"github.com/murmurhq/murmur/internal/httpkit"
)

// Ranker scores documents against a query. The concrete implementation
// is *Client; tests substitute fakes.
type Ranker interface {
	Rerank(ctx context.Context, query string, documents []string) ([]Score, error)
}

// Score is one reranked document reference.
type Score struct {
	Index     int     `json:"index"`
	Relevance float64 `json:"relevance_score"`
}

// Client talks to a hosted reranking endpoint.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// Config for the rerank client.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
}

// New creates a rerank client.
func New(cfg Config) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client: httpkit.NewClient(
			httpkit.WithTimeout(15 * time.Second),
		),
	}
}

type rerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Results []Score `json:"results"`
}

// Rerank scores documents against query. The returned scores are in
// the API's order (highest relevance first); Index refers back into
// documents.
func (c *Client) Rerank(ctx context.Context, query string, documents []string) ([]Score, error) {
	body, err := json.Marshal(rerankRequest{
		Model:     c.model,
		Query:     query,
		Documents: documents,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &fault.ProviderError{Provider: "rerank", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, &fault.ProviderError{
			Provider: "rerank",
			Err:      fmt.Errorf("status %d: %s", resp.StatusCode, errBody),
		}
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &fault.ProviderError{
			Provider: "rerank",
			Err:      fmt.Errorf("decode response: %w", err),
		}
	}

	for _, s := range parsed.Results {
		if s.Index < 0 || s.Index >= len(documents) {
			return nil, &fault.ProviderError{
				Provider: "rerank",
				Err:      fmt.Errorf("result index %d out of range (%d documents)", s.Index, len(documents)),
			}
		}
	}

	return parsed.Results, nil
}
