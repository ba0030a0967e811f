// Package serper serves web search through the serper.dev Google API.
package serper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/quantfeed/market-gateway/api/types"
)

const baseURL = "https://google.serper.dev"

// Client talks to the serper.dev API. The base URL is a field so tests can
// point it at a local server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type searchRequest struct {
	Q   string `json:"q"`
	Num int    `json:"num"`
}

type searchResponse struct {
	Organic []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
		Date    string `json:"date"`
	} `json:"organic"`
}

// Search runs one web search with the pooled api key.
func (c *Client) Search(ctx context.Context, apiKey, query string, limit int) (*types.SearchResponse, error) {
	payload, err := json.Marshal(searchRequest{Q: query, Num: limit})
	if err != nil {
		return nil, fmt.Errorf("error encoding search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("error creating search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error searching: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("search returned status %d: %s", resp.StatusCode, body)
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("error decoding search response: %w", err)
	}

	out := &types.SearchResponse{Query: query}
	for _, r := range decoded.Organic {
		out.Results = append(out.Results, types.SearchResult{
			Title:       r.Title,
			URL:         r.Link,
			Snippet:     r.Snippet,
			PublishedAt: r.Date,
		})
	}
	return out, nil
}
