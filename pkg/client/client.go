// Package client is a typed HTTP client for the market gateway API.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/quantfeed/market-gateway/api/types"
)

// Client talks to one market gateway instance.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	apiKey     string
}

// NewClient creates a client for the gateway at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	options, err := NewOptions(opts...)
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{
		MaxConnsPerHost:     options.MaxConnsPerHost,
		MaxIdleConns:        options.MaxIdleConns,
		MaxIdleConnsPerHost: options.MaxIdleConnsPerHost,
		IdleConnTimeout:     options.IdleConnTimeout,
	}
	if options.ignoreTLSCert {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout:   options.Timeout,
			Transport: transport,
		},
		apiKey: options.APIKey,
	}, nil
}

// StatusError is a non-200 response from the gateway, with the error body
// the gateway sent.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.Code, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("error building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("error sending %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := types.APIError{}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return &StatusError{Code: resp.StatusCode, Message: apiErr.Error}
		}
		return &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("error unmarshaling response: %w", err)
		}
	}
	return nil
}

// Quotes fetches realtime snapshots for the given security codes.
func (c *Client) Quotes(ctx context.Context, codes []string) (*types.QuoteBatch, error) {
	out := &types.QuoteBatch{}
	if err := c.do(ctx, http.MethodPost, "/api/v1/quotes", types.QuoteRequest{Codes: codes}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Kline fetches historical candles.
func (c *Client) Kline(ctx context.Context, req types.KlineRequest) (*types.KlineSeries, error) {
	out := &types.KlineSeries{}
	if err := c.do(ctx, http.MethodPost, "/api/v1/kline", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Search runs a web search.
func (c *Client) Search(ctx context.Context, req types.SearchRequest) (*types.SearchResponse, error) {
	out := &types.SearchResponse{}
	if err := c.do(ctx, http.MethodPost, "/api/v1/search", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// News fetches recent stock news for a keyword.
func (c *Client) News(ctx context.Context, keyword string, limit int) (*types.NewsDigest, error) {
	out := &types.NewsDigest{}
	if err := c.do(ctx, http.MethodPost, "/api/v1/news", types.NewsRequest{Keyword: keyword, Limit: limit}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// PageContent fetches the sectioned text content of a web page.
func (c *Client) PageContent(ctx context.Context, url string, depth int) (*types.PageContent, error) {
	out := &types.PageContent{}
	if err := c.do(ctx, http.MethodPost, "/api/v1/page", types.PageRequest{URL: url, Depth: depth}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ProviderStatuses reports every provider's circuit breaker position.
func (c *Client) ProviderStatuses(ctx context.Context) ([]types.ProviderStatus, error) {
	var out []types.ProviderStatus
	if err := c.do(ctx, http.MethodGet, "/api/v1/providers", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ResetProvider force-closes a provider's circuit breaker.
func (c *Client) ResetProvider(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/providers/"+name+"/reset", nil, nil)
}

// KeyStatuses reports the pooled search keys, secrets masked.
func (c *Client) KeyStatuses(ctx context.Context) ([]types.KeyStatus, error) {
	var out []types.KeyStatus
	if err := c.do(ctx, http.MethodGet, "/api/v1/keys", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Capabilities reports the capabilities the gateway serves and through whom.
func (c *Client) Capabilities(ctx context.Context) ([]types.CapabilityInfo, error) {
	var out []types.CapabilityInfo
	if err := c.do(ctx, http.MethodGet, "/api/v1/capabilities", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Stats returns the gateway's operation counters as raw JSON.
func (c *Client) Stats(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/api/v1/stats", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Healthz hits the liveness probe.
func (c *Client) Healthz(ctx context.Context) (*types.HealthResponse, error) {
	out := &types.HealthResponse{}
	if err := c.do(ctx, http.MethodGet, "/healthz", nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpsertProviderConfig writes a provider configuration row and reloads the
// gateway.
func (c *Client) UpsertProviderConfig(ctx context.Context, req types.ProviderConfigUpsert) error {
	return c.do(ctx, http.MethodPost, "/api/v1/admin/providers", req, nil)
}

// DeleteProviderConfig removes a provider configuration row and reloads the
// gateway.
func (c *Client) DeleteProviderConfig(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/admin/providers/"+name, nil, nil)
}

// UpsertSearchKey writes a search key row and reloads the gateway. Returns
// the row id.
func (c *Client) UpsertSearchKey(ctx context.Context, req types.SearchKeyUpsert) (int64, error) {
	out := struct {
		ID int64 `json:"id"`
	}{}
	if err := c.do(ctx, http.MethodPost, "/api/v1/admin/keys", req, &out); err != nil {
		return 0, err
	}
	return out.ID, nil
}

// DeleteSearchKey removes a search key row and reloads the gateway.
func (c *Client) DeleteSearchKey(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/admin/keys/"+strconv.FormatInt(id, 10), nil, nil)
}

// Reload tells the gateway to re-read its configuration from the store.
func (c *Client) Reload(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/admin/reload", nil, nil)
}
