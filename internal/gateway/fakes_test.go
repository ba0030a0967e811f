package gateway_test

import (
	"context"
	"errors"
	"sync"

	"github.com/quantfeed/market-gateway/api/types"
	"github.com/quantfeed/market-gateway/internal/store"
)

// fakeStore satisfies gateway.Storage from in-memory rows and records
// key-usage writes for assertions.
type fakeStore struct {
	configs []store.ProviderConfig
	keys    []store.SearchKey

	mu    sync.Mutex
	usage map[int64]int
}

func (f *fakeStore) ListProviderConfigs(ctx context.Context) ([]store.ProviderConfig, error) {
	return f.configs, nil
}

func (f *fakeStore) ListSearchKeys(ctx context.Context) ([]store.SearchKey, error) {
	return f.keys, nil
}

func (f *fakeStore) UpdateKeyUsage(ctx context.Context, id int64, usedToday int, lastResetDate string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.usage == nil {
		f.usage = make(map[int64]int)
	}
	f.usage[id] = usedToday
	return nil
}

func (f *fakeStore) usedToday(id int64) (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.usage[id]
	return n, ok
}

var errUpstream = errors.New("upstream unavailable")

// fakeQuotes scripts a quote provider: failing, answering empty, or echoing
// the requested codes.
type fakeQuotes struct {
	mu    sync.Mutex
	calls int
	fail  bool
	empty bool
}

func (f *fakeQuotes) RealtimeQuotes(ctx context.Context, codes []string) (*types.QuoteBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return nil, errUpstream
	}
	if f.empty {
		return &types.QuoteBatch{}, nil
	}
	quotes := make([]types.Quote, len(codes))
	for i, code := range codes {
		quotes[i] = types.Quote{Symbol: code, Name: "fake", Price: 10.5}
	}
	return &types.QuoteBatch{Quotes: quotes}, nil
}

func (f *fakeQuotes) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeQuotes) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

type fakeKlines struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (f *fakeKlines) Kline(ctx context.Context, code, period string, count int, adjust string) (*types.KlineSeries, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return nil, errUpstream
	}
	return &types.KlineSeries{
		Symbol:  code,
		Period:  period,
		Adjust:  adjust,
		Candles: []types.Candle{{Date: "2026-08-21", Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 1000}},
	}, nil
}

func (f *fakeKlines) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeSearch records every api key it was handed.
type fakeSearch struct {
	mu      sync.Mutex
	apiKeys []string
	fail    bool
}

func (f *fakeSearch) Search(ctx context.Context, apiKey, query string, limit int) (*types.SearchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apiKeys = append(f.apiKeys, apiKey)
	if f.fail {
		return nil, errUpstream
	}
	return &types.SearchResponse{
		Query:   query,
		Results: []types.SearchResult{{Title: "hit", URL: "https://example.com/hit"}},
	}, nil
}

func (f *fakeSearch) seenKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.apiKeys...)
}

type fakeNewsSearch struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (f *fakeNewsSearch) SearchNews(ctx context.Context, keyword string, limit int) (*types.NewsDigest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return nil, errUpstream
	}
	return &types.NewsDigest{
		Keyword: keyword,
		Items:   []types.NewsItem{{Title: keyword + " announcement", URL: "https://example.com/news/1"}},
	}, nil
}

func (f *fakeNewsSearch) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeNewsFeed struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeNewsFeed) LatestNews(ctx context.Context, limit int) (*types.NewsDigest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return &types.NewsDigest{
		Items: []types.NewsItem{{Title: "market wrap", URL: "https://example.com/feed/1"}},
	}, nil
}

func (f *fakeNewsFeed) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePages struct {
	mu    sync.Mutex
	calls int
}

func (f *fakePages) FetchPage(ctx context.Context, url string, maxDepth int) (*types.PageContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return &types.PageContent{
		URL:      url,
		Sections: []types.Section{{Title: "intro", Paragraphs: []string{"hello"}}},
	}, nil
}

func (f *fakePages) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
