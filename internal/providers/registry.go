// Package providers defines the capability interfaces upstream clients
// implement and the registry the gateway resolves them from. A provider
// registers once under its name; which capabilities it serves is resolved
// by type assertion at registration time, never at call time.
package providers

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/quantfeed/market-gateway/api/types"
)

// QuoteProvider serves realtime quote snapshots for a batch of symbols.
type QuoteProvider interface {
	RealtimeQuotes(ctx context.Context, codes []string) (*types.QuoteBatch, error)
}

// KlineProvider serves historical OHLCV bars.
type KlineProvider interface {
	Kline(ctx context.Context, code, period string, count int, adjust string) (*types.KlineSeries, error)
}

// SearchProvider serves general web search through a pooled api key.
type SearchProvider interface {
	Search(ctx context.Context, apiKey, query string, limit int) (*types.SearchResponse, error)
}

// NewsSearchProvider serves keyword-driven stock news search.
type NewsSearchProvider interface {
	SearchNews(ctx context.Context, keyword string, limit int) (*types.NewsDigest, error)
}

// NewsFeedProvider serves a rolling feed of the latest market news. Used as
// the fallback method when a provider cannot search by keyword.
type NewsFeedProvider interface {
	LatestNews(ctx context.Context, limit int) (*types.NewsDigest, error)
}

// PageProvider fetches and sections a web page.
type PageProvider interface {
	FetchPage(ctx context.Context, url string, maxDepth int) (*types.PageContent, error)
}

// Registry maps provider names to the capability interfaces each one
// implements. Lookups after registration are cheap map reads.
type Registry struct {
	mu    sync.RWMutex
	names []string // registration order

	quotes      map[string]QuoteProvider
	klines      map[string]KlineProvider
	searchers   map[string]SearchProvider
	newsSearch  map[string]NewsSearchProvider
	newsFeeds   map[string]NewsFeedProvider
	pageFetcher map[string]PageProvider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		quotes:      make(map[string]QuoteProvider),
		klines:      make(map[string]KlineProvider),
		searchers:   make(map[string]SearchProvider),
		newsSearch:  make(map[string]NewsSearchProvider),
		newsFeeds:   make(map[string]NewsFeedProvider),
		pageFetcher: make(map[string]PageProvider),
	}
}

// Register stores the provider under name and resolves every capability
// interface it implements. A provider implementing none of them is a
// wiring mistake and is rejected.
func (r *Registry) Register(name string, provider any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.names {
		if existing == name {
			return fmt.Errorf("provider %s is already registered", name)
		}
	}

	caps := 0
	if p, ok := provider.(QuoteProvider); ok {
		r.quotes[name] = p
		caps++
	}
	if p, ok := provider.(KlineProvider); ok {
		r.klines[name] = p
		caps++
	}
	if p, ok := provider.(SearchProvider); ok {
		r.searchers[name] = p
		caps++
	}
	if p, ok := provider.(NewsSearchProvider); ok {
		r.newsSearch[name] = p
		caps++
	}
	if p, ok := provider.(NewsFeedProvider); ok {
		r.newsFeeds[name] = p
		caps++
	}
	if p, ok := provider.(PageProvider); ok {
		r.pageFetcher[name] = p
		caps++
	}
	if caps == 0 {
		return fmt.Errorf("provider %s implements no capability interface", name)
	}

	r.names = append(r.names, name)
	logrus.Infof("Registered provider %s with %d capability method(s)", name, caps)
	return nil
}

// Has reports whether a provider is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, existing := range r.names {
		if existing == name {
			return true
		}
	}
	return false
}

// Names returns the registered provider names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Quotes returns the named provider's quote surface.
func (r *Registry) Quotes(name string) (QuoteProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.quotes[name]
	return p, ok
}

// Klines returns the named provider's kline surface.
func (r *Registry) Klines(name string) (KlineProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.klines[name]
	return p, ok
}

// Searchers returns the named provider's web-search surface.
func (r *Registry) Searchers(name string) (SearchProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.searchers[name]
	return p, ok
}

// NewsSearchers returns the named provider's keyword news surface.
func (r *Registry) NewsSearchers(name string) (NewsSearchProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.newsSearch[name]
	return p, ok
}

// NewsFeeds returns the named provider's rolling news surface.
func (r *Registry) NewsFeeds(name string) (NewsFeedProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.newsFeeds[name]
	return p, ok
}

// Pages returns the named provider's page-fetch surface.
func (r *Registry) Pages(name string) (PageProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pageFetcher[name]
	return p, ok
}

// CapabilitiesOf lists the capabilities the named provider serves.
func (r *Registry) CapabilitiesOf(name string) []types.Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []types.Capability
	if _, ok := r.quotes[name]; ok {
		out = append(out, types.CapRealtimeQuotes)
	}
	if _, ok := r.klines[name]; ok {
		out = append(out, types.CapKline)
	}
	if _, ok := r.searchers[name]; ok {
		out = append(out, types.CapWebSearch)
	}
	_, searches := r.newsSearch[name]
	_, feeds := r.newsFeeds[name]
	if searches || feeds {
		out = append(out, types.CapStockNews)
	}
	if _, ok := r.pageFetcher[name]; ok {
		out = append(out, types.CapPageContent)
	}
	return out
}
