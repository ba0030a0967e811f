package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/quantfeed/market-gateway/api/types"
	"github.com/quantfeed/market-gateway/internal/failover"
	"github.com/quantfeed/market-gateway/internal/stats"
)

const (
	defaultSearchLimit = 10
	defaultNewsLimit   = 20
)

// Search runs a web search through the keyed engines. A non-empty engine
// pins the query to that engine instead of the resolved failover order.
func (g *Gateway) Search(ctx context.Context, query string, limit int, engine string) (*types.SearchResponse, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	var sources []string
	if engine != "" {
		if _, ok := g.registry.Searchers(engine); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, engine)
		}
		sources = []string{engine}
	} else {
		sources = g.resolve(types.CapWebSearch)
	}

	calls := make(map[string]failover.KeyedCall[*types.SearchResponse], len(sources))
	for _, name := range sources {
		p, ok := g.registry.Searchers(name)
		if !ok {
			continue
		}
		calls[name] = func(ctx context.Context, apiKey string) (*types.SearchResponse, error) {
			cctx, cancel := context.WithTimeout(ctx, g.providerTimeout)
			defer cancel()
			return p.Search(cctx, apiKey, query, limit)
		}
	}

	resp, err := failover.ExecuteKeyed(ctx, g.executor, types.CapWebSearch, sources, calls, validateSearch)
	if err != nil {
		return nil, err
	}
	if resp.Query == "" {
		resp.Query = query
	}
	g.stats.Add(resp.Source, stats.SearchQueries, 1)
	return resp, nil
}

// StockNews fetches recent articles for a keyword. Providers exposing a
// keyword search are tried first; providers that only publish a latest-news
// feed serve as the fallback method.
func (g *Gateway) StockNews(ctx context.Context, keyword string, limit int) (*types.NewsDigest, error) {
	if limit <= 0 {
		limit = defaultNewsLimit
	}

	sources := g.resolve(types.CapStockNews)
	primary := make(map[string]failover.Call[*types.NewsDigest], len(sources))
	secondary := make(map[string]failover.Call[*types.NewsDigest], len(sources))
	for _, name := range sources {
		if p, ok := g.registry.NewsSearchers(name); ok && keyword != "" {
			primary[name] = func(ctx context.Context) (*types.NewsDigest, error) {
				cctx, cancel := context.WithTimeout(ctx, g.providerTimeout)
				defer cancel()
				return p.SearchNews(cctx, keyword, limit)
			}
		}
		if p, ok := g.registry.NewsFeeds(name); ok {
			secondary[name] = func(ctx context.Context) (*types.NewsDigest, error) {
				cctx, cancel := context.WithTimeout(ctx, g.providerTimeout)
				defer cancel()
				return p.LatestNews(cctx, limit)
			}
		}
	}

	digest, err := failover.ExecuteMethods(ctx, g.executor, types.CapStockNews, sources, primary, secondary, validateNews)
	if err != nil {
		return nil, err
	}
	g.stats.Add(digest.Source, stats.NewsFetches, 1)
	return digest, nil
}

// validateSearch only rejects a nil response. Zero hits is a legitimate
// answer, not a reason to burn another engine's quota.
func validateSearch(resp *types.SearchResponse) error {
	if resp == nil {
		return errors.New("nil search response")
	}
	return nil
}

// validateNews rejects empty digests so a keyword with no matches on one
// provider falls through to the next one's feed.
func validateNews(digest *types.NewsDigest) error {
	if digest == nil || len(digest.Items) == 0 {
		return errors.New("empty news digest")
	}
	return nil
}
