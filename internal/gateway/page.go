package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/quantfeed/market-gateway/api/types"
	"github.com/quantfeed/market-gateway/internal/failover"
	"github.com/quantfeed/market-gateway/internal/providers/webfetch"
	"github.com/quantfeed/market-gateway/internal/stats"
)

// PageContent fetches a web page and splits it into heading-delimited
// sections, optionally following same-site links up to depth. Crawl pacing
// is the provider's business, so no per-call timeout is imposed here.
func (g *Gateway) PageContent(ctx context.Context, pageURL string, depth int) (*types.PageContent, error) {
	if g.blacklisted(pageURL) {
		return nil, fmt.Errorf("%w: %s", webfetch.ErrBlacklisted, pageURL)
	}

	sources := g.resolve(types.CapPageContent)
	calls := make(map[string]failover.Call[*types.PageContent], len(sources))
	for _, name := range sources {
		p, ok := g.registry.Pages(name)
		if !ok {
			continue
		}
		calls[name] = func(ctx context.Context) (*types.PageContent, error) {
			return p.FetchPage(ctx, pageURL, depth)
		}
	}

	page, err := failover.Execute(ctx, g.executor, types.CapPageContent, sources, calls, validatePage)
	if err != nil {
		return nil, err
	}
	g.stats.Add(page.Source, stats.PageFetches, 1)
	return page, nil
}

func validatePage(page *types.PageContent) error {
	if page == nil {
		return errors.New("nil page content")
	}
	return nil
}
