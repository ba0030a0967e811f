package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/quantfeed/market-gateway/api/types"
	"github.com/quantfeed/market-gateway/internal/failover"
	"github.com/quantfeed/market-gateway/internal/providers"
	"github.com/quantfeed/market-gateway/internal/stats"
)

const defaultKlineCount = 320

// RealtimeQuotes fetches realtime snapshots for the given securities,
// failing over across quote providers. Results are cached briefly so bursts
// of identical requests hit one upstream call.
func (g *Gateway) RealtimeQuotes(ctx context.Context, codes []string) (*types.QuoteBatch, error) {
	symbols, err := providers.ParseSymbols(codes)
	if err != nil {
		return nil, err
	}
	normalized := make([]string, len(symbols))
	for i, s := range symbols {
		normalized[i] = s.String()
	}

	cacheKey := "quotes|" + strings.Join(normalized, ",")
	if batch, ok := g.quoteCache.Get(cacheKey); ok {
		g.stats.Add(batch.Source, stats.CacheHits, 1)
		return batch, nil
	}

	sources := g.resolve(types.CapRealtimeQuotes)
	calls := make(map[string]failover.Call[*types.QuoteBatch], len(sources))
	for _, name := range sources {
		p, ok := g.registry.Quotes(name)
		if !ok {
			continue
		}
		calls[name] = func(ctx context.Context) (*types.QuoteBatch, error) {
			cctx, cancel := context.WithTimeout(ctx, g.providerTimeout)
			defer cancel()
			return p.RealtimeQuotes(cctx, normalized)
		}
	}

	batch, err := failover.Execute(ctx, g.executor, types.CapRealtimeQuotes, sources, calls, validateQuotes)
	if err != nil {
		return nil, err
	}
	g.stats.Add(batch.Source, stats.QuoteFetches, 1)
	g.quoteCache.Set(cacheKey, batch)
	return batch, nil
}

// Kline fetches historical candles for one security.
func (g *Gateway) Kline(ctx context.Context, code, period string, count int, adjust string) (*types.KlineSeries, error) {
	symbol, err := providers.ParseSymbol(code)
	if err != nil {
		return nil, err
	}
	if count <= 0 {
		count = defaultKlineCount
	}

	cacheKey := fmt.Sprintf("kline|%s|%s|%d|%s", symbol, period, count, adjust)
	if series, ok := g.klineCache.Get(cacheKey); ok {
		g.stats.Add(series.Source, stats.CacheHits, 1)
		return series, nil
	}

	sources := g.resolve(types.CapKline)
	calls := make(map[string]failover.Call[*types.KlineSeries], len(sources))
	for _, name := range sources {
		p, ok := g.registry.Klines(name)
		if !ok {
			continue
		}
		calls[name] = func(ctx context.Context) (*types.KlineSeries, error) {
			cctx, cancel := context.WithTimeout(ctx, g.providerTimeout)
			defer cancel()
			return p.Kline(cctx, symbol.String(), period, count, adjust)
		}
	}

	series, err := failover.Execute(ctx, g.executor, types.CapKline, sources, calls, validateKline)
	if err != nil {
		return nil, err
	}
	g.stats.Add(series.Source, stats.KlineFetches, 1)
	g.klineCache.Set(cacheKey, series)
	return series, nil
}

// validateQuotes rejects empty batches so a provider answering with no data
// triggers failover to the next source.
func validateQuotes(batch *types.QuoteBatch) error {
	if batch == nil || len(batch.Quotes) == 0 {
		return errors.New("empty quote batch")
	}
	return nil
}

func validateKline(series *types.KlineSeries) error {
	if series == nil || len(series.Candles) == 0 {
		return errors.New("empty kline series")
	}
	return nil
}
