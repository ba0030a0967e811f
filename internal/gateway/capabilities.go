package gateway

import (
	"github.com/quantfeed/market-gateway/api/types"
	"github.com/quantfeed/market-gateway/internal/providers/webfetch"
)

// capabilityOrder fixes the order capabilities are reported in.
var capabilityOrder = []types.Capability{
	types.CapRealtimeQuotes,
	types.CapKline,
	types.CapWebSearch,
	types.CapStockNews,
	types.CapPageContent,
}

// defaultSources maps each capability to the providers able to serve it, in
// the order tried when the operator has configured nothing. Provider rows in
// the config store reorder and disable entries but never extend the set.
var defaultSources = map[types.Capability][]string{
	types.CapRealtimeQuotes: {"sina", "tencent", "eastmoney"},
	types.CapKline:          {"tencent", "eastmoney"},
	types.CapWebSearch:      {"tavily", "brave", "serper"},
	types.CapStockNews:      {"eastmoney", "sina"},
	types.CapPageContent:    {webfetch.Name},
}

// Capabilities reports each capability with the registered providers able to
// serve it, in default try order.
func (g *Gateway) Capabilities() []types.CapabilityInfo {
	out := make([]types.CapabilityInfo, 0, len(capabilityOrder))
	for _, capability := range capabilityOrder {
		names := make([]string, 0, len(defaultSources[capability]))
		for _, name := range defaultSources[capability] {
			if g.hasCapability(name, capability) {
				names = append(names, name)
			}
		}
		out = append(out, types.CapabilityInfo{Capability: capability, Providers: names})
	}
	return out
}

func (g *Gateway) hasCapability(name string, capability types.Capability) bool {
	switch capability {
	case types.CapRealtimeQuotes:
		_, ok := g.registry.Quotes(name)
		return ok
	case types.CapKline:
		_, ok := g.registry.Klines(name)
		return ok
	case types.CapWebSearch:
		_, ok := g.registry.Searchers(name)
		return ok
	case types.CapStockNews:
		if _, ok := g.registry.NewsSearchers(name); ok {
			return true
		}
		_, ok := g.registry.NewsFeeds(name)
		return ok
	case types.CapPageContent:
		_, ok := g.registry.Pages(name)
		return ok
	}
	return false
}
