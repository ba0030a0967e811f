package types

// Capability names one logical operation the gateway can satisfy through
// one or more providers.
type Capability string

const (
	CapRealtimeQuotes Capability = "realtime_quotes"
	CapKline          Capability = "kline"
	CapWebSearch      Capability = "web_search"
	CapStockNews      Capability = "stock_news"
	CapPageContent    Capability = "page_content"
)

// CapabilityInfo describes one capability and the providers able to serve it.
type CapabilityInfo struct {
	Capability Capability `json:"capability"`
	Providers  []string   `json:"providers"`
}
