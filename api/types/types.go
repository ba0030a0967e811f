package types

import "time"

// Quote is one realtime snapshot for a single security.
type Quote struct {
	Symbol    string  `json:"symbol"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	PrevClose float64 `json:"prev_close"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Volume    int64   `json:"volume"`
	Turnover  float64 `json:"turnover"`
	ChangePct float64 `json:"change_pct"`
	QuotedAt  string  `json:"quoted_at,omitempty"`
}

// QuoteBatch is the result of one realtime_quotes call. Source names the
// provider that answered.
type QuoteBatch struct {
	Quotes []Quote `json:"quotes"`
	Source string  `json:"source,omitempty"`
}

func (b *QuoteBatch) SourceName() string        { return b.Source }
func (b *QuoteBatch) SetSourceName(name string) { b.Source = name }

// Candle is one OHLCV bar.
type Candle struct {
	Date     string  `json:"date"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   int64   `json:"volume"`
	Turnover float64 `json:"turnover,omitempty"`
}

// KlineSeries is the result of one kline call.
type KlineSeries struct {
	Symbol  string   `json:"symbol"`
	Period  string   `json:"period"`
	Adjust  string   `json:"adjust,omitempty"`
	Candles []Candle `json:"candles"`
	Source  string   `json:"source,omitempty"`
}

func (k *KlineSeries) SourceName() string        { return k.Source }
func (k *KlineSeries) SetSourceName(name string) { k.Source = name }

// SearchResult is one hit from a web-search engine.
type SearchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Snippet     string `json:"snippet,omitempty"`
	PublishedAt string `json:"published_at,omitempty"`
}

// SearchResponse is the result of one web_search call.
type SearchResponse struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
	Source  string         `json:"source,omitempty"`
}

func (s *SearchResponse) SourceName() string        { return s.Source }
func (s *SearchResponse) SetSourceName(name string) { s.Source = name }

// NewsItem is one article headline.
type NewsItem struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Summary     string `json:"summary,omitempty"`
	PublishedAt string `json:"published_at,omitempty"`
}

// NewsDigest is the result of one stock_news call.
type NewsDigest struct {
	Keyword string     `json:"keyword"`
	Items   []NewsItem `json:"items"`
	Source  string     `json:"source,omitempty"`
}

func (n *NewsDigest) SourceName() string        { return n.Source }
func (n *NewsDigest) SetSourceName(name string) { n.Source = name }

// Section is one heading-delimited chunk of a fetched page.
type Section struct {
	Title      string   `json:"title"`
	Paragraphs []string `json:"paragraphs"`
	Images     []string `json:"images,omitempty"`
}

// PageContent is the result of one page_content call.
type PageContent struct {
	URL      string    `json:"url"`
	Sections []Section `json:"sections"`
	Pages    []string  `json:"pages,omitempty"`
	Source   string    `json:"source,omitempty"`
}

func (p *PageContent) SourceName() string        { return p.Source }
func (p *PageContent) SetSourceName(name string) { p.Source = name }

// ProviderStatus is the read-only diagnostics snapshot for one provider's
// circuit breaker.
type ProviderStatus struct {
	Name             string     `json:"name"`
	State            string     `json:"state"`
	FailureCount     int        `json:"failure_count"`
	FailureThreshold int        `json:"failure_threshold"`
	CooldownSeconds  int        `json:"cooldown_seconds"`
	LastFailureAt    *time.Time `json:"last_failure_time,omitempty"`
}

// KeyStatus is the diagnostics snapshot for one pooled credential. The
// secret is masked before it leaves the process.
type KeyStatus struct {
	ID         int64  `json:"id"`
	Provider   string `json:"provider"`
	Key        string `json:"key"`
	Enabled    bool   `json:"enabled"`
	Weight     int    `json:"weight"`
	DailyLimit int    `json:"daily_limit,omitempty"`
	UsedToday  int    `json:"used_today"`
	ErrorCount int    `json:"error_count"`
}

// APIError is the error body returned by every failed API call.
type APIError struct {
	Error string `json:"error"`
}

// HealthResponse is the /healthz body.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}
