package types

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// KlinePeriods lists the bar periods accepted by the kline capability.
var KlinePeriods = []string{"day", "week", "month", "5m", "15m", "30m", "60m"}

// QuoteRequest asks for realtime quotes for one or more security codes.
type QuoteRequest struct {
	Codes []string `json:"codes"`
}

func (r QuoteRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Codes, validation.Required, validation.Length(1, 50)),
	)
}

// KlineRequest asks for historical candles for a single security.
type KlineRequest struct {
	Code   string `json:"code"`
	Period string `json:"period"`
	Count  int    `json:"count"`
	Adjust string `json:"adjust"`
}

func (r KlineRequest) Validate() error {
	periods := make([]interface{}, len(KlinePeriods))
	for i, p := range KlinePeriods {
		periods[i] = p
	}
	return validation.ValidateStruct(&r,
		validation.Field(&r.Code, validation.Required),
		validation.Field(&r.Period, validation.Required, validation.In(periods...)),
		validation.Field(&r.Count, validation.Min(1), validation.Max(800)),
		validation.Field(&r.Adjust, validation.In("qfq", "hfq")),
	)
}

// SearchRequest asks for web-search results. Engine, when set, forces a
// single named engine instead of the configured failover order.
type SearchRequest struct {
	Query  string `json:"query"`
	Engine string `json:"engine,omitempty"`
	Limit  int    `json:"limit"`
}

func (r SearchRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Query, validation.Required, validation.Length(1, 500)),
		validation.Field(&r.Limit, validation.Min(0), validation.Max(50)),
	)
}

// NewsRequest asks for recent stock news matching a keyword or code.
type NewsRequest struct {
	Keyword string `json:"keyword"`
	Limit   int    `json:"limit"`
}

func (r NewsRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Keyword, validation.Required, validation.Length(1, 100)),
		validation.Field(&r.Limit, validation.Min(0), validation.Max(100)),
	)
}

// PageRequest asks for the text content of a web page.
type PageRequest struct {
	URL   string `json:"url"`
	Depth int    `json:"depth"`
}

func (r PageRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.URL, validation.Required),
		validation.Field(&r.Depth, validation.Min(0), validation.Max(3)),
	)
}

// ProviderConfigUpsert is the admin payload for one provider configuration row.
type ProviderConfigUpsert struct {
	ProviderName     string `json:"provider_name"`
	Enabled          bool   `json:"enabled"`
	Priority         int    `json:"priority"`
	FailureThreshold int    `json:"failure_threshold"`
	CooldownSeconds  int    `json:"cooldown_seconds"`
}

func (r ProviderConfigUpsert) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ProviderName, validation.Required),
		validation.Field(&r.Priority, validation.Min(0)),
		validation.Field(&r.FailureThreshold, validation.Min(1)),
		validation.Field(&r.CooldownSeconds, validation.Min(1)),
	)
}

// SearchKeyUpsert is the admin payload for one search-engine API key row.
type SearchKeyUpsert struct {
	Engine     string `json:"engine"`
	APIKey     string `json:"api_key"`
	Enabled    bool   `json:"enabled"`
	Weight     int    `json:"weight"`
	DailyLimit int    `json:"daily_limit,omitempty"`
}

func (r SearchKeyUpsert) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Engine, validation.Required),
		validation.Field(&r.APIKey, validation.Required),
		validation.Field(&r.Weight, validation.Required, validation.Min(1)),
		validation.Field(&r.DailyLimit, validation.Min(0)),
	)
}
