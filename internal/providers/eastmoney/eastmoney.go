// Package eastmoney serves realtime quotes and historical bars from the
// push2 wires, and keyword stock news from the eastmoney search API.
package eastmoney

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/quantfeed/market-gateway/api/types"
	"github.com/quantfeed/market-gateway/internal/providers"
)

const (
	quoteURL  = "https://push2.eastmoney.com"
	klineURL  = "https://push2his.eastmoney.com"
	searchURL = "https://search-api-web.eastmoney.com"

	// jsonp callback token, stripped from the search response.
	searchCallback = "cb"
)

// klt codes per period on the push2his wire.
var kltPeriods = map[string]string{
	"day":   "101",
	"week":  "102",
	"month": "103",
	"5m":    "5",
	"15m":   "15",
	"30m":   "30",
	"60m":   "60",
}

// fqt codes per adjustment mode.
var fqtAdjusts = map[string]string{
	"":    "0",
	"qfq": "1",
	"hfq": "2",
}

// Client talks to the eastmoney endpoints. Base URLs are fields so tests
// can point them at a local server.
type Client struct {
	quoteURL   string
	klineURL   string
	searchURL  string
	httpClient *http.Client
}

func New(timeout time.Duration) *Client {
	return &Client{
		quoteURL:   quoteURL,
		klineURL:   klineURL,
		searchURL:  searchURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// emFloat decodes push2 numeric fields, which arrive as "-" for suspended
// securities.
type emFloat float64

func (f *emFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "-" || s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid numeric field %q", s)
	}
	*f = emFloat(v)
	return nil
}

type quoteRow struct {
	Price     emFloat `json:"f2"`
	ChangePct emFloat `json:"f3"`
	Volume    emFloat `json:"f5"`
	Turnover  emFloat `json:"f6"`
	Code      string  `json:"f12"`
	Name      string  `json:"f14"`
	High      emFloat `json:"f15"`
	Low       emFloat `json:"f16"`
	Open      emFloat `json:"f17"`
	PrevClose emFloat `json:"f18"`
}

type quoteResponse struct {
	Data *struct {
		Total int        `json:"total"`
		Diff  []quoteRow `json:"diff"`
	} `json:"data"`
}

// RealtimeQuotes fetches a batch of realtime snapshots from the ulist wire.
func (c *Client) RealtimeQuotes(ctx context.Context, codes []string) (*types.QuoteBatch, error) {
	symbols, err := providers.ParseSymbols(codes)
	if err != nil {
		return nil, err
	}

	secids := make([]string, 0, len(symbols))
	byCode := make(map[string]string, len(symbols))
	for _, s := range symbols {
		secids = append(secids, s.EastmoneySecID())
		byCode[s.Code] = s.String()
	}

	u := fmt.Sprintf("%s/api/qt/ulist.np/get?fltt=2&invt=2&secids=%s&fields=f2,f3,f5,f6,f12,f14,f15,f16,f17,f18",
		c.quoteURL, strings.Join(secids, ","))

	var decoded quoteResponse
	if err := c.getJSON(ctx, u, &decoded); err != nil {
		return nil, err
	}
	if decoded.Data == nil {
		return nil, fmt.Errorf("quote response carried no data")
	}

	batch := &types.QuoteBatch{}
	for _, row := range decoded.Data.Diff {
		symbol, ok := byCode[row.Code]
		if !ok {
			symbol = row.Code
		}
		batch.Quotes = append(batch.Quotes, types.Quote{
			Symbol:    symbol,
			Name:      row.Name,
			Price:     float64(row.Price),
			PrevClose: float64(row.PrevClose),
			Open:      float64(row.Open),
			High:      float64(row.High),
			Low:       float64(row.Low),
			Volume:    int64(float64(row.Volume) * 100),
			Turnover:  float64(row.Turnover),
			ChangePct: float64(row.ChangePct),
		})
	}
	return batch, nil
}

type klineResponse struct {
	Data *struct {
		Code   string   `json:"code"`
		Name   string   `json:"name"`
		Klines []string `json:"klines"`
	} `json:"data"`
}

// Kline fetches historical bars. fields2 pins the column order to
// date,open,close,high,low,volume,turnover.
func (c *Client) Kline(ctx context.Context, code, period string, count int, adjust string) (*types.KlineSeries, error) {
	symbol, err := providers.ParseSymbol(code)
	if err != nil {
		return nil, err
	}
	klt, ok := kltPeriods[period]
	if !ok {
		return nil, fmt.Errorf("unsupported kline period %q", period)
	}
	fqt, ok := fqtAdjusts[adjust]
	if !ok {
		return nil, fmt.Errorf("unsupported adjustment %q", adjust)
	}

	u := fmt.Sprintf("%s/api/qt/stock/kline/get?secid=%s&klt=%s&fqt=%s&lmt=%d&end=20500101&fields1=f1,f2,f3,f4,f5,f6&fields2=f51,f52,f53,f54,f55,f56,f57",
		c.klineURL, symbol.EastmoneySecID(), klt, fqt, count)

	var decoded klineResponse
	if err := c.getJSON(ctx, u, &decoded); err != nil {
		return nil, err
	}
	if decoded.Data == nil {
		return nil, fmt.Errorf("no kline data for %s", symbol)
	}

	series := &types.KlineSeries{Symbol: symbol.String(), Period: period, Adjust: adjust}
	for _, line := range decoded.Data.Klines {
		parts := strings.Split(line, ",")
		if len(parts) < 7 {
			continue
		}
		series.Candles = append(series.Candles, types.Candle{
			Date:     parts[0],
			Open:     parseFloat(parts[1]),
			Close:    parseFloat(parts[2]),
			High:     parseFloat(parts[3]),
			Low:      parseFloat(parts[4]),
			Volume:   int64(parseFloat(parts[5]) * 100),
			Turnover: parseFloat(parts[6]),
		})
	}
	return series, nil
}

type searchParam struct {
	UID           string            `json:"uid"`
	Keyword       string            `json:"keyword"`
	Type          []string          `json:"type"`
	Client        string            `json:"client"`
	ClientType    string            `json:"clientType"`
	ClientVersion string            `json:"clientVersion"`
	Param         searchInnerParams `json:"param"`
}

type searchInnerParams struct {
	CmsArticleWebOld searchArticleParam `json:"cmsArticleWebOld"`
}

type searchArticleParam struct {
	SearchScope string `json:"searchScope"`
	Sort        string `json:"sort"`
	PageIndex   int    `json:"pageIndex"`
	PageSize    int    `json:"pageSize"`
	PreTag      string `json:"preTag"`
	PostTag     string `json:"postTag"`
}

type searchResponse struct {
	Result *struct {
		Articles []struct {
			Date      string `json:"date"`
			MediaName string `json:"mediaName"`
			Title     string `json:"title"`
			Content   string `json:"content"`
			URL       string `json:"url"`
		} `json:"cmsArticleWebOld"`
	} `json:"result"`
	HitsTotal int `json:"hitsTotal"`
}

// SearchNews runs a keyword search over eastmoney's article index. Empty
// pre/post tags keep highlight markup out of the titles.
func (c *Client) SearchNews(ctx context.Context, keyword string, limit int) (*types.NewsDigest, error) {
	param := searchParam{
		Keyword:       keyword,
		Type:          []string{"cmsArticleWebOld"},
		Client:        "web",
		ClientType:    "web",
		ClientVersion: "curr",
		Param: searchInnerParams{
			CmsArticleWebOld: searchArticleParam{
				SearchScope: "default",
				Sort:        "default",
				PageIndex:   1,
				PageSize:    limit,
			},
		},
	}
	encoded, err := json.Marshal(param)
	if err != nil {
		return nil, fmt.Errorf("error encoding search param: %w", err)
	}

	u := fmt.Sprintf("%s/search/jsonp?cb=%s&param=%s", c.searchURL, searchCallback, url.QueryEscape(string(encoded)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating search request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error searching news: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search request returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading search response: %w", err)
	}

	var decoded searchResponse
	if err := json.Unmarshal(stripJSONP(body), &decoded); err != nil {
		return nil, fmt.Errorf("error decoding search response: %w", err)
	}
	if decoded.Result == nil {
		return nil, fmt.Errorf("search response carried no result")
	}

	digest := &types.NewsDigest{Keyword: keyword}
	for _, a := range decoded.Result.Articles {
		digest.Items = append(digest.Items, types.NewsItem{
			Title:       strings.TrimSpace(a.Title),
			URL:         a.URL,
			Summary:     strings.TrimSpace(a.Content),
			PublishedAt: a.Date,
		})
	}
	return digest, nil
}

// stripJSONP unwraps cb(...) payloads; plain JSON passes through.
func stripJSONP(body []byte) []byte {
	s := strings.TrimSpace(string(body))
	start := strings.Index(s, "(")
	end := strings.LastIndex(s, ")")
	if start >= 0 && end > start && !strings.HasPrefix(s, "{") {
		s = s[start+1 : end]
	}
	return []byte(s)
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error fetching %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request to %s returned status %d", req.URL.Path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding response from %s: %w", req.URL.Path, err)
	}
	return nil
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}
