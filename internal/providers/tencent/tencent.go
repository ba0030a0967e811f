// Package tencent serves realtime quotes from the qt.gtimg.cn wire and
// historical bars from the ifzq kline endpoints.
package tencent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"

	"github.com/quantfeed/market-gateway/api/types"
	"github.com/quantfeed/market-gateway/internal/providers"
)

const (
	quoteURL = "https://qt.gtimg.cn"
	klineURL = "https://web.ifzq.gtimg.cn"
)

// wirePeriods maps the gateway's period names onto the tencent wire's.
var wirePeriods = map[string]string{
	"day":   "day",
	"week":  "week",
	"month": "month",
	"5m":    "m5",
	"15m":   "m15",
	"30m":   "m30",
	"60m":   "m60",
}

// Client talks to the tencent endpoints. Base URLs are fields so tests can
// point them at a local server.
type Client struct {
	quoteURL   string
	klineURL   string
	httpClient *http.Client
}

func New(timeout time.Duration) *Client {
	return &Client{
		quoteURL:   quoteURL,
		klineURL:   klineURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// RealtimeQuotes fetches a batch of realtime snapshots. The wire is
// GB18030-encoded javascript, one `v_<symbol>="..."` per symbol with
// tilde-separated fields.
func (c *Client) RealtimeQuotes(ctx context.Context, codes []string) (*types.QuoteBatch, error) {
	symbols, err := providers.ParseSymbols(codes)
	if err != nil {
		return nil, err
	}

	list := make([]string, 0, len(symbols))
	for _, s := range symbols {
		list = append(list, s.String())
	}
	url := fmt.Sprintf("%s/q=%s", c.quoteURL, strings.Join(list, ","))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating quote request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching quotes: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("quote request returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(transform.NewReader(resp.Body, simplifiedchinese.GB18030.NewDecoder()))
	if err != nil {
		return nil, fmt.Errorf("error reading quote response: %w", err)
	}

	return parseQuotes(string(body))
}

// Tilde field positions on the qt wire.
const (
	fName      = 1
	fCode      = 2
	fPrice     = 3
	fPrevClose = 4
	fOpen      = 5
	fQuotedAt  = 30
	fChangePct = 32
	fHigh      = 33
	fLow       = 34
	fVolume    = 36 // lots of 100 shares
	fTurnover  = 37 // units of 10k yuan
)

func parseQuotes(body string) (*types.QuoteBatch, error) {
	batch := &types.QuoteBatch{}

	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "v_") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq < 0 {
			continue
		}
		symbol := line[2:eq]
		payload := strings.Trim(strings.TrimSuffix(line[eq+1:], ";"), `"`)
		fields := strings.Split(payload, "~")
		if len(fields) <= fTurnover {
			logrus.Debugf("Tencent returned %d field(s) for %s, skipping", len(fields), symbol)
			continue
		}

		q := types.Quote{
			Symbol:    symbol,
			Name:      fields[fName],
			Price:     parseFloat(fields[fPrice]),
			PrevClose: parseFloat(fields[fPrevClose]),
			Open:      parseFloat(fields[fOpen]),
			High:      parseFloat(fields[fHigh]),
			Low:       parseFloat(fields[fLow]),
			Volume:    int64(parseFloat(fields[fVolume]) * 100),
			Turnover:  parseFloat(fields[fTurnover]) * 10000,
			ChangePct: parseFloat(fields[fChangePct]),
			QuotedAt:  formatWireTime(fields[fQuotedAt]),
		}
		batch.Quotes = append(batch.Quotes, q)
	}

	return batch, nil
}

type klineResponse struct {
	Code int                                   `json:"code"`
	Msg  string                                `json:"msg"`
	Data map[string]map[string]json.RawMessage `json:"data"`
}

// Kline fetches historical bars. Day, week and month support qfq/hfq
// adjustment through the fqkline endpoint; minute periods come from the
// mkline endpoint, which serves unadjusted bars only.
func (c *Client) Kline(ctx context.Context, code, period string, count int, adjust string) (*types.KlineSeries, error) {
	symbol, err := providers.ParseSymbol(code)
	if err != nil {
		return nil, err
	}
	wire, ok := wirePeriods[period]
	if !ok {
		return nil, fmt.Errorf("unsupported kline period %q", period)
	}

	minute := strings.HasPrefix(wire, "m")
	var url string
	if minute {
		url = fmt.Sprintf("%s/appstock/app/kline/mkline?param=%s,%s,,%d", c.klineURL, symbol, wire, count)
	} else {
		url = fmt.Sprintf("%s/appstock/app/fqkline/get?param=%s,%s,,,%d,%s", c.klineURL, symbol, wire, count, adjust)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating kline request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching kline: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("kline request returned status %d", resp.StatusCode)
	}

	var decoded klineResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("error decoding kline response: %w", err)
	}
	if decoded.Code != 0 {
		return nil, fmt.Errorf("kline returned code %d: %s", decoded.Code, decoded.Msg)
	}

	sub, ok := decoded.Data[symbol.String()]
	if !ok {
		return nil, fmt.Errorf("no kline data for %s", symbol)
	}

	// Adjusted day bars live under "qfqday"/"hfqday"; the wire falls back
	// to the plain key when no adjusted series exists.
	keys := []string{wire}
	if !minute && adjust != "" {
		keys = []string{adjust + wire, wire}
	}
	var rows [][]json.RawMessage
	for _, key := range keys {
		raw, ok := sub[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, fmt.Errorf("error decoding kline rows: %w", err)
		}
		break
	}
	if rows == nil {
		return nil, fmt.Errorf("no kline series for %s %s", symbol, period)
	}

	series := &types.KlineSeries{Symbol: symbol.String(), Period: period, Adjust: adjust}
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		series.Candles = append(series.Candles, types.Candle{
			Date:   formatBarDate(rawString(row[0])),
			Open:   parseFloat(rawString(row[1])),
			Close:  parseFloat(rawString(row[2])),
			High:   parseFloat(rawString(row[3])),
			Low:    parseFloat(rawString(row[4])),
			Volume: int64(parseFloat(rawString(row[5])) * 100),
		})
	}
	return series, nil
}

// rawString unwraps a JSON element that may arrive quoted or bare.
func rawString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.Trim(string(raw), `"`)
}

// formatWireTime turns the wire's 20060102150405 stamp into a readable one.
func formatWireTime(s string) string {
	ts, err := time.Parse("20060102150405", s)
	if err != nil {
		return s
	}
	return ts.Format("2006-01-02 15:04:05")
}

// formatBarDate normalizes minute-bar stamps like 202608211500. Day bars
// already arrive as 2006-01-02.
func formatBarDate(s string) string {
	if len(s) != 12 {
		return s
	}
	ts, err := time.Parse("200601021504", s)
	if err != nil {
		return s
	}
	return ts.Format("2006-01-02 15:04")
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}
