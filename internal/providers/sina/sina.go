// Package sina serves realtime quotes from the sina hq wire and the latest
// market headlines from the sina finance roll feed.
package sina

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
	quoteURL = "https://hq.sinajs.cn"
	feedURL  = "https://feed.mix.sina.com.cn"

	// hq.sinajs.cn rejects requests without a finance.sina.com.cn referer.
	quoteReferer = "https://finance.sina.com.cn"

	// lid 2516 is the finance roll.
	feedPageID = "153"
	feedLID    = "2516"
)

// Client talks to the sina endpoints. Base URLs are fields so tests can
// point them at a local server.
type Client struct {
	quoteURL   string
	feedURL    string
	httpClient *http.Client
}

func New(timeout time.Duration) *Client {
	return &Client{
		quoteURL:   quoteURL,
		feedURL:    feedURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// RealtimeQuotes fetches a batch of realtime snapshots. The wire is
// GB18030-encoded javascript, one `var hq_str_<symbol>="...";` per symbol.
func (c *Client) RealtimeQuotes(ctx context.Context, codes []string) (*types.QuoteBatch, error) {
	symbols, err := providers.ParseSymbols(codes)
	if err != nil {
		return nil, err
	}

	list := make([]string, 0, len(symbols))
	for _, s := range symbols {
		list = append(list, s.String())
	}
	url := fmt.Sprintf("%s/list=%s", c.quoteURL, strings.Join(list, ","))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating quote request: %w", err)
	}
	req.Header.Set("Referer", quoteReferer)

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

// parseQuotes decodes the hq wire. A-share payloads carry 33 comma fields;
// unknown symbols come back as an empty string and are skipped.
func parseQuotes(body string) (*types.QuoteBatch, error) {
	batch := &types.QuoteBatch{}

	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		start := strings.Index(line, "hq_str_")
		eq := strings.Index(line, "=")
		if start < 0 || eq < start {
			continue
		}
		symbol := line[start+len("hq_str_") : eq]
		payload := strings.Trim(strings.TrimSuffix(line[eq+1:], ";"), `"`)
		if payload == "" {
			logrus.Debugf("Sina returned no data for %s", symbol)
			continue
		}

		fields := strings.Split(payload, ",")
		if len(fields) < 32 {
			logrus.Debugf("Sina returned %d field(s) for %s, skipping", len(fields), symbol)
			continue
		}

		q := types.Quote{
			Symbol:    symbol,
			Name:      fields[0],
			Open:      parseFloat(fields[1]),
			PrevClose: parseFloat(fields[2]),
			Price:     parseFloat(fields[3]),
			High:      parseFloat(fields[4]),
			Low:       parseFloat(fields[5]),
			Volume:    parseInt(fields[8]),
			Turnover:  parseFloat(fields[9]),
			QuotedAt:  fields[30] + " " + fields[31],
		}
		if q.PrevClose > 0 && q.Price > 0 {
			q.ChangePct = (q.Price - q.PrevClose) / q.PrevClose * 100
		}
		batch.Quotes = append(batch.Quotes, q)
	}

	return batch, nil
}

type feedResponse struct {
	Result struct {
		Status struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		} `json:"status"`
		Data []struct {
			Title string      `json:"title"`
			URL   string      `json:"url"`
			Intro string      `json:"intro"`
			Ctime json.Number `json:"ctime"`
		} `json:"data"`
	} `json:"result"`
}

// LatestNews fetches the newest entries of the finance roll. The roll has
// no keyword search, so this is the fallback surface for stock news.
func (c *Client) LatestNews(ctx context.Context, limit int) (*types.NewsDigest, error) {
	url := fmt.Sprintf("%s/api/roll/get?pageid=%s&lid=%s&k=&num=%d&page=1", c.feedURL, feedPageID, feedLID, limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating feed request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching feed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed request returned status %d", resp.StatusCode)
	}

	var decoded feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("error decoding feed response: %w", err)
	}
	if decoded.Result.Status.Code != 0 {
		return nil, fmt.Errorf("feed returned code %d: %s", decoded.Result.Status.Code, decoded.Result.Status.Msg)
	}

	digest := &types.NewsDigest{}
	for _, item := range decoded.Result.Data {
		ni := types.NewsItem{
			Title:   item.Title,
			URL:     item.URL,
			Summary: item.Intro,
		}
		if secs, err := item.Ctime.Int64(); err == nil && secs > 0 {
			ni.PublishedAt = time.Unix(secs, 0).UTC().Format("2006-01-02 15:04:05")
		}
		digest.Items = append(digest.Items, ni)
	}
	return digest, nil
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}

func parseInt(s string) int64 {
	// Volumes occasionally arrive with a decimal tail.
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return int64(f)
}
