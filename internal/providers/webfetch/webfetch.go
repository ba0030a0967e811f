// Package webfetch fetches web pages with a polite crawler and splits them
// into heading-delimited sections.
package webfetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gocolly/colly"
	"github.com/sirupsen/logrus"

	"github.com/quantfeed/market-gateway/api/types"
)

// Name is the provider name this client registers under.
const Name = "webfetch"

// ErrBlacklisted rejects URLs matching an operator-configured term.
var ErrBlacklisted = errors.New("url is blacklisted")

// Client crawls pages. A fresh colly collector is built per call, so one
// Client is safe for concurrent use.
type Client struct {
	blacklist []string
	timeout   time.Duration
}

func New(blacklist []string, timeout time.Duration) *Client {
	return &Client{blacklist: blacklist, timeout: timeout}
}

// Blacklisted reports whether the URL matches a blacklist term. The gateway
// checks this before failover so a refused URL never counts against the
// provider's breaker.
func (c *Client) Blacklisted(url string) bool {
	for _, term := range c.blacklist {
		if term != "" && strings.Contains(url, term) {
			return true
		}
	}
	return false
}

// FetchPage crawls the URL up to maxDepth levels deep and returns the
// collected sections. Depth 1 fetches only the page itself.
func (c *Client) FetchPage(ctx context.Context, url string, maxDepth int) (*types.PageContent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.Blacklisted(url) {
		logrus.Warnf("URL %s is blacklisted", url)
		return nil, fmt.Errorf("%w: %s", ErrBlacklisted, url)
	}
	if maxDepth <= 0 {
		maxDepth = 1
	}

	logrus.Infof("Fetching %s with depth %d", url, maxDepth)

	content := &types.PageContent{URL: url}
	var mu sync.Mutex
	var lastErr error

	collector := colly.NewCollector(
		colly.Async(true),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.MaxDepth(maxDepth),
	)
	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 4,
		Delay:       500 * time.Millisecond,
	}); err != nil {
		logrus.Errorf("Unable to set crawl limit, using defaults: %v", err)
	}
	collector.SetRequestTimeout(c.timeout)

	backoffStrategy := backoff.NewExponentialBackOff()
	collector.OnError(func(r *colly.Response, err error) {
		if r.StatusCode == http.StatusTooManyRequests {
			// Honor Retry-After when it parses as seconds, otherwise fall
			// back to the exponential schedule.
			nextDelay := backoffStrategy.NextBackOff()
			if retryAfter, convErr := strconv.Atoi(r.Headers.Get("Retry-After")); convErr == nil && retryAfter > 0 {
				nextDelay = time.Duration(retryAfter) * time.Second
			}
			logrus.Warnf("Rate limited on %s, retrying after %v", r.Request.URL, nextDelay)
			time.Sleep(nextDelay)
			_ = r.Request.Retry()
			return
		}
		logrus.Errorf("Request to %s failed: %v", r.Request.URL, err)
		mu.Lock()
		lastErr = err
		mu.Unlock()
	})

	// One handler for the whole content selector keeps document order, so
	// paragraphs attach to the heading they follow.
	collector.OnHTML("h1, h2, p, img", func(e *colly.HTMLElement) {
		mu.Lock()
		defer mu.Unlock()

		switch e.Name {
		case "h1", "h2":
			content.Sections = append(content.Sections, types.Section{Title: strings.TrimSpace(e.Text)})
		case "p":
			text := strings.TrimSpace(e.Text)
			if text == "" {
				return
			}
			if len(content.Sections) == 0 {
				content.Sections = append(content.Sections, types.Section{})
			}
			last := &content.Sections[len(content.Sections)-1]
			for _, p := range last.Paragraphs {
				if p == text {
					return
				}
			}
			last.Paragraphs = append(last.Paragraphs, text)
		case "img":
			if len(content.Sections) == 0 {
				return
			}
			src := e.Request.AbsoluteURL(e.Attr("src"))
			last := &content.Sections[len(content.Sections)-1]
			last.Images = append(last.Images, src)
		}
	})

	collector.OnHTML("a", func(e *colly.HTMLElement) {
		pageURL := e.Request.AbsoluteURL(e.Attr("href"))
		if !strings.HasPrefix(pageURL, "http://") && !strings.HasPrefix(pageURL, "https://") {
			return
		}
		mu.Lock()
		content.Pages = append(content.Pages, pageURL)
		mu.Unlock()
		_ = e.Request.Visit(pageURL)
	})

	if err := collector.Visit(url); err != nil {
		return nil, fmt.Errorf("error visiting %s: %w", url, err)
	}
	collector.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(content.Sections) == 0 && lastErr != nil {
		return nil, fmt.Errorf("error fetching %s: %w", url, lastErr)
	}
	logrus.Infof("Fetched %s: %d section(s), %d linked page(s)", url, len(content.Sections), len(content.Pages))
	return content, nil
}
