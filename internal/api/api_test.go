package api_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/quantfeed/market-gateway/api/types"
	. "github.com/quantfeed/market-gateway/internal/api"
	"github.com/quantfeed/market-gateway/internal/config"
	"github.com/quantfeed/market-gateway/internal/gateway"
	"github.com/quantfeed/market-gateway/internal/providers"
	"github.com/quantfeed/market-gateway/internal/providers/webfetch"
	"github.com/quantfeed/market-gateway/internal/store"
	"github.com/quantfeed/market-gateway/pkg/client"
)

const (
	testAddr   = "127.0.0.1:40913"
	testAPIKey = "test-api-key"
)

// memStore is an in-memory stand-in for store.Store covering both the
// gateway's read surface and the admin endpoints' write surface.
type memStore struct {
	mu      sync.Mutex
	configs map[string]store.ProviderConfig
	keys    map[int64]store.SearchKey
	nextID  int64
	usage   map[int64]int
}

func newMemStore() *memStore {
	return &memStore{
		configs: make(map[string]store.ProviderConfig),
		keys:    make(map[int64]store.SearchKey),
		nextID:  1,
		usage:   make(map[int64]int),
	}
}

func (m *memStore) ListProviderConfigs(ctx context.Context) ([]store.ProviderConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.ProviderConfig, 0, len(m.configs))
	for _, pc := range m.configs {
		out = append(out, pc)
	}
	return out, nil
}

func (m *memStore) ListSearchKeys(ctx context.Context) ([]store.SearchKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.SearchKey, 0, len(m.keys))
	for _, k := range m.keys {
		out = append(out, k)
	}
	return out, nil
}

func (m *memStore) UpdateKeyUsage(ctx context.Context, id int64, usedToday int, lastResetDate string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage[id] = usedToday
	return nil
}

func (m *memStore) usedToday(id int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage[id]
}

func (m *memStore) UpsertProviderConfig(ctx context.Context, pc store.ProviderConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[pc.ProviderName] = pc
	return nil
}

func (m *memStore) DeleteProviderConfig(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.configs, name)
	return nil
}

func (m *memStore) UpsertSearchKey(ctx context.Context, k store.SearchKey) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if k.ID == 0 {
		k.ID = m.nextID
		m.nextID++
	}
	m.keys[k.ID] = k
	return k.ID, nil
}

func (m *memStore) DeleteSearchKey(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, id)
	return nil
}

func (m *memStore) Ping(ctx context.Context) error { return nil }

type stubQuotes struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (f *stubQuotes) RealtimeQuotes(ctx context.Context, codes []string) (*types.QuoteBatch, error) {
	f.mu.Lock()
	f.calls++
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return nil, errors.New("upstream unreachable")
	}
	batch := &types.QuoteBatch{}
	for _, code := range codes {
		batch.Quotes = append(batch.Quotes, types.Quote{
			Symbol: code, Name: "测试股份", Price: 12.34, PrevClose: 12.1, ChangePct: 1.98,
		})
	}
	return batch, nil
}

func (f *stubQuotes) setFail(fail bool) {
	f.mu.Lock()
	f.fail = fail
	f.mu.Unlock()
}

// stubMarket adds a kline surface on top of quotes, like tencent.
type stubMarket struct {
	stubQuotes
}

func (f *stubMarket) Kline(ctx context.Context, code, period string, count int, adjust string) (*types.KlineSeries, error) {
	series := &types.KlineSeries{Symbol: code, Period: period, Adjust: adjust}
	day := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)
	for i := 0; i < count; i++ {
		series.Candles = append(series.Candles, types.Candle{
			Date: day.AddDate(0, 0, i).Format("2006-01-02"),
			Open: 10, High: 11, Low: 9.5, Close: 10.5, Volume: 1000,
		})
	}
	return series, nil
}

type stubSearch struct {
	mu      sync.Mutex
	apiKeys []string
}

func (f *stubSearch) Search(ctx context.Context, apiKey, query string, limit int) (*types.SearchResponse, error) {
	f.mu.Lock()
	f.apiKeys = append(f.apiKeys, apiKey)
	f.mu.Unlock()
	return &types.SearchResponse{
		Query: query,
		Results: []types.SearchResult{
			{Title: "贵州茅台2026年中报点评", URL: "https://example.com/report", Snippet: "业绩稳健"},
		},
	}, nil
}

func (f *stubSearch) lastKey() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.apiKeys) == 0 {
		return ""
	}
	return f.apiKeys[len(f.apiKeys)-1]
}

type stubNews struct {
	mu    sync.Mutex
	calls int
}

func (f *stubNews) SearchNews(ctx context.Context, keyword string, limit int) (*types.NewsDigest, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return &types.NewsDigest{
		Keyword: keyword,
		Items: []types.NewsItem{
			{Title: keyword + "盘中异动", URL: "https://example.com/news/1", PublishedAt: "2026-08-21 10:30:00"},
		},
	}, nil
}

type stubPage struct {
	mu    sync.Mutex
	calls int
}

func (f *stubPage) FetchPage(ctx context.Context, url string, maxDepth int) (*types.PageContent, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return &types.PageContent{
		URL: url,
		Sections: []types.Section{
			{Title: "正文", Paragraphs: []string{"page body"}},
		},
	}, nil
}

func (f *stubPage) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var (
	apiClient *client.Client
	st        *memStore

	sinaStub    *stubQuotes
	tencentStub *stubMarket
	tavilyStub  *stubSearch
	braveStub   *stubSearch
	newsStub    *stubNews
	pageStub    *stubPage
)

// The prometheus middleware registers its collectors globally, so the server
// is started exactly once for the whole suite and the specs share it.
var _ = BeforeSuite(func() {
	st = newMemStore()

	sinaStub = &stubQuotes{}
	tencentStub = &stubMarket{}
	tavilyStub = &stubSearch{}
	braveStub = &stubSearch{}
	newsStub = &stubNews{}
	pageStub = &stubPage{}

	registry := providers.NewRegistry()
	Expect(registry.Register("sina", sinaStub)).To(Succeed())
	Expect(registry.Register("tencent", tencentStub)).To(Succeed())
	Expect(registry.Register("eastmoney", newsStub)).To(Succeed())
	Expect(registry.Register("tavily", tavilyStub)).To(Succeed())
	Expect(registry.Register("brave", braveStub)).To(Succeed())
	Expect(registry.Register(webfetch.Name, pageStub)).To(Succeed())

	cfg := config.Configuration{
		"listen_address":     testAddr,
		"api_key":            testAPIKey,
		"tavily_api_keys":    []string{"tvly-test-0001"},
		"webfetch_blacklist": []string{"internal.corp"},
	}

	ctx, cancel := context.WithCancel(context.Background())

	gw, err := gateway.New(ctx, cfg, st, gateway.WithRegistry(registry))
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(gw.Close)
	DeferCleanup(cancel)

	go func() {
		defer GinkgoRecover()
		Expect(Start(ctx, gw, st, cfg)).To(Succeed())
	}()

	apiClient, err = client.NewClient("http://"+testAddr, client.APIKey(testAPIKey))
	Expect(err).NotTo(HaveOccurred())

	// Wait for the server to come up
	Eventually(func() error {
		_, err := apiClient.Healthz(context.Background())
		return err
	}, "5s", "100ms").Should(Succeed())
})

var _ = Describe("API", func() {

	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Context("auth", func() {
		It("serves the liveness probe", func() {
			health, err := apiClient.Healthz(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(health.Status).To(Equal("ok"))
		})

		It("rejects requests without the api key", func() {
			bare, err := client.NewClient("http://" + testAddr)
			Expect(err).NotTo(HaveOccurred())

			_, err = bare.Quotes(ctx, []string{"600519"})
			var statusErr *client.StatusError
			Expect(errors.As(err, &statusErr)).To(BeTrue())
			Expect(statusErr.Code).To(Equal(401))
		})
	})

	Context("market data", func() {
		It("serves realtime quotes end to end", func() {
			batch, err := apiClient.Quotes(ctx, []string{"600519"})
			Expect(err).NotTo(HaveOccurred())
			Expect(batch.Source).To(Equal("sina"))
			Expect(batch.Quotes).To(HaveLen(1))
			Expect(batch.Quotes[0].Symbol).To(Equal("sh600519"))
		})

		It("rejects an empty quote request", func() {
			_, err := apiClient.Quotes(ctx, nil)
			var statusErr *client.StatusError
			Expect(errors.As(err, &statusErr)).To(BeTrue())
			Expect(statusErr.Code).To(Equal(400))
		})

		It("rejects a malformed security code", func() {
			_, err := apiClient.Quotes(ctx, []string{"bogus!"})
			var statusErr *client.StatusError
			Expect(errors.As(err, &statusErr)).To(BeTrue())
			Expect(statusErr.Code).To(Equal(400))
			Expect(statusErr.Message).To(ContainSubstring("invalid security code"))
		})

		It("serves klines", func() {
			series, err := apiClient.Kline(ctx, types.KlineRequest{Code: "000001.sz", Period: "day", Count: 5})
			Expect(err).NotTo(HaveOccurred())
			Expect(series.Source).To(Equal("tencent"))
			Expect(series.Symbol).To(Equal("sz000001"))
			Expect(series.Candles).To(HaveLen(5))
		})

		It("rejects an unknown kline period", func() {
			_, err := apiClient.Kline(ctx, types.KlineRequest{Code: "600519", Period: "year"})
			var statusErr *client.StatusError
			Expect(errors.As(err, &statusErr)).To(BeTrue())
			Expect(statusErr.Code).To(Equal(400))
		})
	})

	Context("web search", func() {
		It("draws the environment-supplied key", func() {
			resp, err := apiClient.Search(ctx, types.SearchRequest{Query: "贵州茅台 财报", Limit: 5})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Source).To(Equal("tavily"))
			Expect(resp.Query).To(Equal("贵州茅台 财报"))
			Expect(resp.Results).NotTo(BeEmpty())
			Expect(tavilyStub.lastKey()).To(Equal("tvly-test-0001"))
		})

		It("rejects an unknown engine", func() {
			_, err := apiClient.Search(ctx, types.SearchRequest{Query: "x", Engine: "duckduck"})
			var statusErr *client.StatusError
			Expect(errors.As(err, &statusErr)).To(BeTrue())
			Expect(statusErr.Code).To(Equal(400))
			Expect(statusErr.Message).To(ContainSubstring("unknown provider"))
		})

		It("fails with 502 when the pinned engine has no keys", func() {
			_, err := apiClient.Search(ctx, types.SearchRequest{Query: "x", Engine: "brave"})
			var statusErr *client.StatusError
			Expect(errors.As(err, &statusErr)).To(BeTrue())
			Expect(statusErr.Code).To(Equal(502))
			Expect(statusErr.Message).To(ContainSubstring("no provider could satisfy web_search"))
		})
	})

	Context("stock news", func() {
		It("serves keyword news", func() {
			digest, err := apiClient.News(ctx, "茅台", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(digest.Source).To(Equal("eastmoney"))
			Expect(digest.Items).NotTo(BeEmpty())
			Expect(digest.Keyword).To(Equal("茅台"))
		})
	})

	Context("page content", func() {
		It("fetches a page", func() {
			content, err := apiClient.PageContent(ctx, "https://finance.example.com/article", 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(content.Source).To(Equal(webfetch.Name))
			Expect(content.Sections).NotTo(BeEmpty())
		})

		It("refuses a blacklisted url", func() {
			before := pageStub.callCount()

			_, err := apiClient.PageContent(ctx, "https://internal.corp/secret", 0)
			var statusErr *client.StatusError
			Expect(errors.As(err, &statusErr)).To(BeTrue())
			Expect(statusErr.Code).To(Equal(403))
			Expect(pageStub.callCount()).To(Equal(before))
		})
	})

	Context("diagnostics", func() {
		It("reports every provider from boot", func() {
			statuses, err := apiClient.ProviderStatuses(ctx)
			Expect(err).NotTo(HaveOccurred())

			names := make([]string, 0, len(statuses))
			for _, s := range statuses {
				names = append(names, s.Name)
				Expect(s.State).To(Equal("closed"), s.Name)
			}
			Expect(names).To(ConsistOf("sina", "tencent", "eastmoney", "tavily", "brave", webfetch.Name))
		})

		It("masks key secrets", func() {
			keys, err := apiClient.KeyStatuses(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(keys).To(HaveLen(1))
			Expect(keys[0].Provider).To(Equal("tavily"))
			Expect(keys[0].Key).To(Equal("tvly...0001"))
		})

		It("lists capabilities with their providers", func() {
			caps, err := apiClient.Capabilities(ctx)
			Expect(err).NotTo(HaveOccurred())

			byName := map[types.Capability][]string{}
			for _, ci := range caps {
				byName[ci.Capability] = ci.Providers
			}
			Expect(byName[types.CapRealtimeQuotes]).To(Equal([]string{"sina", "tencent"}))
			Expect(byName[types.CapKline]).To(Equal([]string{"tencent"}))
			Expect(byName[types.CapWebSearch]).To(Equal([]string{"tavily", "brave"}))
			Expect(byName[types.CapStockNews]).To(Equal([]string{"eastmoney"}))
			Expect(byName[types.CapPageContent]).To(Equal([]string{webfetch.Name}))
		})

		It("exposes gateway counters", func() {
			Eventually(func() (string, error) {
				raw, err := apiClient.Stats(ctx)
				return string(raw), err
			}, "2s", "100ms").Should(ContainSubstring("quote_fetches"))
		})

		It("rejects resetting an unknown provider", func() {
			err := apiClient.ResetProvider(ctx, "nonesuch")
			var statusErr *client.StatusError
			Expect(errors.As(err, &statusErr)).To(BeTrue())
			Expect(statusErr.Code).To(Equal(404))
		})
	})

	Context("admin", func() {
		It("applies provider configuration immediately", func() {
			err := apiClient.UpsertProviderConfig(ctx, types.ProviderConfigUpsert{
				ProviderName: "tencent", Enabled: true, Priority: 1,
				FailureThreshold: 3, CooldownSeconds: 60,
			})
			Expect(err).NotTo(HaveOccurred())

			batch, err := apiClient.Quotes(ctx, []string{"601988"})
			Expect(err).NotTo(HaveOccurred())
			Expect(batch.Source).To(Equal("tencent"))

			Expect(apiClient.DeleteProviderConfig(ctx, "tencent")).To(Succeed())

			batch, err = apiClient.Quotes(ctx, []string{"600036"})
			Expect(err).NotTo(HaveOccurred())
			Expect(batch.Source).To(Equal("sina"))
		})

		It("stores search keys and persists their usage", func() {
			id, err := apiClient.UpsertSearchKey(ctx, types.SearchKeyUpsert{
				Engine: "brave", APIKey: "bsk-aaaa-bbbb-cccc", Enabled: true, Weight: 1,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(BeNumerically(">=", 1))

			resp, err := apiClient.Search(ctx, types.SearchRequest{Query: "新能源汽车", Engine: "brave"})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Source).To(Equal("brave"))
			Expect(braveStub.lastKey()).To(Equal("bsk-aaaa-bbbb-cccc"))

			// Quota writes are asynchronous
			Eventually(func() int {
				return st.usedToday(id)
			}, "2s", "50ms").Should(Equal(1))

			Expect(apiClient.DeleteSearchKey(ctx, id)).To(Succeed())

			_, err = apiClient.Search(ctx, types.SearchRequest{Query: "新能源汽车", Engine: "brave"})
			var statusErr *client.StatusError
			Expect(errors.As(err, &statusErr)).To(BeTrue())
			Expect(statusErr.Code).To(Equal(502))
		})

		It("reloads configuration on demand", func() {
			Expect(apiClient.Reload(ctx)).To(Succeed())
		})
	})

	Context("failover and breakers", func() {
		It("fails over and opens the breaker after repeated errors", func() {
			sinaStub.setFail(true)

			for _, code := range []string{"600028", "601857", "601398"} {
				batch, err := apiClient.Quotes(ctx, []string{code})
				Expect(err).NotTo(HaveOccurred())
				Expect(batch.Source).To(Equal("tencent"))
			}

			statuses, err := apiClient.ProviderStatuses(ctx)
			Expect(err).NotTo(HaveOccurred())
			var sina types.ProviderStatus
			for _, s := range statuses {
				if s.Name == "sina" {
					sina = s
				}
			}
			Expect(sina.State).To(Equal("open"))
			Expect(sina.FailureCount).To(Equal(3))
			Expect(sina.LastFailureAt).NotTo(BeNil())

			Expect(apiClient.ResetProvider(ctx, "sina")).To(Succeed())
			sinaStub.setFail(false)

			batch, err := apiClient.Quotes(ctx, []string{"600104"})
			Expect(err).NotTo(HaveOccurred())
			Expect(batch.Source).To(Equal("sina"))
		})
	})
})
