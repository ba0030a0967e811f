package gateway_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/quantfeed/market-gateway/api/types"
	"github.com/quantfeed/market-gateway/internal/config"
	"github.com/quantfeed/market-gateway/internal/failover"
	"github.com/quantfeed/market-gateway/internal/gateway"
	"github.com/quantfeed/market-gateway/internal/providers"
	"github.com/quantfeed/market-gateway/internal/providers/webfetch"
	"github.com/quantfeed/market-gateway/internal/store"
)

func buildRegistry(entries map[string]any) *providers.Registry {
	registry := providers.NewRegistry()
	for name, provider := range entries {
		Expect(registry.Register(name, provider)).To(Succeed())
	}
	return registry
}

var _ = Describe("Gateway", func() {
	var (
		ctx context.Context
		st  *fakeStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		st = &fakeStore{}
	})

	newGateway := func(cfg config.Configuration, registry *providers.Registry) *gateway.Gateway {
		g, err := gateway.New(ctx, cfg, st, gateway.WithRegistry(registry))
		Expect(err).ToNot(HaveOccurred())
		DeferCleanup(g.Close)
		return g
	}

	Describe("realtime quotes", func() {
		var (
			sina, tencent, eastmoney *fakeQuotes
			g                        *gateway.Gateway
		)

		BeforeEach(func() {
			sina = &fakeQuotes{}
			tencent = &fakeQuotes{}
			eastmoney = &fakeQuotes{}
			g = newGateway(config.Configuration{}, buildRegistry(map[string]any{
				"sina":      sina,
				"tencent":   tencent,
				"eastmoney": eastmoney,
			}))
		})

		It("serves quotes from the first provider in default order", func() {
			batch, err := g.RealtimeQuotes(ctx, []string{"sh600519"})
			Expect(err).ToNot(HaveOccurred())
			Expect(batch.Source).To(Equal("sina"))
			Expect(batch.Quotes).To(HaveLen(1))
			Expect(batch.Quotes[0].Symbol).To(Equal("sh600519"))
			Expect(tencent.callCount()).To(Equal(0))
		})

		It("normalizes bare and suffixed security codes", func() {
			batch, err := g.RealtimeQuotes(ctx, []string{"600519", "000001.sz"})
			Expect(err).ToNot(HaveOccurred())
			Expect(batch.Quotes[0].Symbol).To(Equal("sh600519"))
			Expect(batch.Quotes[1].Symbol).To(Equal("sz000001"))
		})

		It("rejects malformed security codes without touching providers", func() {
			_, err := g.RealtimeQuotes(ctx, []string{"sh600519", "bogus!"})
			Expect(err).To(HaveOccurred())
			Expect(sina.callCount()).To(Equal(0))
		})

		It("fails over when the leading provider errors", func() {
			sina.setFail(true)
			batch, err := g.RealtimeQuotes(ctx, []string{"sh600519"})
			Expect(err).ToNot(HaveOccurred())
			Expect(batch.Source).To(Equal("tencent"))
			Expect(sina.callCount()).To(Equal(1))
		})

		It("treats an empty batch as a failure and tries the next source", func() {
			sina.empty = true
			batch, err := g.RealtimeQuotes(ctx, []string{"sh600519"})
			Expect(err).ToNot(HaveOccurred())
			Expect(batch.Source).To(Equal("tencent"))
		})

		It("opens the breaker after repeated failures and skips the provider", func() {
			sina.setFail(true)
			codes := []string{"sh600519", "sz000001", "sh601318", "sz300750"}
			for _, code := range codes {
				_, err := g.RealtimeQuotes(ctx, []string{code})
				Expect(err).ToNot(HaveOccurred())
			}
			// three failures opened the breaker; the fourth call skipped sina
			Expect(sina.callCount()).To(Equal(3))

			var status types.ProviderStatus
			for _, s := range g.ProviderStatuses() {
				if s.Name == "sina" {
					status = s
				}
			}
			Expect(status.State).To(Equal("open"))
			Expect(status.FailureCount).To(Equal(3))
			Expect(status.LastFailureAt).ToNot(BeNil())
		})

		It("lets a reset breaker try the provider again", func() {
			sina.setFail(true)
			for _, code := range []string{"sh600519", "sz000001", "sh601318", "sz300750"} {
				_, err := g.RealtimeQuotes(ctx, []string{code})
				Expect(err).ToNot(HaveOccurred())
			}
			Expect(sina.callCount()).To(Equal(3))

			Expect(g.ResetProvider("sina")).To(Succeed())
			sina.setFail(false)

			batch, err := g.RealtimeQuotes(ctx, []string{"sh600000"})
			Expect(err).ToNot(HaveOccurred())
			Expect(batch.Source).To(Equal("sina"))
			Expect(sina.callCount()).To(Equal(4))
		})

		It("serves repeated requests from cache", func() {
			_, err := g.RealtimeQuotes(ctx, []string{"sh600519"})
			Expect(err).ToNot(HaveOccurred())
			_, err = g.RealtimeQuotes(ctx, []string{"sh600519"})
			Expect(err).ToNot(HaveOccurred())
			Expect(sina.callCount()).To(Equal(1))

			_, err = g.RealtimeQuotes(ctx, []string{"sz000001"})
			Expect(err).ToNot(HaveOccurred())
			Expect(sina.callCount()).To(Equal(2))
		})
	})

	Describe("source configuration", func() {
		var (
			sina, tencent, eastmoney *fakeQuotes
			registry                 *providers.Registry
		)

		BeforeEach(func() {
			sina = &fakeQuotes{}
			tencent = &fakeQuotes{}
			eastmoney = &fakeQuotes{}
			registry = buildRegistry(map[string]any{
				"sina":      sina,
				"tencent":   tencent,
				"eastmoney": eastmoney,
			})
		})

		It("honors priority rows and appends unconfigured providers", func() {
			st.configs = []store.ProviderConfig{
				{ProviderName: "eastmoney", Enabled: true, Priority: 1, FailureThreshold: 3, CooldownSeconds: 300},
				{ProviderName: "sina", Enabled: false, Priority: 100, FailureThreshold: 3, CooldownSeconds: 300},
			}
			g := newGateway(config.Configuration{}, registry)

			batch, err := g.RealtimeQuotes(ctx, []string{"sh600519"})
			Expect(err).ToNot(HaveOccurred())
			Expect(batch.Source).To(Equal("eastmoney"))

			// eastmoney down: the unconfigured tencent serves next, the
			// disabled sina never does
			eastmoney.setFail(true)
			batch, err = g.RealtimeQuotes(ctx, []string{"sz000001"})
			Expect(err).ToNot(HaveOccurred())
			Expect(batch.Source).To(Equal("tencent"))
			Expect(sina.callCount()).To(Equal(0))
		})

		It("reports exhaustion when every provider is disabled", func() {
			st.configs = []store.ProviderConfig{
				{ProviderName: "sina", Enabled: false, FailureThreshold: 3, CooldownSeconds: 300},
				{ProviderName: "tencent", Enabled: false, FailureThreshold: 3, CooldownSeconds: 300},
				{ProviderName: "eastmoney", Enabled: false, FailureThreshold: 3, CooldownSeconds: 300},
			}
			g := newGateway(config.Configuration{}, registry)

			_, err := g.RealtimeQuotes(ctx, []string{"sh600519"})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("no provider could satisfy realtime_quotes"))

			var exhausted *failover.ExhaustedError
			Expect(errors.As(err, &exhausted)).To(BeTrue())
			Expect(exhausted.Attempts).To(Equal(0))
			Expect(sina.callCount()).To(Equal(0))
		})

		It("applies breaker settings from provider rows", func() {
			st.configs = []store.ProviderConfig{
				{ProviderName: "sina", Enabled: true, Priority: 1, FailureThreshold: 1, CooldownSeconds: 60},
			}
			g := newGateway(config.Configuration{}, registry)

			sina.setFail(true)
			_, err := g.RealtimeQuotes(ctx, []string{"sh600519"})
			Expect(err).ToNot(HaveOccurred())

			for _, s := range g.ProviderStatuses() {
				if s.Name == "sina" {
					Expect(s.State).To(Equal("open"))
					Expect(s.FailureThreshold).To(Equal(1))
					Expect(s.CooldownSeconds).To(Equal(60))
				}
			}
		})

		It("picks up new rows on reload", func() {
			g := newGateway(config.Configuration{}, registry)

			batch, err := g.RealtimeQuotes(ctx, []string{"sh600519"})
			Expect(err).ToNot(HaveOccurred())
			Expect(batch.Source).To(Equal("sina"))

			st.configs = []store.ProviderConfig{
				{ProviderName: "tencent", Enabled: true, Priority: 1, FailureThreshold: 3, CooldownSeconds: 300},
				{ProviderName: "sina", Enabled: false, Priority: 100, FailureThreshold: 3, CooldownSeconds: 300},
			}
			Expect(g.Reload(ctx)).To(Succeed())

			batch, err = g.RealtimeQuotes(ctx, []string{"sz000001"})
			Expect(err).ToNot(HaveOccurred())
			Expect(batch.Source).To(Equal("tencent"))
		})
	})

	Describe("kline", func() {
		var (
			tencent, eastmoney *fakeKlines
			g                  *gateway.Gateway
		)

		BeforeEach(func() {
			tencent = &fakeKlines{}
			eastmoney = &fakeKlines{}
			g = newGateway(config.Configuration{}, buildRegistry(map[string]any{
				"tencent":   tencent,
				"eastmoney": eastmoney,
			}))
		})

		It("serves candles from the first kline provider", func() {
			series, err := g.Kline(ctx, "600519", "day", 100, "qfq")
			Expect(err).ToNot(HaveOccurred())
			Expect(series.Source).To(Equal("tencent"))
			Expect(series.Symbol).To(Equal("sh600519"))
			Expect(series.Candles).ToNot(BeEmpty())
		})

		It("fails over to the next kline provider", func() {
			tencent.fail = true
			series, err := g.Kline(ctx, "sh600519", "day", 100, "")
			Expect(err).ToNot(HaveOccurred())
			Expect(series.Source).To(Equal("eastmoney"))
		})

		It("caches series per request shape", func() {
			_, err := g.Kline(ctx, "sh600519", "day", 100, "qfq")
			Expect(err).ToNot(HaveOccurred())
			_, err = g.Kline(ctx, "sh600519", "day", 100, "qfq")
			Expect(err).ToNot(HaveOccurred())
			Expect(tencent.callCount()).To(Equal(1))

			_, err = g.Kline(ctx, "sh600519", "week", 100, "qfq")
			Expect(err).ToNot(HaveOccurred())
			Expect(tencent.callCount()).To(Equal(2))
		})
	})

	Describe("web search", func() {
		var (
			tavily, brave, serper *fakeSearch
			registry              *providers.Registry
		)

		BeforeEach(func() {
			tavily = &fakeSearch{}
			brave = &fakeSearch{}
			serper = &fakeSearch{}
			registry = buildRegistry(map[string]any{
				"tavily": tavily,
				"brave":  brave,
				"serper": serper,
			})
		})

		It("draws persisted keys and records their usage", func() {
			st.keys = []store.SearchKey{
				{ID: 7, Engine: "tavily", APIKey: "tvly-persisted-abcd", Enabled: true, Weight: 1},
			}
			g := newGateway(config.Configuration{}, registry)

			resp, err := g.Search(ctx, "golang generics", 5, "")
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.Source).To(Equal("tavily"))
			Expect(resp.Query).To(Equal("golang generics"))
			Expect(tavily.seenKeys()).To(Equal([]string{"tvly-persisted-abcd"}))

			Eventually(func() int {
				n, _ := st.usedToday(7)
				return n
			}, "2s").Should(Equal(1))
		})

		It("falls back to environment keys and never persists them", func() {
			cfg := config.Configuration{
				"tavily_api_keys": []string{"tvly-env-key-000001"},
			}
			g := newGateway(cfg, registry)

			resp, err := g.Search(ctx, "echo middleware", 5, "")
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.Source).To(Equal("tavily"))
			Expect(tavily.seenKeys()).To(Equal([]string{"tvly-env-key-000001"}))

			Consistently(func() bool {
				_, ok := st.usedToday(-1)
				return ok
			}, "200ms").Should(BeFalse())
		})

		It("skips engines with no usable key", func() {
			cfg := config.Configuration{
				"brave_api_keys": []string{"bsa-env-key-000001"},
			}
			g := newGateway(cfg, registry)

			resp, err := g.Search(ctx, "colly crawler", 5, "")
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.Source).To(Equal("brave"))
			Expect(tavily.seenKeys()).To(BeEmpty())
		})

		It("pins the query to an explicit engine", func() {
			cfg := config.Configuration{
				"tavily_api_keys": []string{"tvly-env-key-000001"},
				"serper_api_keys": []string{"srp-env-key-000001"},
			}
			g := newGateway(cfg, registry)

			resp, err := g.Search(ctx, "sqlite wal", 5, "serper")
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.Source).To(Equal("serper"))
			Expect(tavily.seenKeys()).To(BeEmpty())
		})

		It("rejects an unknown engine", func() {
			g := newGateway(config.Configuration{}, registry)

			_, err := g.Search(ctx, "anything", 5, "google")
			Expect(errors.Is(err, gateway.ErrUnknownProvider)).To(BeTrue())
		})

		It("reports exhaustion when no engine has a key", func() {
			g := newGateway(config.Configuration{}, registry)

			_, err := g.Search(ctx, "anything", 5, "")
			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, failover.ErrNoKey)).To(BeTrue())
		})
	})

	Describe("stock news", func() {
		var (
			emNews   *fakeNewsSearch
			sinaFeed *fakeNewsFeed
			g        *gateway.Gateway
		)

		BeforeEach(func() {
			emNews = &fakeNewsSearch{}
			sinaFeed = &fakeNewsFeed{}
			g = newGateway(config.Configuration{}, buildRegistry(map[string]any{
				"eastmoney": emNews,
				"sina":      sinaFeed,
			}))
		})

		It("prefers the keyword search provider", func() {
			digest, err := g.StockNews(ctx, "贵州茅台", 10)
			Expect(err).ToNot(HaveOccurred())
			Expect(digest.Source).To(Equal("eastmoney"))
			Expect(digest.Keyword).To(Equal("贵州茅台"))
			Expect(sinaFeed.callCount()).To(Equal(0))
		})

		It("falls back to the latest-news feed when search fails", func() {
			emNews.fail = true
			digest, err := g.StockNews(ctx, "贵州茅台", 10)
			Expect(err).ToNot(HaveOccurred())
			Expect(digest.Source).To(Equal("sina"))
			Expect(digest.Items).ToNot(BeEmpty())
			Expect(emNews.callCount()).To(Equal(1))
			Expect(sinaFeed.callCount()).To(Equal(1))
		})
	})

	Describe("page content", func() {
		var (
			pages *fakePages
			g     *gateway.Gateway
		)

		BeforeEach(func() {
			pages = &fakePages{}
			cfg := config.Configuration{
				"webfetch_blacklist": []string{"internal.corp"},
			}
			g = newGateway(cfg, buildRegistry(map[string]any{
				webfetch.Name: pages,
			}))
		})

		It("fetches and sections a page", func() {
			page, err := g.PageContent(ctx, "https://example.com/post", 1)
			Expect(err).ToNot(HaveOccurred())
			Expect(page.Source).To(Equal(webfetch.Name))
			Expect(page.Sections).ToNot(BeEmpty())
		})

		It("refuses blacklisted urls without touching the fetcher", func() {
			_, err := g.PageContent(ctx, "https://internal.corp/secret", 1)
			Expect(errors.Is(err, webfetch.ErrBlacklisted)).To(BeTrue())
			Expect(pages.callCount()).To(Equal(0))
		})
	})

	Describe("diagnostics", func() {
		It("masks key secrets", func() {
			st.keys = []store.SearchKey{
				{ID: 3, Engine: "tavily", APIKey: "tvly-persisted-abcd-9999", Enabled: true, Weight: 2, DailyLimit: 100},
			}
			g := newGateway(config.Configuration{}, buildRegistry(map[string]any{
				"tavily": &fakeSearch{},
			}))

			statuses := g.KeyStatuses()
			Expect(statuses).To(HaveLen(1))
			Expect(statuses[0].ID).To(Equal(int64(3)))
			Expect(statuses[0].Key).To(Equal("tvly...9999"))
			Expect(statuses[0].Key).ToNot(ContainSubstring("persisted"))
		})

		It("errors when resetting an unknown provider", func() {
			g := newGateway(config.Configuration{}, buildRegistry(map[string]any{
				"sina": &fakeQuotes{},
			}))

			err := g.ResetProvider("nonesuch")
			Expect(errors.Is(err, gateway.ErrUnknownProvider)).To(BeTrue())
		})

		It("lists every registered provider from boot", func() {
			g := newGateway(config.Configuration{}, buildRegistry(map[string]any{
				"sina":    &fakeQuotes{},
				"tencent": &fakeQuotes{},
			}))

			names := make([]string, 0, 2)
			for _, s := range g.ProviderStatuses() {
				names = append(names, s.Name)
				Expect(s.State).To(Equal("closed"))
			}
			Expect(names).To(ConsistOf("sina", "tencent"))
		})

		It("reports capabilities from the registered provider set", func() {
			g := newGateway(config.Configuration{}, buildRegistry(map[string]any{
				"sina":      &fakeQuotes{},
				"tencent":   &fakeQuotes{},
				"eastmoney": &fakeNewsSearch{},
			}))

			var quoteProviders, newsProviders []string
			for _, info := range g.Capabilities() {
				switch info.Capability {
				case types.CapRealtimeQuotes:
					quoteProviders = info.Providers
				case types.CapStockNews:
					newsProviders = info.Providers
				}
			}
			Expect(quoteProviders).To(Equal([]string{"sina", "tencent"}))
			Expect(newsProviders).To(Equal([]string{"eastmoney"}))
		})

		It("exposes operation counters through the stats collector", func() {
			g := newGateway(config.Configuration{}, buildRegistry(map[string]any{
				"sina": &fakeQuotes{},
			}))

			_, err := g.RealtimeQuotes(ctx, []string{"sh600519"})
			Expect(err).ToNot(HaveOccurred())

			Eventually(func() string {
				data, err := g.Stats().Json()
				Expect(err).ToNot(HaveOccurred())
				return string(data)
			}, "2s").Should(ContainSubstring("quote_fetches"))
		})
	})
})
