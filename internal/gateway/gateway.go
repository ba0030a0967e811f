// Package gateway wires the provider registry, source resolver, circuit
// breakers, key pool and failover executor into the operations exposed over
// the API.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quantfeed/market-gateway/api/types"
	"github.com/quantfeed/market-gateway/internal/breaker"
	"github.com/quantfeed/market-gateway/internal/config"
	"github.com/quantfeed/market-gateway/internal/failover"
	"github.com/quantfeed/market-gateway/internal/keypool"
	"github.com/quantfeed/market-gateway/internal/providers"
	"github.com/quantfeed/market-gateway/internal/providers/brave"
	"github.com/quantfeed/market-gateway/internal/providers/eastmoney"
	"github.com/quantfeed/market-gateway/internal/providers/serper"
	"github.com/quantfeed/market-gateway/internal/providers/sina"
	"github.com/quantfeed/market-gateway/internal/providers/tavily"
	"github.com/quantfeed/market-gateway/internal/providers/tencent"
	"github.com/quantfeed/market-gateway/internal/providers/webfetch"
	"github.com/quantfeed/market-gateway/internal/sourcing"
	"github.com/quantfeed/market-gateway/internal/stats"
	"github.com/quantfeed/market-gateway/internal/store"
)

// ErrUnknownProvider is returned when an operation names a provider the
// gateway has never heard of.
var ErrUnknownProvider = errors.New("unknown provider")

// Storage is the slice of the config store the gateway needs. *store.Store
// satisfies it.
type Storage interface {
	ListProviderConfigs(ctx context.Context) ([]store.ProviderConfig, error)
	ListSearchKeys(ctx context.Context) ([]store.SearchKey, error)
	keypool.UsageWriter
}

// Gateway owns every moving part of the data plane. All fields are set at
// construction; the snapshot pointer is the only thing swapped afterwards,
// under mu, by Reload.
type Gateway struct {
	config  config.Configuration
	storage Storage

	registry *providers.Registry
	breakers *breaker.Registry
	keys     *keypool.Pool
	executor *failover.Executor
	stats    *stats.StatsCollector

	mu       sync.RWMutex
	snapshot *sourcing.Snapshot

	quoteCache *resultCache[*types.QuoteBatch]
	klineCache *resultCache[*types.KlineSeries]

	blacklist       []string
	providerTimeout time.Duration
}

// Option adjusts gateway construction. Used by tests to inject fakes.
type Option func(*Gateway)

// WithRegistry replaces the default provider set.
func WithRegistry(r *providers.Registry) Option {
	return func(g *Gateway) { g.registry = r }
}

// WithNowFunc overrides the clock used by the circuit breakers and the key
// pool.
func WithNowFunc(now func() time.Time) Option {
	return func(g *Gateway) {
		g.breakers.SetNowFunc(now)
		g.keys.SetNowFunc(now)
	}
}

// New builds a gateway from configuration and the config store, registers
// the default providers unless an option supplied a registry, and performs
// the initial configuration load.
func New(ctx context.Context, jc config.Configuration, storage Storage, opts ...Option) (*Gateway, error) {
	g := &Gateway{
		config:          jc,
		storage:         storage,
		breakers:        breaker.NewRegistry(),
		keys:            keypool.NewPool(storage),
		stats:           stats.StartCollector(jc.GetUint("stats_buf_size", 128)),
		blacklist:       jc.GetStringSlice("webfetch_blacklist", nil),
		providerTimeout: jc.GetDuration("provider_timeout", 10),
		quoteCache:      newResultCache[*types.QuoteBatch](jc.GetInt("cache_max_entries", defaultCacheMaxSize), jc.GetDuration("quote_cache_ttl", 3)),
		klineCache:      newResultCache[*types.KlineSeries](jc.GetInt("cache_max_entries", defaultCacheMaxSize), jc.GetDuration("kline_cache_ttl", 300)),
	}
	g.executor = failover.NewExecutor(g.breakers, g.keys, g.stats)

	for _, opt := range opts {
		opt(g)
	}
	if g.registry == nil {
		registry, err := defaultProviders(jc)
		if err != nil {
			g.Close()
			return nil, err
		}
		g.registry = registry
	}

	if err := g.Reload(ctx); err != nil {
		g.Close()
		return nil, err
	}

	// materialize a breaker per registered provider so diagnostics show
	// every provider from boot, not just the ones already exercised
	for _, name := range g.registry.Names() {
		g.breakers.Get(name)
	}

	g.stats.SetCapabilities(g.Capabilities())
	logrus.Infof("Gateway initialized with %d provider(s)", len(g.registry.Names()))
	return g, nil
}

// defaultProviders builds the production provider set.
func defaultProviders(jc config.Configuration) (*providers.Registry, error) {
	timeout := jc.GetDuration("provider_timeout", 10)
	registry := providers.NewRegistry()

	registrations := []struct {
		name     string
		provider any
	}{
		{"sina", sina.New(timeout)},
		{"tencent", tencent.New(timeout)},
		{"eastmoney", eastmoney.New(timeout)},
		{"tavily", tavily.New(timeout)},
		{"brave", brave.New(timeout)},
		{"serper", serper.New(timeout)},
		{webfetch.Name, webfetch.New(jc.GetStringSlice("webfetch_blacklist", nil), timeout)},
	}
	for _, r := range registrations {
		if err := registry.Register(r.name, r.provider); err != nil {
			return nil, fmt.Errorf("registering %s: %w", r.name, err)
		}
	}
	return registry, nil
}

// Reload re-reads provider rows and key rows from the store, rebuilding the
// source-selection snapshot, breaker settings and the key pool. Runtime
// breaker state and in-memory key counters survive a reload.
func (g *Gateway) Reload(ctx context.Context) error {
	rows, err := g.storage.ListProviderConfigs(ctx)
	if err != nil {
		return fmt.Errorf("error loading provider configs: %w", err)
	}
	settings := make([]sourcing.ProviderSetting, 0, len(rows))
	for _, row := range rows {
		settings = append(settings, sourcing.ProviderSetting{
			Name:     row.ProviderName,
			Enabled:  row.Enabled,
			Priority: row.Priority,
		})
		g.breakers.Configure(row.ProviderName, row.FailureThreshold, time.Duration(row.CooldownSeconds)*time.Second)
	}
	snapshot := sourcing.NewSnapshot(settings)

	dbKeys, err := g.storage.ListSearchKeys(ctx)
	if err != nil {
		return fmt.Errorf("error loading search keys: %w", err)
	}
	keys := make([]keypool.Key, 0, len(dbKeys))
	persisted := make(map[string]bool, len(dbKeys))
	for _, k := range dbKeys {
		persisted[k.Engine] = true
		keys = append(keys, keypool.Key{
			ID:            k.ID,
			Provider:      k.Engine,
			Secret:        k.APIKey,
			Enabled:       k.Enabled,
			Weight:        k.Weight,
			DailyLimit:    k.DailyLimit,
			UsedToday:     k.UsedToday,
			LastResetDate: k.LastResetDate,
		})
	}
	keys = append(keys, g.envKeys(persisted)...)
	g.keys.Load(keys)

	g.mu.Lock()
	g.snapshot = snapshot
	g.mu.Unlock()

	logrus.Infof("Configuration loaded: %d provider row(s), %d search key(s)", len(rows), len(keys))
	return nil
}

// envKeys builds fallback pool entries from <ENGINE>_API_KEYS for engines
// with no persisted keys. The synthetic negative ids keep them away from the
// usage writer, so environment keys are never written to the store.
func (g *Gateway) envKeys(persisted map[string]bool) []keypool.Key {
	var out []keypool.Key
	id := int64(-1)
	for _, engine := range defaultSources[types.CapWebSearch] {
		if persisted[engine] {
			continue
		}
		for _, secret := range g.config.EngineAPIKeys(engine) {
			out = append(out, keypool.Key{
				ID:       id,
				Provider: engine,
				Secret:   secret,
				Enabled:  true,
				Weight:   1,
			})
			id--
		}
	}
	return out
}

// resolve returns the source order for a capability under the current
// snapshot. The allowed set and the default order coincide for every
// capability today, so the same list serves as both.
func (g *Gateway) resolve(capability types.Capability) []string {
	g.mu.RLock()
	snapshot := g.snapshot
	g.mu.RUnlock()

	order := defaultSources[capability]
	return snapshot.Resolve(order, order)
}

// blacklisted reports whether the URL matches a configured blacklist term.
// Checked before failover so a refused URL never counts against the
// fetcher's breaker.
func (g *Gateway) blacklisted(url string) bool {
	for _, term := range g.blacklist {
		if term != "" && strings.Contains(url, term) {
			return true
		}
	}
	return false
}

// ProviderStatuses reports every provider's circuit breaker position.
func (g *Gateway) ProviderStatuses() []types.ProviderStatus {
	statuses := g.breakers.Statuses()
	out := make([]types.ProviderStatus, 0, len(statuses))
	for _, s := range statuses {
		ps := types.ProviderStatus{
			Name:             s.Name,
			State:            s.State.String(),
			FailureCount:     s.FailureCount,
			FailureThreshold: s.FailureThreshold,
			CooldownSeconds:  int(s.Cooldown / time.Second),
		}
		if !s.LastFailureAt.IsZero() {
			t := s.LastFailureAt
			ps.LastFailureAt = &t
		}
		out = append(out, ps)
	}
	return out
}

// KeyStatuses reports every pooled credential with its secret masked.
func (g *Gateway) KeyStatuses() []types.KeyStatus {
	statuses := g.keys.Statuses()
	out := make([]types.KeyStatus, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, types.KeyStatus{
			ID:         s.ID,
			Provider:   s.Provider,
			Key:        maskSecret(s.Secret),
			Enabled:    s.Enabled,
			Weight:     s.Weight,
			DailyLimit: s.DailyLimit,
			UsedToday:  s.UsedToday,
			ErrorCount: s.ErrorCount,
		})
	}
	return out
}

// maskSecret leaves just enough of a key to recognize it.
func maskSecret(secret string) string {
	if len(secret) <= 8 {
		return "********"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}

// ResetProvider force-closes a provider's circuit breaker.
func (g *Gateway) ResetProvider(name string) error {
	if g.registry.Has(name) {
		g.breakers.Get(name).Reset()
		return nil
	}
	if g.breakers.Reset(name) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownProvider, name)
}

// Stats exposes the collector for the API layer.
func (g *Gateway) Stats() *stats.StatsCollector {
	return g.stats
}

// Close releases the gateway's background goroutines and flushes pending
// key-usage writes.
func (g *Gateway) Close() {
	g.quoteCache.Close()
	g.klineCache.Close()
	g.keys.Close()
}
