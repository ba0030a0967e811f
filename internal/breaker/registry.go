package breaker

import (
	"sort"
	"sync"
	"time"

	"golang.org/x/exp/maps"
)

// settings are the per-provider overrides loaded from operator configuration.
type settings struct {
	failureThreshold int
	cooldown         time.Duration
}

// Registry owns every breaker in the process, keyed by provider name.
// Breakers are created lazily on first reference, including for provider
// names that appear in no static default list.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	settings map[string]settings
	nowFunc  func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		settings: make(map[string]settings),
		nowFunc:  time.Now,
	}
}

// SetNowFunc overrides the clock handed to newly created breakers. Tests only.
func (r *Registry) SetNowFunc(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nowFunc = now
	for _, b := range r.breakers {
		b.SetNowFunc(now)
	}
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	cfg := r.settings[name]
	b = New(name, cfg.failureThreshold, cfg.cooldown)
	b.nowFunc = r.nowFunc
	r.breakers[name] = b
	return b
}

// Configure records the operator's threshold/cooldown for name and applies
// it to the live breaker if one already exists. Counters are not disturbed.
func (r *Registry) Configure(name string, failureThreshold int, cooldown time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.settings[name] = settings{failureThreshold: failureThreshold, cooldown: cooldown}
	if b, ok := r.breakers[name]; ok {
		b.configure(failureThreshold, cooldown)
	}
}

// Reset closes the named breaker. It reports false when no breaker has ever
// been created for name.
func (r *Registry) Reset(name string) bool {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	b.Reset()
	return true
}

// Statuses returns a snapshot of every breaker, sorted by provider name.
func (r *Registry) Statuses() []Status {
	r.mu.RLock()
	names := maps.Keys(r.breakers)
	breakers := make([]*Breaker, 0, len(names))
	sort.Strings(names)
	for _, n := range names {
		breakers = append(breakers, r.breakers[n])
	}
	r.mu.RUnlock()

	out := make([]Status, 0, len(breakers))
	for _, b := range breakers {
		out = append(out, b.Status())
	}
	return out
}
