// Package keypool manages pooled provider credentials: weighted round-robin
// selection, daily quota accounting, and transient-error blacklisting.
package keypool

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"

	"golang.org/x/exp/maps"
)

// errorThreshold is the transient error count at which a key stops being
// preferred. When every selectable key for a provider has crossed it, all
// counters reset at once so a transient outage never locks a provider out
// for the process lifetime.
const errorThreshold = 3

const persistQueueSize = 256

// Key is one credential. Operator-configured keys carry their persistence
// id; environment-sourced keys get synthetic negative ids and are never
// written back.
type Key struct {
	ID            int64
	Provider      string
	Secret        string
	Enabled       bool
	Weight        int // >= 1
	DailyLimit    int // 0 = unlimited
	UsedToday     int
	LastResetDate string // "2006-01-02"
}

// selectable reports whether the key may be used at all: enabled and under
// its daily quota.
func (k *Key) selectable() bool {
	return k.Enabled && (k.DailyLimit <= 0 || k.UsedToday < k.DailyLimit)
}

type keyState struct {
	Key
	errorCount int
}

// UsageWriter persists a key's daily usage counter. Implementations must
// tolerate being called from a background goroutine.
type UsageWriter interface {
	UpdateKeyUsage(ctx context.Context, id int64, usedToday int, lastResetDate string) error
}

type usageUpdate struct {
	id        int64
	usedToday int
	lastReset string
}

// Pool holds every provider's keys. All mutating operations are serialized
// by a single mutex; durable quota writes happen on a dedicated goroutine
// so the mutex is never held across I/O.
type Pool struct {
	mu      sync.Mutex
	keys    map[string][]*keyState // provider -> keys in load order
	cursors map[string]uint64      // provider -> monotonic selection cursor

	writer    UsageWriter
	persistCh chan usageUpdate
	done      chan struct{}
	closeOnce sync.Once

	nowFunc func() time.Time
}

// NewPool creates a pool. writer may be nil when nothing should be persisted.
func NewPool(writer UsageWriter) *Pool {
	p := &Pool{
		keys:      make(map[string][]*keyState),
		cursors:   make(map[string]uint64),
		writer:    writer,
		persistCh: make(chan usageUpdate, persistQueueSize),
		done:      make(chan struct{}),
		nowFunc:   time.Now,
	}
	if writer != nil {
		go p.persistLoop()
	}
	return p
}

// SetNowFunc overrides the clock used for daily resets. Tests only.
func (p *Pool) SetNowFunc(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nowFunc = now
}

// Close stops the persistence goroutine. Pending updates are dropped.
func (p *Pool) Close() {
	p.closeOnce.Do(func() { close(p.done) })
}

// Load replaces the pool contents. Keys keep their load order per provider;
// in-memory error counters carry over for keys that survive the reload
// (matched by provider+secret), and selection cursors are preserved.
func (p *Pool) Load(keys []Key) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prevErrors := make(map[string]int)
	for _, states := range p.keys {
		for _, ks := range states {
			prevErrors[ks.Provider+"\x00"+ks.Secret] = ks.errorCount
		}
	}

	p.keys = make(map[string][]*keyState)
	for _, k := range keys {
		if k.Weight < 1 {
			k.Weight = 1
		}
		ks := &keyState{Key: k}
		ks.errorCount = prevErrors[k.Provider+"\x00"+k.Secret]
		p.keys[k.Provider] = append(p.keys[k.Provider], ks)
	}

	total := 0
	for _, states := range p.keys {
		total += len(states)
	}
	logrus.Infof("Key pool loaded: %d key(s) across %d provider(s)", total, len(p.keys))
}

// Next picks the key to use for the provider's next call, or nil when no
// key is usable. Selection is deterministic weighted round robin over the
// preferred keys: conceptually each key appears weight times in an expanded
// list and a per-provider monotonic cursor walks it.
func (p *Pool) Next(provider string) *Key {
	p.mu.Lock()
	defer p.mu.Unlock()

	states := p.keys[provider]
	if len(states) == 0 {
		return nil
	}

	today := p.todayLocked()
	var selectable []*keyState
	for _, ks := range states {
		p.freshenLocked(ks, today)
		if ks.selectable() {
			selectable = append(selectable, ks)
		}
	}
	if len(selectable) == 0 {
		return nil
	}

	preferred := make([]*keyState, 0, len(selectable))
	for _, ks := range selectable {
		if ks.errorCount < errorThreshold {
			preferred = append(preferred, ks)
		}
	}
	if len(preferred) == 0 {
		// Every usable key is error-blacklisted; reset them all rather
		// than locking the provider out for the process lifetime.
		logrus.Warnf("All %d usable key(s) for %s hit the error threshold, resetting counters", len(selectable), provider)
		for _, ks := range selectable {
			ks.errorCount = 0
		}
		preferred = selectable
	}

	totalWeight := 0
	for _, ks := range preferred {
		totalWeight += ks.Weight
	}

	idx := int(p.cursors[provider] % uint64(totalWeight))
	p.cursors[provider]++

	acc := 0
	for _, ks := range preferred {
		acc += ks.Weight
		if idx < acc {
			picked := ks.Key
			return &picked
		}
	}
	// Unreachable: idx < totalWeight by construction.
	picked := preferred[len(preferred)-1].Key
	return &picked
}

// RecordSuccess credits a key after a successful call, easing it back from
// the error threshold. Floor is zero.
func (p *Pool) RecordSuccess(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ks := p.findLocked(id); ks != nil && ks.errorCount > 0 {
		ks.errorCount--
	}
}

// RecordError debits a key after a failed call.
func (p *Pool) RecordError(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ks := p.findLocked(id); ks != nil {
		ks.errorCount++
		if ks.errorCount == errorThreshold {
			logrus.Warnf("Key %d for %s reached the error threshold", ks.ID, ks.Provider)
		}
	}
}

// IncrementUsage counts one call against the key's daily quota. The
// in-memory counter updates immediately under the lock; the durable write
// is queued for the persistence goroutine and never blocks selection.
func (p *Pool) IncrementUsage(ctx context.Context, id int64) {
	p.mu.Lock()
	ks := p.findLocked(id)
	if ks == nil {
		p.mu.Unlock()
		return
	}
	p.freshenLocked(ks, p.todayLocked())
	ks.UsedToday++
	upd := usageUpdate{id: ks.ID, usedToday: ks.UsedToday, lastReset: ks.LastResetDate}
	p.mu.Unlock()

	p.enqueuePersist(upd)
}

// Status is a point-in-time snapshot of one key for diagnostics. The secret
// is included verbatim; callers mask it before exposure.
type Status struct {
	ID         int64
	Provider   string
	Secret     string
	Enabled    bool
	Weight     int
	DailyLimit int
	UsedToday  int
	ErrorCount int
}

// Statuses returns a snapshot of every key, sorted by provider then id.
func (p *Pool) Statuses() []Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	providers := maps.Keys(p.keys)
	sort.Strings(providers)

	var out []Status
	for _, provider := range providers {
		for _, ks := range p.keys[provider] {
			out = append(out, Status{
				ID:         ks.ID,
				Provider:   ks.Provider,
				Secret:     ks.Secret,
				Enabled:    ks.Enabled,
				Weight:     ks.Weight,
				DailyLimit: ks.DailyLimit,
				UsedToday:  ks.UsedToday,
				ErrorCount: ks.errorCount,
			})
		}
	}
	return out
}

func (p *Pool) todayLocked() string {
	return p.nowFunc().Format("2006-01-02")
}

// freshenLocked applies the daily quota reset on first access after a date
// change. Persisted keys get the reset written back.
func (p *Pool) freshenLocked(ks *keyState, today string) {
	if ks.LastResetDate == today {
		return
	}
	ks.UsedToday = 0
	ks.LastResetDate = today
	if ks.ID > 0 {
		p.enqueuePersist(usageUpdate{id: ks.ID, usedToday: 0, lastReset: today})
	}
}

func (p *Pool) findLocked(id int64) *keyState {
	for _, states := range p.keys {
		for _, ks := range states {
			if ks.ID == id {
				return ks
			}
		}
	}
	return nil
}

// enqueuePersist hands an update to the writer goroutine. Best effort: a
// full queue drops the update rather than stalling a selection.
func (p *Pool) enqueuePersist(upd usageUpdate) {
	if p.writer == nil || upd.id <= 0 {
		return
	}
	select {
	case p.persistCh <- upd:
	default:
		logrus.Warnf("Key usage persist queue full, dropping update for key %d", upd.id)
	}
}

func (p *Pool) persistLoop() {
	for {
		select {
		case <-p.done:
			return
		case upd := <-p.persistCh:
			op := func() error {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return p.writer.UpdateKeyUsage(ctx, upd.id, upd.usedToday, upd.lastReset)
			}
			if err := backoff.Retry(op, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)); err != nil {
				logrus.Errorf("Failed to persist usage for key %d: %v", upd.id, err)
			}
		}
	}
}
