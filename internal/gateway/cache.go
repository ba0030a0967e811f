package gateway

import (
	"container/list"
	"sync"
	"time"
)

const defaultCacheMaxSize = 1024

// cacheEntry is one cached result together with its position in the
// eviction order.
type cacheEntry[T any] struct {
	key       string
	result    T
	timestamp time.Time
	element   *list.Element
}

// resultCache is a small LRU with age-based expiry, shared by the quote and
// kline caches. Entries expire maxAge after they were stored and the oldest
// entries are evicted once maxSize is exceeded.
type resultCache[T any] struct {
	lock    sync.Mutex
	entries map[string]*cacheEntry[T]
	order   *list.List
	maxSize int
	maxAge  time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

func newResultCache[T any](maxSize int, maxAge time.Duration) *resultCache[T] {
	if maxSize <= 0 {
		maxSize = defaultCacheMaxSize
	}
	if maxAge <= 0 {
		maxAge = 60 * time.Second
	}

	rc := &resultCache[T]{
		entries: make(map[string]*cacheEntry[T]),
		order:   list.New(),
		maxSize: maxSize,
		maxAge:  maxAge,
		stop:    make(chan struct{}),
	}
	go rc.periodicCleanup()
	return rc
}

// Close stops the background cleanup goroutine.
func (rc *resultCache[T]) Close() {
	rc.stopOnce.Do(func() { close(rc.stop) })
}

// Set stores a result, refreshing its timestamp and eviction position when
// the key already exists.
func (rc *resultCache[T]) Set(key string, result T) {
	rc.lock.Lock()
	defer rc.lock.Unlock()

	if entry, exists := rc.entries[key]; exists {
		entry.result = result
		entry.timestamp = time.Now()
		rc.order.MoveToBack(entry.element)
		return
	}

	entry := &cacheEntry[T]{
		key:       key,
		result:    result,
		timestamp: time.Now(),
	}
	entry.element = rc.order.PushBack(entry)
	rc.entries[key] = entry

	for len(rc.entries) > rc.maxSize {
		oldest := rc.order.Front()
		if oldest == nil {
			break
		}
		rc.removeLocked(oldest.Value.(*cacheEntry[T]))
	}
}

// Get returns the cached result for key if present and not expired. Expired
// entries are removed on the way out.
func (rc *resultCache[T]) Get(key string) (T, bool) {
	rc.lock.Lock()
	defer rc.lock.Unlock()

	var zero T
	entry, exists := rc.entries[key]
	if !exists {
		return zero, false
	}
	if time.Since(entry.timestamp) > rc.maxAge {
		rc.removeLocked(entry)
		return zero, false
	}
	return entry.result, true
}

func (rc *resultCache[T]) removeLocked(entry *cacheEntry[T]) {
	rc.order.Remove(entry.element)
	delete(rc.entries, entry.key)
}

func (rc *resultCache[T]) periodicCleanup() {
	ticker := time.NewTicker(rc.maxAge / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rc.cleanupExpired()
		case <-rc.stop:
			return
		}
	}
}

func (rc *resultCache[T]) cleanupExpired() {
	rc.lock.Lock()
	defer rc.lock.Unlock()

	cutoff := time.Now().Add(-rc.maxAge)
	for e := rc.order.Front(); e != nil; {
		next := e.Next()
		entry := e.Value.(*cacheEntry[T])
		if entry.timestamp.Before(cutoff) {
			rc.removeLocked(entry)
		}
		e = next
	}
}
