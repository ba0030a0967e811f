// Package breaker implements the per-provider circuit breaker that gates
// traffic to repeatedly-failing providers and probes them cautiously after
// a cooldown.
package breaker

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State is the breaker's position in its lifecycle.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

const (
	// DefaultFailureThreshold is the number of consecutive failures that
	// trips a breaker.
	DefaultFailureThreshold = 3
	// DefaultCooldown is how long an open breaker rejects traffic before
	// allowing a probe.
	DefaultCooldown = 300 * time.Second
	// DefaultProbeBudget is how many calls a half-open breaker admits
	// before it must be credited or re-tripped.
	DefaultProbeBudget = 1
)

// Breaker tracks consecutive failures for a single provider. All methods
// are safe for concurrent use. It performs no I/O.
type Breaker struct {
	mu sync.Mutex

	name             string
	state            State
	failureCount     int
	failureThreshold int
	cooldown         time.Duration
	probeBudget      int
	probesLeft       int
	lastFailureAt    time.Time

	nowFunc func() time.Time
}

// New creates a closed breaker for the named provider.
func New(name string, failureThreshold int, cooldown time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Breaker{
		name:             name,
		state:            StateClosed,
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		probeBudget:      DefaultProbeBudget,
		nowFunc:          time.Now,
	}
}

// SetNowFunc overrides the clock. Tests only.
func (b *Breaker) SetNowFunc(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nowFunc = now
}

// CanExecute reports whether a call may be sent to this provider right now.
// An open breaker whose cooldown has elapsed advances to half-open here;
// each half-open admission consumes one unit of probe budget.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.nowFunc().Sub(b.lastFailureAt) >= b.cooldown {
		b.state = StateHalfOpen
		b.probesLeft = b.probeBudget
		logrus.Infof("Circuit for %s cooled down, probing", b.name)
	}

	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		if b.probesLeft > 0 {
			b.probesLeft--
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess credits the provider. A half-open success closes the
// breaker; a closed success forgives accumulated failures so that only
// consecutive failures ever trip it.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.state = StateClosed
		b.failureCount = 0
		b.lastFailureAt = time.Time{}
		logrus.Infof("Circuit for %s closed after successful probe", b.name)
	case StateClosed:
		b.failureCount = 0
	}
}

// RecordFailure debits the provider. A half-open failure re-trips the
// breaker immediately; a closed breaker opens once the consecutive failure
// count reaches the threshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.nowFunc()
	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.lastFailureAt = now
		logrus.Warnf("Circuit for %s re-opened by failed probe", b.name)
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.failureThreshold {
			b.state = StateOpen
			b.lastFailureAt = now
			logrus.Warnf("Circuit for %s opened after %d consecutive failures", b.name, b.failureCount)
		}
	case StateOpen:
		b.failureCount++
		b.lastFailureAt = now
	}
}

// Reset returns the breaker to closed with a clean slate, regardless of
// prior state. Used by the administrative reset action.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failureCount = 0
	b.lastFailureAt = time.Time{}
	b.probesLeft = 0
	logrus.Infof("Circuit for %s reset", b.name)
}

// configure updates thresholds without disturbing the current state.
func (b *Breaker) configure(failureThreshold int, cooldown time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if failureThreshold > 0 {
		b.failureThreshold = failureThreshold
	}
	if cooldown > 0 {
		b.cooldown = cooldown
	}
}

// Status is a point-in-time snapshot for diagnostics.
type Status struct {
	Name             string
	State            State
	FailureCount     int
	FailureThreshold int
	Cooldown         time.Duration
	LastFailureAt    time.Time
}

// Status reports the breaker's current position. The state shown is the
// lazily-advanced one: an open breaker past its cooldown reads as half-open.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.state
	if state == StateOpen && b.nowFunc().Sub(b.lastFailureAt) >= b.cooldown {
		state = StateHalfOpen
	}
	return Status{
		Name:             b.name,
		State:            state,
		FailureCount:     b.failureCount,
		FailureThreshold: b.failureThreshold,
		Cooldown:         b.cooldown,
		LastFailureAt:    b.lastFailureAt,
	}
}
