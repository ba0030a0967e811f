// Package failover runs a capability call against an ordered list of
// providers and returns the first validated result. It honors circuit
// breakers, draws pooled api keys for providers that need them, and feeds
// both with the outcome of every attempt.
package failover

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/quantfeed/market-gateway/api/types"
	"github.com/quantfeed/market-gateway/internal/breaker"
	"github.com/quantfeed/market-gateway/internal/keypool"
	"github.com/quantfeed/market-gateway/internal/stats"
)

var (
	// ErrUnsupported marks an operation a provider cannot serve. The
	// executor skips the provider without recording a failure against it.
	ErrUnsupported = errors.New("operation not supported")

	// ErrNoKey means a keyed provider had no usable api key to draw.
	ErrNoKey = errors.New("no usable api key")
)

// ExhaustedError reports that every candidate provider was tried or skipped
// without producing a validated result. Last holds the most recent real
// failure, nil when nothing was even attempted.
type ExhaustedError struct {
	Capability types.Capability
	Attempts   int
	Last       error
}

func (e *ExhaustedError) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("no provider could satisfy %s", e.Capability)
	}
	return fmt.Sprintf("no provider could satisfy %s: %v", e.Capability, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Sourced is implemented by result types that carry the name of the
// provider that produced them. The executor fills it in when left empty.
type Sourced interface {
	SourceName() string
	SetSourceName(string)
}

// Call performs one provider invocation.
type Call[T any] func(ctx context.Context) (T, error)

// KeyedCall performs one provider invocation with a pooled api key.
type KeyedCall[T any] func(ctx context.Context, apiKey string) (T, error)

// Validate rejects results that arrived fine transport-wise but are
// unusable, like an empty quote batch. A validation failure counts against
// the provider's breaker and failover moves on.
type Validate[T any] func(T) error

// Executor ties failover to the shared breaker registry, key pool, and
// stats collector. stats may be nil.
type Executor struct {
	breakers *breaker.Registry
	keys     *keypool.Pool
	stats    *stats.StatsCollector
}

func NewExecutor(breakers *breaker.Registry, keys *keypool.Pool, sc *stats.StatsCollector) *Executor {
	return &Executor{breakers: breakers, keys: keys, stats: sc}
}

// Execute tries each source in order with its entry from calls. Sources
// missing from calls are skipped; that is not an error. An empty source
// list attempts nothing and reports exhaustion straight away.
func Execute[T any](ctx context.Context, ex *Executor, capability types.Capability, sources []string, calls map[string]Call[T], validate Validate[T]) (T, error) {
	return run(ctx, ex, capability, sources, validate, func(name string) (Call[T], bool) {
		call, ok := calls[name]
		return call, ok
	})
}

// ExecuteMethods is Execute with a fallback method per provider: a source
// missing from primary is tried with its secondary entry instead.
func ExecuteMethods[T any](ctx context.Context, ex *Executor, capability types.Capability, sources []string, primary, secondary map[string]Call[T], validate Validate[T]) (T, error) {
	return run(ctx, ex, capability, sources, validate, func(name string) (Call[T], bool) {
		if call, ok := primary[name]; ok {
			return call, true
		}
		call, ok := secondary[name]
		return call, ok
	})
}

func run[T any](ctx context.Context, ex *Executor, capability types.Capability, sources []string, validate Validate[T], pick func(string) (Call[T], bool)) (T, error) {
	var zero T
	var lastErr error
	attempts := 0

	for _, name := range sources {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		call, ok := pick(name)
		if !ok {
			logrus.Debugf("Provider %s has no method for %s, skipping", name, capability)
			continue
		}

		br := ex.breakers.Get(name)
		if !br.CanExecute() {
			logrus.Debugf("Circuit open for %s, skipping", name)
			ex.stats.Add(name, stats.BreakerSkips, 1)
			continue
		}

		result, err := call(ctx)
		if errors.Is(err, ErrUnsupported) {
			logrus.Debugf("Provider %s does not support %s, skipping", name, capability)
			continue
		}
		attempts++

		if err != nil {
			br.RecordFailure()
			ex.stats.Add(name, stats.ProviderErrors, 1)
			lastErr = fmt.Errorf("%s: %w", name, err)
			logrus.Warnf("Provider %s failed for %s: %v", name, capability, err)
			continue
		}
		if validate != nil {
			if verr := validate(result); verr != nil {
				br.RecordFailure()
				ex.stats.Add(name, stats.ValidationFailures, 1)
				lastErr = fmt.Errorf("invalid result from %s: %w", name, verr)
				logrus.Warnf("Provider %s returned an invalid result for %s: %v", name, capability, verr)
				continue
			}
		}

		br.RecordSuccess()
		stamp(result, name)
		logrus.Debugf("Provider %s satisfied %s", name, capability)
		return result, nil
	}

	return zero, &ExhaustedError{Capability: capability, Attempts: attempts, Last: lastErr}
}

// ExecuteKeyed is Execute for providers that consume pooled api keys. Each
// attempt draws a key and counts one call against its daily quota whether
// or not the call succeeds; key error counters move with the outcome.
func ExecuteKeyed[T any](ctx context.Context, ex *Executor, capability types.Capability, sources []string, calls map[string]KeyedCall[T], validate Validate[T]) (T, error) {
	var zero T
	var lastErr error
	attempts := 0

	for _, name := range sources {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		call, ok := calls[name]
		if !ok {
			logrus.Debugf("Provider %s has no method for %s, skipping", name, capability)
			continue
		}

		br := ex.breakers.Get(name)
		if !br.CanExecute() {
			logrus.Debugf("Circuit open for %s, skipping", name)
			ex.stats.Add(name, stats.BreakerSkips, 1)
			continue
		}

		key := ex.keys.Next(name)
		if key == nil {
			logrus.Debugf("No usable api key for %s, skipping", name)
			ex.stats.Add(name, stats.KeyExhausted, 1)
			lastErr = fmt.Errorf("%s: %w", name, ErrNoKey)
			continue
		}

		result, err := call(ctx, key.Secret)
		if errors.Is(err, ErrUnsupported) {
			logrus.Debugf("Provider %s does not support %s, skipping", name, capability)
			continue
		}

		ex.keys.IncrementUsage(ctx, key.ID)
		attempts++

		if err != nil {
			br.RecordFailure()
			ex.keys.RecordError(key.ID)
			ex.stats.Add(name, stats.ProviderErrors, 1)
			lastErr = fmt.Errorf("%s: %w", name, err)
			logrus.Warnf("Provider %s failed for %s: %v", name, capability, err)
			continue
		}
		if validate != nil {
			if verr := validate(result); verr != nil {
				br.RecordFailure()
				ex.stats.Add(name, stats.ValidationFailures, 1)
				lastErr = fmt.Errorf("invalid result from %s: %w", name, verr)
				logrus.Warnf("Provider %s returned an invalid result for %s: %v", name, capability, verr)
				continue
			}
		}

		br.RecordSuccess()
		ex.keys.RecordSuccess(key.ID)
		stamp(result, name)
		logrus.Debugf("Provider %s satisfied %s", name, capability)
		return result, nil
	}

	return zero, &ExhaustedError{Capability: capability, Attempts: attempts, Last: lastErr}
}

// stamp fills the result's source field when the provider left it empty.
func stamp(result any, name string) {
	if s, ok := result.(Sourced); ok && s.SourceName() == "" {
		s.SetSourceName(name)
	}
}
