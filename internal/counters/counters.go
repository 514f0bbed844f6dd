// Package counters resolves wildcard performance-counter path patterns
// into concrete counter handles and samples their formatted values.
//
// Pattern syntax is the host subsystem's object/instance/counter triple,
// e.g. `\GPU Engine(*)\Utilization Percentage`. Patterns are expanded
// once per session; a pattern that fails to resolve stays unavailable
// until explicit reconfiguration.
package counters

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"npu_exporter/internal/logger"

	plog "github.com/phuslu/log"
)

var (
	// ErrSubsystemUnavailable means the counter subsystem itself could
	// not be opened. The dependent feature is disabled for the session.
	ErrSubsystemUnavailable = errors.New("counter subsystem unavailable")

	// ErrPatternNotFound means the subsystem is present but the pattern
	// expanded to zero concrete paths.
	ErrPatternNotFound = errors.New("counter pattern matched no paths")
)

// Subsystem abstracts the host performance-counter API so the sampler
// can be exercised without the OS dependency.
type Subsystem interface {
	// Expand resolves a wildcard pattern into concrete counter paths.
	// An empty result with a nil error means the pattern matched nothing.
	Expand(pattern string) ([]string, error)

	// NewQuery opens a counter query to attach paths to.
	NewQuery() (Query, error)
}

// Query is an open counter query.
type Query interface {
	Add(path string) (Counter, error)
	Collect() error
	Close() error
}

// Counter reads the formatted value of one attached counter.
type Counter interface {
	Value() (float64, error)
}

// Resolve expands a wildcard pattern into concrete counter paths.
// Expansion happens once per session; callers latch the result.
func Resolve(sub Subsystem, pattern string) ([]string, error) {
	paths, err := sub.Expand(pattern)
	if err != nil {
		return nil, fmt.Errorf("expanding %q: %w", pattern, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%q: %w", pattern, ErrPatternNotFound)
	}
	return paths, nil
}

// InstanceLabel extracts the instance label from a concrete counter
// path: the text between the first matching parentheses, or the full
// path when there are none. Downstream keyword filtering depends on
// this exact extraction.
func InstanceLabel(path string) string {
	open := strings.IndexByte(path, '(')
	if open < 0 {
		return path
	}
	end := strings.IndexByte(path[open:], ')')
	if end < 0 {
		return path
	}
	return path[open+1 : open+end]
}

type attachedCounter struct {
	counter Counter
	label   string
}

// Reader holds a set of attached counters for one pattern and samples
// their values on demand.
type Reader struct {
	query    Query
	counters []attachedCounter
	settle   time.Duration
	log      plog.Logger

	// sleep is swapped out in tests to avoid real delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// Open attaches the given concrete paths to a new query. Per-path
// attach failures are skipped; only an empty resulting handle set is a
// hard failure, reported as ErrSubsystemUnavailable so the caller marks
// the feature unavailable for the session.
func Open(sub Subsystem, paths []string, settle time.Duration) (*Reader, error) {
	query, err := sub.NewQuery()
	if err != nil {
		return nil, fmt.Errorf("opening counter query: %w", errors.Join(ErrSubsystemUnavailable, err))
	}

	r := &Reader{
		query:  query,
		settle: settle,
		log:    logger.NewLoggerWithContext("counters"),
		sleep:  sleepContext,
	}

	for _, path := range paths {
		counter, err := query.Add(path)
		if err != nil {
			r.log.Debug().Str("path", path).Err(err).Msg("Skipping counter that failed to attach")
			continue
		}
		r.counters = append(r.counters, attachedCounter{
			counter: counter,
			label:   InstanceLabel(path),
		})
	}

	if len(r.counters) == 0 {
		query.Close()
		return nil, fmt.Errorf("no counters attached from %d paths: %w", len(paths), ErrSubsystemUnavailable)
	}

	r.log.Debug().
		Int("attached", len(r.counters)).
		Int("requested", len(paths)).
		Msg("Counter reader opened")
	return r, nil
}

// Len returns the number of attached counters.
func (r *Reader) Len() int {
	return len(r.counters)
}

// Sample performs two collections separated by the settle delay and
// returns a label to value map. Rate counters compute percentages from
// the delta between the two collections, so the delay is required.
//
// Any transient failure yields an empty map, never an error; the next
// tick retries. Per-counter formatting failures are skipped.
func (r *Reader) Sample(ctx context.Context) map[string]float64 {
	if err := r.query.Collect(); err != nil {
		r.log.Debug().Err(err).Msg("First collection failed, skipping tick")
		return map[string]float64{}
	}
	if err := r.sleep(ctx, r.settle); err != nil {
		return map[string]float64{}
	}
	if err := r.query.Collect(); err != nil {
		r.log.Debug().Err(err).Msg("Second collection failed, skipping tick")
		return map[string]float64{}
	}

	values := make(map[string]float64, len(r.counters))
	for _, c := range r.counters {
		v, err := c.counter.Value()
		if err != nil {
			// A counter can legitimately have no data on a given pair
			// of collections (instance went away, first interval).
			continue
		}
		values[c.label] = v
	}
	return values
}

// Close releases the query and all attached counters.
func (r *Reader) Close() {
	if err := r.query.Close(); err != nil {
		r.log.Debug().Err(err).Msg("Closing counter query failed")
	}
}

// sleepContext waits for d, returning early with the context error on
// cancellation so a stopping monitor never blocks on the settle delay.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
