// Package aggregate turns raw engine-instance utilization maps into a
// bounded summary: one representative overall value plus a top-k
// ranking, after keyword filtering.
package aggregate

import (
	"math"
	"sort"
	"strings"
)

// TopK is the maximum number of ranked entries in a Summary.
const TopK = 5

// Entry is one ranked engine instance.
type Entry struct {
	Label string
	Value float64
}

// Summary is the aggregated view of one engine class for a tick.
// Overall and every top entry value are clamped to [0, 100].
type Summary struct {
	Overall float64
	Top     []Entry
}

// Options controls filtering and the overall-value policy.
type Options struct {
	// Include keeps only labels containing at least one keyword
	// (case-insensitive). Empty means keep everything.
	Include []string

	// Exclude drops labels containing any keyword (case-insensitive).
	Exclude []string

	// ParallelEngines selects max() as the overall policy. Engines that
	// can each independently reach full utilization (compute-class
	// accelerator engines) should register high overall when a single
	// engine saturates, which a mean would mask. When false the overall
	// is the mean of the top entries, bounding distortion from many
	// near-zero instances.
	ParallelEngines bool
}

// Summarize filters a raw instance-to-value map and computes the
// overall value and top-k ranking. NaN and negative entries are
// dropped. An empty filtered set yields (0, nil).
func Summarize(raw map[string]float64, opts Options) Summary {
	filtered := make([]Entry, 0, len(raw))
	for label, value := range raw {
		if math.IsNaN(value) || value < 0 {
			continue
		}
		if !matchesKeywords(label, opts.Include, opts.Exclude) {
			continue
		}
		filtered = append(filtered, Entry{Label: label, Value: value})
	}

	if len(filtered) == 0 {
		return Summary{}
	}

	// Value descending, label ascending on ties, so identical input
	// always produces identical output.
	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].Value != filtered[j].Value {
			return filtered[i].Value > filtered[j].Value
		}
		return filtered[i].Label < filtered[j].Label
	})

	top := filtered
	if len(top) > TopK {
		top = top[:TopK]
	}

	var overall float64
	if opts.ParallelEngines {
		overall = filtered[0].Value // already sorted descending
	} else {
		sum := 0.0
		for _, e := range top {
			sum += e.Value
		}
		overall = sum / float64(len(top))
	}

	out := Summary{
		Overall: clamp(overall),
		Top:     make([]Entry, len(top)),
	}
	for i, e := range top {
		out.Top[i] = Entry{Label: e.Label, Value: clamp(e.Value)}
	}
	return out
}

func matchesKeywords(label string, include, exclude []string) bool {
	lower := strings.ToLower(label)
	if len(include) > 0 {
		found := false
		for _, kw := range include {
			if strings.Contains(lower, strings.ToLower(kw)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, kw := range exclude {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return false
		}
	}
	return true
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
