//go:build windows

package counters

import (
	"errors"
	"fmt"

	"npu_exporter/internal/pdh"
)

// PDHSubsystem implements Subsystem on top of the Windows Performance
// Data Helper API.
type PDHSubsystem struct{}

// NewPDHSubsystem returns the PDH-backed counter subsystem.
func NewPDHSubsystem() *PDHSubsystem {
	return &PDHSubsystem{}
}

// Expand resolves a wildcard counter path via PdhExpandWildCardPathW.
// A pattern whose object does not exist on this host expands to zero
// paths rather than an error; the caller turns that into
// ErrPatternNotFound.
func (s *PDHSubsystem) Expand(pattern string) ([]string, error) {
	paths, err := pdh.ExpandWildcardPath(pattern)
	if err != nil {
		var status pdh.Errno
		if errors.As(err, &status) {
			if status.IsObjectMissing() || status == pdh.CstatusNoCounter {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("%w: %w", ErrSubsystemUnavailable, err)
	}
	return paths, nil
}

// NewQuery opens a PDH query.
func (s *PDHSubsystem) NewQuery() (Query, error) {
	q, err := pdh.OpenQuery()
	if err != nil {
		return nil, err
	}
	return pdhQuery{q}, nil
}

type pdhQuery struct {
	q pdh.Query
}

func (p pdhQuery) Add(path string) (Counter, error) {
	c, err := p.q.AddEnglishCounter(path)
	if err != nil {
		return nil, err
	}
	return pdhCounter{c}, nil
}

func (p pdhQuery) Collect() error {
	return p.q.Collect()
}

func (p pdhQuery) Close() error {
	return p.q.Close()
}

type pdhCounter struct {
	c pdh.Counter
}

func (p pdhCounter) Value() (float64, error) {
	return p.c.FormattedDouble()
}
