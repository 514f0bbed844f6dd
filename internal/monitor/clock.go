package monitor

import "time"

// Ticker delivers periodic ticks. It mirrors time.Ticker behind an
// interface so the loop cadence can be driven from tests.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

// Clock supplies wall time and tickers.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// RealClock returns the wall clock.
func RealClock() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (t realTicker) Chan() <-chan time.Time { return t.t.C }

func (t realTicker) Stop() { t.t.Stop() }
