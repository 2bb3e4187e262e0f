package voyager

import "time"

// Clock abstracts time so TTLs and timeouts are deterministic in tests,
// per the Design Notes' "inject a clock capability" guidance.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// systemClock is the production Clock backed by the real wall clock.
type systemClock struct{}

func (systemClock) Now() time.Time                  { return time.Now() }
func (systemClock) Since(t time.Time) time.Duration { return time.Since(t) }

// SystemClock is the default Clock used outside of tests.
var SystemClock Clock = systemClock{}

// FakeClock is a manually-advanced Clock for deterministic tests.
type FakeClock struct {
	t time.Time
}

// NewFakeClock returns a FakeClock starting at t.
func NewFakeClock(t time.Time) *FakeClock { return &FakeClock{t: t} }

func (f *FakeClock) Now() time.Time { return f.t }

func (f *FakeClock) Since(t time.Time) time.Duration { return f.t.Sub(t) }

// Advance moves the clock forward by d.
func (f *FakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }
