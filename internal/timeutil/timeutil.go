// Package timeutil abstracts time access for components that schedule
// retransmits, probes, and playout deadlines, so tests can drive them
// deterministically.
package timeutil

import (
	"sync"
	"time"
)

// Provider is an interface for getting the current time and creating tickers.
// This allows injecting a mock provider for deterministic testing.
type Provider interface {
	// Now returns the current time.
	Now() time.Time
	// NewTicker creates a new ticker that fires at the given interval.
	NewTicker(d time.Duration) *time.Ticker
	// NewTimer creates a new timer that fires after the given duration.
	NewTimer(d time.Duration) *time.Timer
}

// RealProvider implements Provider using the actual system clock.
type RealProvider struct{}

// Now returns the current system time.
func (RealProvider) Now() time.Time {
	return time.Now()
}

// NewTicker creates a new ticker using the standard library.
func (RealProvider) NewTicker(d time.Duration) *time.Ticker {
	return time.NewTicker(d)
}

// NewTimer creates a new timer using the standard library.
func (RealProvider) NewTimer(d time.Duration) *time.Timer {
	return time.NewTimer(d)
}

// Or returns the given provider if non-nil, otherwise the real clock.
func Or(p Provider) Provider {
	if p != nil {
		return p
	}
	return RealProvider{}
}

// MockProvider is a Provider whose clock only moves when Advance is called.
// Tickers and timers created from it fire on the wall clock and are not
// suitable for mock-driven tests; timing logic under test should compare
// timestamps from Now instead of waiting on timer channels.
type MockProvider struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockProvider creates a mock provider starting at the given instant.
func NewMockProvider(start time.Time) *MockProvider {
	return &MockProvider{now: start}
}

// Now returns the mock current time.
func (m *MockProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock clock forward by d.
func (m *MockProvider) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// NewTicker creates a wall-clock ticker.
func (m *MockProvider) NewTicker(d time.Duration) *time.Ticker {
	return time.NewTicker(d)
}

// NewTimer creates a wall-clock timer.
func (m *MockProvider) NewTimer(d time.Duration) *time.Timer {
	return time.NewTimer(d)
}
