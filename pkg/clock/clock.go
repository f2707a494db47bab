// Package clock abstracts time so step timers and simulated work can be
// driven deterministically in tests.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock provides the current time and timer channels.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Real is the wall clock.
type Real struct{}

// New returns the wall clock.
func New() Clock {
	return Real{}
}

// Now returns time.Now in UTC.
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// After wraps time.After.
func (Real) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// Mock is a manually advanced clock. Timers fire only when Advance moves the
// clock past their deadline.
type Mock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []waiter
}

type waiter struct {
	at time.Time
	ch chan time.Time
}

// NewMock creates a mock clock set to start.
func NewMock(start time.Time) *Mock {
	return &Mock{now: start}
}

// Now returns the mock time.
func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// After returns a channel that receives once the clock has advanced by d.
func (m *Mock) After(d time.Duration) <-chan time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan time.Time, 1)
	at := m.now.Add(d)
	if d <= 0 {
		ch <- m.now
		return ch
	}
	m.waiters = append(m.waiters, waiter{at: at, ch: ch})
	return ch
}

// Advance moves the clock forward and fires every timer that is now due.
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	now := m.now

	sort.Slice(m.waiters, func(i, j int) bool {
		return m.waiters[i].at.Before(m.waiters[j].at)
	})
	pending := m.waiters[:0]
	var due []waiter
	for _, w := range m.waiters {
		if w.at.After(now) {
			pending = append(pending, w)
			continue
		}
		due = append(due, w)
	}
	m.waiters = pending
	m.mu.Unlock()

	for _, w := range due {
		w.ch <- now
	}
}

// Waiters returns the number of timers that have not fired yet.
func (m *Mock) Waiters() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiters)
}
