package loop

import (
	"sort"
	"time"
)

// Manual is a Scheduler driven by virtual time. Timers fire only from
// Advance; Go, Post and Call run inline on the caller's goroutine. It is not
// safe for concurrent use.
type Manual struct {
	now    time.Time
	seq    int
	timers []*manualTimer
}

type manualTimer struct {
	m       *Manual
	due     time.Time
	every   time.Duration
	seq     int
	f       func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	if t.stopped {
		return false
	}
	t.stopped = true
	t.m.remove(t)
	return true
}

// NewManual returns a scheduler whose clock starts at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the virtual clock.
func (m *Manual) Now() time.Time { return m.now }

// AfterFunc registers f to run once the clock passes now+d.
func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	return m.add(d, 0, f)
}

// Every registers f to run each time d elapses.
func (m *Manual) Every(d time.Duration, f func()) Timer {
	return m.add(d, d, f)
}

// Go runs work and then inline.
func (m *Manual) Go(work func(), then func()) {
	work()
	then()
}

// Post runs f inline.
func (m *Manual) Post(f func()) { f() }

// Call runs f inline.
func (m *Manual) Call(f func()) { f() }

// Pending reports how many timers are armed.
func (m *Manual) Pending() int { return len(m.timers) }

// Advance moves the clock forward by d, running every timer that comes due in
// due order. Timers armed by callbacks also fire if they fall inside the window.
func (m *Manual) Advance(d time.Duration) {
	target := m.now.Add(d)
	for {
		if len(m.timers) == 0 {
			break
		}
		next := m.timers[0]
		if next.due.After(target) {
			break
		}
		m.now = next.due
		if next.every > 0 {
			next.due = next.due.Add(next.every)
			m.seq++
			next.seq = m.seq
			m.sort()
		} else {
			next.stopped = true
			m.timers = m.timers[1:]
		}
		next.f()
	}
	m.now = target
}

func (m *Manual) add(d, every time.Duration, f func()) *manualTimer {
	m.seq++
	t := &manualTimer{m: m, due: m.now.Add(d), every: every, seq: m.seq, f: f}
	m.timers = append(m.timers, t)
	m.sort()
	return t
}

func (m *Manual) remove(t *manualTimer) {
	for i, cur := range m.timers {
		if cur == t {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			return
		}
	}
}

func (m *Manual) sort() {
	sort.SliceStable(m.timers, func(i, j int) bool {
		if m.timers[i].due.Equal(m.timers[j].due) {
			return m.timers[i].seq < m.timers[j].seq
		}
		return m.timers[i].due.Before(m.timers[j].due)
	})
}
