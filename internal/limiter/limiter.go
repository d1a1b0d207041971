// Package limiter implements the event-count limiter of spec §4.9: once N
// survivors have been forwarded, it signals upstream to stop. The signal is
// the done result of Allow, which callers turn into their own stop flag; the
// limiter holds no context.CancelFunc and cancels no outstanding work.
package limiter

import "sync/atomic"

// Limiter counts events as they pass and reports once the configured take
// count is reached. N <= 0 disables the limiter (Allow always succeeds).
type Limiter struct {
	n     int64
	count atomic.Int64
}

// New returns a Limiter capped at n events. n <= 0 means unlimited.
func New(n int64) *Limiter {
	return &Limiter{n: n}
}

// Allow increments the survivor count and reports whether this event
// should be forwarded (true) and whether the cap has now been reached
// (done), in which case the caller must stop requesting more upstream
// work.
func (l *Limiter) Allow() (forward bool, done bool) {
	if l.n <= 0 {
		return true, false
	}
	n := l.count.Add(1)
	if n > l.n {
		return false, false
	}
	return true, n == l.n
}

// Remaining reports how many more events may still be forwarded, or -1 if
// unlimited.
func (l *Limiter) Remaining() int64 {
	if l.n <= 0 {
		return -1
	}
	r := l.n - l.count.Load()
	if r < 0 {
		return 0
	}
	return r
}
