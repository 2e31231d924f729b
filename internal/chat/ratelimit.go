package chat

import (
	"sync"
	"time"
)

// Limiter admits or rejects chat messages per identity over a rolling
// one-second window. The limit is global per identity across all streams: a
// viewer switching rooms keeps their window.
type Limiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	entries  map[string]*limiterEntry
	lastScan time.Time
}

// limiterEntry holds the admission times still inside the window, oldest
// first. Rejected messages are never recorded, so rejections cannot push the
// window further out.
type limiterEntry struct {
	admitted []time.Time
	lastSeen time.Time
}

// idleTTL is how long an identity's window survives without activity.
const idleTTL = 10 * time.Minute

// NewLimiter creates a chat limiter admitting at most perWindow messages per
// identity inside any rolling one-second window.
func NewLimiter(perWindow int) *Limiter {
	if perWindow <= 0 {
		perWindow = 3
	}
	return &Limiter{
		limit:    perWindow,
		window:   time.Second,
		entries:  make(map[string]*limiterEntry),
		lastScan: time.Now(),
	}
}

// Allow reports whether the identity may send a message now. A rejected call
// consumes nothing beyond the failed check.
func (l *Limiter) Allow(identityKey string) bool {
	return l.allowAt(identityKey, time.Now())
}

func (l *Limiter) allowAt(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		e = &limiterEntry{}
		l.entries[key] = e
	}
	e.lastSeen = now
	if now.Sub(l.lastScan) > idleTTL {
		l.pruneLocked(now)
	}

	// age admissions out of the rolling window
	aged := 0
	for aged < len(e.admitted) && now.Sub(e.admitted[aged]) >= l.window {
		aged++
	}
	if aged > 0 {
		e.admitted = append(e.admitted[:0], e.admitted[aged:]...)
	}

	if len(e.admitted) >= l.limit {
		return false
	}
	e.admitted = append(e.admitted, now)
	return true
}

// pruneLocked drops windows idle longer than idleTTL. Caller holds mu.
func (l *Limiter) pruneLocked(now time.Time) {
	for k, e := range l.entries {
		if now.Sub(e.lastSeen) > idleTTL {
			delete(l.entries, k)
		}
	}
	l.lastScan = now
}

// Size returns the number of tracked identities.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
