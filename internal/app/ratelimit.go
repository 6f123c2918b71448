package app

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dkeye/VideoSync/internal/domain"
)

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// EventLimiter is a token bucket per member for sync traffic.
// Members keep their bucket across reconnects until it goes idle.
type EventLimiter struct {
	mu      sync.Mutex
	buckets map[domain.MemberID]*bucket
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

type LimiterOption func(*EventLimiter)

// WithLimiterClock replaces time.Now, for tests.
func WithLimiterClock(now func() time.Time) LimiterOption {
	return func(l *EventLimiter) { l.now = now }
}

// NewEventLimiter allows perSecond events with the given burst.
// perSecond <= 0 disables limiting.
func NewEventLimiter(perSecond float64, burst int, opts ...LimiterOption) *EventLimiter {
	if burst <= 0 {
		burst = 1
	}
	l := &EventLimiter{
		buckets: make(map[domain.MemberID]*bucket),
		limit:   rate.Limit(perSecond),
		burst:   burst,
		now:     time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *EventLimiter) Allow(member domain.MemberID) bool {
	if l == nil || l.limit <= 0 {
		return true
	}
	now := l.now()
	l.mu.Lock()
	b, ok := l.buckets[member]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[member] = b
	}
	b.lastSeen = now
	l.mu.Unlock()
	return b.lim.AllowN(now, 1)
}

// Forget drops the bucket of a member who left for good.
func (l *EventLimiter) Forget(member domain.MemberID) {
	if l == nil {
		return
	}
	l.mu.Lock()
	delete(l.buckets, member)
	l.mu.Unlock()
}

// Prune drops buckets unused since cutoff. Member ids are client supplied,
// so buckets of members that only dropped their transport end here.
func (l *EventLimiter) Prune(cutoff time.Time) int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for id, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, id)
			n++
		}
	}
	return n
}

func (l *EventLimiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
