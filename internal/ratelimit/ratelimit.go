// Package ratelimit provides the admission gates in front of training
// and generation starts. Both gates are acquire-on-check: a successful
// TryAcquire consumes one slot, a denied check consumes nothing, and
// Release refunds a slot whose guarded work never started.
package ratelimit

import (
	"sync"
	"time"
)

// SlidingWindow admits up to limit acquisitions per key within a rolling
// window.
type SlidingWindow struct {
	mu     sync.Mutex
	window time.Duration
	limit  int
	grants map[int64][]time.Time
	now    func() time.Time
}

func NewSlidingWindow(window time.Duration, limit int) *SlidingWindow {
	return &SlidingWindow{
		window: window,
		limit:  limit,
		grants: make(map[int64][]time.Time),
		now:    time.Now,
	}
}

// TryAcquire reports whether the key may proceed and, if so, records the
// grant. Check and consume are atomic per key.
func (w *SlidingWindow) TryAcquire(key int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	cutoff := now.Add(-w.window)

	recent := w.grants[key][:0]
	for _, ts := range w.grants[key] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}

	if len(recent) >= w.limit {
		w.grants[key] = recent
		return false
	}

	w.grants[key] = append(recent, now)
	return true
}

// Release returns the most recent grant for the key, for callers that
// acquired a slot but never started the guarded work.
func (w *SlidingWindow) Release(key int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if n := len(w.grants[key]); n > 0 {
		w.grants[key] = w.grants[key][:n-1]
	}
}

// DailyQuota admits up to cap acquisitions per key per UTC calendar day.
// Counts reset at the day boundary, not a rolling 24h.
type DailyQuota struct {
	mu     sync.Mutex
	cap    int
	day    int // year*1000 + yearday of the counted day
	counts map[int64]int
	now    func() time.Time
}

func NewDailyQuota(cap int) *DailyQuota {
	return &DailyQuota{
		cap:    cap,
		counts: make(map[int64]int),
		now:    time.Now,
	}
}

func dayKey(t time.Time) int {
	utc := t.UTC()
	return utc.Year()*1000 + utc.YearDay()
}

// must hold lock
func (q *DailyQuota) rollover() {
	today := dayKey(q.now())
	if today != q.day {
		q.counts = make(map[int64]int)
		q.day = today
	}
}

func (q *DailyQuota) TryAcquire(key int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.rollover()

	if q.counts[key] >= q.cap {
		return false
	}

	q.counts[key]++
	return true
}

// Release refunds one acquisition for the key. Refunds from before the
// day boundary are dropped by the rollover, never carried over.
func (q *DailyQuota) Release(key int64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.rollover()

	if q.counts[key] > 0 {
		q.counts[key]--
	}
}

// Used reports today's consumed count for a key.
func (q *DailyQuota) Used(key int64) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.rollover()
	return q.counts[key]
}
