package gateway

import (
	"sync"
	"time"
)

// dedupSet is a bounded, time-windowed set of recently seen idempotency
// tokens. It is the one resource shared by every ingestion goroutine, so
// check-and-insert is atomic under a single mutex.
type dedupSet struct {
	mu   sync.Mutex
	seen map[string]time.Time

	window     time.Duration
	maxEntries int

	now func() time.Time
}

func newDedupSet(window time.Duration, maxEntries int) *dedupSet {
	return &dedupSet{
		seen:       make(map[string]time.Time),
		window:     window,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// CheckAndInsert records the token and reports whether it was new within
// the window. A false return means the delivery is a duplicate.
func (d *dedupSet) CheckAndInsert(token string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if ts, ok := d.seen[token]; ok && now.Sub(ts) < d.window {
		return false
	}

	if len(d.seen) >= d.maxEntries {
		d.evict(now)
	}

	d.seen[token] = now
	return true
}

// evict drops expired tokens; if the set is still full afterwards the
// oldest entries go too. Expiring a token early only risks reprocessing
// a very late redelivery, which the sequence gate downstream absorbs.
func (d *dedupSet) evict(now time.Time) {
	for token, ts := range d.seen {
		if now.Sub(ts) >= d.window {
			delete(d.seen, token)
		}
	}

	for len(d.seen) >= d.maxEntries {
		var oldestToken string
		var oldest time.Time
		for token, ts := range d.seen {
			if oldestToken == "" || ts.Before(oldest) {
				oldestToken, oldest = token, ts
			}
		}
		delete(d.seen, oldestToken)
	}
}

func (d *dedupSet) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
