package cooldown

import (
	"sync"
	"time"
)

// DefaultWindow is how long a key suppresses repeat processing.
const DefaultWindow = 5 * time.Minute

// sweepAge is how stale an entry must be before a sweep removes it.
// Kept at a few windows so a key that just cooled down is not
// immediately forgotten and re-admitted by a racing caller.
const sweepAge = 3

// Keeper is a time-windowed suppression cache shared by all webhook
// invocations in the process. It answers "has this key been seen within
// the window?", recording the key when it has not.
//
// Entries are swept lazily: at most once per window, entries older than
// several windows are dropped, so the map stays bounded by the number of
// distinct keys active in recent windows rather than process lifetime.
type Keeper struct {
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	seen      map[string]time.Time
	lastSweep time.Time
}

func New(window time.Duration) *Keeper {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Keeper{
		window: window,
		now:    time.Now,
		seen:   map[string]time.Time{},
	}
}

// ShouldProcess reports whether key is eligible for processing: never
// seen, or last seen longer than the cooldown window ago. When it
// returns true the current time is recorded against the key.
func (k *Keeper) ShouldProcess(key string) bool {
	now := k.now()

	k.mu.Lock()
	defer k.mu.Unlock()

	k.sweepLocked(now)

	if last, ok := k.seen[key]; ok && now.Sub(last) <= k.window {
		return false
	}
	k.seen[key] = now
	return true
}

// Len reports the number of tracked keys.
func (k *Keeper) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.seen)
}

func (k *Keeper) sweepLocked(now time.Time) {
	if now.Sub(k.lastSweep) < k.window {
		return
	}
	k.lastSweep = now

	cutoff := now.Add(-time.Duration(sweepAge) * k.window)
	for key, last := range k.seen {
		if last.Before(cutoff) {
			delete(k.seen, key)
		}
	}
}
