package providers

import (
	"sync"
	"time"
)

// CooldownTracker keeps failing provider/model candidates out of rotation
// for a reason-dependent window. Repeated failures double the window up to
// a cap.
type CooldownTracker struct {
	mu      sync.Mutex
	entries map[string]*cooldownEntry
	now     func() time.Time
}

type cooldownEntry struct {
	until    time.Time
	failures int
}

const cooldownMax = 10 * time.Minute

func NewCooldownTracker() *CooldownTracker {
	return &CooldownTracker{
		entries: make(map[string]*cooldownEntry),
		now:     time.Now,
	}
}

// ModelKey builds the tracker key for a provider/model pair.
func ModelKey(provider, model string) string {
	return provider + "/" + model
}

// IsAvailable reports whether the candidate is out of cooldown.
func (t *CooldownTracker) IsAvailable(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[key]
	if !ok {
		return true
	}
	return !t.now().Before(entry.until)
}

// CooldownRemaining returns how long until the candidate becomes available.
func (t *CooldownTracker) CooldownRemaining(key string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[key]
	if !ok {
		return 0
	}
	remaining := entry.until.Sub(t.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// MarkFailure puts the candidate into cooldown based on the failure reason.
func (t *CooldownTracker) MarkFailure(key string, reason FailoverReason) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[key]
	if !ok {
		entry = &cooldownEntry{}
		t.entries[key] = entry
	}
	entry.failures++

	base := baseCooldown(reason)
	window := base << (entry.failures - 1)
	if window > cooldownMax {
		window = cooldownMax
	}
	entry.until = t.now().Add(window)
}

// MarkSuccess resets the candidate's failure history.
func (t *CooldownTracker) MarkSuccess(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, key)
}

func baseCooldown(reason FailoverReason) time.Duration {
	switch reason {
	case FailoverRateLimit:
		return 60 * time.Second
	case FailoverOverloaded:
		return 30 * time.Second
	case FailoverAuth, FailoverBilling:
		return 5 * time.Minute
	default:
		return 15 * time.Second
	}
}
