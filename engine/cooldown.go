package engine

import (
	"sync"
	"time"

	"github.com/onnwee/song-tender/telemetry"
)

// CooldownTracker keeps a per-user suppression window. At most one entry
// exists per user; entries expire on their own through the scheduler.
type CooldownTracker struct {
	mu     sync.Mutex
	active map[string]struct{}
	sched  Scheduler
}

func NewCooldownTracker(sched Scheduler) *CooldownTracker {
	return &CooldownTracker{active: make(map[string]struct{}), sched: sched}
}

// TryAcquire grants when the user has no active entry and starts the expiry
// window; it rejects while an entry is live. Two concurrent acquisitions for
// the same user can never both be granted.
func (t *CooldownTracker) TryAcquire(user string, d time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, on := t.active[user]; on {
		return false
	}
	t.active[user] = struct{}{}
	if telemetry.UsersOnCooldownGauge != nil {
		telemetry.UsersOnCooldownGauge.Inc()
	}
	t.sched.Schedule("cooldown:"+user, d, func() {
		t.mu.Lock()
		delete(t.active, user)
		t.mu.Unlock()
		if telemetry.UsersOnCooldownGauge != nil {
			telemetry.UsersOnCooldownGauge.Dec()
		}
	})
	return true
}

// OnCooldown reports whether the user currently has an active entry.
func (t *CooldownTracker) OnCooldown(user string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, on := t.active[user]
	return on
}
