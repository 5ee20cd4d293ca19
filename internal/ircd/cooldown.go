package ircd

import (
	"net"
	"sync"
	"time"
)

// disconnectTracker maps a source IP to the time it last disconnected. It
// implements the admission-control cooldown described in spec.md §4.6,
// grounded on original_source/server.py's self.disconnect_times /
// cleanup_disconnects: a fresh connection from an IP that disconnected
// within the cooldown window is refused, and a background sweeper evicts
// entries older than the retention threshold.
//
// It has its own mutex rather than reusing the clients lock: admission
// control happens in the accept loop, before a Client exists at all, so
// there is nothing to protect from concurrent registry mutation.
type disconnectTracker struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func newDisconnectTracker() *disconnectTracker {
	return &disconnectTracker{last: make(map[string]time.Time)}
}

// record notes that ip just disconnected, for future cooldown checks.
func (t *disconnectTracker) record(ip net.IP) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last[ip.String()] = time.Now()
}

// onCooldown reports whether ip disconnected within window of now.
func (t *disconnectTracker) onCooldown(ip net.IP, window time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	last, exists := t.last[ip.String()]
	if !exists {
		return false
	}

	return time.Since(last) < window
}

// sweep evicts entries older than retention. It's meant to be called
// periodically from a single background goroutine.
func (t *disconnectTracker) sweep(retention time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	for ip, last := range t.last {
		if now.Sub(last) > retention {
			delete(t.last, ip)
		}
	}
}
