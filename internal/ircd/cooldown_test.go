package ircd

import (
	"net"
	"testing"
	"time"
)

func TestDisconnectTrackerCooldown(t *testing.T) {
	tr := newDisconnectTracker()
	ip := net.ParseIP("127.0.0.1")

	if tr.onCooldown(ip, time.Second) {
		t.Fatal("an IP that never disconnected should not be on cooldown")
	}

	tr.record(ip)
	if !tr.onCooldown(ip, time.Hour) {
		t.Fatal("expected IP to be on cooldown immediately after disconnecting")
	}

	if tr.onCooldown(ip, 0) {
		t.Fatal("a zero-length cooldown window should never trigger")
	}
}

func TestDisconnectTrackerSweep(t *testing.T) {
	tr := newDisconnectTracker()
	ip := net.ParseIP("127.0.0.1")

	tr.record(ip)
	tr.last[ip.String()] = time.Now().Add(-time.Hour)

	tr.sweep(time.Minute)

	if tr.onCooldown(ip, time.Hour) {
		t.Fatal("expected the sweep to evict the stale entry")
	}
}
