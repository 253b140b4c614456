package admission

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esraakhalifa/bookstore-presence/internal/presence"
)

type stubCounter map[string]int

func (s stubCounter) Count(userID string) int { return s[userID] }

func TestGateAllowsWithinLimits(t *testing.T) {
	g := NewGate(stubCounter{}, zerolog.Nop())
	assert.NoError(t, g.Allow("192.168.1.5:51234", "alice"))
}

func TestGateRefusesSeventhConnection(t *testing.T) {
	counts := stubCounter{"alice": 6, "bob": 5}
	g := NewGate(counts, zerolog.Nop())

	assert.ErrorIs(t, g.Allow("192.168.1.5:51234", "alice"), presence.ErrMaxConnections)
	assert.NoError(t, g.Allow("192.168.1.6:51234", "bob"))
}

func TestGateRateLimitsPerIP(t *testing.T) {
	g := NewGate(stubCounter{}, zerolog.Nop())

	// Exhaust the burst from one address.
	for i := 0; i < 10; i++ {
		require.NoError(t, g.Allow("10.0.0.1:40000", "alice"))
	}
	assert.ErrorIs(t, g.Allow("10.0.0.1:40001", "alice"), presence.ErrRateLimited)

	// A different address has its own bucket.
	assert.NoError(t, g.Allow("10.0.0.2:40000", "alice"))

	// Tokens refill continuously, ~10/s.
	time.Sleep(150 * time.Millisecond)
	assert.NoError(t, g.Allow("10.0.0.1:40002", "alice"))
}

func TestGateRateCheckRunsFirst(t *testing.T) {
	counts := stubCounter{"alice": 6}
	g := NewGate(counts, zerolog.Nop())

	for i := 0; i < 10; i++ {
		g.Allow("10.0.0.1:1", "alice")
	}
	// Both limits are breached; the rate limit answers first.
	assert.ErrorIs(t, g.Allow("10.0.0.1:1", "alice"), presence.ErrRateLimited)
}

func TestGateCleanupReclaimsIdleBuckets(t *testing.T) {
	g := NewGate(stubCounter{}, zerolog.Nop())
	require.NoError(t, g.Allow("10.0.0.1:1", "alice"))
	require.Equal(t, 1, g.TrackedIPs())

	// Age the entry past the TTL, then run one sweep pass.
	g.mu.Lock()
	g.limiters["10.0.0.1"].lastSeen = time.Now().Add(-limiterTTL - time.Minute)
	g.mu.Unlock()

	assert.Equal(t, 1, g.sweepIdle(time.Now()))
	assert.Equal(t, 0, g.TrackedIPs())
}

func TestGateCleanupStopsOnCancel(t *testing.T) {
	g := NewGate(stubCounter{}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		g.RunCleanup(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup loop did not stop on cancel")
	}
}

func TestHostOnly(t *testing.T) {
	assert.Equal(t, "10.0.0.1", hostOnly("10.0.0.1:51234"))
	assert.Equal(t, "10.0.0.1", hostOnly("10.0.0.1"))
	assert.Equal(t, "::1", hostOnly("[::1]:8080"))
}
