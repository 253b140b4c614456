// Package admission gates new connection attempts before they reach the
// registry: a per-IP token bucket absorbs reconnect storms, and a per-user
// cap keeps any one account from monopolizing the server.
package admission

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/esraakhalifa/bookstore-presence/internal/presence"
)

const (
	// attemptsPerSecond and attemptBurst shape the per-IP bucket: up to 10
	// attempts in a one-second window, refilled continuously.
	attemptsPerSecond = 10
	attemptBurst      = 10

	// maxConnectionsPerUser caps simultaneous sessions per account.
	maxConnectionsPerUser = 6

	// limiterTTL is how long an idle IP's bucket survives before the
	// cleanup loop reclaims it.
	limiterTTL      = 10 * time.Minute
	cleanupInterval = time.Minute
)

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Counter answers how many connections a user currently holds. Satisfied by
// *presence.Registry.
type Counter interface {
	Count(userID string) int
}

// Gate performs the two admission checks in order: IP rate limit first, then
// the per-user cap. A failed rate check never consumes the user's slot.
type Gate struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter

	counter Counter
	maxPer  int
	log     zerolog.Logger
}

func NewGate(counter Counter, log zerolog.Logger) *Gate {
	return &Gate{
		limiters: make(map[string]*ipLimiter),
		counter:  counter,
		maxPer:   maxConnectionsPerUser,
		log:      log.With().Str("component", "admission").Logger(),
	}
}

// Allow admits or refuses a connection attempt. remoteAddr may carry a port;
// the bucket is keyed on the host part so sockets from one machine share a
// bucket.
func (g *Gate) Allow(remoteAddr, userID string) error {
	ip := hostOnly(remoteAddr)
	if !g.limiterFor(ip).Allow() {
		g.log.Warn().Str("ip", ip).Str("user_id", userID).Msg("connection attempt rate limited")
		return presence.ErrRateLimited
	}
	if g.counter.Count(userID) >= g.maxPer {
		g.log.Warn().Str("user_id", userID).Int("limit", g.maxPer).Msg("per-user connection cap reached")
		return presence.ErrMaxConnections
	}
	return nil
}

func (g *Gate) limiterFor(ip string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	entry, ok := g.limiters[ip]
	if !ok {
		entry = &ipLimiter{limiter: rate.NewLimiter(rate.Limit(attemptsPerSecond), attemptBurst)}
		g.limiters[ip] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

// RunCleanup reclaims buckets for IPs that have gone quiet, until ctx is
// cancelled.
func (g *Gate) RunCleanup(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := g.sweepIdle(now); n > 0 {
				g.log.Debug().Int("reclaimed", n).Msg("dropped idle rate limiter buckets")
			}
		}
	}
}

func (g *Gate) sweepIdle(now time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for ip, entry := range g.limiters {
		if now.Sub(entry.lastSeen) > limiterTTL {
			delete(g.limiters, ip)
			n++
		}
	}
	return n
}

// TrackedIPs reports the number of IPs currently holding a bucket.
func (g *Gate) TrackedIPs() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.limiters)
}

func hostOnly(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}
