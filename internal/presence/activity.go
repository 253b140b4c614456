package presence

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Status is a user-level activity state. Connections do not carry a status;
// the tracker keeps one record per user regardless of connection count.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusBusy    Status = "busy"
	StatusOffline Status = "offline"
)

// Reportable reports whether a status may be set by the user themselves.
// Offline is only ever assigned by the system when the last connection drops.
func (s Status) Reportable() bool {
	switch s {
	case StatusOnline, StatusAway, StatusBusy:
		return true
	default:
		return false
	}
}

const (
	// offlineRetention is how long an offline record survives before the
	// sweeper evicts it.
	offlineRetention = 24 * time.Hour
	// defaultSweepInterval is how often the background sweeper runs unless
	// the caller picks its own interval.
	defaultSweepInterval = time.Hour
)

// ActivityRecord is a user's last-known activity state.
type ActivityRecord struct {
	Status     Status    `json:"status"`
	LastActive time.Time `json:"last_active"`
}

// ActivityTracker keeps per-user activity status and last-active timestamps.
// Records for offline users are retained for a bounded window so recent
// activity can still be queried, then swept.
type ActivityTracker struct {
	mu      sync.RWMutex
	records map[string]ActivityRecord
	log     zerolog.Logger
}

func NewActivityTracker(log zerolog.Logger) *ActivityTracker {
	return &ActivityTracker{
		records: make(map[string]ActivityRecord),
		log:     log.With().Str("component", "activity").Logger(),
	}
}

// Touch records activity for a user, refreshing their last-active time. An
// empty status keeps the current status, defaulting to online for users with
// no record yet. Offline cannot be self-reported.
func (t *ActivityTracker) Touch(userID string, status Status) error {
	if status != "" && !status.Reportable() {
		return ErrUnknownStatus
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.touchLocked(userID, status)
	return nil
}

// TouchIfAlive records activity only while alive reports true. The check and
// the write share the tracker's critical section, so a MarkOffline cannot
// land between them: a user with zero connections always ends up offline no
// matter how a late frame interleaves with the disconnect.
func (t *ActivityTracker) TouchIfAlive(userID string, status Status, alive func() bool) error {
	if status != "" && !status.Reportable() {
		return ErrUnknownStatus
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !alive() {
		return ErrNotFound
	}
	t.touchLocked(userID, status)
	return nil
}

func (t *ActivityTracker) touchLocked(userID string, status Status) {
	rec, ok := t.records[userID]
	switch {
	case status != "":
		rec.Status = status
	case !ok || rec.Status == StatusOffline:
		rec.Status = StatusOnline
	}
	rec.LastActive = time.Now()
	t.records[userID] = rec
}

// MarkOffline transitions a user to offline, keeping the record around for
// the retention window. Called when the user's last connection drops.
func (t *ActivityTracker) MarkOffline(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[userID] = ActivityRecord{Status: StatusOffline, LastActive: time.Now()}
}

// Get returns the user's activity record, if any.
func (t *ActivityTracker) Get(userID string) (ActivityRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[userID]
	return rec, ok
}

// ActiveSince returns the IDs of users whose last activity falls within the
// window ending at now, regardless of status.
func (t *ActivityTracker) ActiveSince(window time.Duration, now time.Time) []string {
	cutoff := now.Add(-window)
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0)
	for id, rec := range t.records {
		if rec.LastActive.After(cutoff) {
			out = append(out, id)
		}
	}
	return out
}

// Sweep evicts offline records whose last activity is older than the
// retention window, measured against now. Returns the number evicted.
// Online, away and busy records are never swept.
func (t *ActivityTracker) Sweep(now time.Time) int {
	cutoff := now.Add(-offlineRetention)
	t.mu.Lock()
	defer t.mu.Unlock()
	evicted := 0
	for id, rec := range t.records {
		if rec.Status == StatusOffline && rec.LastActive.Before(cutoff) {
			delete(t.records, id)
			evicted++
		}
	}
	return evicted
}

// RunSweeper runs the sweep on the given interval until ctx is cancelled.
// A non-positive interval means hourly.
func (t *ActivityTracker) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := t.Sweep(now); n > 0 {
				t.log.Info().Int("evicted", n).Msg("swept stale activity records")
			}
		}
	}
}

// ActivityStats summarizes tracked records by status.
type ActivityStats struct {
	Total   int `json:"total"`
	Online  int `json:"online"`
	Away    int `json:"away"`
	Busy    int `json:"busy"`
	Offline int `json:"offline"`
}

// Stats counts tracked records per status.
func (t *ActivityTracker) Stats() ActivityStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := ActivityStats{Total: len(t.records)}
	for _, rec := range t.records {
		switch rec.Status {
		case StatusOnline:
			s.Online++
		case StatusAway:
			s.Away++
		case StatusBusy:
			s.Busy++
		case StatusOffline:
			s.Offline++
		}
	}
	return s
}
