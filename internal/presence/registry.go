package presence

import (
	"sort"
	"sync"
	"time"
)

// historyCap bounds the per-user disconnect history. Oldest records are
// discarded first.
const historyCap = 50

type userEntry struct {
	active  map[string]*Connection
	history []HistoryRecord
}

// Registry is the authoritative in-memory map of live connections grouped by
// user. A user is online while they hold at least one connection. All methods
// are safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	users  map[string]*userEntry
	admins map[string]*Connection // connection ID -> admin connection
}

func NewRegistry() *Registry {
	return &Registry{
		users:  make(map[string]*userEntry),
		admins: make(map[string]*Connection),
	}
}

// Register adds a connection under its user. The first connection for a user
// transitions them to online. Admin-role connections additionally join the
// administrative broadcast group for their lifetime.
func (r *Registry) Register(conn *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.users[conn.UserID]
	if !ok {
		entry = &userEntry{active: make(map[string]*Connection)}
		r.users[conn.UserID] = entry
	}
	if _, dup := entry.active[conn.ID]; dup {
		return ErrDuplicateConnection
	}
	entry.active[conn.ID] = conn
	if conn.Role == RoleAdmin {
		r.admins[conn.ID] = conn
	}
	return nil
}

// RemovalResult describes the outcome of removing a connection.
type RemovalResult struct {
	// Removed is false when the connection was not registered, which makes
	// double removal (forced close followed by the pump exit) a no-op.
	Removed bool
	// WasLast is true when this removal took the user's last connection,
	// i.e. the user just went offline.
	WasLast bool
}

// Remove detaches a connection from its user, appends a history record and
// reports whether the user went offline as a result.
func (r *Registry) Remove(userID, connID string) RemovalResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.users[userID]
	if !ok {
		return RemovalResult{}
	}
	conn, ok := entry.active[connID]
	if !ok {
		return RemovalResult{}
	}
	delete(entry.active, connID)
	delete(r.admins, connID)

	entry.history = append(entry.history, HistoryRecord{
		ConnectionID:   conn.ID,
		Device:         conn.Device,
		Client:         conn.Client,
		RemoteAddr:     conn.RemoteAddr,
		ConnectedAt:    conn.ConnectedAt,
		DisconnectedAt: time.Now(),
	})
	if len(entry.history) > historyCap {
		entry.history = entry.history[len(entry.history)-historyCap:]
	}

	if len(entry.active) == 0 {
		return RemovalResult{Removed: true, WasLast: true}
	}
	return RemovalResult{Removed: true}
}

// Count reports the number of live connections a user holds.
func (r *Registry) Count(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.users[userID]
	if !ok {
		return 0
	}
	return len(entry.active)
}

// IsOnline reports whether the user holds at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	return r.Count(userID) > 0
}

// Connections returns a snapshot of a user's live connections. The slice is
// owned by the caller; mutating it does not affect the registry.
func (r *Registry) Connections(userID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.users[userID]
	if !ok {
		return nil
	}
	out := make([]*Connection, 0, len(entry.active))
	for _, c := range entry.active {
		out = append(out, c)
	}
	return out
}

// OnlineUserIDs returns the IDs of every currently online user, sorted for
// stable output.
func (r *Registry) OnlineUserIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.users))
	for id, entry := range r.users {
		if len(entry.active) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// TotalConnections reports the number of live connections across all users.
func (r *Registry) TotalConnections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, entry := range r.users {
		n += len(entry.active)
	}
	return n
}

// EachConnection invokes fn for every live connection. fn must not call back
// into the registry.
func (r *Registry) EachConnection(fn func(*Connection)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, entry := range r.users {
		for _, c := range entry.active {
			fn(c)
		}
	}
}

// AdminConnections returns a snapshot of all connections in the
// administrative group.
func (r *Registry) AdminConnections() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.admins))
	for _, c := range r.admins {
		out = append(out, c)
	}
	return out
}

// History returns a copy of the user's bounded disconnect history, oldest
// first. Callers get their own slice.
func (r *Registry) History(userID string) []HistoryRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.users[userID]
	if !ok {
		return nil
	}
	out := make([]HistoryRecord, len(entry.history))
	copy(out, entry.history)
	return out
}
