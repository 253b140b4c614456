package presence

import (
	"net"
	"sync"
	"time"
)

// sendQueueSize is the per-connection outbound buffer. Sends into a full
// queue are dropped (counted), never blocked on.
const sendQueueSize = 256

// DeviceClass is the closed set of device categories a session may declare.
// Unrecognized input maps to DeviceUnknown instead of being stored verbatim.
type DeviceClass string

const (
	DeviceDesktop DeviceClass = "desktop"
	DeviceMobile  DeviceClass = "mobile"
	DeviceTablet  DeviceClass = "tablet"
	DeviceUnknown DeviceClass = "unknown"
)

// ParseDeviceClass maps arbitrary handshake input onto the closed device set.
func ParseDeviceClass(s string) DeviceClass {
	switch DeviceClass(s) {
	case DeviceDesktop, DeviceMobile, DeviceTablet:
		return DeviceClass(s)
	default:
		return DeviceUnknown
	}
}

// RoleAdmin marks connections that join the administrative broadcast group.
// Group membership is assigned once, at admission time, and is fixed for the
// connection's lifetime.
const RoleAdmin = "admin"

// Connection is one live transport-level session belonging to a user. It is
// created on successful admission, destroyed on disconnect and never
// persisted. The registry entry for its user owns it exclusively.
type Connection struct {
	ID          string
	UserID      string
	Role        string
	Device      DeviceClass
	Client      string // client family, e.g. browser name; "unknown" when absent
	RemoteAddr  string
	ConnectedAt time.Time

	// Transport is the underlying socket, attached by the transport layer
	// after the upgrade. Nil for connections under test.
	Transport net.Conn

	send      chan []byte
	closeOnce sync.Once
}

// NewConnection builds a connection with an initialized send queue.
func NewConnection(id, userID, role string, device DeviceClass, client, remoteAddr string) *Connection {
	if client == "" {
		client = "unknown"
	}
	return &Connection{
		ID:          id,
		UserID:      userID,
		Role:        role,
		Device:      device,
		Client:      client,
		RemoteAddr:  remoteAddr,
		ConnectedAt: time.Now(),
		send:        make(chan []byte, sendQueueSize),
	}
}

// Enqueue offers a frame to the connection's send queue without blocking.
// Returns false when the queue is full; the caller counts the drop.
func (c *Connection) Enqueue(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Outbound exposes the send queue to the write pump.
func (c *Connection) Outbound() <-chan []byte {
	return c.send
}

// QueueLen reports the number of frames waiting in the send queue.
func (c *Connection) QueueLen() int {
	return len(c.send)
}

// Close tears down the underlying transport exactly once. Forced and organic
// disconnects both go through here, so teardown always drains through the
// same removal path.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		if c.Transport != nil {
			c.Transport.Close()
		}
	})
}

// HistoryRecord is the truncated copy of a connection appended to its user's
// bounded history on disconnect.
type HistoryRecord struct {
	ConnectionID   string      `json:"connection_id"`
	Device         DeviceClass `json:"device"`
	Client         string      `json:"client"`
	RemoteAddr     string      `json:"remote_addr"`
	ConnectedAt    time.Time   `json:"connected_at"`
	DisconnectedAt time.Time   `json:"disconnected_at"`
}
