// Package presence tracks which users currently hold a live connection.
// The directory is process-local and resets to empty on restart.
package presence

import (
	"sync"

	"github.com/pingline/pingline/internal/protocol"
)

// Conn is a live connection handle capable of receiving server events.
// Implementations must be comparable (pointers are) so that Unregister can
// match the entry owned by a specific handle.
type Conn interface {
	// Deliver sends one event to the peer. Best effort: a failed delivery is
	// reported but never retried here.
	Deliver(env protocol.Envelope) error

	// Close tears the connection down. Used when a newer join displaces an
	// older session for the same user.
	Close()
}

// Directory maps user IDs to their live connection handle. At most one entry
// per user; a later Register for the same user wins. All operations are
// in-memory and never block on I/O.
//
// The directory is an injected dependency, not a package singleton, so tests
// can run isolated instances side by side.
type Directory struct {
	mu     sync.Mutex
	byUser map[string]Conn
	byConn map[Conn]string
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		byUser: make(map[string]Conn),
		byConn: make(map[Conn]string),
	}
}

// Register records conn as the live handle for user, unconditionally
// overwriting any existing entry (last join wins). It returns the displaced
// handle, if any, so the caller can close the stale session.
func (d *Directory) Register(user string, conn Conn) (displaced Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if old, ok := d.byUser[user]; ok && old != conn {
		delete(d.byConn, old)
		displaced = old
	}
	// If conn was registered under a different identity, drop that entry so
	// the reverse index never dangles.
	if prev, ok := d.byConn[conn]; ok && prev != user {
		if d.byUser[prev] == conn {
			delete(d.byUser, prev)
		}
	}
	d.byUser[user] = conn
	d.byConn[conn] = user
	return displaced
}

// Unregister removes the entry owned by conn and reports which user it was.
// It is a no-op on handles that are not registered, so duplicate disconnect
// events are harmless.
func (d *Directory) Unregister(conn Conn) (user string, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	user, ok = d.byConn[conn]
	if !ok {
		return "", false
	}
	delete(d.byConn, conn)
	// Only drop the user entry if conn still owns it; a newer session for the
	// same user must survive the old session's disconnect.
	if d.byUser[user] == conn {
		delete(d.byUser, user)
	}
	return user, true
}

// Lookup returns the live handle for user, if online.
func (d *Directory) Lookup(user string) (Conn, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	conn, ok := d.byUser[user]
	return conn, ok
}

// IsOnline reports whether user has a registered connection.
func (d *Directory) IsOnline(user string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.byUser[user]
	return ok
}

// ListOnline returns the IDs of all currently connected users.
func (d *Directory) ListOnline() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	users := make([]string, 0, len(d.byUser))
	for user := range d.byUser {
		users = append(users, user)
	}
	return users
}

// Connections returns a snapshot of all live handles, for broadcasting.
func (d *Directory) Connections() []Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	conns := make([]Conn, 0, len(d.byConn))
	for conn := range d.byConn {
		conns = append(conns, conn)
	}
	return conns
}
