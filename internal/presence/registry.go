// Package presence tracks which identity is live on which connection.
package presence

import (
	"sync"

	"github.com/calebferris/parley/internal/auth"
)

// Entry maps a connection to the identity authenticated on it.
type Entry struct {
	ConnectionID string
	Identity     auth.Identity
}

// Registry is the in-memory presence map. It enforces the rule that an
// identity has at most one live connection: registering an identity a second
// time evicts the earlier connection.
type Registry struct {
	mu         sync.Mutex
	byConn     map[string]Entry
	byIdentity map[string]string // identity.ID -> connection ID
}

// NewRegistry creates an empty presence registry.
func NewRegistry() *Registry {
	return &Registry{
		byConn:     make(map[string]Entry),
		byIdentity: make(map[string]string),
	}
}

// Register inserts an entry for the connection. If the identity was already
// live on a different connection, that entry is removed first and its
// connection ID returned so the caller can force-close it.
func (r *Registry) Register(connID string, id auth.Identity) (evicted string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, exists := r.byIdentity[id.ID]; exists && prev != connID {
		delete(r.byConn, prev)
		evicted, ok = prev, true
	}
	// A connection re-registering as a different identity must not leave a
	// stale index entry behind.
	if old, exists := r.byConn[connID]; exists && old.Identity.ID != id.ID {
		if r.byIdentity[old.Identity.ID] == connID {
			delete(r.byIdentity, old.Identity.ID)
		}
	}
	r.byConn[connID] = Entry{ConnectionID: connID, Identity: id}
	r.byIdentity[id.ID] = connID
	return evicted, ok
}

// Unregister removes and returns the entry for the connection. The second
// return is false if no entry existed, e.g. on a double disconnect.
func (r *Registry) Unregister(connID string) (auth.Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.byConn[connID]
	if !exists {
		return auth.Identity{}, false
	}
	delete(r.byConn, connID)
	// Only clear the identity index if it still points at this connection;
	// it may already point at a replacement after an eviction race.
	if r.byIdentity[entry.Identity.ID] == connID {
		delete(r.byIdentity, entry.Identity.ID)
	}
	return entry.Identity, true
}

// Find returns the connection ID an identity is live on.
func (r *Registry) Find(identityID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	connID, ok := r.byIdentity[identityID]
	return connID, ok
}

// ListDisplayNames returns a snapshot of the display names of everyone
// currently registered. Order is not meaningful.
func (r *Registry) ListDisplayNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.byConn))
	for _, e := range r.byConn {
		names = append(names, e.Identity.Name)
	}
	return names
}

// Count returns the number of live entries.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byConn)
}
