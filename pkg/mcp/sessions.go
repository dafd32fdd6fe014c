package mcp

import "sync"

// SessionRegistry maps flow IDs to the MCP session that last compiled them.
// Populated automatically by conductor.compile so recompile notifications
// can reach the interested client.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]string // flowID -> sessionID
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]string)}
}

// Register associates a flow ID with a session ID.
// If the flow already has a watcher, it is overwritten (reconnect).
func (r *SessionRegistry) Register(flowID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[flowID] = sessionID
}

// SessionFor returns the session ID watching the given flow, if any.
func (r *SessionRegistry) SessionFor(flowID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.sessions[flowID]
	return sid, ok
}

// Remove deletes all flow mappings for the given session ID.
// Called when a session disconnects.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for fid, sid := range r.sessions {
		if sid == sessionID {
			delete(r.sessions, fid)
		}
	}
}
