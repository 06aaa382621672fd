package session

import "sync"

// Registry maps session ids to their single live connection.
type Registry struct {
	mu    sync.Mutex
	conns map[string]*Connection
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Connection)}
}

// Register installs conn for sessionID. A previous connection for the same
// id is closed and reported as replaced.
func (r *Registry) Register(sessionID string, conn *Connection) (replaced bool) {
	r.mu.Lock()
	old, ok := r.conns[sessionID]
	r.conns[sessionID] = conn
	r.mu.Unlock()

	if ok && old != conn {
		old.Close()
		return true
	}
	return false
}

// Unregister removes and closes whatever connection sessionID has.
func (r *Registry) Unregister(sessionID string) {
	r.mu.Lock()
	conn, ok := r.conns[sessionID]
	delete(r.conns, sessionID)
	r.mu.Unlock()

	if ok {
		conn.Close()
	}
}

// Release closes conn and removes it only if it is still the registered
// connection for sessionID. A superseded stream exiting late cannot evict
// its replacement.
func (r *Registry) Release(sessionID string, conn *Connection) bool {
	r.mu.Lock()
	current, ok := r.conns[sessionID]
	removed := ok && current == conn
	if removed {
		delete(r.conns, sessionID)
	}
	r.mu.Unlock()

	conn.Close()
	return removed
}

func (r *Registry) Lookup(sessionID string) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[sessionID]
	return conn, ok
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// CloseAll closes every connection; used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]*Connection)
	r.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}
