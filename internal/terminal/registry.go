package terminal

import "sync"

// Registry is a process-local, volatile rendezvous map from typed keys to
// live connections. Entries exist only for the lifetime of the connection;
// nothing is persisted and nothing survives a restart.
type Registry struct {
	mu    sync.RWMutex
	conns map[Key]Conn
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[Key]Conn)}
}

// Register stores a connection under the key. A later registration for the
// same key replaces the earlier one.
func (r *Registry) Register(key Key, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[key] = conn
}

// Lookup returns the connection for the key with an explicit presence flag.
func (r *Registry) Lookup(key Key) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[key]
	return conn, ok
}

// Remove drops the entry for the key when it still refers to conn. Passing a
// nil conn removes unconditionally.
func (r *Registry) Remove(key Key, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn == nil || r.conns[key] == conn {
		delete(r.conns, key)
	}
}

// Len reports the number of live registrations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
