package server

import (
	"sync"

	"starmsg/protocol"
)

// Conn is one live client channel. The hub delivers events through it
// and never reads from it; reading stays with the connection's own loop.
type Conn interface {
	ID() string
	Send(ev *protocol.Event) error
	Close() error
}

// Registry maps an identity to its single active connection. Last
// registration wins; a release only removes the binding when the caller
// still owns it, so a stale disconnect from a superseded connection
// never evicts the newer one.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]Conn),
	}
}

// Register binds identity to conn and returns the superseded
// connection, if any. Повторная регистрация той же identity не ошибка.
func (r *Registry) Register(identity string, conn Conn) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.conns[identity]
	r.conns[identity] = conn
	if prev == conn {
		return nil
	}
	return prev
}

func (r *Registry) Lookup(identity string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[identity]
	return conn, ok
}

// Release removes the binding only if conn is still the registered
// connection for identity. Reports whether a binding was removed.
func (r *Registry) Release(identity string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.conns[identity]
	if !ok || current != conn {
		return false
	}
	delete(r.conns, identity)
	return true
}

// Snapshot returns the identities currently bound to a connection.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	identities := make([]string, 0, len(r.conns))
	for identity := range r.conns {
		identities = append(identities, identity)
	}
	return identities
}

// entries returns a copy of the current bindings for iteration without
// holding the lock.
func (r *Registry) entries() map[string]Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make(map[string]Conn, len(r.conns))
	for identity, conn := range r.conns {
		entries[identity] = conn
	}
	return entries
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
