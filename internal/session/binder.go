// Package session binds live connections to resolved identities. A binding
// lasts for the connection's lifetime: it is created at login, consulted by
// identity-scoped operations, and destroyed on disconnect.
package session

import (
	"sync"
	"time"
)

// Binding associates one connection with one identity.
type Binding struct {
	ConnID  string
	UserID  int64
	Address string
	BoundAt time.Time
}

// Binder is the process-scoped connection→identity registry. Only the
// binder mutates it; everything else goes through Bind/Lookup/Unbind.
type Binder struct {
	mu     sync.RWMutex
	byConn map[string]Binding
}

// NewBinder creates an empty Binder.
func NewBinder() *Binder {
	return &Binder{byConn: make(map[string]Binding)}
}

// Bind associates a connection with an identity, replacing any previous
// binding for the same connection (a re-login rebinds in place).
func (b *Binder) Bind(connID string, userID int64, address string) Binding {
	binding := Binding{
		ConnID:  connID,
		UserID:  userID,
		Address: address,
		BoundAt: time.Now(),
	}
	b.mu.Lock()
	b.byConn[connID] = binding
	b.mu.Unlock()
	return binding
}

// Lookup returns the binding for a connection, if any.
func (b *Binder) Lookup(connID string) (Binding, bool) {
	b.mu.RLock()
	binding, ok := b.byConn[connID]
	b.mu.RUnlock()
	return binding, ok
}

// Unbind removes and returns the binding for a connection. The second
// return is false when the connection was never bound.
func (b *Binder) Unbind(connID string) (Binding, bool) {
	b.mu.Lock()
	binding, ok := b.byConn[connID]
	if ok {
		delete(b.byConn, connID)
	}
	b.mu.Unlock()
	return binding, ok
}

// Count returns the number of bound connections.
func (b *Binder) Count() int {
	b.mu.RLock()
	n := len(b.byConn)
	b.mu.RUnlock()
	return n
}
