package service

import (
	"context"
	"log"

	"github.com/parley/chat-server/internal/session"
)

// SessionRegistry is the connection→identity binding store consumed by the
// disconnect path.
type SessionRegistry interface {
	Unbind(connID string) (session.Binding, bool)
}

// RoomEvictor removes a connection from every room it occupies.
type RoomEvictor interface {
	LeaveAll(connID string)
}

// Sessions owns the connection side of the identity lifecycle. Its one job
// is the disconnect cleanup chain, which must run to completion even when
// the peer is already gone.
type Sessions struct {
	binder   SessionRegistry
	rooms    RoomEvictor
	users    IdentityDirectory
	presence PresenceTracker
}

// NewSessions creates the session lifecycle service.
func NewSessions(binder SessionRegistry, rooms RoomEvictor, users IdentityDirectory, presence PresenceTracker) *Sessions {
	return &Sessions{binder: binder, rooms: rooms, users: users, presence: presence}
}

// Disconnect evicts the connection from its room, drops the identity
// binding, and flips presence offline in both the relational store and the
// cache. Storage failures are logged, never propagated: none of these steps
// is cancellable, and a later step still runs when an earlier one fails.
// The dropped binding is returned so the caller can log and account for it.
func (s *Sessions) Disconnect(ctx context.Context, connID string) (session.Binding, bool) {
	s.rooms.LeaveAll(connID)

	b, ok := s.binder.Unbind(connID)
	if !ok {
		return session.Binding{}, false
	}

	if err := s.users.SetOnline(ctx, b.Address, false); err != nil {
		log.Printf("service: set offline %s: %v", b.Address, err)
	}
	if err := s.presence.SetOnline(ctx, b.Address, false); err != nil {
		log.Printf("service: presence cache for %s: %v", b.Address, err)
	}
	return b, true
}
