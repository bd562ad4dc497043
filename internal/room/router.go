// Package room maintains the dialog rooms: which connections are currently
// viewing which dialog, and how events fan out to them. Membership is an
// explicit set owned by the Router (a connection is in at most one room);
// the Transport underneath is used purely as a delivery mechanism.
package room

import (
	"fmt"
	"strconv"
	"sync"
)

// GroupPrefix is concatenated with the dialog id to form the transport
// group key for a dialog room.
const GroupPrefix = "chatId"

// Group returns the transport group key for a dialog.
func Group(dialogID int64) string {
	return GroupPrefix + strconv.FormatInt(dialogID, 10)
}

// DeliverFunc pushes an outbound payload toward one connection.
type DeliverFunc func(data []byte)

// Transport is the delivery substrate under the Router. Join registers a
// connection's delivery callback with a named group, Leave removes it, and
// Publish fans a payload out to every joined callback. Implementations may
// be in-process or broker-backed; the Router never relies on them for
// membership accounting.
type Transport interface {
	Join(group, connID string, deliver DeliverFunc) error
	Leave(group, connID string) error
	Publish(group string, data []byte) error
}

// Router is the process-scoped room registry. It owns the dialog→members
// and connection→room maps; no other component mutates them.
type Router struct {
	transport Transport

	mu      sync.Mutex
	members map[int64]map[string]struct{} // dialog id -> connection ids
	current map[string]int64              // connection id -> dialog id
}

// NewRouter creates an empty Router on top of the given transport.
func NewRouter(transport Transport) *Router {
	return &Router{
		transport: transport,
		members:   make(map[int64]map[string]struct{}),
		current:   make(map[string]int64),
	}
}

// SwitchTo moves a connection into the room for dialogID, leaving whatever
// room it was in before. Re-joining the current room is a no-op; membership
// is a set, so no amount of re-joining duplicates a member. Membership only
// reflects successful switches: when delivery registration fails the
// mutation is rolled back and the connection ends up in no room, so a retry
// attempts the join again instead of short-circuiting on stale state.
func (r *Router) SwitchTo(connID string, dialogID int64, deliver DeliverFunc) error {
	r.mu.Lock()
	prev, hadPrev := r.current[connID]
	if hadPrev && prev == dialogID {
		r.mu.Unlock()
		return nil
	}

	if hadPrev {
		r.removeLocked(prev, connID)
	}
	set, ok := r.members[dialogID]
	if !ok {
		set = make(map[string]struct{})
		r.members[dialogID] = set
	}
	set[connID] = struct{}{}
	r.current[connID] = dialogID
	r.mu.Unlock()

	// Transport calls may block on I/O; keep them outside the lock.
	if hadPrev {
		// Best effort, like LeaveAll: the old subscription may already
		// be gone.
		_ = r.transport.Leave(Group(prev), connID)
	}
	if err := r.transport.Join(Group(dialogID), connID, deliver); err != nil {
		// Undo the mutation so the connection is not recorded in a room
		// that will never deliver to it. Another goroutine may have moved
		// the connection while the lock was released; only roll back if
		// the record is still ours.
		r.mu.Lock()
		if cur, ok := r.current[connID]; ok && cur == dialogID {
			r.removeLocked(dialogID, connID)
			delete(r.current, connID)
		}
		r.mu.Unlock()
		return fmt.Errorf("room: join %s: %w", Group(dialogID), err)
	}
	return nil
}

// LeaveAll removes a connection from every room it belongs to. A connection
// holds at most one room, but the sweep tolerates stale multi-room state,
// so it is always safe to call on disconnect.
func (r *Router) LeaveAll(connID string) {
	r.mu.Lock()
	var left []int64
	for dialogID, set := range r.members {
		if _, ok := set[connID]; ok {
			r.removeLocked(dialogID, connID)
			left = append(left, dialogID)
		}
	}
	delete(r.current, connID)
	r.mu.Unlock()

	for _, dialogID := range left {
		// Best effort: the connection may already be gone.
		_ = r.transport.Leave(Group(dialogID), connID)
	}
}

// Broadcast delivers a payload to every member of a dialog's room. An empty
// or absent room is a no-op, not an error.
func (r *Router) Broadcast(dialogID int64, data []byte) error {
	if err := r.transport.Publish(Group(dialogID), data); err != nil {
		return fmt.Errorf("room: publish %s: %w", Group(dialogID), err)
	}
	return nil
}

// Current returns the dialog the connection is viewing, if any.
func (r *Router) Current(connID string) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.current[connID]
	return id, ok
}

// Members returns a snapshot of the connection ids in a dialog's room.
func (r *Router) Members(dialogID int64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.members[dialogID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// Rooms returns the number of non-empty rooms.
func (r *Router) Rooms() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// removeLocked drops connID from a room's member set and destroys the room
// entry when it empties. Caller holds r.mu.
func (r *Router) removeLocked(dialogID int64, connID string) {
	set, ok := r.members[dialogID]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(r.members, dialogID)
	}
}
