// Package block provides PostgreSQL-backed storage for directed block
// relations between identities. Storage is directional: A blocking B says
// nothing about B blocking A. The messaging gate checks both directions at
// read time, so either relation halts the conversation both ways.
package block

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Relation is one directed block: BlockerID has blocked BlockedID.
type Relation struct {
	ID        int64     `json:"id"`
	BlockerID int64     `json:"user_id"`
	BlockedID int64     `json:"blocked_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Store manages block relations in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a block store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Block records that blocker has blocked blocked. Blocking an already
// blocked identity returns the existing relation.
func (s *Store) Block(ctx context.Context, blocker, blocked int64) (*Relation, error) {
	const query = `
		INSERT INTO blocked_users (user_id, blocked_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, blocked_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING id, user_id, blocked_id, created_at`

	var r Relation
	err := s.db.QueryRowContext(ctx, query, blocker, blocked).
		Scan(&r.ID, &r.BlockerID, &r.BlockedID, &r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("block: create: %w", err)
	}
	return &r, nil
}

// Unblock removes blocker's relation on blocked. Returns false when no such
// relation existed.
func (s *Store) Unblock(ctx context.Context, blocker, blocked int64) (bool, error) {
	const query = `DELETE FROM blocked_users WHERE user_id = $1 AND blocked_id = $2`

	res, err := s.db.ExecContext(ctx, query, blocker, blocked)
	if err != nil {
		return false, fmt.Errorf("block: delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("block: delete result: %w", err)
	}
	return n > 0, nil
}

// Find returns the directed relation blocker→blocked, or nil if absent.
func (s *Store) Find(ctx context.Context, blocker, blocked int64) (*Relation, error) {
	const query = `
		SELECT id, user_id, blocked_id, created_at
		FROM blocked_users
		WHERE user_id = $1 AND blocked_id = $2`

	var r Relation
	err := s.db.QueryRowContext(ctx, query, blocker, blocked).
		Scan(&r.ID, &r.BlockerID, &r.BlockedID, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("block: find: %w", err)
	}
	return &r, nil
}

// FindBetween returns the active relation between two identities in either
// direction, preferring userA's own block when both exist. Nil means the
// pair is unblocked.
func (s *Store) FindBetween(ctx context.Context, userA, userB int64) (*Relation, error) {
	const query = `
		SELECT id, user_id, blocked_id, created_at
		FROM blocked_users
		WHERE (user_id = $1 AND blocked_id = $2)
		   OR (user_id = $2 AND blocked_id = $1)
		ORDER BY (user_id = $1) DESC
		LIMIT 1`

	var r Relation
	err := s.db.QueryRowContext(ctx, query, userA, userB).
		Scan(&r.ID, &r.BlockerID, &r.BlockedID, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("block: find between: %w", err)
	}
	return &r, nil
}

// CanSend is the messaging gate: it reports whether a message may pass
// between sender and recipient. A relation in either direction forbids the
// send.
func (s *Store) CanSend(ctx context.Context, sender, recipient int64) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM blocked_users
			WHERE (user_id = $1 AND blocked_id = $2)
			   OR (user_id = $2 AND blocked_id = $1)
		)`

	var blocked bool
	if err := s.db.QueryRowContext(ctx, query, sender, recipient).Scan(&blocked); err != nil {
		return false, fmt.Errorf("block: can send: %w", err)
	}
	return !blocked, nil
}
