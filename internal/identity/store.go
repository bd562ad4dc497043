// Package identity provides PostgreSQL-backed storage for user identities.
// An identity is keyed by an opaque external address; it is created the
// first time the address is seen and never deleted.
package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// User is a durable identity record.
type User struct {
	ID        int64     `json:"id"`
	Address   string    `json:"address"`
	IsActive  bool      `json:"is_active"`
	IsOnline  bool      `json:"is_online"`
	CreatedAt time.Time `json:"created_at"`
}

// Store manages user identities in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates an identity store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// FindOrCreate resolves the identity for an address, creating it on first
// sight. The resolved identity is always marked active. The unique index on
// address makes concurrent first logins race-safe: the conflict arm turns
// the loser's insert into an update of the winner's row.
func (s *Store) FindOrCreate(ctx context.Context, address string) (*User, error) {
	const query = `
		INSERT INTO users (address, is_active)
		VALUES ($1, TRUE)
		ON CONFLICT (address) DO UPDATE SET is_active = TRUE
		RETURNING id, address, is_active, is_online, created_at`

	var u User
	err := s.db.QueryRowContext(ctx, query, address).
		Scan(&u.ID, &u.Address, &u.IsActive, &u.IsOnline, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("identity: find or create: %w", err)
	}
	return &u, nil
}

// GetByID returns the identity with the given id, or nil if absent.
func (s *Store) GetByID(ctx context.Context, id int64) (*User, error) {
	const query = `
		SELECT id, address, is_active, is_online, created_at
		FROM users WHERE id = $1`
	return s.get(ctx, query, id)
}

// GetByAddress returns the identity for an address, or nil if absent.
func (s *Store) GetByAddress(ctx context.Context, address string) (*User, error) {
	const query = `
		SELECT id, address, is_active, is_online, created_at
		FROM users WHERE address = $1`
	return s.get(ctx, query, address)
}

func (s *Store) get(ctx context.Context, query string, arg interface{}) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, query, arg).
		Scan(&u.ID, &u.Address, &u.IsActive, &u.IsOnline, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("identity: get: %w", err)
	}
	return &u, nil
}

// SetOnline updates the persisted online flag for an address. The identity
// is also marked active: any presence signal proves the address is in use.
func (s *Store) SetOnline(ctx context.Context, address string, online bool) error {
	const query = `
		UPDATE users SET is_active = TRUE, is_online = $2
		WHERE address = $1`

	if _, err := s.db.ExecContext(ctx, query, address, online); err != nil {
		return fmt.Errorf("identity: set online: %w", err)
	}
	return nil
}
