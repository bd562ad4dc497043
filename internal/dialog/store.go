// Package dialog provides PostgreSQL-backed storage for pairwise dialogs and
// their ordered message history. A dialog exists at most once per unordered
// participant pair; find-or-create is idempotent and race-safe.
package dialog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Dialog is a persistent conversation between two identities. Sender is the
// participant who opened the dialog; the roles carry no other meaning.
type Dialog struct {
	ID        int64     `json:"id"`
	Sender    int64     `json:"sender"`
	Recipient int64     `json:"recipient"`
	CreatedAt time.Time `json:"created_at"`
}

// IsParticipant reports whether userID is one of the dialog's two members.
func (d *Dialog) IsParticipant(userID int64) bool {
	return userID == d.Sender || userID == d.Recipient
}

// Partner returns the other participant's id, or 0 if userID is not a
// participant.
func (d *Dialog) Partner(userID int64) int64 {
	if userID == d.Sender {
		return d.Recipient
	}
	if userID == d.Recipient {
		return d.Sender
	}
	return 0
}

// Message is one entry in a dialog's history. The read flag transitions
// false to true exactly once, triggered only by the recipient; everything
// else is immutable after creation.
type Message struct {
	ID        int64     `json:"id"`
	DialogID  int64     `json:"dialog_id"`
	Sender    int64     `json:"sender"`
	Recipient int64     `json:"recipient"`
	Content   string    `json:"content"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// Store manages dialogs and messages in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a dialog store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ErrSelfDialog is returned when both participants are the same identity.
var ErrSelfDialog = errors.New("dialog: participants must differ")

// FindOrCreate returns the dialog for the unordered pair (userA, userB),
// creating it if absent. Concurrent calls for the same pair from both ends
// are safe: the canonicalized unique index on (LEAST, GREATEST) lets exactly
// one insert win, and the loser reads the winner's row.
func (s *Store) FindOrCreate(ctx context.Context, userA, userB int64) (*Dialog, error) {
	if userA == userB {
		return nil, ErrSelfDialog
	}

	const insert = `
		INSERT INTO dialogs (sender, recipient)
		VALUES ($1, $2)
		ON CONFLICT ((LEAST(sender, recipient)), (GREATEST(sender, recipient))) DO NOTHING
		RETURNING id, sender, recipient, created_at`

	var d Dialog
	err := s.db.QueryRowContext(ctx, insert, userA, userB).
		Scan(&d.ID, &d.Sender, &d.Recipient, &d.CreatedAt)
	if err == nil {
		return &d, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("dialog: create: %w", err)
	}

	// Insert lost the race or the pair already existed; read the survivor.
	const query = `
		SELECT id, sender, recipient, created_at
		FROM dialogs
		WHERE LEAST(sender, recipient) = LEAST($1::bigint, $2::bigint)
		  AND GREATEST(sender, recipient) = GREATEST($1::bigint, $2::bigint)`

	err = s.db.QueryRowContext(ctx, query, userA, userB).
		Scan(&d.ID, &d.Sender, &d.Recipient, &d.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("dialog: find after conflict: %w", err)
	}
	return &d, nil
}

// Get returns the dialog with the given id, or nil if absent.
func (s *Store) Get(ctx context.Context, id int64) (*Dialog, error) {
	const query = `
		SELECT id, sender, recipient, created_at
		FROM dialogs WHERE id = $1`

	var d Dialog
	err := s.db.QueryRowContext(ctx, query, id).
		Scan(&d.ID, &d.Sender, &d.Recipient, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dialog: get: %w", err)
	}
	return &d, nil
}

// GetForUser returns the dialog with the given id only if userID is one of
// its participants; otherwise nil. Filtering on dialog id plus membership
// (rather than an OR across positional columns) keeps a caller from reading
// someone else's dialog by id.
func (s *Store) GetForUser(ctx context.Context, id, userID int64) (*Dialog, error) {
	const query = `
		SELECT id, sender, recipient, created_at
		FROM dialogs
		WHERE id = $1 AND (sender = $2 OR recipient = $2)`

	var d Dialog
	err := s.db.QueryRowContext(ctx, query, id, userID).
		Scan(&d.ID, &d.Sender, &d.Recipient, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dialog: get for user: %w", err)
	}
	return &d, nil
}

// ListForUser returns every dialog userID participates in, newest first.
func (s *Store) ListForUser(ctx context.Context, userID int64) ([]Dialog, error) {
	const query = `
		SELECT id, sender, recipient, created_at
		FROM dialogs
		WHERE sender = $1 OR recipient = $1
		ORDER BY id DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("dialog: list: %w", err)
	}
	defer rows.Close()

	var dialogs []Dialog
	for rows.Next() {
		var d Dialog
		if err := rows.Scan(&d.ID, &d.Sender, &d.Recipient, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("dialog: list scan: %w", err)
		}
		dialogs = append(dialogs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dialog: list rows: %w", err)
	}
	return dialogs, nil
}

// CreateMessage appends an unread message to a dialog's history.
func (s *Store) CreateMessage(ctx context.Context, dialogID, sender, recipient int64, content string) (*Message, error) {
	const query = `
		INSERT INTO messages (dialog_id, sender, recipient, content)
		VALUES ($1, $2, $3, $4)
		RETURNING id, dialog_id, sender, recipient, content, is_read, created_at`

	var m Message
	err := s.db.QueryRowContext(ctx, query, dialogID, sender, recipient, content).
		Scan(&m.ID, &m.DialogID, &m.Sender, &m.Recipient, &m.Content, &m.IsRead, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("dialog: create message: %w", err)
	}
	return &m, nil
}

// Messages returns a dialog's full history in send order.
func (s *Store) Messages(ctx context.Context, dialogID int64) ([]Message, error) {
	const query = `
		SELECT id, dialog_id, sender, recipient, content, is_read, created_at
		FROM messages
		WHERE dialog_id = $1
		ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, dialogID)
	if err != nil {
		return nil, fmt.Errorf("dialog: messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.DialogID, &m.Sender, &m.Recipient, &m.Content, &m.IsRead, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("dialog: messages scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dialog: messages rows: %w", err)
	}
	return messages, nil
}

// LastMessages returns the newest message per dialog for the given ids.
func (s *Store) LastMessages(ctx context.Context, dialogIDs []int64) (map[int64]Message, error) {
	if len(dialogIDs) == 0 {
		return map[int64]Message{}, nil
	}

	const query = `
		SELECT DISTINCT ON (dialog_id)
		       id, dialog_id, sender, recipient, content, is_read, created_at
		FROM messages
		WHERE dialog_id = ANY($1)
		ORDER BY dialog_id, id DESC`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(dialogIDs))
	if err != nil {
		return nil, fmt.Errorf("dialog: last messages: %w", err)
	}
	defer rows.Close()

	last := make(map[int64]Message, len(dialogIDs))
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.DialogID, &m.Sender, &m.Recipient, &m.Content, &m.IsRead, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("dialog: last messages scan: %w", err)
		}
		last[m.DialogID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dialog: last messages rows: %w", err)
	}
	return last, nil
}

// MarkRead sets the read flag on a message, but only when the message
// belongs to the dialog and consumer is its recipient. Returns the updated
// message, or nil when no such message exists. Re-marking an already-read
// message succeeds without change.
func (s *Store) MarkRead(ctx context.Context, dialogID, messageID, consumer int64) (*Message, error) {
	const query = `
		UPDATE messages SET is_read = TRUE
		WHERE id = $1 AND dialog_id = $2 AND recipient = $3
		RETURNING id, dialog_id, sender, recipient, content, is_read, created_at`

	var m Message
	err := s.db.QueryRowContext(ctx, query, messageID, dialogID, consumer).
		Scan(&m.ID, &m.DialogID, &m.Sender, &m.Recipient, &m.Content, &m.IsRead, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dialog: mark read: %w", err)
	}
	return &m, nil
}
