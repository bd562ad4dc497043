package service

import (
	"context"
	"log"

	"github.com/parley/chat-server/internal/auth"
	"github.com/parley/chat-server/internal/protocol"
)

// AccountUser is the identity payload returned by login and me.
type AccountUser struct {
	ID      int64  `json:"id"`
	Address string `json:"address"`
	Token   string `json:"token,omitempty"`
}

// Accounts handles login, identity lookup, and presence updates.
type Accounts struct {
	users    IdentityDirectory
	presence PresenceTracker
	tokens   *auth.Issuer
}

// NewAccounts creates the account service.
func NewAccounts(users IdentityDirectory, presence PresenceTracker, tokens *auth.Issuer) *Accounts {
	return &Accounts{users: users, presence: presence, tokens: tokens}
}

// Login resolves or creates the identity for an address, marks it active,
// and issues a login token. The caller binds the returned identity to the
// connection.
func (a *Accounts) Login(ctx context.Context, msg protocol.LoginMsg) Outcome {
	if err := msg.Validate(); err != nil {
		return Fail(CodeInvalidRequest, "invalid parameters")
	}

	user, err := a.users.FindOrCreate(ctx, msg.Address)
	if err != nil {
		return internalFailure("login", err)
	}

	token, err := a.tokens.Issue(user.ID, user.Address)
	if err != nil {
		return internalFailure("login token", err)
	}

	return OK("login success", AccountUser{
		ID:      user.ID,
		Address: user.Address,
		Token:   token,
	})
}

// Me returns the identity bound to the connection. userID comes from the
// session binding; zero means the connection never logged in, in which case
// a valid login token in the request identifies the caller instead.
func (a *Accounts) Me(ctx context.Context, userID int64, msg protocol.MeMsg) Outcome {
	if userID == 0 {
		if msg.Token == "" {
			return Fail(CodeNotFound, "connection is not bound to an identity")
		}
		claims, err := a.tokens.Validate(msg.Token)
		if err != nil {
			return Fail(CodeInvalidRequest, "invalid or expired token")
		}
		userID = claims.UserID
	}

	user, err := a.users.GetByID(ctx, userID)
	if err != nil {
		return internalFailure("me", err)
	}
	if user == nil {
		return Fail(CodeNotFound, "user not found")
	}

	return OK("success", AccountUser{ID: user.ID, Address: user.Address})
}

// SetOnline persists the online flag for an address and refreshes the
// presence cache. Cache failures are logged but do not fail the operation;
// the relational store is the source of truth.
func (a *Accounts) SetOnline(ctx context.Context, msg protocol.SetOnlineMsg) Outcome {
	if err := msg.Validate(); err != nil {
		return Fail(CodeInvalidRequest, "invalid parameters")
	}

	if err := a.users.SetOnline(ctx, msg.Address, msg.Online); err != nil {
		return internalFailure("set online", err)
	}
	if err := a.presence.SetOnline(ctx, msg.Address, msg.Online); err != nil {
		log.Printf("service: presence cache for %s: %v", msg.Address, err)
	}

	return OK("success", nil)
}
