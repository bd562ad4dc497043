// Package auth issues and validates the JWT tokens handed out at login.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenTTL is how long an issued login token remains valid.
const TokenTTL = 24 * time.Hour

// Claims carries the identity fields embedded in a login token.
type Claims struct {
	UserID  int64  `json:"user_id"`
	Address string `json:"address"`
	jwt.RegisteredClaims
}

// Issuer signs and validates login tokens with a shared HMAC secret.
type Issuer struct {
	secret []byte
}

// NewIssuer creates an Issuer from the configured secret.
func NewIssuer(secret string) (*Issuer, error) {
	if secret == "" {
		return nil, fmt.Errorf("auth: empty JWT secret")
	}
	return &Issuer{secret: []byte(secret)}, nil
}

// Issue creates a signed token for the given identity.
func (i *Issuer) Issue(userID int64, address string) (string, error) {
	claims := &Claims{
		UserID:  userID,
		Address: address,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(TokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Validate parses a token string and returns its claims if the signature and
// expiry check out.
func (i *Issuer) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return i.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("auth: parse token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("auth: invalid token")
	}
	return claims, nil
}
