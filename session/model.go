package session

import "time"

// Session is one authenticated device of a principal.
//
// A Session is owned by the store; callers receive copies.
type Session struct {
	PrincipalID string
	SessionID   string
	Role        string

	AccessTokenID    string
	AccessExpiresAt  time.Time
	RefreshTokenID   string
	RefreshExpiresAt time.Time

	IssuedAt       time.Time
	ExpiresAt      time.Time
	LastActivityAt time.Time

	ClientIP string
	DeviceID string
}

// Removed describes a session that left the store through eviction, logout
// or reuse detection, with the token ids that must now be revoked.
type Removed struct {
	SessionID        string
	PrincipalID      string
	DeviceID         string
	AccessTokenID    string
	AccessExpiresAt  time.Time
	RefreshTokenID   string
	RefreshExpiresAt time.Time
	LastActivityAt   time.Time
}

// Rotation is the input of [Store.Rotate].
type Rotation struct {
	PrincipalID      string
	SessionID        string
	PresentedID      string
	AccessTokenID    string
	AccessExpiresAt  time.Time
	RefreshTokenID   string
	RefreshExpiresAt time.Time
}
