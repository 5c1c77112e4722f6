package chatgate

import (
	"context"
	"errors"
	"time"
)

// MaxSessionTokenLength bounds, in characters, session tokens accepted from
// clients. Longer tokens are rejected before any store lookup.
const MaxSessionTokenLength = 100

var (
	ErrSessionMalformed = errors.New("session token malformed")
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionExpired   = errors.New("session expired")

	// ErrStoreUnavailable wraps failures of the session store itself. It is never
	// returned for an invalid session.
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// IsSessionInvalid reports whether err means the session cannot be used
// (malformed, unknown or expired) as opposed to an infrastructure failure.
func IsSessionInvalid(err error) bool {
	return errors.Is(err, ErrSessionMalformed) ||
		errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrSessionExpired)
}

// Session is identified by two values. Token is the bearer secret and the
// store key; it is only ever given to the client that logged in. Id is public
// and is what listings, activity logs and revocation refer to.
type Session struct {
	Id             string                 `json:"id"`
	Token          string                 `json:"token"`
	UserId         UserId                 `json:"userId"`
	CreatedAt      time.Time              `json:"createdAt"`
	LastAccessedAt time.Time              `json:"lastAccessedAt"`
	ExpiresAt      time.Time              `json:"expiresAt"`
	Ip             string                 `json:"ip"`
	UserAgent      string                 `json:"userAgent"`
	Data           map[string]interface{} `json:"data,omitempty"`
}

// Expired reports whether the session is no longer valid at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// SessionStore is a key-value store of serialized sessions keyed by token. It
// is shared with other processes, so every mutation must be idempotent.
type SessionStore interface {
	// Get returns ErrSessionNotFound if there is no session with given token.
	Get(ctx context.Context, token string) (Session, error)

	Set(ctx context.Context, session Session) error

	// Update overwrites the session only if it is still stored and returns
	// ErrSessionNotFound otherwise, so a session deleted concurrently is never
	// brought back.
	Update(ctx context.Context, session Session) error

	// Delete does not fail if the session is already gone.
	Delete(ctx context.Context, token string) error

	// ScanTokens lists tokens of all stored sessions.
	ScanTokens(ctx context.Context) ([]string, error)
}

// ExpiryGrace is added to the store-level TTL of a session. Records outlive
// their expiry for a while so verification can report them as expired.
const ExpiryGrace = 24 * time.Hour

// StoreTTL returns how long the store should keep the session record.
func StoreTTL(s Session, now time.Time) time.Duration {
	ttl := s.ExpiresAt.Sub(now)
	if ttl < 0 {
		ttl = 0
	}
	return ttl + ExpiryGrace
}
