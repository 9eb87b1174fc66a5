package auth

import (
	"context"
	"time"

	"medportal/internal/upstream"
)

// Session is a signed-in browser session and the tokens it holds for the main API.
type Session struct {
	ID              string
	ClientID        string
	UserID          int64
	Email           string
	FirstName       string
	LastName        string
	Role            upstream.Role
	AccessToken     string
	RefreshToken    string
	AccessExpiresAt time.Time
	ExpiresAt       time.Time
	CreatedAt       time.Time
}

// Expired reports whether the browser session itself is over.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// AccessExpired reports whether the access token is expired or expires within skew.
// A zero expiry means the main API did not say; the token is used until rejected.
func (s *Session) AccessExpired(now time.Time, skew time.Duration) bool {
	return !s.AccessExpiresAt.IsZero() && !now.Add(skew).Before(s.AccessExpiresAt)
}

// DisplayName is the name shown in the header.
func (s *Session) DisplayName() string {
	if s.LastName == "" {
		return s.FirstName
	}
	return s.FirstName + " " + s.LastName
}

// Store persists sessions. Get returns shared.ErrNotFound for unknown ids.
type Store interface {
	Save(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
	// DeleteExpired removes sessions whose ExpiresAt is not after now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
