package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidCookie is returned for cookies that fail verification.
var ErrInvalidCookie = errors.New("auth: invalid session cookie")

// CookieClaims is the payload of the session cookie.
type CookieClaims struct {
	jwt.RegisteredClaims
	// ClientID identifies the browser, signed in or not.
	ClientID string `json:"cid"`
	// SessionID is set while signed in.
	SessionID string `json:"sid,omitempty"`
}

// CookieCodec signs and verifies the session cookie (HS256).
type CookieCodec struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// NewCookieCodec creates a codec. secret must be at least 32 bytes.
func NewCookieCodec(secret string, ttl time.Duration) (*CookieCodec, error) {
	if len(secret) < 32 {
		return nil, errors.New("auth: cookie secret must be at least 32 bytes")
	}
	if ttl <= 0 {
		return nil, errors.New("auth: cookie ttl must be positive")
	}
	return &CookieCodec{secret: []byte(secret), ttl: ttl, issuer: "medportal", now: time.Now}, nil
}

// TTL returns the cookie lifetime.
func (c *CookieCodec) TTL() time.Duration { return c.ttl }

// NewClientID returns a fresh browser client id.
func NewClientID() string { return uuid.NewString() }

// Encode signs the claims for clientID and sessionID.
func (c *CookieCodec) Encode(clientID, sessionID string) (string, error) {
	if clientID == "" {
		return "", errors.New("auth: empty client id")
	}
	now := c.now()
	claims := CookieClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
		ClientID:  clientID,
		SessionID: sessionID,
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign cookie: %w", err)
	}
	return s, nil
}

// Decode verifies a cookie value and returns its claims.
func (c *CookieCodec) Decode(value string) (*CookieClaims, error) {
	claims := &CookieClaims{}
	token, err := jwt.ParseWithClaims(value, claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCookie, err)
	}
	if !token.Valid || claims.ClientID == "" {
		return nil, ErrInvalidCookie
	}
	return claims, nil
}
