package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"medportal/internal/auth"
	"medportal/internal/shared"
	"medportal/internal/upstream"
)

// DefaultRedisPrefix namespaces session keys.
const DefaultRedisPrefix = "medportal:session:"

// RedisStore keeps each session as a JSON value that expires with the session.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ auth.Store = (*RedisStore)(nil)

// NewRedisStore returns a store on rdb. An empty prefix means DefaultRedisPrefix.
func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{rdb: rdb, prefix: prefix, now: time.Now}
}

// redisRecord mirrors auth.Session field for field.
type redisRecord struct {
	ID              string        `json:"id"`
	ClientID        string        `json:"client_id"`
	UserID          int64         `json:"user_id"`
	Email           string        `json:"email"`
	FirstName       string        `json:"first_name,omitempty"`
	LastName        string        `json:"last_name,omitempty"`
	Role            upstream.Role `json:"role"`
	AccessToken     string        `json:"access_token"`
	RefreshToken    string        `json:"refresh_token"`
	AccessExpiresAt time.Time     `json:"access_expires_at,omitzero"`
	ExpiresAt       time.Time     `json:"expires_at,omitzero"`
	CreatedAt       time.Time     `json:"created_at"`
}

func (st *RedisStore) key(id string) string { return st.prefix + id }

// Save writes s with a TTL that ends with the session. A session already
// past its expiry is deleted instead.
func (st *RedisStore) Save(ctx context.Context, s *auth.Session) error {
	var ttl time.Duration
	if !s.ExpiresAt.IsZero() {
		ttl = s.ExpiresAt.Sub(st.now())
		if ttl <= 0 {
			return st.Delete(ctx, s.ID)
		}
	}
	data, err := json.Marshal(redisRecord(*s))
	if err != nil {
		return shared.Wrapf(err, "encode session %s", s.ID)
	}
	if err := st.rdb.Set(ctx, st.key(s.ID), data, ttl).Err(); err != nil {
		return shared.Wrapf(err, "save session %s", s.ID)
	}
	return nil
}

// Get loads the session id.
func (st *RedisStore) Get(ctx context.Context, id string) (*auth.Session, error) {
	data, err := st.rdb.Get(ctx, st.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, shared.Wrapf(err, "load session %s", id)
	}
	var rec redisRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, shared.Wrapf(err, "decode session %s", id)
	}
	s := auth.Session(rec)
	return &s, nil
}

// Delete removes id. Unknown ids are not an error.
func (st *RedisStore) Delete(ctx context.Context, id string) error {
	if err := st.rdb.Del(ctx, st.key(id)).Err(); err != nil {
		return shared.Wrapf(err, "delete session %s", id)
	}
	return nil
}

// DeleteExpired is a no-op: keys expire on their own.
func (st *RedisStore) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}
