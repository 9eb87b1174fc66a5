package navigate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"medportal/internal/shared"
)

func peek(b *Board, clientID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.pending[clientID]
	return t.path, ok
}

func TestBoard_ReplaceAndTake(t *testing.T) {
	b := NewBoard()
	ctx := shared.WithClientID(context.Background(), "c1")

	b.Replace(ctx, "/dashboard")
	b.Replace(ctx, "/auth/login")

	p, ok := peek(b, "c1")
	assert.True(t, ok)
	assert.Equal(t, "/auth/login", p)

	p, ok = b.Take("c1")
	assert.True(t, ok)
	assert.Equal(t, "/auth/login", p)

	_, ok = b.Take("c1")
	assert.False(t, ok)
}

func TestBoard_IgnoresMissingClient(t *testing.T) {
	b := NewBoard()
	b.Replace(context.Background(), "/auth/login")
	_, ok := b.Take("")
	assert.False(t, ok)
}

func TestBoard_Expire(t *testing.T) {
	now := time.Unix(100, 0)
	b := NewBoard()
	b.now = func() time.Time { return now }

	b.Replace(shared.WithClientID(context.Background(), "old"), "/auth/login")
	now = now.Add(time.Minute)
	b.Replace(shared.WithClientID(context.Background(), "new"), "/auth/login")
	now = now.Add(30 * time.Second)

	assert.Equal(t, 1, b.Expire(45*time.Second))
	_, ok := peek(b, "old")
	assert.False(t, ok)
	_, ok = peek(b, "new")
	assert.True(t, ok)
}
