// Package navigate implements the replace-history navigation primitive.
//
// A Board keeps at most one pending redirect per browser client. Failures
// dispatched outside of a render (background refetches) land here and are
// delivered by the next request of that client.
package navigate

import (
	"context"
	"sync"
	"time"

	"medportal/internal/shared"
)

type target struct {
	path string
	at   time.Time
}

// Board stores pending redirects.
type Board struct {
	mu      sync.Mutex
	pending map[string]target
	now     func() time.Time
}

// NewBoard creates an empty Board.
func NewBoard() *Board {
	return &Board{pending: make(map[string]target), now: time.Now}
}

// Replace records path as the redirect target of the client in ctx.
// A later Replace overwrites an earlier one.
func (b *Board) Replace(ctx context.Context, path string) {
	id := shared.ClientID(ctx)
	if id == "" || path == "" {
		return
	}
	b.mu.Lock()
	b.pending[id] = target{path: path, at: b.now()}
	b.mu.Unlock()
}

// Take returns and clears the pending target of clientID.
func (b *Board) Take(clientID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.pending[clientID]
	if ok {
		delete(b.pending, clientID)
	}
	return t.path, ok
}

// Expire drops targets older than maxAge.
func (b *Board) Expire(maxAge time.Duration) int {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for id, t := range b.pending {
		if now.Sub(t.at) > maxAge {
			delete(b.pending, id)
			n++
		}
	}
	return n
}
