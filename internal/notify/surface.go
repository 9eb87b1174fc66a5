// Package notify holds the per-client toast stacks shown by the shared layout.
package notify

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"medportal/internal/shared"
)

// Kind is the visual kind of a toast.
type Kind string

const (
	// KindError marks failed operations.
	KindError Kind = "error"
	// KindSuccess marks confirmations.
	KindSuccess Kind = "success"
)

// Position is where the stack is placed on the page.
type Position string

// Supported positions.
const (
	TopLeft      Position = "top-left"
	TopCenter    Position = "top-center"
	TopRight     Position = "top-right"
	BottomLeft   Position = "bottom-left"
	BottomCenter Position = "bottom-center"
	BottomRight  Position = "bottom-right"
)

// Toast is a single transient notification.
type Toast struct {
	ID        string
	Kind      Kind
	Text      string
	CreatedAt time.Time
}

// Options configures Surface.
type Options struct {
	// Position of the stack, default TopCenter.
	Position Position
	// ReverseOrder shows the newest toast first.
	ReverseOrder bool
	// TTL after which a toast that was never shown expires, default 4s.
	TTL time.Duration
	// Limit caps the number of pending toasts per client, default 20.
	Limit int
	// Now is used in tests.
	Now func() time.Time
}

// Surface keeps one toast stack per browser client.
// Toasts are appended in insertion order and expire independently.
type Surface struct {
	mu     sync.Mutex
	stacks map[string][]Toast
	opts   Options
}

// New creates a Surface.
func New(o Options) *Surface {
	if o.Position == "" {
		o.Position = TopCenter
	}
	if o.TTL <= 0 {
		o.TTL = 4 * time.Second
	}
	if o.Limit <= 0 {
		o.Limit = 20
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return &Surface{stacks: make(map[string][]Toast), opts: o}
}

// Position returns configured stack placement.
func (s *Surface) Position() Position { return s.opts.Position }

// Notify appends a toast to the stack of the client found in ctx.
// Without a client id the toast is dropped.
func (s *Surface) Notify(ctx context.Context, kind Kind, text string) {
	s.Push(shared.ClientID(ctx), kind, text)
}

// Error is shorthand for Notify with KindError.
func (s *Surface) Error(ctx context.Context, text string) {
	s.Notify(ctx, KindError, text)
}

// Success is shorthand for Notify with KindSuccess.
func (s *Surface) Success(ctx context.Context, text string) {
	s.Notify(ctx, KindSuccess, text)
}

// Push appends a toast to the stack of clientID.
func (s *Surface) Push(clientID string, kind Kind, text string) {
	if clientID == "" || text == "" {
		return
	}
	t := Toast{ID: uuid.NewString(), Kind: kind, Text: text, CreatedAt: s.opts.Now()}

	s.mu.Lock()
	defer s.mu.Unlock()
	stack := append(s.stacks[clientID], t)
	if len(stack) > s.opts.Limit {
		stack = stack[len(stack)-s.opts.Limit:]
	}
	s.stacks[clientID] = stack
}

// Take removes and returns the live toasts of clientID in display order.
func (s *Surface) Take(clientID string) []Toast {
	s.mu.Lock()
	stack := s.stacks[clientID]
	delete(s.stacks, clientID)
	s.mu.Unlock()

	now := s.opts.Now()
	out := make([]Toast, 0, len(stack))
	for _, t := range stack {
		if now.Sub(t.CreatedAt) < s.opts.TTL {
			out = append(out, t)
		}
	}
	if s.opts.ReverseOrder {
		slices.Reverse(out)
	}
	return out
}

// Pending returns the number of stored toasts for clientID, expired ones included.
func (s *Surface) Pending(clientID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stacks[clientID])
}

// Expire drops toasts older than TTL and returns how many were removed.
func (s *Surface) Expire() int {
	now := s.opts.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, stack := range s.stacks {
		live := stack[:0]
		for _, t := range stack {
			if now.Sub(t.CreatedAt) < s.opts.TTL {
				live = append(live, t)
			} else {
				removed++
			}
		}
		if len(live) == 0 {
			delete(s.stacks, id)
			continue
		}
		s.stacks[id] = live
	}
	return removed
}
