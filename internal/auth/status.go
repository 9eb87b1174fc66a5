// Package auth owns the authentication state of browser sessions.
package auth

import (
	"sync"
)

// Status is the authentication status of a session.
type Status int

const (
	// StatusLoading means the status is being determined, typically while a token refresh runs.
	StatusLoading Status = iota
	StatusAuthenticated
	StatusUnauthenticated
)

func (s Status) String() string {
	switch s {
	case StatusAuthenticated:
		return "authenticated"
	case StatusUnauthenticated:
		return "unauthenticated"
	default:
		return "loading"
	}
}

// Provider exposes the current status and its changes. Readers never write.
type Provider interface {
	Status() Status
	// Subscribe returns a channel receiving the latest status after each
	// change and a function that ends the subscription.
	Subscribe() (<-chan Status, func())
}

// State is the status cell of one session. Only Manager writes it.
type State struct {
	mu     sync.RWMutex
	status Status
	subs   map[int]chan Status
	next   int
}

// NewState creates a cell holding initial.
func NewState(initial Status) *State {
	return &State{status: initial, subs: make(map[int]chan Status)}
}

// Status returns the current status.
func (s *State) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Subscribe implements Provider. Slow subscribers only see the latest value.
func (s *State) Subscribe() (<-chan Status, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	ch := make(chan Status, 1)
	s.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// set stores st and notifies subscribers when it changed.
func (s *State) set(st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == st {
		return
	}
	s.status = st
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- st
	}
}

var _ Provider = (*State)(nil)
