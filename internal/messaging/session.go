package messaging

import (
	"context"
	"sync"
)

// Session tracks which conversation a viewer currently has open. Selecting
// another conversation closes the previous handle, so at most one
// subscription per session is live.
type Session struct {
	svc    *Service
	viewer string

	mu         sync.Mutex
	active     *Feed
	generation uint64
	closed     bool
}

// Select opens target and makes it the active conversation. If another
// Select starts before this one finishes, the earlier result is discarded
// and ErrHandleClosed returned.
func (s *Session) Select(ctx context.Context, target Target) (*Feed, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrHandleClosed
	}
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	feed, err := s.svc.OpenConversation(ctx, target, s.viewer)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed || gen != s.generation {
		s.mu.Unlock()
		feed.Close()
		return nil, ErrHandleClosed
	}
	previous := s.active
	s.active = feed
	s.mu.Unlock()

	if previous != nil {
		previous.Close()
	}
	return feed, nil
}

// Active returns the open handle, or nil.
func (s *Session) Active() *Feed {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Close closes the active handle and ends the session.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	active := s.active
	s.active = nil
	s.mu.Unlock()

	if active != nil {
		active.Close()
	}
}
