package router

import (
	"context"
	"sync"

	"sage/internal/apperrors"
)

// Session is one connected client channel. Queries are serialized in send
// order: the fragments of query n are fully emitted before query n+1 starts.
type Session struct {
	ID     string
	router *Router

	mu      sync.Mutex // serializes queries
	stateMu sync.Mutex // guards cancel/closed
	cancel  context.CancelFunc
	closed  bool
}

// NewSession opens a session.
func (r *Router) NewSession(id string) *Session {
	return &Session{ID: id, router: r}
}

// Query runs one query and streams its fragments on the returned channel.
// The channel closes when the query completes, fails or is cancelled.
func (s *Session) Query(ctx context.Context, text string) <-chan Fragment {
	out := make(chan Fragment, 8)

	go func() {
		defer close(out)

		s.mu.Lock()
		defer s.mu.Unlock()

		s.stateMu.Lock()
		if s.closed {
			s.stateMu.Unlock()
			out <- errorFragment(apperrors.New(apperrors.KindInput, "session %s is closed", s.ID), "")
			return
		}
		qctx, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		s.stateMu.Unlock()
		defer func() {
			cancel()
			s.stateMu.Lock()
			s.cancel = nil
			s.stateMu.Unlock()
		}()

		for _, frag := range s.router.Handle(qctx, text) {
			select {
			case out <- frag:
			case <-qctx.Done():
				return
			}
		}
	}()

	return out
}

// Cancel aborts the in-flight query, if any. The session stays usable.
func (s *Session) Cancel() {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// Close marks the session closed. In-flight work is cancelled.
func (s *Session) Close() {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
}
