package tickers

import (
	"context"
	"sync"
)

// Session holds the sampled ticker set that successive refreshes scan until reshuffled
type Session struct {
	acquirer *Acquirer
	size     int

	mu      sync.RWMutex
	current *Result
}

// NewSession creates a session sampling size symbols per shuffle
func NewSession(acquirer *Acquirer, size int) *Session {
	return &Session{acquirer: acquirer, size: size}
}

// Current returns the held sample, acquiring one on first use
func (s *Session) Current(ctx context.Context) Result {
	s.mu.RLock()
	cur := s.current
	s.mu.RUnlock()
	if cur != nil {
		return copyResult(*cur)
	}
	return s.Shuffle(ctx)
}

// Shuffle draws a fresh sample and replaces the held one
func (s *Session) Shuffle(ctx context.Context) Result {
	return s.ShuffleN(ctx, s.size)
}

// ShuffleN draws a fresh sample of n symbols and makes n the session size
func (s *Session) ShuffleN(ctx context.Context, n int) Result {
	res := s.acquirer.Acquire(ctx, n)

	s.mu.Lock()
	s.size = n
	s.current = &res
	s.mu.Unlock()
	return copyResult(res)
}

// Size returns the sample size
func (s *Session) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

func copyResult(r Result) Result {
	r.Symbols = append([]string(nil), r.Symbols...)
	return r
}
