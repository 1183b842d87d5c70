// Package limit bounds how many script executions run at once.
package limit

import "context"

// TokenLimiter is a counting semaphore. A nil *TokenLimiter admits
// everything, which is how the unbounded default is expressed.
type TokenLimiter struct {
	tokens chan struct{}
}

// NewTokenLimiter creates a limiter with size slots. A size of zero or less
// returns nil (no limit).
func NewTokenLimiter(size int) *TokenLimiter {
	if size <= 0 {
		return nil
	}
	tokens := make(chan struct{}, size)
	for i := 0; i < size; i++ {
		tokens <- struct{}{}
	}
	return &TokenLimiter{tokens: tokens}
}

// Acquire blocks until a slot is free or ctx is done.
func (l *TokenLimiter) Acquire(ctx context.Context) error {
	if l == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.tokens:
		return nil
	}
}

// Release returns a slot. Extra releases are ignored.
func (l *TokenLimiter) Release() {
	if l == nil {
		return
	}
	select {
	case l.tokens <- struct{}{}:
	default:
	}
}

// Available reports the number of free slots, -1 when unlimited.
func (l *TokenLimiter) Available() int {
	if l == nil {
		return -1
	}
	return len(l.tokens)
}
