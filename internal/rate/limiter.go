// Package rate paces outbound classification calls so a local model server is
// not flooded with back-to-back requests.
package rate

import (
	"context"
	"fmt"
	"time"
)

// Limiter gates remote classifier calls. A nil Limiter means no pacing.
type Limiter interface {
	Wait(ctx context.Context) error
}

// TokenBucket releases a fixed number of calls per second.
type TokenBucket struct {
	ticker   *time.Ticker
	tokens   chan struct{}
	stopDone chan struct{}
}

// NewTokenBucket returns a limiter allowing rps calls per second.
func NewTokenBucket(rps int) *TokenBucket {
	if rps <= 0 {
		rps = 1
	}
	tb := &TokenBucket{
		ticker:   time.NewTicker(time.Second / time.Duration(rps)),
		tokens:   make(chan struct{}, rps),
		stopDone: make(chan struct{}),
	}
	// let the first call through without waiting a full tick
	tb.tokens <- struct{}{}
	go tb.run()
	return tb
}

func (t *TokenBucket) run() {
	defer close(t.stopDone)
	for range t.ticker.C {
		select {
		case t.tokens <- struct{}{}:
		default:
		}
	}
}

// Wait blocks until a token is available or the context is canceled.
func (t *TokenBucket) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("rate wait canceled: %w", ctx.Err())
	case <-t.tokens:
		return nil
	}
}

// Stop releases the limiter's resources.
func (t *TokenBucket) Stop() {
	t.ticker.Stop()
	<-t.stopDone
}

var _ Limiter = (*TokenBucket)(nil)
