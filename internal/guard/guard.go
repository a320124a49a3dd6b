// Package guard implements the coarse concurrency guard that keeps bookmark
// relocations from racing in-flight captures. Any held token blocks every
// new relocation; tokens are keyed by URL so a second capture of a URL that
// is still being written can be refused.
package guard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/bookmark-archiver/internal/metrics"
)

// ErrWaitTimeout is returned when the guard stays blocked past the wait budget.
var ErrWaitTimeout = errors.New("guard: wait timed out")

// Token is a held guard slot. The zero Token is never held.
type Token struct {
	id  uint64
	key string
}

// Key returns the resource the token protects.
func (t Token) Key() string {
	return t.key
}

// Config controls waiting behavior.
type Config struct {
	// WaitTimeout bounds Acquire; zero waits until the context ends.
	WaitTimeout time.Duration
	Logger      *zap.Logger
}

// Guard is safe for concurrent use.
type Guard struct {
	mu       sync.Mutex
	held     map[uint64]string
	next     uint64
	released chan struct{}
	cfg      Config
	logger   *zap.Logger
}

// New creates an unblocked Guard.
func New(cfg Config) *Guard {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{
		held:     make(map[uint64]string),
		released: make(chan struct{}),
		cfg:      cfg,
		logger:   logger,
	}
}

// IsBlocked reports whether any token is held.
func (g *Guard) IsBlocked() bool {
	return g.Len() > 0
}

// Len returns the number of held tokens.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.held)
}

// Holds reports whether a token for key is held.
func (g *Guard) Holds(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.holdsLocked(key)
}

// Push takes a token unconditionally.
func (g *Guard) Push(key string) Token {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pushLocked(key)
}

// TryPush takes a token unless one for key is already held.
func (g *Guard) TryPush(key string) (Token, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if key != "" && g.holdsLocked(key) {
		return Token{}, false
	}
	return g.pushLocked(key), true
}

// Pop releases t. Releasing a token twice is a no-op.
func (g *Guard) Pop(t Token) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.held[t.id]; !ok {
		return
	}
	delete(g.held, t.id)
	metrics.SetGuardTokens(len(g.held))
	close(g.released)
	g.released = make(chan struct{})
}

// Wait blocks until no token is held.
func (g *Guard) Wait(ctx context.Context) error {
	_, err := g.acquire(ctx, "", false)
	return err
}

// Acquire waits until no token is held and takes one for key in the same
// critical section, so no other holder can slip in between.
func (g *Guard) Acquire(ctx context.Context, key string) (Token, error) {
	return g.acquire(ctx, key, true)
}

func (g *Guard) acquire(ctx context.Context, key string, take bool) (Token, error) {
	start := time.Now()
	var deadline <-chan time.Time
	if g.cfg.WaitTimeout > 0 {
		timer := time.NewTimer(g.cfg.WaitTimeout)
		defer timer.Stop()
		deadline = timer.C
	}
	for {
		g.mu.Lock()
		if len(g.held) == 0 {
			var tok Token
			if take {
				tok = g.pushLocked(key)
			}
			g.mu.Unlock()
			metrics.ObserveGuardWait(time.Since(start))
			return tok, nil
		}
		released := g.released
		g.mu.Unlock()

		select {
		case <-released:
		case <-deadline:
			g.logger.Warn("guard wait timed out",
				zap.String("key", key),
				zap.Int("held", g.Len()),
				zap.Duration("waited", time.Since(start)),
			)
			return Token{}, fmt.Errorf("%w after %s", ErrWaitTimeout, g.cfg.WaitTimeout)
		case <-ctx.Done():
			return Token{}, fmt.Errorf("guard wait canceled: %w", ctx.Err())
		}
	}
}

func (g *Guard) holdsLocked(key string) bool {
	for _, k := range g.held {
		if k == key {
			return true
		}
	}
	return false
}

func (g *Guard) pushLocked(key string) Token {
	g.next++
	tok := Token{id: g.next, key: key}
	g.held[tok.id] = key
	metrics.SetGuardTokens(len(g.held))
	return tok
}
