package ratelimit

import (
	"context"
	"time"

	"github.com/mbd888/verigate/internal/kv"
)

// DefaultBackoff is the escalating block schedule. The block level indexes
// into it, saturating at the last entry.
var DefaultBackoff = []time.Duration{
	time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
}

const (
	// DefaultWindow is how close together attempts must be to count as
	// hammering.
	DefaultWindow = time.Minute
	// DefaultMaxInWindow is the attempt count at which the next
	// in-window attempt triggers a block.
	DefaultMaxInWindow = 2
)

// GateStatus reports the outcome of an attempt check.
type GateStatus struct {
	Blocked    bool          `json:"blocked"`
	RetryAfter time.Duration `json:"retryAfter,omitempty"`
	Level      int           `json:"level"`
	Attempts   int           `json:"attempts"`
}

// Gate enforces per-session exponential backoff over the persisted store.
// The block level only ever increases while state exists; expiry of a
// block does not lower it, so repeat offenders escalate.
type Gate struct {
	store       kv.Store
	backoff     []time.Duration
	window      time.Duration
	maxInWindow int
}

// GateOption customizes a Gate.
type GateOption func(*Gate)

// WithBackoff overrides the block schedule.
func WithBackoff(schedule []time.Duration) GateOption {
	return func(g *Gate) {
		if len(schedule) > 0 {
			g.backoff = schedule
		}
	}
}

// WithWindow overrides the hammering window.
func WithWindow(window time.Duration) GateOption {
	return func(g *Gate) { g.window = window }
}

// NewGate creates a backoff gate over the given store.
func NewGate(store kv.Store, opts ...GateOption) *Gate {
	g := &Gate{
		store:       store,
		backoff:     DefaultBackoff,
		window:      DefaultWindow,
		maxInWindow: DefaultMaxInWindow,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check records an attempt and decides whether it may proceed. When the
// session is hammering, a block is installed with the duration for the
// current level and the level escalates. An expired block is cleared
// from the store on the way through.
func (g *Gate) Check(ctx context.Context, session string, now time.Time) (GateStatus, error) {
	blockedUntil := kv.GetTime(ctx, g.store, session, kv.KeyBlockedUntil)
	level := kv.GetInt(ctx, g.store, session, kv.KeyBlockLevel, 0)

	if !blockedUntil.IsZero() {
		if now.Before(blockedUntil) {
			return GateStatus{
				Blocked:    true,
				RetryAfter: blockedUntil.Sub(now),
				Level:      level,
			}, nil
		}
		// Block expired; clear the key. The level stays so repeat
		// offenders keep escalating.
		if err := g.store.Delete(ctx, session, kv.KeyBlockedUntil); err != nil {
			return GateStatus{}, err
		}
	}

	lastAttempt := kv.GetTime(ctx, g.store, session, kv.KeyLastAttemptAt)
	count := kv.GetInt(ctx, g.store, session, kv.KeyAttemptCount, 0)

	inWindow := !lastAttempt.IsZero() && now.Sub(lastAttempt) < g.window
	if inWindow && count >= g.maxInWindow {
		duration := g.backoff[min(level, len(g.backoff)-1)]
		if err := kv.SetTime(ctx, g.store, session, kv.KeyBlockedUntil, now.Add(duration)); err != nil {
			return GateStatus{}, err
		}
		if err := kv.SetInt(ctx, g.store, session, kv.KeyBlockLevel, level+1); err != nil {
			return GateStatus{}, err
		}
		return GateStatus{
			Blocked:    true,
			RetryAfter: duration,
			Level:      level + 1,
			Attempts:   count,
		}, nil
	}

	if !inWindow {
		count = 0
	}

	if err := kv.SetTime(ctx, g.store, session, kv.KeyLastAttemptAt, now); err != nil {
		return GateStatus{}, err
	}
	if err := kv.SetInt(ctx, g.store, session, kv.KeyAttemptCount, count+1); err != nil {
		return GateStatus{}, err
	}

	return GateStatus{Attempts: count + 1, Level: level}, nil
}

// IsBlocked reports block state without recording an attempt or mutating
// anything.
func (g *Gate) IsBlocked(ctx context.Context, session string, now time.Time) (GateStatus, error) {
	blockedUntil := kv.GetTime(ctx, g.store, session, kv.KeyBlockedUntil)
	level := kv.GetInt(ctx, g.store, session, kv.KeyBlockLevel, 0)
	count := kv.GetInt(ctx, g.store, session, kv.KeyAttemptCount, 0)

	if !blockedUntil.IsZero() && now.Before(blockedUntil) {
		return GateStatus{
			Blocked:    true,
			RetryAfter: blockedUntil.Sub(now),
			Level:      level,
			Attempts:   count,
		}, nil
	}
	return GateStatus{Level: level, Attempts: count}, nil
}

// Reset clears attempt accounting for the session. The block level is
// left in place so escalation history survives a soft reset.
func (g *Gate) Reset(ctx context.Context, session string) error {
	for _, key := range []string{kv.KeyAttemptCount, kv.KeyLastAttemptAt, kv.KeyBlockedUntil} {
		if err := g.store.Delete(ctx, session, key); err != nil {
			return err
		}
	}
	return nil
}
