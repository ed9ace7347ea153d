package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docsage/docsage/internal/model"
)

// ErrQuotaExceeded signals the caller hit the daily message cap. Mapped to
// 429 at the HTTP layer so clients can tell "come back tomorrow" from a
// pipeline failure.
var ErrQuotaExceeded = errors.New("daily message limit reached")

// quotaWindow is the rolling reset period for free-tier counters.
const quotaWindow = 24 * time.Hour

// UsageStore persists per-user counters.
type UsageStore interface {
	GetUsage(ctx context.Context, userID string) (model.Usage, error)
	SetUsage(ctx context.Context, u model.Usage) error
}

// QuotaGate enforces a rolling daily message cap for free-tier users. The
// counter is read before the pipeline runs and written after it succeeds,
// with seconds of model latency in between, so concurrent requests can both
// pass the gate on the same stale count. This is a soft limit by design.
type QuotaGate struct {
	store UsageStore
	limit int
	now   func() time.Time
}

func NewQuotaGate(store UsageStore, limit int) *QuotaGate {
	if limit <= 0 {
		limit = 50
	}
	return &QuotaGate{store: store, limit: limit, now: time.Now}
}

// Decision is the snapshot taken by Check, replayed into Commit so the
// increment and the window reset agree with what the gate decided on.
type Decision struct {
	userID        string
	count         int
	windowElapsed bool

	// Exempt is true for non-free tiers: no counter was read and none will
	// be written.
	Exempt bool
}

// Check decides whether the user may send a message. The 24h window is reset
// lazily: an elapsed window makes the effective count zero for this decision,
// but nothing is written back until Commit.
func (g *QuotaGate) Check(ctx context.Context, userID, tier string) (Decision, error) {
	if tier != model.TierFree {
		return Decision{userID: userID, Exempt: true}, nil
	}

	u, err := g.store.GetUsage(ctx, userID)
	if err != nil {
		return Decision{}, fmt.Errorf("read usage: %w", err)
	}

	d := Decision{
		userID:        userID,
		count:         u.Count,
		windowElapsed: g.now().Sub(u.LastReset) >= quotaWindow,
	}

	effective := u.Count
	if d.windowElapsed {
		effective = 0
	}
	if effective >= g.limit {
		return Decision{}, ErrQuotaExceeded
	}
	return d, nil
}

// Commit charges one message against the counter, after a non-empty answer
// was produced. If the window had elapsed at Check time, the counter restarts
// at 1 and the window anchor moves to now.
func (g *QuotaGate) Commit(ctx context.Context, d Decision) error {
	if d.Exempt {
		return nil
	}

	u, err := g.store.GetUsage(ctx, d.userID)
	if err != nil {
		return fmt.Errorf("read usage: %w", err)
	}
	u.UserID = d.userID
	if d.windowElapsed {
		u.Count = 1
		u.LastReset = g.now()
	} else {
		// Increment from the count seen at Check. Two in-flight requests
		// that read the same base both write base+1; the cap is soft.
		u.Count = d.count + 1
	}
	if err := g.store.SetUsage(ctx, u); err != nil {
		return fmt.Errorf("write usage: %w", err)
	}
	return nil
}
