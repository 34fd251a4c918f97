package shared

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ReceiveGuard protects the non-idempotent serialized receive path against
// duplicate submissions. Serialized-unit creation cannot be retried safely,
// so a second submission with the same payload must be rejected while the
// first one is in flight or recently completed.
type ReceiveGuard struct {
	locker *redislock.Client
	ttl    time.Duration
}

// NewReceiveGuard constructs the guard. The TTL should exceed the request
// ceiling so a completed submission keeps blocking retries of itself.
func NewReceiveGuard(client redis.UniversalClient, ttl time.Duration) *ReceiveGuard {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &ReceiveGuard{locker: redislock.New(client), ttl: ttl}
}

// Submission is a held guard slot. ReleaseOnFailure frees the slot so the
// caller may retry after an error; a successful submission keeps the slot
// until the TTL expires.
type Submission struct {
	lock *redislock.Lock
}

// ReleaseOnFailure frees the slot after a failed submission.
func (s *Submission) ReleaseOnFailure(ctx context.Context) {
	if s == nil || s.lock == nil {
		return
	}
	_ = s.lock.Release(ctx)
}

// Acquire claims the slot for one submission key. Returns
// ErrAlreadySubmitted when a matching submission holds the slot.
func (g *ReceiveGuard) Acquire(ctx context.Context, key string) (*Submission, error) {
	if g == nil {
		return &Submission{}, nil
	}
	lock, err := g.locker.Obtain(ctx, key, g.ttl, nil)
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, ErrAlreadySubmitted
		}
		return nil, fmt.Errorf("shared: acquire receive guard: %w", err)
	}
	return &Submission{lock: lock}, nil
}

// SubmissionKey derives a stable guard key from the order, line item and
// payload digest of one serialized submission.
func SubmissionKey(orderID, itemID string, payload []byte) string {
	sum := sha256.Sum256(payload)
	return fmt.Sprintf("receive:%s:%s:%s", orderID, itemID, hex.EncodeToString(sum[:8]))
}
