package engine

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/keyrotor/keyrotor/internal/core"
	"github.com/keyrotor/keyrotor/internal/core/keystore"
)

// Selector hands out one eligible key per call and records its use.
//
// Eligibility is evaluated on a snapshot and the use is committed with a
// separate per-record mutation. A key may become ineligible in between
// (deactivated, or filled by a concurrent pick); the commit still applies.
type Selector struct {
	Keys    *keystore.Store
	Limiter *AggregateLimiter
	Limits  core.KeyLimits
	Clock   func() time.Time

	// Intn returns a uniform value in [0, n). Defaults to math/rand/v2.
	Intn func(n int) int

	beforeCommit func(id string)
}

// NewSelector wires a selector over keys and limiter.
func NewSelector(keys *keystore.Store, limiter *AggregateLimiter, limits core.KeyLimits) *Selector {
	return &Selector{
		Keys:    keys,
		Limiter: limiter,
		Limits:  limits,
	}
}

// Next picks a key under mode and returns its identifier.
//
// The aggregate reservation is taken first and is not refunded when no key is
// eligible or when the winner is deleted before the commit.
func (s *Selector) Next(ctx context.Context, mode core.SelectionMode) (string, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return "", err
		}
	}

	if !s.Limiter.TryReserve() {
		return "", core.ErrRateLimitExceeded
	}

	eligible := s.eligible()
	if len(eligible) == 0 {
		return "", core.ErrNoAvailableKey
	}

	var winner string
	switch mode {
	case core.SelectionRandom:
		winner = eligible[s.intn(len(eligible))].Key
	default:
		winner = leastRecentlyUsed(eligible).Key
	}

	if s.beforeCommit != nil {
		s.beforeCommit(winner)
	}

	now := s.now()
	if !s.Keys.Mutate(winner, func(r *core.KeyRecord) { r.RecordUse(now) }) {
		return "", fmt.Errorf("commit selection: %w", core.ErrKeyVanished)
	}
	return winner, nil
}

func (s *Selector) eligible() []core.KeyRecord {
	snapshot := s.Keys.Snapshot()
	eligible := snapshot[:0]
	for _, record := range snapshot {
		if record.Eligible(s.Limits) {
			eligible = append(eligible, record)
		}
	}
	return eligible
}

// leastRecentlyUsed returns the record with the oldest LastUsed. Ties go to the
// lexically smallest identifier so a fixed pool state always yields the same key.
func leastRecentlyUsed(records []core.KeyRecord) core.KeyRecord {
	best := records[0]
	for _, record := range records[1:] {
		switch {
		case record.LastUsed.Before(best.LastUsed):
			best = record
		case record.LastUsed.Equal(best.LastUsed) && record.Key < best.Key:
			best = record
		}
	}
	return best
}

func (s *Selector) intn(n int) int {
	if s.Intn != nil {
		return s.Intn(n)
	}
	return rand.IntN(n)
}

func (s *Selector) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now().UTC()
}
