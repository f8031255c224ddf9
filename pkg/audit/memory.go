package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cognidex/crystal/pkg/types"
)

type reviewState int

const (
	reviewPending reviewState = iota
	reviewApproved
	reviewRejected
	reviewApplied
)

// MemoryTrail is the in-process Trail used by tests and ephemeral runs.
type MemoryTrail struct {
	mu        sync.RWMutex
	decisions map[string]*types.PromotionDecision
	order     []string
	reviews   map[string]reviewState
	failed    []*FailedFact
	batches   []*BatchSummary
	conflicts []*Conflict
}

// NewMemoryTrail creates an empty MemoryTrail.
func NewMemoryTrail() *MemoryTrail {
	return &MemoryTrail{
		decisions: make(map[string]*types.PromotionDecision),
		reviews:   make(map[string]reviewState),
	}
}

func (t *MemoryTrail) RecordDecision(ctx context.Context, decision *types.PromotionDecision) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.decisions[decision.ID] = decision
	t.order = append(t.order, decision.ID)
	if decision.RequiresReview {
		t.reviews[decision.ID] = reviewPending
	}
	return nil
}

func (t *MemoryTrail) RecordFailedFact(ctx context.Context, failed *FailedFact) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failed = append(t.failed, failed)
	return nil
}

func (t *MemoryTrail) RecordBatch(ctx context.Context, summary *BatchSummary) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.batches = append(t.batches, summary)
	return nil
}

func (t *MemoryTrail) RecordConflict(ctx context.Context, conflict *Conflict) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, existing := range t.conflicts {
		if existing.ID == conflict.ID {
			return nil
		}
	}
	t.conflicts = append(t.conflicts, conflict)
	return nil
}

func (t *MemoryTrail) PendingReviews(ctx context.Context) ([]*types.PromotionDecision, error) {
	return t.byState(reviewPending), nil
}

func (t *MemoryTrail) ApprovedReviews(ctx context.Context) ([]*types.PromotionDecision, error) {
	return t.byState(reviewApproved), nil
}

func (t *MemoryTrail) byState(want reviewState) []*types.PromotionDecision {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*types.PromotionDecision
	for _, id := range t.order {
		if state, ok := t.reviews[id]; ok && state == want {
			out = append(out, t.decisions[id])
		}
	}
	return out
}

func (t *MemoryTrail) RecordApproval(ctx context.Context, decisionID, reviewer string, approved bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if state, ok := t.reviews[decisionID]; !ok || state != reviewPending {
		return ErrDecisionNotFound
	}
	if approved {
		t.reviews[decisionID] = reviewApproved
	} else {
		t.reviews[decisionID] = reviewRejected
	}
	return nil
}

func (t *MemoryTrail) ConsumeApproval(ctx context.Context, decisionID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if state, ok := t.reviews[decisionID]; !ok || state != reviewApproved {
		return ErrDecisionNotFound
	}
	t.reviews[decisionID] = reviewApplied
	return nil
}

func (t *MemoryTrail) Conflicts(ctx context.Context, since time.Time) ([]*Conflict, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*Conflict
	for _, c := range t.conflicts {
		if !c.RecordedAt.Before(since) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (t *MemoryTrail) Batches(ctx context.Context, limit int) ([]*BatchSummary, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*BatchSummary, len(t.batches))
	copy(out, t.batches)
	sort.Slice(out, func(i, j int) bool {
		return out[i].FinishedAt.After(out[j].FinishedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *MemoryTrail) FailedFacts(ctx context.Context, batchID string) ([]*FailedFact, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*FailedFact
	for _, f := range t.failed {
		if batchID == "" || f.BatchID == batchID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (t *MemoryTrail) Close() error { return nil }

var _ Trail = (*MemoryTrail)(nil)
