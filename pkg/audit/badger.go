package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/cognidex/crystal/pkg/types"
)

// Key prefixes. Timestamped segments use fixed-width nanoseconds so the
// default lexicographic iteration order is chronological.
const (
	prefixDecision = "audit/d/"
	prefixReview   = "audit/r/"
	prefixFailed   = "audit/f/"
	prefixBatch    = "audit/b/"
	prefixConflict = "audit/c/"
)

// BadgerTrail is the durable Trail.
type BadgerTrail struct {
	db     *badger.DB
	ownsDB bool
}

// NewBadgerTrail opens (or creates) a Badger database at path.
func NewBadgerTrail(path string) (*BadgerTrail, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("audit: open trail: %w", err)
	}
	return &BadgerTrail{db: db, ownsDB: true}, nil
}

// WrapBadgerTrail reuses an already-open Badger database. Close becomes a
// no-op; the owner closes the database.
func WrapBadgerTrail(db *badger.DB) *BadgerTrail {
	return &BadgerTrail{db: db}
}

// DB exposes the underlying database so other stores can share it.
func (t *BadgerTrail) DB() *badger.DB { return t.db }

func stampedKey(prefix string, at time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", prefix, at.UnixNano(), id))
}

func (t *BadgerTrail) putJSON(key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("audit: encode record: %w", err)
	}
	err = t.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, raw)
	})
	if err != nil {
		return fmt.Errorf("audit: write record: %w", err)
	}
	return nil
}

func (t *BadgerTrail) RecordDecision(ctx context.Context, decision *types.PromotionDecision) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := json.Marshal(decision)
	if err != nil {
		return fmt.Errorf("audit: encode decision: %w", err)
	}
	err = t.db.Update(func(txn *badger.Txn) error {
		key := stampedKey(prefixDecision, decision.EvaluatedAt, decision.ID)
		if err := txn.Set(key, raw); err != nil {
			return err
		}
		if decision.RequiresReview {
			return txn.Set(reviewKey(decision.ID), []byte("pending"))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("audit: write decision: %w", err)
	}
	return nil
}

func reviewKey(decisionID string) []byte {
	return []byte(prefixReview + decisionID)
}

func (t *BadgerTrail) RecordFailedFact(ctx context.Context, failed *FailedFact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.putJSON(stampedKey(prefixFailed, failed.FailedAt, failed.BatchID), failed)
}

func (t *BadgerTrail) RecordBatch(ctx context.Context, summary *BatchSummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.putJSON(stampedKey(prefixBatch, summary.FinishedAt, summary.BatchID), summary)
}

func (t *BadgerTrail) RecordConflict(ctx context.Context, conflict *Conflict) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := json.Marshal(conflict)
	if err != nil {
		return fmt.Errorf("audit: encode conflict: %w", err)
	}
	// Conflict ids are deterministic over the fact pair; the first record
	// wins so re-detection on later batches is a no-op.
	key := []byte(prefixConflict + conflict.ID)
	err = t.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, raw)
	})
	if err != nil {
		return fmt.Errorf("audit: write conflict: %w", err)
	}
	return nil
}

// heldDecisions returns reviewable decisions whose review marker matches
// wantState, oldest first.
func (t *BadgerTrail) heldDecisions(ctx context.Context, wantState string) ([]*types.PromotionDecision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []*types.PromotionDecision
	err := t.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixDecision)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var decision types.PromotionDecision
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &decision)
			})
			if err != nil {
				return err
			}
			if !decision.RequiresReview {
				continue
			}

			state, err := t.reviewState(txn, decision.ID)
			if err != nil {
				return err
			}
			if state == wantState {
				d := decision
				out = append(out, &d)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("audit: scan decisions: %w", err)
	}
	return out, nil
}

func (t *BadgerTrail) reviewState(txn *badger.Txn, decisionID string) (string, error) {
	item, err := txn.Get(reviewKey(decisionID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	var state string
	err = item.Value(func(val []byte) error {
		state = string(val)
		return nil
	})
	return state, err
}

func (t *BadgerTrail) PendingReviews(ctx context.Context) ([]*types.PromotionDecision, error) {
	return t.heldDecisions(ctx, "pending")
}

func (t *BadgerTrail) ApprovedReviews(ctx context.Context) ([]*types.PromotionDecision, error) {
	return t.heldDecisions(ctx, "approved")
}

func (t *BadgerTrail) transitionReview(decisionID, fromState, toState string) error {
	err := t.db.Update(func(txn *badger.Txn) error {
		state, err := t.reviewState(txn, decisionID)
		if err != nil {
			return err
		}
		if state != fromState {
			return ErrDecisionNotFound
		}
		return txn.Set(reviewKey(decisionID), []byte(toState))
	})
	if errors.Is(err, ErrDecisionNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("audit: update review: %w", err)
	}
	return nil
}

func (t *BadgerTrail) RecordApproval(ctx context.Context, decisionID, reviewer string, approved bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	toState := "approved"
	if !approved {
		toState = "rejected"
	}
	return t.transitionReview(decisionID, "pending", toState)
}

func (t *BadgerTrail) ConsumeApproval(ctx context.Context, decisionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.transitionReview(decisionID, "approved", "applied")
}

func (t *BadgerTrail) Conflicts(ctx context.Context, since time.Time) ([]*Conflict, error) {
	var out []*Conflict
	err := scanJSON(t.db, prefixConflict, func(c *Conflict) {
		if !c.RecordedAt.Before(since) {
			out = append(out, c)
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (t *BadgerTrail) Batches(ctx context.Context, limit int) ([]*BatchSummary, error) {
	var all []*BatchSummary
	err := scanJSON(t.db, prefixBatch, func(b *BatchSummary) {
		all = append(all, b)
	})
	if err != nil {
		return nil, err
	}
	// Keys iterate oldest first; callers want newest first.
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (t *BadgerTrail) FailedFacts(ctx context.Context, batchID string) ([]*FailedFact, error) {
	var out []*FailedFact
	err := scanJSON(t.db, prefixFailed, func(f *FailedFact) {
		if batchID == "" || f.BatchID == batchID {
			out = append(out, f)
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func scanJSON[T any](db *badger.DB, prefix string, visit func(*T)) error {
	err := db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			var v T
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &v)
			})
			if err != nil {
				return err
			}
			visit(&v)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("audit: scan %s: %w", prefix, err)
	}
	return nil
}

// Close closes the underlying database when this trail owns it.
func (t *BadgerTrail) Close() error {
	if !t.ownsDB {
		return nil
	}
	return t.db.Close()
}

var _ Trail = (*BadgerTrail)(nil)
