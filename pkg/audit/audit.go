// Package audit records everything the pipeline decides or fails to do.
// The contract is that no condition is silently swallowed: every promotion
// decision, failed fact, conflict, and batch outcome leaves a durable record.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/cognidex/crystal/pkg/types"
)

// ErrDecisionNotFound is returned when an approval targets an unknown or
// already-resolved decision.
var ErrDecisionNotFound = errors.New("audit: decision not found")

// FailedFact records a fact commit that was rolled back.
type FailedFact struct {
	BatchID   string    `json:"batch_id"`
	ContextID string    `json:"context_id"`
	FactID    string    `json:"fact_id,omitempty"`
	Reason    string    `json:"reason"`
	FailedAt  time.Time `json:"failed_at"`
}

// BatchSummary is the per-batch outcome emitted by the orchestrator.
type BatchSummary struct {
	BatchID      string    `json:"batch_id"`
	Observations int       `json:"observations"`
	Created      int       `json:"created"`
	Merged       int       `json:"merged"`
	Facts        int       `json:"facts"`
	Promoted     int       `json:"promoted"`
	Demoted      int       `json:"demoted"`
	Held         int       `json:"held"`
	Denied       int       `json:"denied"`
	Failed       int       `json:"failed"`
	Watermark    uint64    `json:"watermark"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Conflict records two fact units asserting incompatible relationship types
// over the same entity pair. Conflicts are held for human review, never
// auto-resolved.
type Conflict struct {
	ID         string    `json:"id"`
	EntityAID  string    `json:"entity_a_id"`
	EntityBID  string    `json:"entity_b_id"`
	FactAID    string    `json:"fact_a_id"`
	FactBID    string    `json:"fact_b_id"`
	TypeA      string    `json:"type_a"`
	TypeB      string    `json:"type_b"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ConflictID derives a deterministic identifier for a fact pair, so
// re-detecting the same conflict on later batches records nothing new.
func ConflictID(factAID, factBID string) string {
	if factBID < factAID {
		factAID, factBID = factBID, factAID
	}
	h := sha256.Sum256([]byte(factAID + "|" + factBID))
	return "conflict-" + hex.EncodeToString(h[:])[:24]
}

// Trail is the durable audit log.
type Trail interface {
	RecordDecision(ctx context.Context, decision *types.PromotionDecision) error
	RecordFailedFact(ctx context.Context, failed *FailedFact) error
	RecordBatch(ctx context.Context, summary *BatchSummary) error
	RecordConflict(ctx context.Context, conflict *Conflict) error

	// PendingReviews lists held decisions (RequiresReview and not yet
	// approved or rejected), oldest first.
	PendingReviews(ctx context.Context) ([]*types.PromotionDecision, error)

	// RecordApproval resolves a held decision. Approved resolutions are
	// picked up by the next batch, which performs the tier mutation.
	RecordApproval(ctx context.Context, decisionID, reviewer string, approved bool) error

	// ApprovedReviews lists decisions a reviewer approved that have not
	// yet been applied; Consume marks one applied.
	ApprovedReviews(ctx context.Context) ([]*types.PromotionDecision, error)
	ConsumeApproval(ctx context.Context, decisionID string) error

	Conflicts(ctx context.Context, since time.Time) ([]*Conflict, error)
	Batches(ctx context.Context, limit int) ([]*BatchSummary, error)
	FailedFacts(ctx context.Context, batchID string) ([]*FailedFact, error)

	Close() error
}
