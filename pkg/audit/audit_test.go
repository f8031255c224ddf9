package audit

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognidex/crystal/pkg/types"
)

func heldDecision(name string) *types.PromotionDecision {
	return &types.PromotionDecision{
		ID:             uuid.New().String(),
		SubjectKind:    types.SubjectRelationship,
		SubjectID:      uuid.New().String(),
		SubjectName:    name,
		FromTier:       types.TierSemantic,
		ToTier:         types.TierReasoning,
		Risk:           types.RiskHigh,
		RequiresReview: true,
		EvaluatedAt:    time.Now(),
	}
}

func approvedDecision(name string) *types.PromotionDecision {
	d := heldDecision(name)
	d.RequiresReview = false
	d.Approved = true
	return d
}

// trailUnderTest runs the same assertions against both implementations.
func trailUnderTest(t *testing.T, trail Trail) {
	ctx := context.Background()

	held := heldDecision("aspirin TREATS headache")
	plain := approvedDecision("aspirin")
	require.NoError(t, trail.RecordDecision(ctx, held))
	require.NoError(t, trail.RecordDecision(ctx, plain))

	pending, err := trail.PendingReviews(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, held.ID, pending[0].ID)

	// Approve, then the decision moves from pending to approved.
	require.NoError(t, trail.RecordApproval(ctx, held.ID, "dr-jones", true))

	pending, err = trail.PendingReviews(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	approved, err := trail.ApprovedReviews(ctx)
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, held.ID, approved[0].ID)

	// Applying consumes the approval exactly once.
	require.NoError(t, trail.ConsumeApproval(ctx, held.ID))
	assert.ErrorIs(t, trail.ConsumeApproval(ctx, held.ID), ErrDecisionNotFound)

	approved, err = trail.ApprovedReviews(ctx)
	require.NoError(t, err)
	assert.Empty(t, approved)

	// Double approval and unknown ids are rejected.
	assert.ErrorIs(t, trail.RecordApproval(ctx, held.ID, "dr-jones", true), ErrDecisionNotFound)
	assert.ErrorIs(t, trail.RecordApproval(ctx, "nope", "dr-jones", true), ErrDecisionNotFound)

	// Failed facts, batches, conflicts round-trip.
	require.NoError(t, trail.RecordFailedFact(ctx, &FailedFact{
		BatchID: "batch-1", ContextID: "ctx-1", Reason: "store unavailable", FailedAt: time.Now(),
	}))
	failed, err := trail.FailedFacts(ctx, "batch-1")
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "store unavailable", failed[0].Reason)

	other, err := trail.FailedFacts(ctx, "batch-2")
	require.NoError(t, err)
	assert.Empty(t, other)

	for i, id := range []string{"batch-1", "batch-2", "batch-3"} {
		require.NoError(t, trail.RecordBatch(ctx, &BatchSummary{
			BatchID:    id,
			FinishedAt: time.Now().Add(time.Duration(i) * time.Second),
		}))
	}
	batches, err := trail.Batches(ctx, 2)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, "batch-3", batches[0].BatchID)
	assert.Equal(t, "batch-2", batches[1].BatchID)

	old := &Conflict{ID: uuid.New().String(), TypeA: "treats", TypeB: "causes", RecordedAt: time.Now().Add(-2 * time.Hour)}
	recent := &Conflict{ID: uuid.New().String(), TypeA: "treats", TypeB: "worsens", RecordedAt: time.Now()}
	require.NoError(t, trail.RecordConflict(ctx, old))
	require.NoError(t, trail.RecordConflict(ctx, recent))

	conflicts, err := trail.Conflicts(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, recent.ID, conflicts[0].ID)

	// Re-recording the same conflict id is a no-op.
	require.NoError(t, trail.RecordConflict(ctx, recent))
	conflicts, err = trail.Conflicts(ctx, time.Now().Add(-3*time.Hour))
	require.NoError(t, err)
	assert.Len(t, conflicts, 2)
}

func TestConflictID(t *testing.T) {
	a := ConflictID("fact-1", "fact-2")
	b := ConflictID("fact-2", "fact-1")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, ConflictID("fact-1", "fact-3"))
	assert.True(t, strings.HasPrefix(a, "conflict-"))
}

func TestMemoryTrail(t *testing.T) {
	trailUnderTest(t, NewMemoryTrail())
}

func TestBadgerTrail(t *testing.T) {
	trail, err := NewBadgerTrail(t.TempDir())
	require.NoError(t, err)
	defer trail.Close()

	trailUnderTest(t, trail)
}

func TestParquetExporter(t *testing.T) {
	dir := t.TempDir()
	exporter, err := NewParquetExporter(dir)
	require.NoError(t, err)

	ctx := context.Background()

	path, err := exporter.ExportDecisions(ctx, []*types.PromotionDecision{
		heldDecision("aspirin TREATS headache"),
	})
	require.NoError(t, err)
	assert.FileExists(t, path)

	path, err = exporter.ExportBatches(ctx, []*BatchSummary{
		{BatchID: "batch-1", Observations: 10, StartedAt: time.Now(), FinishedAt: time.Now()},
	})
	require.NoError(t, err)
	assert.FileExists(t, path)

	// Empty exports are a no-op, not an error.
	path, err = exporter.ExportDecisions(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, path)
}
