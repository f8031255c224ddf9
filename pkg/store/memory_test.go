package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognidex/crystal/pkg/types"
)

func newEntity(id, name, entityType string) *types.Entity {
	now := time.Now()
	return &types.Entity{
		ID:               id,
		Name:             name,
		NormalizedName:   name,
		EntityType:       entityType,
		Tier:             types.TierPerception,
		Confidence:       0.6,
		ObservationCount: 1,
		FirstObserved:    now,
		LastObserved:     now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestMemoryStoreEntityRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	entity := newEntity("e1", "aspirin", "drug")
	require.NoError(t, s.UpsertEntity(ctx, entity))

	got, err := s.GetEntity(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "aspirin", got.Name)

	byKey, err := s.GetEntityByKey(ctx, "aspirin", "drug")
	require.NoError(t, err)
	assert.Equal(t, "e1", byKey.ID)

	_, err = s.GetEntity(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreReadsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.UpsertEntity(ctx, newEntity("e1", "aspirin", "drug")))

	got, err := s.GetEntity(ctx, "e1")
	require.NoError(t, err)
	got.Confidence = 0.01

	again, err := s.GetEntity(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 0.6, again.Confidence, "mutating a read result must not affect the store")
}

func TestMemoryStoreRelationshipRequiresEndpoints(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.UpsertEntity(ctx, newEntity("e1", "aspirin", "drug")))

	rel := &types.Relationship{
		ID: "r1", SourceID: "e1", TargetID: "ghost",
		Type: "treats", Tier: types.TierPerception, Confidence: 0.5,
	}
	assert.ErrorIs(t, s.UpsertRelationship(ctx, rel), ErrNotFound)
}

func TestMemoryStoreCommitFactAtomicity(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	// A relationship pointing at an entity that is neither stored nor part
	// of the write must fail the whole commit, leaving no orphans.
	write := &FactWrite{
		BatchID: "b1",
		Created: []*types.Entity{newEntity("e1", "drug a", "drug"), newEntity("e2", "condition b", "condition")},
		Relationships: []*types.Relationship{{
			ID: "r1", SourceID: "e1", TargetID: "nonexistent",
			Type: "treats", Tier: types.TierPerception, Confidence: 0.5,
		}},
	}
	err := s.CommitFact(ctx, write)
	require.ErrorIs(t, err, ErrCommitFailed)

	_, err = s.GetEntity(ctx, "e1")
	assert.ErrorIs(t, err, ErrNotFound, "no entity from the failed fact may persist")
	_, err = s.GetEntity(ctx, "e2")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetRelationship(ctx, "r1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreCommitFactSuccess(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	fact := &types.FactUnit{
		ID:   types.FactUnitID(types.FactTreatment, []string{"e1", "e2"}),
		Type: types.FactTreatment,
		Participants: []types.Participant{
			{EntityID: "e1", Role: "agent"},
			{EntityID: "e2", Role: "target"},
		},
		Confidence: 0.7,
		CreatedAt:  time.Now(),
	}
	write := &FactWrite{
		BatchID: "b1",
		Created: []*types.Entity{newEntity("e1", "drug a", "drug"), newEntity("e2", "condition b", "condition")},
		Relationships: []*types.Relationship{{
			ID: "r1", SourceID: "e1", TargetID: "e2",
			Type: "treats", Tier: types.TierPerception, Confidence: 0.5,
		}},
		Fact: fact,
	}
	require.NoError(t, s.CommitFact(ctx, write))

	facts, err := s.FactUnitsByEntity(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, fact.ID, facts[0].ID)

	rels, err := s.RelationshipsBetween(ctx, "e2", "e1")
	require.NoError(t, err)
	assert.Len(t, rels, 1)
}

func TestMemoryStoreOrphanEntities(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.UpsertEntity(ctx, newEntity("e1", "a", "drug")))
	require.NoError(t, s.UpsertEntity(ctx, newEntity("e2", "b", "condition")))
	require.NoError(t, s.UpsertEntity(ctx, newEntity("e3", "c", "symptom")))
	require.NoError(t, s.UpsertRelationship(ctx, &types.Relationship{
		ID: "r1", SourceID: "e1", TargetID: "e2",
		Type: "treats", Tier: types.TierPerception, Confidence: 0.5,
	}))

	orphans, err := s.OrphanEntities(ctx)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, "e3", orphans[0].ID)
}

func TestMemoryStoreContradictions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	old := &types.Contradiction{ID: "c1", EntityID: "e1", Attribute: "dosage", RecordedAt: time.Now().Add(-72 * time.Hour)}
	recent := &types.Contradiction{ID: "c2", EntityID: "e1", Attribute: "dosage", RecordedAt: time.Now()}
	require.NoError(t, s.RecordContradiction(ctx, old))
	require.NoError(t, s.RecordContradiction(ctx, recent))

	got, err := s.ContradictionsSince(ctx, "e1", time.Now().Add(-48*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c2", got[0].ID)
}

func TestMemoryStoreStats(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	e1 := newEntity("e1", "a", "drug")
	e2 := newEntity("e2", "b", "condition")
	e2.Tier = types.TierSemantic
	require.NoError(t, s.UpsertEntity(ctx, e1))
	require.NoError(t, s.UpsertEntity(ctx, e2))

	fact := &types.FactUnit{
		ID:   types.FactUnitID(types.FactTreatment, []string{"e1", "e2"}),
		Type: types.FactTreatment,
		Participants: []types.Participant{
			{EntityID: "e1", Role: "agent"},
			{EntityID: "e2", Role: "target"},
		},
		Confidence: 0.72,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, s.UpsertFactUnit(ctx, fact))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.EntityCount)
	assert.Equal(t, int64(1), stats.EntitiesByTier[types.TierPerception])
	assert.Equal(t, int64(1), stats.EntitiesByTier[types.TierSemantic])
	assert.Equal(t, int64(1), stats.FactsByType[types.FactTreatment])
	assert.Equal(t, int64(1), stats.ConfidenceHistogram[7])
}

func TestHistogramBucket(t *testing.T) {
	assert.Equal(t, 0, HistogramBucket(0))
	assert.Equal(t, 0, HistogramBucket(0.05))
	assert.Equal(t, 5, HistogramBucket(0.5))
	assert.Equal(t, 9, HistogramBucket(0.95))
	assert.Equal(t, 9, HistogramBucket(1))
	assert.Equal(t, 0, HistogramBucket(-0.2))
	assert.Equal(t, 9, HistogramBucket(1.4))
}
