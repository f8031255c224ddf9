package crystal

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognidex/crystal/pkg/audit"
	"github.com/cognidex/crystal/pkg/observation"
	"github.com/cognidex/crystal/pkg/ontology"
	"github.com/cognidex/crystal/pkg/store"
	"github.com/cognidex/crystal/pkg/types"
)

type harness struct {
	client *Client
	queue  *observation.Queue
	store  store.GraphStore
	trail  *audit.MemoryTrail
	marks  *observation.MemoryWatermarkStore
}

func newHarness(t *testing.T, opts ...func(*Config)) *harness {
	t.Helper()

	cfg := DefaultClientConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	queue := observation.NewQueue()
	graph := store.NewMemoryStore()
	trail := audit.NewMemoryTrail()
	marks := observation.NewMemoryWatermarkStore()

	classifier := ontology.NewTableClassifier([]ontology.Entry{
		{Name: "aspirin", Type: "drug", Code: "ATC:B01AC06"},
		{Name: "atrial fibrillation", Type: "condition", Code: "ICD10:I48"},
		{Name: "bleeding", Type: "condition", Code: "ICD10:R58"},
	})

	client, err := NewClient(graph, queue, marks, trail, classifier, nil, cfg, testLogger())
	require.NoError(t, err)

	return &harness{client: client, queue: queue, store: graph, trail: trail, marks: marks}
}

func obsAt(contextID, name, entityType string, score float64, at time.Time) *types.Observation {
	return &types.Observation{
		ID:         fmt.Sprintf("obs-%s-%s-%d", contextID, name, at.UnixNano()),
		ContextID:  contextID,
		Name:       name,
		EntityType: entityType,
		Score: types.ConfidenceScore{
			Value:     score,
			Source:    types.SourceNeuralInference,
			Timestamp: at,
		},
		ObservedAt: at,
	}
}

func TestRunBatchEmptyWindow(t *testing.T) {
	h := newHarness(t)

	summary, err := h.client.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Observations)
	assert.Equal(t, uint64(0), summary.Watermark)
}

func TestRunBatchCreatesEntitiesAndFact(t *testing.T) {
	h := newHarness(t)
	now := time.Now()

	require.NoError(t, h.queue.Publish(
		obsAt("ctx-1", "Aspirin", "drug", 0.9, now),
		obsAt("ctx-1", "Atrial Fibrillation", "condition", 0.8, now),
	))

	summary, err := h.client.RunBatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Observations)
	assert.Equal(t, 2, summary.Created)
	assert.Equal(t, 0, summary.Merged)
	assert.Equal(t, 1, summary.Facts)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, uint64(2), summary.Watermark)

	entity, err := h.store.GetEntityByKey(context.Background(), "aspirin", "drug")
	require.NoError(t, err)
	assert.Equal(t, types.TierPerception, entity.Tier)
	assert.Equal(t, "ATC:B01AC06", entity.OntologyCode)

	facts, err := h.store.FactUnitsByEntity(context.Background(), entity.ID)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, []string{"ctx-1"}, facts[0].ChunkIDs)
}

func TestRunBatchIdempotentReplay(t *testing.T) {
	h := newHarness(t)
	now := time.Now()

	batch := []*types.Observation{
		obsAt("ctx-1", "Aspirin", "drug", 0.9, now),
		obsAt("ctx-1", "Atrial Fibrillation", "condition", 0.8, now),
	}
	require.NoError(t, h.queue.Publish(batch...))

	_, err := h.client.RunBatch(context.Background())
	require.NoError(t, err)

	entity, err := h.store.GetEntityByKey(context.Background(), "aspirin", "drug")
	require.NoError(t, err)
	countBefore := entity.ObservationCount

	// Rewind the watermark so the exact same window replays, as it would
	// after a crash between commit and watermark save.
	require.NoError(t, h.marks.Save(context.Background(), 0))

	summary, err := h.client.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Created)
	assert.Equal(t, 2, summary.Merged)

	entity, err = h.store.GetEntityByKey(context.Background(), "aspirin", "drug")
	require.NoError(t, err)
	assert.Equal(t, countBefore, entity.ObservationCount, "replayed evidence must not double count")

	stats, err := h.store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.EntityCount)
	assert.Equal(t, int64(1), stats.FactCount)
}

func TestRunBatchDirectRelationships(t *testing.T) {
	h := newHarness(t)
	now := time.Now()

	drug := obsAt("ctx-1", "Aspirin", "drug", 0.9, now)
	drug.Relations = []types.RelationAssertion{
		{TargetName: "Atrial Fibrillation", TargetType: "condition", Relation: "treats"},
	}
	require.NoError(t, h.queue.Publish(
		drug,
		obsAt("ctx-1", "Atrial Fibrillation", "condition", 0.8, now),
	))

	_, err := h.client.RunBatch(context.Background())
	require.NoError(t, err)

	source, err := h.store.GetEntityByKey(context.Background(), "aspirin", "drug")
	require.NoError(t, err)
	target, err := h.store.GetEntityByKey(context.Background(), "atrial fibrillation", "condition")
	require.NoError(t, err)

	rels, err := h.store.RelationshipsBetween(context.Background(), source.ID, target.ID)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "treats", rels[0].Type)
	assert.Equal(t, types.TierPerception, rels[0].Tier)
	assert.False(t, rels[0].Inferred)
}

func TestRunBatchInvalidObservationIsNonFatal(t *testing.T) {
	h := newHarness(t)
	now := time.Now()

	require.NoError(t, h.queue.Publish(
		obsAt("ctx-1", "Aspirin", "drug", 0.9, now),
		obsAt("ctx-1", "Atrial Fibrillation", "condition", 0.8, now),
	))
	// Publish validates, so malform the third observation after the fact
	// to simulate a corrupt record reaching the batch.
	bad := obsAt("ctx-2", "Warfarin", "drug", 0.7, now)
	require.NoError(t, h.queue.Publish(bad))
	bad.Name = ""

	summary, err := h.client.RunBatch(context.Background())
	require.NoError(t, err, "a malformed observation must not abort the batch")
	assert.Equal(t, 2, summary.Created)
	assert.Equal(t, uint64(3), summary.Watermark, "watermark still advances past the rejected context")

	failed, err := h.trail.FailedFacts(context.Background(), summary.BatchID)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].Reason, "rejected")
}

type commitFailingStore struct {
	store.GraphStore
	failAfter int
	commits   int
}

func (s *commitFailingStore) CommitFact(ctx context.Context, write *store.FactWrite) error {
	s.commits++
	if s.commits > s.failAfter {
		return fmt.Errorf("%w: disk full", store.ErrCommitFailed)
	}
	return s.GraphStore.CommitFact(ctx, write)
}

func TestRunBatchCommitFailureAbortsWithoutWatermark(t *testing.T) {
	queue := observation.NewQueue()
	failing := &commitFailingStore{GraphStore: store.NewMemoryStore(), failAfter: 0}
	trail := audit.NewMemoryTrail()
	marks := observation.NewMemoryWatermarkStore()

	cfg := DefaultClientConfig()
	cfg.MaxParallelism = 1

	client, err := NewClient(failing, queue, marks, trail, nil, nil, cfg, testLogger())
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, queue.Publish(
		obsAt("ctx-1", "Aspirin", "drug", 0.9, now),
		obsAt("ctx-1", "Atrial Fibrillation", "condition", 0.8, now),
	))

	summary, err := client.RunBatch(context.Background())
	require.ErrorIs(t, err, store.ErrCommitFailed)
	assert.Equal(t, 1, summary.Failed)

	watermark, err := marks.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), watermark, "watermark must not advance past an aborted batch")

	stats, err := failing.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.EntityCount, "failed commit must leave no orphan entities")

	failed, err := trail.FailedFacts(context.Background(), summary.BatchID)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].Reason, "disk full")

	// The same window replays cleanly once the store recovers.
	failing.failAfter = 1 << 30
	summary, err = client.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Created)
}

func TestPromotionAfterCorroboration(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.Promotion.MinObservations = 3
		cfg.Promotion.SemanticMinConfidence = 0.6
	})

	now := time.Now()
	for i := 0; i < 3; i++ {
		ctxID := fmt.Sprintf("ctx-%d", i)
		require.NoError(t, h.queue.Publish(
			obsAt(ctxID, "Aspirin", "drug", 0.9, now.Add(time.Duration(i)*time.Minute)),
			obsAt(ctxID, "Bleeding", "condition", 0.8, now.Add(time.Duration(i)*time.Minute)),
		))
		_, err := h.client.RunBatch(context.Background())
		require.NoError(t, err)
	}

	entity, err := h.store.GetEntityByKey(context.Background(), "aspirin", "drug")
	require.NoError(t, err)
	assert.Equal(t, types.TierSemantic, entity.Tier,
		"three corroborating observations with high confidence reach the semantic tier")
}

func TestHighRiskPromotionHeldThenApproved(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.Promotion.MinObservations = 2
	})
	ctx := context.Background()
	now := time.Now()

	// Seed an entity already at Semantic with strong evidence of a
	// high-risk type, so the next gate pass tries Semantic -> Reasoning.
	entity := &types.Entity{
		ID:               "ent-treat",
		Name:             "Aspirin",
		NormalizedName:   "aspirin",
		EntityType:       "treatment",
		Tier:             types.TierSemantic,
		Confidence:       0.95,
		ObservationCount: 5,
		OntologyCode:     "ATC:B01AC06",
		SourceIDs:        []string{"seed-1"},
		FirstObserved:    now.Add(-72 * time.Hour),
		LastObserved:     now,
		CreatedAt:        now.Add(-72 * time.Hour),
		UpdatedAt:        now,
	}
	require.NoError(t, h.store.UpsertEntity(ctx, entity))

	require.NoError(t, h.queue.Publish(
		obsAt("ctx-1", "Aspirin", "treatment", 0.9, now),
		obsAt("ctx-1", "Bleeding", "condition", 0.8, now),
	))

	summary, err := h.client.RunBatch(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, summary.Held, 1, "high-risk transitions above semantic are held")

	got, err := h.store.GetEntity(ctx, "ent-treat")
	require.NoError(t, err)
	assert.Equal(t, types.TierSemantic, got.Tier, "held subject must not move")

	pending, err := h.trail.PendingReviews(ctx)
	require.NoError(t, err)
	var held *types.PromotionDecision
	for _, d := range pending {
		if d.SubjectID == "ent-treat" {
			held = d
		}
	}
	require.NotNil(t, held)
	assert.Equal(t, types.TierReasoning, held.ToTier)

	// External approval applies on the next batch.
	require.NoError(t, h.client.Approve(ctx, held.ID, "dr-reviewer", true))
	require.NoError(t, h.queue.Publish(obsAt("ctx-2", "Warfarin", "drug", 0.7, now)))
	_, err = h.client.RunBatch(ctx)
	require.NoError(t, err)

	got, err = h.store.GetEntity(ctx, "ent-treat")
	require.NoError(t, err)
	assert.Equal(t, types.TierReasoning, got.Tier)

	// The approval is consumed exactly once.
	approved, err := h.trail.ApprovedReviews(ctx)
	require.NoError(t, err)
	assert.Empty(t, approved)
}

func TestContradictionTriggersDemotion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	now := time.Now()

	entity := &types.Entity{
		ID:               "ent-af",
		Name:             "Atrial Fibrillation",
		NormalizedName:   "atrial fibrillation",
		EntityType:       "condition",
		Tier:             types.TierSemantic,
		Confidence:       0.9,
		ObservationCount: 4,
		OntologyCode:     "ICD10:I48",
		Attributes:       map[string]string{"chronicity": "chronic"},
		SourceIDs:        []string{"seed-1"},
		FirstObserved:    now.Add(-96 * time.Hour),
		LastObserved:     now.Add(-time.Hour),
		CreatedAt:        now.Add(-96 * time.Hour),
		UpdatedAt:        now,
	}
	require.NoError(t, h.store.UpsertEntity(ctx, entity))

	conflicting := obsAt("ctx-1", "Atrial Fibrillation", "condition", 0.85, now)
	conflicting.Attributes = map[string]string{"chronicity": "paroxysmal"}
	require.NoError(t, h.queue.Publish(
		conflicting,
		obsAt("ctx-1", "Aspirin", "drug", 0.9, now),
	))

	summary, err := h.client.RunBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Demoted)

	got, err := h.store.GetEntity(ctx, "ent-af")
	require.NoError(t, err)
	assert.Equal(t, types.TierPerception, got.Tier,
		"a fresh contradiction demotes the entity one tier")
}

func TestTriggerFlushCoalesces(t *testing.T) {
	h := newHarness(t)

	for i := 0; i < 10; i++ {
		h.client.TriggerFlush()
	}
	// The one-slot trigger held at most one pending flush; nothing to
	// assert beyond not blocking.
}

func TestRunProcessesOnTrigger(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.FlushInterval = time.Hour
	})
	now := time.Now()

	require.NoError(t, h.queue.Publish(
		obsAt("ctx-1", "Aspirin", "drug", 0.9, now),
		obsAt("ctx-1", "Atrial Fibrillation", "condition", 0.8, now),
	))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.client.Run(ctx) }()

	h.client.TriggerFlush()

	require.Eventually(t, func() bool {
		watermark, err := h.marks.Load(context.Background())
		return err == nil && watermark == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestRunFlushesOnFullWindow(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.FlushInterval = time.Hour
		cfg.BatchSize = 2
	})
	now := time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- h.client.Run(ctx) }()

	require.NoError(t, h.queue.Publish(
		obsAt("ctx-1", "Aspirin", "drug", 0.9, now),
		obsAt("ctx-1", "Atrial Fibrillation", "condition", 0.8, now),
	))

	require.Eventually(t, func() bool {
		watermark, err := h.marks.Load(context.Background())
		return err == nil && watermark == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestBatchRecordedInTrail(t *testing.T) {
	h := newHarness(t)
	now := time.Now()

	require.NoError(t, h.queue.Publish(
		obsAt("ctx-1", "Aspirin", "drug", 0.9, now),
		obsAt("ctx-1", "Atrial Fibrillation", "condition", 0.8, now),
	))
	summary, err := h.client.RunBatch(context.Background())
	require.NoError(t, err)

	batches, err := h.trail.Batches(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, summary.BatchID, batches[0].BatchID)
	assert.Equal(t, 2, batches[0].Observations)
}
