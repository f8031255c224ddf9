package crystal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cognidex/crystal/pkg/confidence"
	"github.com/cognidex/crystal/pkg/store"
	"github.com/cognidex/crystal/pkg/types"
)

var (
	// ErrNoTypeDiversity is returned when all prospective participants
	// share one entity type. Same-type co-mentions are lists, not facts.
	ErrNoTypeDiversity = errors.New("crystal: fact candidate has no type diversity")
	// ErrBelowExtractionFloor is returned when the mean extraction
	// confidence of a candidate is too low to materialize a fact.
	ErrBelowExtractionFloor = errors.New("crystal: fact candidate below extraction floor")
)

// FactParticipant pairs a resolved entity with its extraction score and the
// role it plays in the shared context.
type FactParticipant struct {
	Entity *types.Entity
	Role   string
	Score  types.ConfidenceScore
}

// FactCandidate is a group of entity mentions sharing one textual context.
type FactCandidate struct {
	Type         types.FactType
	ContextID    string
	Participants []FactParticipant
}

// Bridge builds fact hyperedges and projects them back onto the binary
// graph.
type Bridge struct {
	store           store.GraphStore
	extractionFloor float64
	strategy        confidence.Strategy
	logger          *slog.Logger
}

// NewBridge creates a Bridge. The floor is the minimum mean extraction
// confidence a candidate needs to become a fact; the strategy selects how
// a fact's scores merge into its aggregate (empty means weighted).
func NewBridge(graphStore store.GraphStore, extractionFloor float64, strategy confidence.Strategy, logger *slog.Logger) (*Bridge, error) {
	if extractionFloor < 0 || extractionFloor > 1 {
		return nil, fmt.Errorf("crystal: extraction floor %f outside [0,1]", extractionFloor)
	}
	if strategy != "" && !strategy.Valid() {
		return nil, fmt.Errorf("crystal: %w: %q", confidence.ErrUnknownStrategy, strategy)
	}
	if strategy == "" {
		strategy = confidence.StrategyWeighted
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{store: graphStore, extractionFloor: extractionFloor, strategy: strategy, logger: logger}, nil
}

// BuildFactUnit decides whether the candidate constitutes a fact and
// materializes (or extends) the matching FactUnit. The returned unit is not
// written here; the orchestrator commits it atomically with the rest of the
// fact's records.
//
// Re-observing the same participant set from a new context appends the new
// scores and recomputes the aggregate on the existing unit rather than
// duplicating it. Re-processing an already-seen context is a no-op.
func (b *Bridge) BuildFactUnit(ctx context.Context, candidate FactCandidate) (*types.FactUnit, error) {
	if len(candidate.Participants) < 2 {
		return nil, types.ErrTooFewParticipants
	}

	seenTypes := make(map[string]struct{})
	sum := 0.0
	for _, p := range candidate.Participants {
		seenTypes[p.Entity.EntityType] = struct{}{}
		sum += p.Score.Value
	}
	if len(seenTypes) < 2 {
		return nil, ErrNoTypeDiversity
	}
	if mean := sum / float64(len(candidate.Participants)); mean < b.extractionFloor {
		return nil, fmt.Errorf("%w: mean %.3f, floor %.3f", ErrBelowExtractionFloor, mean, b.extractionFloor)
	}

	factType := candidate.Type
	if factType == "" {
		factType = types.FactAssociation
	}

	ids := make([]string, len(candidate.Participants))
	for i, p := range candidate.Participants {
		ids[i] = p.Entity.ID
	}
	factID := types.FactUnitID(factType, ids)

	existing, err := b.store.GetFactUnit(ctx, factID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("crystal: fact lookup: %w", err)
	}

	if existing != nil {
		return b.extendFact(existing, candidate), nil
	}

	now := time.Now()
	fact := &types.FactUnit{
		ID:        factID,
		Type:      factType,
		ChunkIDs:  []string{candidate.ContextID},
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, p := range candidate.Participants {
		fact.Participants = append(fact.Participants, types.Participant{
			EntityID: p.Entity.ID,
			Role:     p.Role,
		})
		fact.Scores = append(fact.Scores, p.Score)
	}

	aggregate, err := confidence.Merge(b.strategy, fact.Scores)
	if err != nil {
		return nil, fmt.Errorf("crystal: aggregate fact confidence: %w", err)
	}
	fact.Confidence = aggregate

	b.logger.Debug("fact unit built",
		"fact", fact.ID, "type", fact.Type,
		"participants", len(fact.Participants), "confidence", fact.Confidence)
	return fact, nil
}

func (b *Bridge) extendFact(existing *types.FactUnit, candidate FactCandidate) *types.FactUnit {
	for _, chunk := range existing.ChunkIDs {
		if chunk == candidate.ContextID {
			// Same context re-processed; nothing new to append.
			return existing
		}
	}

	for _, p := range candidate.Participants {
		existing.Scores = append(existing.Scores, p.Score)
	}
	existing.ChunkIDs = append(existing.ChunkIDs, candidate.ContextID)

	if aggregate, err := confidence.Merge(b.strategy, existing.Scores); err == nil {
		existing.Confidence = aggregate
	}
	existing.UpdatedAt = time.Now()

	b.logger.Debug("fact unit corroborated",
		"fact", existing.ID, "scores", len(existing.Scores), "confidence", existing.Confidence)
	return existing
}

// PropagateToGraph creates inferred binary relationships for every pair of
// entities co-participating in a fact whose aggregate confidence meets the
// threshold. Pairs already connected by a direct relationship are skipped.
// Deterministic relationship ids make re-runs no-ops.
func (b *Bridge) PropagateToGraph(ctx context.Context, threshold float64) (int, error) {
	facts, err := b.store.AllFactUnits(ctx)
	if err != nil {
		return 0, fmt.Errorf("crystal: list facts: %w", err)
	}

	created := 0
	for _, fact := range facts {
		if fact.Confidence < threshold {
			continue
		}

		n, err := b.propagateFact(ctx, fact)
		if err != nil {
			return created, err
		}
		created += n
	}

	if created > 0 {
		b.logger.Info("hyperedge propagation complete", "relationships_created", created)
	}
	return created, nil
}

func (b *Bridge) propagateFact(ctx context.Context, fact *types.FactUnit) (int, error) {
	ids := fact.ParticipantIDs()
	sort.Strings(ids)

	relType := "co_occurs_" + string(fact.Type)
	created := 0

	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			sourceID, targetID := ids[i], ids[j]

			direct, err := b.directBetween(ctx, sourceID, targetID)
			if err != nil {
				return created, err
			}
			if direct {
				continue
			}

			relID := types.InferredRelationshipID(sourceID, targetID, relType, fact.ID)
			if _, err := b.store.GetRelationship(ctx, relID); err == nil {
				continue
			} else if !errors.Is(err, store.ErrNotFound) {
				return created, fmt.Errorf("crystal: relationship lookup: %w", err)
			}

			now := time.Now()
			rel := &types.Relationship{
				ID:               relID,
				SourceID:         sourceID,
				TargetID:         targetID,
				Type:             relType,
				Tier:             types.TierPerception,
				Confidence:       fact.Confidence,
				ObservationCount: len(fact.ChunkIDs),
				Inferred:         true,
				FactIDs:          []string{fact.ID},
				FirstObserved:    fact.CreatedAt,
				LastObserved:     fact.UpdatedAt,
				CreatedAt:        now,
				UpdatedAt:        now,
			}
			if err := b.store.UpsertRelationship(ctx, rel); err != nil {
				return created, fmt.Errorf("crystal: write inferred relationship: %w", err)
			}

			fact.PromotedEdges = append(fact.PromotedEdges, relID)
			created++
		}
	}

	if created > 0 {
		fact.UpdatedAt = time.Now()
		if err := b.store.UpsertFactUnit(ctx, fact); err != nil {
			return created, fmt.Errorf("crystal: record promoted edges: %w", err)
		}
	}
	return created, nil
}

// directBetween reports whether a non-inferred relationship already connects
// the pair in either direction.
func (b *Bridge) directBetween(ctx context.Context, aID, bID string) (bool, error) {
	for _, pair := range [][2]string{{aID, bID}, {bID, aID}} {
		rels, err := b.store.RelationshipsBetween(ctx, pair[0], pair[1])
		if err != nil {
			return false, fmt.Errorf("crystal: relationship lookup: %w", err)
		}
		for _, rel := range rels {
			if !rel.Inferred {
				return true, nil
			}
		}
	}
	return false, nil
}

// FactChain links an entity to a distant one through exactly two fact units
// sharing a bridge entity.
type FactChain struct {
	BridgeEntityID string          `json:"bridge_entity_id"`
	TargetEntityID string          `json:"target_entity_id"`
	FirstFact      *types.FactUnit `json:"first_fact"`
	SecondFact     *types.FactUnit `json:"second_fact"`

	// MeanConfidence is the mean of the two facts' aggregates.
	MeanConfidence float64 `json:"mean_confidence"`
}

// FindFactChains discovers entities reachable from entityID through exactly
// two fact units. Chains come back ordered by mean confidence descending,
// ties broken by the more recently created second fact.
func (b *Bridge) FindFactChains(ctx context.Context, entityID string) ([]*FactChain, error) {
	firstHops, err := b.store.FactUnitsByEntity(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("crystal: fact lookup: %w", err)
	}

	var chains []*FactChain
	seen := make(map[string]struct{})

	for _, first := range firstHops {
		for _, bridgeID := range first.ParticipantIDs() {
			if bridgeID == entityID {
				continue
			}

			secondHops, err := b.store.FactUnitsByEntity(ctx, bridgeID)
			if err != nil {
				return nil, fmt.Errorf("crystal: fact lookup: %w", err)
			}

			for _, second := range secondHops {
				if second.ID == first.ID || second.Involves(entityID) {
					continue
				}
				for _, targetID := range second.ParticipantIDs() {
					if targetID == bridgeID || targetID == entityID {
						continue
					}

					key := first.ID + "|" + second.ID + "|" + targetID
					if _, dup := seen[key]; dup {
						continue
					}
					seen[key] = struct{}{}

					chains = append(chains, &FactChain{
						BridgeEntityID: bridgeID,
						TargetEntityID: targetID,
						FirstFact:      first,
						SecondFact:     second,
						MeanConfidence: (first.Confidence + second.Confidence) / 2,
					})
				}
			}
		}
	}

	sort.SliceStable(chains, func(i, j int) bool {
		if chains[i].MeanConfidence != chains[j].MeanConfidence {
			return chains[i].MeanConfidence > chains[j].MeanConfidence
		}
		return newerFact(chains[i]).After(newerFact(chains[j]))
	})
	return chains, nil
}

func newerFact(c *FactChain) time.Time {
	if c.SecondFact.CreatedAt.After(c.FirstFact.CreatedAt) {
		return c.SecondFact.CreatedAt
	}
	return c.FirstFact.CreatedAt
}
