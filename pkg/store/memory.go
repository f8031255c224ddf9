package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cognidex/crystal/pkg/types"
)

// MemoryStore is an in-process GraphStore. It backs development setups and
// tests; semantics (idempotent upserts, atomic fact commits, pattern
// queries) match the durable backends.
type MemoryStore struct {
	mu sync.RWMutex

	entities       map[string]*types.Entity // by id
	entityKeys     map[string]string        // normalizedName|type -> id
	relationships  map[string]*types.Relationship
	facts          map[string]*types.FactUnit
	contradictions map[string][]*types.Contradiction // by entity id

	updatedAt time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities:       make(map[string]*types.Entity),
		entityKeys:     make(map[string]string),
		relationships:  make(map[string]*types.Relationship),
		facts:          make(map[string]*types.FactUnit),
		contradictions: make(map[string][]*types.Contradiction),
	}
}

func entityKey(normalizedName, entityType string) string {
	return normalizedName + "|" + entityType
}

func copyEntity(e *types.Entity) *types.Entity {
	out := *e
	out.Attributes = copyStringMap(e.Attributes)
	out.SourceIDs = append([]string(nil), e.SourceIDs...)
	return &out
}

func copyRelationship(r *types.Relationship) *types.Relationship {
	out := *r
	out.FactIDs = append([]string(nil), r.FactIDs...)
	out.SourceIDs = append([]string(nil), r.SourceIDs...)
	return &out
}

func copyFact(f *types.FactUnit) *types.FactUnit {
	out := *f
	out.Participants = append([]types.Participant(nil), f.Participants...)
	out.Scores = append([]types.ConfidenceScore(nil), f.Scores...)
	out.ChunkIDs = append([]string(nil), f.ChunkIDs...)
	out.PromotedEdges = append([]string(nil), f.PromotedEdges...)
	return &out
}

func copyStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// GetEntity returns the entity with the given id.
func (s *MemoryStore) GetEntity(ctx context.Context, id string) (*types.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyEntity(e), nil
}

// GetEntityByKey returns the entity matching (normalized name, type).
func (s *MemoryStore) GetEntityByKey(ctx context.Context, normalizedName, entityType string) (*types.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.entityKeys[entityKey(normalizedName, entityType)]
	if !ok {
		return nil, ErrNotFound
	}
	return copyEntity(s.entities[id]), nil
}

// EntitiesByType returns every entity of the given type.
func (s *MemoryStore) EntitiesByType(ctx context.Context, entityType string) ([]*types.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Entity
	for _, e := range s.entities {
		if e.EntityType == entityType {
			out = append(out, copyEntity(e))
		}
	}
	return out, nil
}

// EntitiesByTier returns entities at the tier with confidence >= minConfidence.
func (s *MemoryStore) EntitiesByTier(ctx context.Context, tier types.Tier, minConfidence float64) ([]*types.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Entity
	for _, e := range s.entities {
		if e.Tier == tier && e.Confidence >= minConfidence {
			out = append(out, copyEntity(e))
		}
	}
	return out, nil
}

// OrphanEntities returns entities with no incident relationship or fact unit.
func (s *MemoryStore) OrphanEntities(ctx context.Context) ([]*types.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	connected := make(map[string]bool)
	for _, r := range s.relationships {
		connected[r.SourceID] = true
		connected[r.TargetID] = true
	}
	for _, f := range s.facts {
		for _, p := range f.Participants {
			connected[p.EntityID] = true
		}
	}

	var out []*types.Entity
	for id, e := range s.entities {
		if !connected[id] {
			out = append(out, copyEntity(e))
		}
	}
	return out, nil
}

// UpsertEntity writes the entity by id, replacing any existing record.
func (s *MemoryStore) UpsertEntity(ctx context.Context, entity *types.Entity) error {
	if err := entity.ValidateForCreate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putEntityLocked(entity)
	return nil
}

func (s *MemoryStore) putEntityLocked(entity *types.Entity) {
	e := copyEntity(entity)
	s.entities[e.ID] = e
	s.entityKeys[entityKey(e.NormalizedName, e.EntityType)] = e.ID
	s.updatedAt = time.Now()
}

// GetRelationship returns the relationship with the given id.
func (s *MemoryStore) GetRelationship(ctx context.Context, id string) (*types.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.relationships[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRelationship(r), nil
}

// RelationshipsBetween returns relationships in either direction between two entities.
func (s *MemoryStore) RelationshipsBetween(ctx context.Context, sourceID, targetID string) ([]*types.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Relationship
	for _, r := range s.relationships {
		if (r.SourceID == sourceID && r.TargetID == targetID) ||
			(r.SourceID == targetID && r.TargetID == sourceID) {
			out = append(out, copyRelationship(r))
		}
	}
	return out, nil
}

// RelationshipsByEntity returns relationships incident to the entity.
func (s *MemoryStore) RelationshipsByEntity(ctx context.Context, entityID string) ([]*types.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Relationship
	for _, r := range s.relationships {
		if r.SourceID == entityID || r.TargetID == entityID {
			out = append(out, copyRelationship(r))
		}
	}
	return out, nil
}

// UpsertRelationship writes the relationship by id.
func (s *MemoryStore) UpsertRelationship(ctx context.Context, rel *types.Relationship) error {
	if err := rel.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[rel.SourceID]; !ok {
		return fmt.Errorf("%w: source entity %s", ErrNotFound, rel.SourceID)
	}
	if _, ok := s.entities[rel.TargetID]; !ok {
		return fmt.Errorf("%w: target entity %s", ErrNotFound, rel.TargetID)
	}
	s.relationships[rel.ID] = copyRelationship(rel)
	s.updatedAt = time.Now()
	return nil
}

// GetFactUnit returns the fact unit with the given id.
func (s *MemoryStore) GetFactUnit(ctx context.Context, id string) (*types.FactUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.facts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyFact(f), nil
}

// FactUnitsByEntity returns all fact units the entity participates in.
func (s *MemoryStore) FactUnitsByEntity(ctx context.Context, entityID string) ([]*types.FactUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.FactUnit
	for _, f := range s.facts {
		if f.Involves(entityID) {
			out = append(out, copyFact(f))
		}
	}
	return out, nil
}

// AllFactUnits returns every stored fact unit.
func (s *MemoryStore) AllFactUnits(ctx context.Context) ([]*types.FactUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.FactUnit, 0, len(s.facts))
	for _, f := range s.facts {
		out = append(out, copyFact(f))
	}
	return out, nil
}

// UpsertFactUnit writes the fact unit by id.
func (s *MemoryStore) UpsertFactUnit(ctx context.Context, fact *types.FactUnit) error {
	if err := fact.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facts[fact.ID] = copyFact(fact)
	s.updatedAt = time.Now()
	return nil
}

// CommitFact validates the whole write first and only then mutates state, so
// a failing write leaves the store exactly as it was.
func (s *MemoryStore) CommitFact(ctx context.Context, write *FactWrite) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	newIDs := make(map[string]bool, len(write.Created))
	for _, e := range write.Created {
		if err := e.ValidateForCreate(); err != nil {
			return fmt.Errorf("%w: entity %s: %v", ErrCommitFailed, e.Name, err)
		}
		newIDs[e.ID] = true
	}
	for _, e := range write.Merged {
		if err := e.ValidateForCreate(); err != nil {
			return fmt.Errorf("%w: entity %s: %v", ErrCommitFailed, e.Name, err)
		}
		if _, ok := s.entities[e.ID]; !ok {
			return fmt.Errorf("%w: merged entity %s does not exist", ErrCommitFailed, e.ID)
		}
	}
	for _, r := range write.Relationships {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("%w: relationship %s: %v", ErrCommitFailed, r.Type, err)
		}
		if !newIDs[r.SourceID] {
			if _, ok := s.entities[r.SourceID]; !ok {
				return fmt.Errorf("%w: relationship source %s unknown", ErrCommitFailed, r.SourceID)
			}
		}
		if !newIDs[r.TargetID] {
			if _, ok := s.entities[r.TargetID]; !ok {
				return fmt.Errorf("%w: relationship target %s unknown", ErrCommitFailed, r.TargetID)
			}
		}
	}
	if write.Fact != nil {
		if err := write.Fact.Validate(); err != nil {
			return fmt.Errorf("%w: fact unit: %v", ErrCommitFailed, err)
		}
	}

	// Validation passed; apply everything.
	for _, e := range write.Created {
		s.putEntityLocked(e)
	}
	for _, e := range write.Merged {
		s.putEntityLocked(e)
	}
	for _, r := range write.Relationships {
		s.relationships[r.ID] = copyRelationship(r)
	}
	if write.Fact != nil {
		s.facts[write.Fact.ID] = copyFact(write.Fact)
	}
	for _, c := range write.Contradictions {
		s.contradictions[c.EntityID] = append(s.contradictions[c.EntityID], c)
	}
	s.updatedAt = time.Now()
	return nil
}

// RecordContradiction appends a contradiction record for an entity.
func (s *MemoryStore) RecordContradiction(ctx context.Context, c *types.Contradiction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contradictions[c.EntityID] = append(s.contradictions[c.EntityID], c)
	return nil
}

// ContradictionsSince returns contradictions for the entity recorded at or
// after the given time.
func (s *MemoryStore) ContradictionsSince(ctx context.Context, entityID string, since time.Time) ([]*types.Contradiction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Contradiction
	for _, c := range s.contradictions[entityID] {
		if !c.RecordedAt.Before(since) {
			out = append(out, c)
		}
	}
	return out, nil
}

// Stats summarizes the current store contents.
func (s *MemoryStore) Stats(ctx context.Context) (*GraphStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &GraphStats{
		EntityCount:       int64(len(s.entities)),
		RelationshipCount: int64(len(s.relationships)),
		FactCount:         int64(len(s.facts)),
		EntitiesByTier:    make(map[types.Tier]int64),
		FactsByType:       make(map[types.FactType]int64),
		LastUpdated:       s.updatedAt,
	}
	for _, e := range s.entities {
		stats.EntitiesByTier[e.Tier]++
	}
	for _, f := range s.facts {
		stats.FactsByType[f.Type]++
		stats.ConfidenceHistogram[HistogramBucket(f.Confidence)]++
	}
	return stats, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

var _ GraphStore = (*MemoryStore)(nil)
