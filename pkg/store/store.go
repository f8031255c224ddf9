// Package store defines the graph store boundary of the engine: a
// transactional key-value-with-pattern-query interface over entities,
// relationships, and fact units. The engine never reaches past this
// interface into storage internals.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/cognidex/crystal/pkg/types"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrCommitFailed wraps any failure inside an atomic fact commit.
	ErrCommitFailed = errors.New("store: fact commit failed")
	// ErrUnavailable indicates the backing store cannot be reached.
	// The orchestrator treats it as fatal to the running batch.
	ErrUnavailable = errors.New("store: unavailable")
)

// FactWrite is the atomic unit of a batch: all entity and relationship
// writes belonging to one fact, committed together. If any part fails, the
// whole write is discarded and pre-existing records stay untouched.
type FactWrite struct {
	BatchID string

	// Created are entities that did not exist before this fact.
	Created []*types.Entity
	// Merged are pre-existing entities updated by this fact.
	Merged []*types.Entity

	Relationships []*types.Relationship
	Fact          *types.FactUnit

	Contradictions []*types.Contradiction
}

// GraphStats summarizes the store for the admin surface.
type GraphStats struct {
	EntityCount       int64                    `json:"entity_count"`
	RelationshipCount int64                    `json:"relationship_count"`
	FactCount         int64                    `json:"fact_count"`
	EntitiesByTier    map[types.Tier]int64     `json:"entities_by_tier"`
	FactsByType       map[types.FactType]int64 `json:"facts_by_type"`

	// ConfidenceHistogram buckets fact confidence into ten equal bins,
	// [0.0,0.1) through [0.9,1.0].
	ConfidenceHistogram [10]int64 `json:"confidence_histogram"`

	LastUpdated time.Time `json:"last_updated"`
}

// HistogramBucket maps a confidence value onto its histogram bin.
func HistogramBucket(confidence float64) int {
	bucket := int(confidence * 10)
	if bucket > 9 {
		bucket = 9
	}
	if bucket < 0 {
		bucket = 0
	}
	return bucket
}

// GraphStore is the storage collaborator of the crystallization engine.
// Writes are idempotent upserts by key; CommitFact is the only operation
// with multi-record atomicity requirements.
type GraphStore interface {
	// Entity operations
	GetEntity(ctx context.Context, id string) (*types.Entity, error)
	GetEntityByKey(ctx context.Context, normalizedName, entityType string) (*types.Entity, error)
	EntitiesByType(ctx context.Context, entityType string) ([]*types.Entity, error)
	EntitiesByTier(ctx context.Context, tier types.Tier, minConfidence float64) ([]*types.Entity, error)
	OrphanEntities(ctx context.Context) ([]*types.Entity, error)
	UpsertEntity(ctx context.Context, entity *types.Entity) error

	// Relationship operations
	GetRelationship(ctx context.Context, id string) (*types.Relationship, error)
	RelationshipsBetween(ctx context.Context, sourceID, targetID string) ([]*types.Relationship, error)
	RelationshipsByEntity(ctx context.Context, entityID string) ([]*types.Relationship, error)
	UpsertRelationship(ctx context.Context, rel *types.Relationship) error

	// Fact unit operations
	GetFactUnit(ctx context.Context, id string) (*types.FactUnit, error)
	FactUnitsByEntity(ctx context.Context, entityID string) ([]*types.FactUnit, error)
	AllFactUnits(ctx context.Context) ([]*types.FactUnit, error)
	UpsertFactUnit(ctx context.Context, fact *types.FactUnit) error

	// CommitFact atomically writes all records of one fact.
	CommitFact(ctx context.Context, write *FactWrite) error

	// Contradiction records feed the gate's temporal-stability criterion.
	RecordContradiction(ctx context.Context, c *types.Contradiction) error
	ContradictionsSince(ctx context.Context, entityID string, since time.Time) ([]*types.Contradiction, error)

	Stats(ctx context.Context) (*GraphStats, error)
	Close() error
}
