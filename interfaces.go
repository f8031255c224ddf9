package crystal

import (
	"context"
	"time"

	"github.com/cognidex/crystal/pkg/audit"
	"github.com/cognidex/crystal/pkg/store"
	"github.com/cognidex/crystal/pkg/types"
)

// This file defines focused interfaces for the engine. Consumers should
// depend on the smallest interface that meets their needs; Crystal composes
// them for callers that want the full surface.

// Crystallizer drives the batch pipeline.
type Crystallizer interface {
	// RunBatch crystallizes the pending observation window into the
	// tiered store and returns the batch summary.
	RunBatch(ctx context.Context) (*audit.BatchSummary, error)

	// Run blocks, processing batches on flush triggers until the context
	// is cancelled.
	Run(ctx context.Context) error

	// TriggerFlush requests an immediate batch. Triggers coalesce.
	TriggerFlush()
}

// GraphQuerier provides read-only queries over the tiered store.
type GraphQuerier interface {
	// GetEntity retrieves a specific entity.
	GetEntity(ctx context.Context, id string) (*types.Entity, error)

	// EntitiesByTier lists entities at a tier with confidence at or
	// above the floor.
	EntitiesByTier(ctx context.Context, tier types.Tier, minConfidence float64) ([]*types.Entity, error)

	// FactUnitsByEntity lists the fact units an entity participates in.
	FactUnitsByEntity(ctx context.Context, entityID string) ([]*types.FactUnit, error)

	// MatchEntity fuzzily links a name to an existing entity of the type.
	MatchEntity(ctx context.Context, name, entityType string, maxDistance int) (*types.Entity, error)

	// FindFactChains finds entities reachable through exactly two fact
	// units, best chains first.
	FindFactChains(ctx context.Context, entityID string) ([]*FactChain, error)

	// OrphanEntities lists entities with no incident relationships.
	OrphanEntities(ctx context.Context) ([]*types.Entity, error)
}

// ReviewManager exposes the held-promotion queue to human reviewers.
type ReviewManager interface {
	// PendingReviews lists decisions held for review, oldest first.
	PendingReviews(ctx context.Context) ([]*types.PromotionDecision, error)

	// Approve records a reviewer's verdict on a held decision.
	Approve(ctx context.Context, decisionID, reviewer string, approved bool) error

	// Conflicts lists contradictory fact pairs awaiting resolution.
	Conflicts(ctx context.Context, since time.Time) ([]*audit.Conflict, error)
}

// Admin provides operational inspection and lifecycle management.
type Admin interface {
	// Stats summarizes the store.
	Stats(ctx context.Context) (*store.GraphStats, error)

	// Batches lists recent batch summaries, newest first.
	Batches(ctx context.Context, limit int) ([]*audit.BatchSummary, error)

	// Close releases all resources.
	Close(ctx context.Context) error
}

// Crystal is the full engine surface.
type Crystal interface {
	Crystallizer
	GraphQuerier
	ReviewManager
	Admin
}

// Compile-time check that Client satisfies the composed interface.
var _ Crystal = (*Client)(nil)
