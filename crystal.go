package crystal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cognidex/crystal/pkg/alert"
	"github.com/cognidex/crystal/pkg/audit"
	"github.com/cognidex/crystal/pkg/confidence"
	"github.com/cognidex/crystal/pkg/gate"
	"github.com/cognidex/crystal/pkg/observation"
	"github.com/cognidex/crystal/pkg/ontology"
	"github.com/cognidex/crystal/pkg/resolver"
	"github.com/cognidex/crystal/pkg/store"
	"github.com/cognidex/crystal/pkg/types"
)

var (
	// ErrEntityNotFound is returned when an entity is not found.
	ErrEntityNotFound = errors.New("entity not found")
	// ErrRelationshipNotFound is returned when a relationship is not found.
	ErrRelationshipNotFound = errors.New("relationship not found")
	// ErrFactNotFound is returned when a fact unit is not found.
	ErrFactNotFound = errors.New("fact unit not found")
)

// Config holds configuration for the crystal client.
type Config struct {
	// BatchSize flushes the observation buffer once this many observations
	// are pending.
	BatchSize int
	// FlushInterval flushes the buffer on a timer regardless of size.
	FlushInterval time.Duration
	// PullLimit caps observations pulled per batch.
	PullLimit int
	// MaxParallelism bounds concurrent fact commits inside a batch.
	MaxParallelism int

	// PropagationThreshold is the minimum fact confidence for hyperedge
	// propagation into binary relationships.
	PropagationThreshold float64
	// ExtractionFloor is the minimum mean extraction confidence for a
	// context to become a fact unit.
	ExtractionFloor float64

	// MergeStrategy selects how a fact's scores merge into its aggregate.
	// Empty means the weighted default.
	MergeStrategy confidence.Strategy

	// Promotion holds the gate thresholds.
	Promotion gate.Config

	// DecayLambdas maps entity classes to decay rates in 1/hour;
	// DefaultLambda covers unlisted classes.
	DecayLambdas  map[types.EntityClass]float64
	DefaultLambda float64

	// ClassByType assigns decay classes to entity types. Unlisted types
	// use the default class.
	ClassByType map[string]types.EntityClass
}

// DefaultClientConfig returns a runnable configuration.
func DefaultClientConfig() *Config {
	return &Config{
		BatchSize:            100,
		FlushInterval:        30 * time.Second,
		PullLimit:            500,
		MaxParallelism:       4,
		PropagationThreshold: 0.7,
		ExtractionFloor:      0.5,
		MergeStrategy:        confidence.StrategyWeighted,
		Promotion:            gate.DefaultConfig(),
		DecayLambdas: map[types.EntityClass]float64{
			types.ClassTransient: 0.05,
			types.ClassEpisodic:  0.01,
			types.ClassStable:    0.001,
			types.ClassPermanent: 0,
		},
		DefaultLambda: 0.001,
	}
}

// Client is the main implementation of the Crystal interface. It composes
// the store, resolver, gate, bridge, audit trail, and observation source
// into the batch crystallization engine.
type Client struct {
	store        store.GraphStore
	resolver     *resolver.Resolver
	gate         *gate.Gate
	bridge       *Bridge
	classifier   ontology.Classifier
	trail        audit.Trail
	alerter      alert.Alerter
	orchestrator *Orchestrator
	config       *Config
	logger       *slog.Logger
}

// NewClient wires a Client. The store, source, watermark store, and trail
// are required; a nil classifier disables domain validation and a nil
// alerter disables alerting.
func NewClient(
	graphStore store.GraphStore,
	source observation.Source,
	watermarks observation.WatermarkStore,
	trail audit.Trail,
	classifier ontology.Classifier,
	alerter alert.Alerter,
	cfg *Config,
	logger *slog.Logger,
) (*Client, error) {
	if graphStore == nil {
		return nil, errors.New("crystal: graph store is required")
	}
	if source == nil {
		return nil, errors.New("crystal: observation source is required")
	}
	if watermarks == nil {
		return nil, errors.New("crystal: watermark store is required")
	}
	if trail == nil {
		return nil, errors.New("crystal: audit trail is required")
	}
	if cfg == nil {
		cfg = DefaultClientConfig()
	}
	if classifier == nil {
		classifier = ontology.StaticClassifier{}
	}
	if alerter == nil {
		alerter = &alert.NoOpAlerter{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	scorer, err := confidence.NewScorer(cfg.DecayLambdas, cfg.DefaultLambda)
	if err != nil {
		return nil, fmt.Errorf("crystal: %w", err)
	}
	promotionGate, err := gate.New(cfg.Promotion, scorer, logger)
	if err != nil {
		return nil, fmt.Errorf("crystal: %w", err)
	}
	bridge, err := NewBridge(graphStore, cfg.ExtractionFloor, cfg.MergeStrategy, logger)
	if err != nil {
		return nil, err
	}

	entityResolver := resolver.New(graphStore, logger)

	client := &Client{
		store:      graphStore,
		resolver:   entityResolver,
		gate:       promotionGate,
		bridge:     bridge,
		classifier: classifier,
		trail:      trail,
		alerter:    alerter,
		config:     cfg,
		logger:     logger,
	}
	client.orchestrator = NewOrchestrator(client, source, watermarks)
	return client, nil
}

// Bridge returns the hypergraph bridge, for direct fact queries.
func (c *Client) Bridge() *Bridge {
	return c.bridge
}

// Store returns the underlying graph store.
func (c *Client) Store() store.GraphStore {
	return c.store
}

// RunBatch drains the pending observation window through one crystallization
// batch. See Orchestrator.RunBatch.
func (c *Client) RunBatch(ctx context.Context) (*audit.BatchSummary, error) {
	return c.orchestrator.RunBatch(ctx)
}

// Run blocks, crystallizing batches on flush triggers until the context is
// cancelled.
func (c *Client) Run(ctx context.Context) error {
	return c.orchestrator.Run(ctx)
}

// TriggerFlush requests an immediate batch. Triggers coalesce; requesting a
// flush while one is pending is a no-op.
func (c *Client) TriggerFlush() {
	c.orchestrator.TriggerFlush()
}

// GetEntity retrieves an entity by id.
func (c *Client) GetEntity(ctx context.Context, id string) (*types.Entity, error) {
	entity, err := c.store.GetEntity(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	}
	return entity, err
}

// EntitiesByTier lists entities at the tier with confidence at or above the
// floor.
func (c *Client) EntitiesByTier(ctx context.Context, tier types.Tier, minConfidence float64) ([]*types.Entity, error) {
	return c.store.EntitiesByTier(ctx, tier, minConfidence)
}

// FactUnitsByEntity lists the fact units an entity participates in.
func (c *Client) FactUnitsByEntity(ctx context.Context, entityID string) ([]*types.FactUnit, error) {
	return c.store.FactUnitsByEntity(ctx, entityID)
}

// MatchEntity finds an existing entity whose normalized name is within
// maxDistance edits of name. Ambiguous matches return
// resolver.ErrAmbiguousMerge; callers link by hand in that case.
func (c *Client) MatchEntity(ctx context.Context, name, entityType string, maxDistance int) (*types.Entity, error) {
	entity, err := c.resolver.FuzzyMatch(ctx, name, entityType, maxDistance)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: no entity within distance %d of %q", ErrEntityNotFound, maxDistance, name)
	}
	return entity, err
}

// FindFactChains finds entities reachable through exactly two fact units.
func (c *Client) FindFactChains(ctx context.Context, entityID string) ([]*FactChain, error) {
	return c.bridge.FindFactChains(ctx, entityID)
}

// OrphanEntities lists entities with no incident relationships.
func (c *Client) OrphanEntities(ctx context.Context) ([]*types.Entity, error) {
	return c.store.OrphanEntities(ctx)
}

// PendingReviews lists promotion decisions held for human review.
func (c *Client) PendingReviews(ctx context.Context) ([]*types.PromotionDecision, error) {
	return c.trail.PendingReviews(ctx)
}

// Approve resolves a held promotion decision. Approved transitions are
// applied by the next batch.
func (c *Client) Approve(ctx context.Context, decisionID, reviewer string, approved bool) error {
	if err := c.trail.RecordApproval(ctx, decisionID, reviewer, approved); err != nil {
		return err
	}
	c.logger.Info("review recorded", "decision", decisionID, "reviewer", reviewer, "approved", approved)
	return nil
}

// Conflicts lists contradictory fact pairs recorded since the given time.
func (c *Client) Conflicts(ctx context.Context, since time.Time) ([]*audit.Conflict, error) {
	return c.trail.Conflicts(ctx, since)
}

// Stats summarizes the store for the admin surface.
func (c *Client) Stats(ctx context.Context) (*store.GraphStats, error) {
	return c.store.Stats(ctx)
}

// Batches lists recent batch summaries, newest first.
func (c *Client) Batches(ctx context.Context, limit int) ([]*audit.BatchSummary, error) {
	return c.trail.Batches(ctx, limit)
}

// Close releases the store and audit trail.
func (c *Client) Close(ctx context.Context) error {
	storeErr := c.store.Close()
	trailErr := c.trail.Close()
	if storeErr != nil {
		return storeErr
	}
	return trailErr
}
