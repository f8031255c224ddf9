package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/cognidex/crystal/pkg/types"
)

// BreakerSettings configures the circuit breaker around a GraphStore.
type BreakerSettings struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	ReadyToTripRatio float64

	// OnOpen is called when the breaker trips open, e.g. to send an alert.
	OnOpen func(name string)
}

// BreakerStore wraps a GraphStore with a circuit breaker. While the breaker
// is open every call fails fast with ErrUnavailable, which the orchestrator
// treats as fatal to the running batch.
type BreakerStore struct {
	inner  GraphStore
	cb     *gobreaker.CircuitBreaker
	logger *slog.Logger
}

// WithBreaker wraps the store in a circuit breaker.
func WithBreaker(inner GraphStore, settings BreakerSettings, logger *slog.Logger) *BreakerStore {
	if logger == nil {
		logger = slog.Default()
	}
	st := gobreaker.Settings{
		Name:        "graph-store",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= settings.ReadyToTripRatio
		},
		// A lookup miss is a normal answer, not a store failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("graph store breaker state change", "from", from.String(), "to", to.String())
			if to == gobreaker.StateOpen && settings.OnOpen != nil {
				settings.OnOpen(name)
			}
		},
	}
	return &BreakerStore{inner: inner, cb: gobreaker.NewCircuitBreaker(st), logger: logger}
}

func (b *BreakerStore) execute(fn func() (any, error)) (any, error) {
	result, err := b.cb.Execute(fn)
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return result, err
}

func (b *BreakerStore) GetEntity(ctx context.Context, id string) (*types.Entity, error) {
	result, err := b.execute(func() (any, error) { return b.inner.GetEntity(ctx, id) })
	if err != nil {
		return nil, err
	}
	return result.(*types.Entity), nil
}

func (b *BreakerStore) GetEntityByKey(ctx context.Context, normalizedName, entityType string) (*types.Entity, error) {
	result, err := b.execute(func() (any, error) { return b.inner.GetEntityByKey(ctx, normalizedName, entityType) })
	if err != nil {
		return nil, err
	}
	return result.(*types.Entity), nil
}

func (b *BreakerStore) EntitiesByType(ctx context.Context, entityType string) ([]*types.Entity, error) {
	result, err := b.execute(func() (any, error) { return b.inner.EntitiesByType(ctx, entityType) })
	if err != nil {
		return nil, err
	}
	return result.([]*types.Entity), nil
}

func (b *BreakerStore) EntitiesByTier(ctx context.Context, tier types.Tier, minConfidence float64) ([]*types.Entity, error) {
	result, err := b.execute(func() (any, error) { return b.inner.EntitiesByTier(ctx, tier, minConfidence) })
	if err != nil {
		return nil, err
	}
	return result.([]*types.Entity), nil
}

func (b *BreakerStore) OrphanEntities(ctx context.Context) ([]*types.Entity, error) {
	result, err := b.execute(func() (any, error) { return b.inner.OrphanEntities(ctx) })
	if err != nil {
		return nil, err
	}
	return result.([]*types.Entity), nil
}

func (b *BreakerStore) UpsertEntity(ctx context.Context, entity *types.Entity) error {
	_, err := b.execute(func() (any, error) { return nil, b.inner.UpsertEntity(ctx, entity) })
	return err
}

func (b *BreakerStore) GetRelationship(ctx context.Context, id string) (*types.Relationship, error) {
	result, err := b.execute(func() (any, error) { return b.inner.GetRelationship(ctx, id) })
	if err != nil {
		return nil, err
	}
	return result.(*types.Relationship), nil
}

func (b *BreakerStore) RelationshipsBetween(ctx context.Context, sourceID, targetID string) ([]*types.Relationship, error) {
	result, err := b.execute(func() (any, error) { return b.inner.RelationshipsBetween(ctx, sourceID, targetID) })
	if err != nil {
		return nil, err
	}
	return result.([]*types.Relationship), nil
}

func (b *BreakerStore) RelationshipsByEntity(ctx context.Context, entityID string) ([]*types.Relationship, error) {
	result, err := b.execute(func() (any, error) { return b.inner.RelationshipsByEntity(ctx, entityID) })
	if err != nil {
		return nil, err
	}
	return result.([]*types.Relationship), nil
}

func (b *BreakerStore) UpsertRelationship(ctx context.Context, rel *types.Relationship) error {
	_, err := b.execute(func() (any, error) { return nil, b.inner.UpsertRelationship(ctx, rel) })
	return err
}

func (b *BreakerStore) GetFactUnit(ctx context.Context, id string) (*types.FactUnit, error) {
	result, err := b.execute(func() (any, error) { return b.inner.GetFactUnit(ctx, id) })
	if err != nil {
		return nil, err
	}
	return result.(*types.FactUnit), nil
}

func (b *BreakerStore) FactUnitsByEntity(ctx context.Context, entityID string) ([]*types.FactUnit, error) {
	result, err := b.execute(func() (any, error) { return b.inner.FactUnitsByEntity(ctx, entityID) })
	if err != nil {
		return nil, err
	}
	return result.([]*types.FactUnit), nil
}

func (b *BreakerStore) AllFactUnits(ctx context.Context) ([]*types.FactUnit, error) {
	result, err := b.execute(func() (any, error) { return b.inner.AllFactUnits(ctx) })
	if err != nil {
		return nil, err
	}
	return result.([]*types.FactUnit), nil
}

func (b *BreakerStore) UpsertFactUnit(ctx context.Context, fact *types.FactUnit) error {
	_, err := b.execute(func() (any, error) { return nil, b.inner.UpsertFactUnit(ctx, fact) })
	return err
}

func (b *BreakerStore) CommitFact(ctx context.Context, write *FactWrite) error {
	_, err := b.execute(func() (any, error) { return nil, b.inner.CommitFact(ctx, write) })
	return err
}

func (b *BreakerStore) RecordContradiction(ctx context.Context, c *types.Contradiction) error {
	_, err := b.execute(func() (any, error) { return nil, b.inner.RecordContradiction(ctx, c) })
	return err
}

func (b *BreakerStore) ContradictionsSince(ctx context.Context, entityID string, since time.Time) ([]*types.Contradiction, error) {
	result, err := b.execute(func() (any, error) { return b.inner.ContradictionsSince(ctx, entityID, since) })
	if err != nil {
		return nil, err
	}
	return result.([]*types.Contradiction), nil
}

func (b *BreakerStore) Stats(ctx context.Context) (*GraphStats, error) {
	result, err := b.execute(func() (any, error) { return b.inner.Stats(ctx) })
	if err != nil {
		return nil, err
	}
	return result.(*GraphStats), nil
}

func (b *BreakerStore) Close() error {
	return b.inner.Close()
}

var _ GraphStore = (*BreakerStore)(nil)
