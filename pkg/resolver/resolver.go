// Package resolver deduplicates candidate entities against the store.
// Default merging matches exactly on (normalized name, type); fuzzy matching
// exists only for higher-level linking and never merges on its own, to avoid
// conflating similarly named but distinct entities.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/cognidex/crystal/pkg/store"
	"github.com/cognidex/crystal/pkg/types"
)

// ErrAmbiguousMerge is returned when fuzzy matching finds multiple
// equally-likely existing entities. The caller surfaces it for manual
// resolution instead of auto-merging.
var ErrAmbiguousMerge = errors.New("resolver: ambiguous merge")

// Candidate is an entity mention plus the evidence backing it.
type Candidate struct {
	Name       string
	EntityType string
	Attributes map[string]string
	Score      types.ConfidenceScore

	// ObservationID identifies the originating observation; merges that
	// already include it are skipped so replays stay idempotent.
	ObservationID string
	ObservedAt    time.Time
	BatchID       string
}

// Resolution is the outcome of resolving one candidate.
type Resolution struct {
	// Created is true when a new entity was made at tier Perception.
	Created bool
	Entity  *types.Entity

	// Contradictions found while merging attribute assertions. The
	// orchestrator persists them with the fact commit.
	Contradictions []*types.Contradiction
}

// Resolver resolves candidates against a graph store.
type Resolver struct {
	store  store.GraphStore
	logger *slog.Logger
}

// New creates a Resolver.
func New(graphStore store.GraphStore, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: graphStore, logger: logger}
}

var diacriticStripper = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// Normalize case-folds, trims, collapses whitespace, and strips diacritics.
// Two mentions normalize equal iff default merging treats them as the same
// entity (together with the type tag).
func Normalize(name string) string {
	stripped, _, err := transform.String(diacriticStripper, name)
	if err != nil {
		stripped = name
	}
	lowered := strings.ToLower(stripped)
	return strings.Join(strings.Fields(lowered), " ")
}

// Resolve merges the candidate into an existing entity with the same
// (normalized name, type) key, or creates a new entity at tier Perception.
//
// The lookup-then-write here is not atomic; the orchestrator serializes
// calls per entity key, and all writes travel inside the fact commit.
func (r *Resolver) Resolve(ctx context.Context, candidate Candidate) (*Resolution, error) {
	if candidate.Name == "" {
		return nil, types.ErrEmptyName
	}
	if candidate.EntityType == "" {
		return nil, types.ErrEmptyEntityType
	}
	if err := candidate.Score.Validate(); err != nil {
		return nil, fmt.Errorf("resolver: %w", err)
	}

	normalized := Normalize(candidate.Name)

	existing, err := r.store.GetEntityByKey(ctx, normalized, candidate.EntityType)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &Resolution{Created: true, Entity: r.create(candidate, normalized)}, nil
		}
		return nil, fmt.Errorf("resolver: lookup failed: %w", err)
	}

	return r.merge(existing, candidate), nil
}

func (r *Resolver) create(candidate Candidate, normalized string) *types.Entity {
	now := candidate.ObservedAt
	if now.IsZero() {
		now = time.Now()
	}
	return &types.Entity{
		ID:               uuid.New().String(),
		Name:             candidate.Name,
		NormalizedName:   normalized,
		EntityType:       candidate.EntityType,
		Tier:             types.TierPerception,
		Confidence:       candidate.Score.Value,
		ObservationCount: 1,
		Authoritative:    candidate.Score.Source.Authoritative(),
		FirstObserved:    now,
		LastObserved:     now,
		OriginBatchID:    candidate.BatchID,
		Attributes:       copyAttributes(candidate.Attributes),
		SourceIDs:        []string{candidate.ObservationID},
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}
}

func (r *Resolver) merge(existing *types.Entity, candidate Candidate) *Resolution {
	resolution := &Resolution{Entity: existing}

	if candidate.ObservationID != "" && existing.HasSource(candidate.ObservationID) {
		// Already merged; replaying the same observation must not bump
		// counts or timestamps.
		return resolution
	}

	existing.ObservationCount++
	if candidate.ObservationID != "" {
		existing.SourceIDs = append(existing.SourceIDs, candidate.ObservationID)
	}
	if candidate.ObservedAt.After(existing.LastObserved) {
		existing.LastObserved = candidate.ObservedAt
	}
	// Confidence only rises on merge; a weaker sighting never drags an
	// established entity down.
	if candidate.Score.Value > existing.Confidence {
		existing.Confidence = candidate.Score.Value
	}
	if candidate.Score.Source.Authoritative() {
		existing.Authoritative = true
	}

	for key, asserted := range candidate.Attributes {
		prior, ok := existing.Attributes[key]
		if ok && prior != asserted {
			contradiction := &types.Contradiction{
				ID:            uuid.New().String(),
				EntityID:      existing.ID,
				Attribute:     key,
				Prior:         prior,
				Asserted:      asserted,
				ObservationID: candidate.ObservationID,
				RecordedAt:    time.Now(),
			}
			resolution.Contradictions = append(resolution.Contradictions, contradiction)
			r.logger.Warn("contradicting attribute assertion",
				"entity", existing.Name, "attribute", key, "prior", prior, "asserted", asserted)
		}
		if existing.Attributes == nil {
			existing.Attributes = make(map[string]string)
		}
		existing.Attributes[key] = asserted
	}

	existing.UpdatedAt = time.Now()
	return resolution
}

func copyAttributes(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// FuzzyMatch finds existing same-type entities within the given edit
// distance of the name. Exactly one hit returns that entity; multiple hits
// at the same best distance return ErrAmbiguousMerge; no hit returns
// store.ErrNotFound.
func (r *Resolver) FuzzyMatch(ctx context.Context, name, entityType string, maxDistance int) (*types.Entity, error) {
	normalized := Normalize(name)

	candidates, err := r.store.EntitiesByType(ctx, entityType)
	if err != nil {
		return nil, fmt.Errorf("resolver: fuzzy lookup failed: %w", err)
	}

	best := maxDistance + 1
	var matches []*types.Entity
	for _, e := range candidates {
		d := levenshtein(normalized, e.NormalizedName)
		if d > maxDistance {
			continue
		}
		switch {
		case d < best:
			best = d
			matches = []*types.Entity{e}
		case d == best:
			matches = append(matches, e)
		}
	}

	switch len(matches) {
	case 0:
		return nil, store.ErrNotFound
	case 1:
		return matches[0], nil
	default:
		names := make([]string, len(matches))
		for i, m := range matches {
			names[i] = m.Name
		}
		return nil, fmt.Errorf("%w: %q matches %s equally", ErrAmbiguousMerge, name, strings.Join(names, ", "))
	}
}

// levenshtein computes edit distance with the usual two-row rolling table.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
