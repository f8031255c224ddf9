package types

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// ConfidenceScore is an immutable value object recording one piece of
// evidence. Aggregation always produces a new aggregate; input scores are
// retained for audit.
type ConfidenceScore struct {
	Value     float64    `json:"value"`
	Source    SourceKind `json:"source"`
	Evidence  string     `json:"evidence,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// Validate checks the score's value range and source kind.
func (s ConfidenceScore) Validate() error {
	if s.Value < 0 || s.Value > 1 {
		return ErrInvalidConfidence
	}
	if !s.Source.Valid() {
		return ErrInvalidSource
	}
	return nil
}

// Participant binds an entity to its role inside a fact unit.
type Participant struct {
	EntityID string `json:"entity_id"`
	Role     string `json:"role,omitempty"`
}

// FactUnit is a hyperedge: a single extracted fact connecting two or more
// entities from one shared context. Its identifier is derived from the
// sorted set of participant entity ids, so re-extracting the same fact
// resolves to the same unit instead of creating a duplicate.
//
// FactUnits are append-only with respect to confidence scores; corroborating
// evidence appends a score and recomputes the aggregate. Everything else is
// immutable after creation.
type FactUnit struct {
	ID   string   `json:"id"`
	Type FactType `json:"type"`

	Participants []Participant     `json:"participants"`
	Scores       []ConfidenceScore `json:"scores"`
	Confidence   float64           `json:"confidence"`

	// ChunkIDs identify the originating chunks or documents.
	ChunkIDs []string `json:"chunk_ids,omitempty"`

	Validated bool `json:"validated,omitempty"`

	// PromotedEdges lists the ids of binary relationships this fact has
	// been propagated into.
	PromotedEdges []string `json:"promoted_edges,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FactUnitID derives the deterministic fact identifier from the fact type
// and the sorted set of participant entity ids.
func FactUnitID(factType FactType, participantIDs []string) string {
	ids := make([]string, len(participantIDs))
	copy(ids, participantIDs)
	sort.Strings(ids)

	h := sha256.Sum256([]byte(string(factType) + "|" + strings.Join(ids, "|")))
	return "fact-" + hex.EncodeToString(h[:])[:24]
}

// InferredRelationshipID derives the deterministic id of a relationship
// propagated from a fact unit, so re-running propagation upserts the same
// record instead of duplicating it.
func InferredRelationshipID(sourceID, targetID, relType, factID string) string {
	h := sha256.Sum256([]byte(sourceID + "|" + targetID + "|" + relType + "|" + factID))
	return "rel-" + hex.EncodeToString(h[:])[:24]
}

// Validate checks structural invariants of the fact unit.
func (f *FactUnit) Validate() error {
	if f.ID == "" {
		return ErrEmptyID
	}
	if !f.Type.Valid() {
		return ErrInvalidSource
	}
	if len(f.Participants) < 2 {
		return ErrTooFewParticipants
	}
	if f.Confidence < 0 || f.Confidence > 1 {
		return ErrInvalidConfidence
	}
	for _, s := range f.Scores {
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ParticipantIDs returns the entity ids of all participants.
func (f *FactUnit) ParticipantIDs() []string {
	ids := make([]string, len(f.Participants))
	for i, p := range f.Participants {
		ids[i] = p.EntityID
	}
	return ids
}

// Involves reports whether the entity participates in this fact.
func (f *FactUnit) Involves(entityID string) bool {
	for _, p := range f.Participants {
		if p.EntityID == entityID {
			return true
		}
	}
	return false
}
