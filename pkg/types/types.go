package types

import (
	"errors"
	"fmt"
)

// Validation errors
var (
	ErrEmptyName          = errors.New("name cannot be empty")
	ErrEmptyEntityType    = errors.New("entity_type cannot be empty")
	ErrEmptyID            = errors.New("id cannot be empty")
	ErrInvalidConfidence  = errors.New("confidence must be in [0,1]")
	ErrInvalidTier        = errors.New("invalid tier")
	ErrInvalidSource      = errors.New("invalid confidence source kind")
	ErrTooFewParticipants = errors.New("fact unit requires at least two participants")
)

// Tier is one of the four increasing trust levels an entity or relationship
// passes through. Tiers only advance one step at a time; moving backward
// happens only through the explicit demotion path.
type Tier string

const (
	TierPerception  Tier = "perception"
	TierSemantic    Tier = "semantic"
	TierReasoning   Tier = "reasoning"
	TierApplication Tier = "application"
)

var tierRank = map[Tier]int{
	TierPerception:  0,
	TierSemantic:    1,
	TierReasoning:   2,
	TierApplication: 3,
}

// Rank returns the ordinal position of the tier, Perception being 0.
func (t Tier) Rank() int {
	return tierRank[t]
}

// Less reports whether t is a looser tier than other.
func (t Tier) Less(other Tier) bool {
	return t.Rank() < other.Rank()
}

// Valid reports whether t is one of the four known tiers.
func (t Tier) Valid() bool {
	_, ok := tierRank[t]
	return ok
}

// Next returns the immediately stricter tier, or false if t is already
// the strictest tier.
func (t Tier) Next() (Tier, bool) {
	switch t {
	case TierPerception:
		return TierSemantic, true
	case TierSemantic:
		return TierReasoning, true
	case TierReasoning:
		return TierApplication, true
	default:
		return t, false
	}
}

// Prev returns the immediately looser tier, or false if t is already
// the loosest tier.
func (t Tier) Prev() (Tier, bool) {
	switch t {
	case TierApplication:
		return TierReasoning, true
	case TierReasoning:
		return TierSemantic, true
	case TierSemantic:
		return TierPerception, true
	default:
		return t, false
	}
}

// ParseTier converts a string into a Tier.
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidTier, s)
	}
	return t, nil
}

// SourceKind identifies where a confidence score came from. The set is
// closed; aggregation weights are keyed by it.
type SourceKind string

const (
	SourceSymbolicRule    SourceKind = "symbolic_rule"
	SourceNeuralInference SourceKind = "neural_inference"
	SourceOntologyMatch   SourceKind = "ontology_match"
	SourceUserValidation  SourceKind = "user_validation"
	SourceHeuristic       SourceKind = "heuristic"
)

// Valid reports whether k is a known source kind.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceSymbolicRule, SourceNeuralInference, SourceOntologyMatch,
		SourceUserValidation, SourceHeuristic:
		return true
	}
	return false
}

// Authoritative reports whether evidence from this source alone satisfies
// the corroboration criterion regardless of observation count.
func (k SourceKind) Authoritative() bool {
	return k == SourceUserValidation || k == SourceOntologyMatch
}

// FactType classifies what kind of n-ary fact a FactUnit asserts.
type FactType string

const (
	FactRelationship FactType = "relationship"
	FactCausation    FactType = "causation"
	FactTreatment    FactType = "treatment"
	FactAssociation  FactType = "association"
	FactTemporal     FactType = "temporal"
	FactHierarchical FactType = "hierarchical"
)

// Valid reports whether t is a known fact type.
func (t FactType) Valid() bool {
	switch t {
	case FactRelationship, FactCausation, FactTreatment, FactAssociation,
		FactTemporal, FactHierarchical:
		return true
	}
	return false
}

// EntityClass groups entity types by how quickly their relevance decays.
// The set is closed and validated at configuration load; unknown entity
// types fall back to ClassDefault.
type EntityClass string

const (
	// ClassTransient covers fast-decaying observational types such as symptoms.
	ClassTransient EntityClass = "transient"
	// ClassEpisodic covers event-bound types that fade over weeks.
	ClassEpisodic EntityClass = "episodic"
	// ClassStable covers slowly changing attributes such as medications.
	ClassStable EntityClass = "stable"
	// ClassPermanent covers near-permanent types such as allergies.
	ClassPermanent EntityClass = "permanent"
	// ClassDefault is the fallback for entity types with no configured class.
	ClassDefault EntityClass = "default"
)

// Valid reports whether c is a known entity class.
func (c EntityClass) Valid() bool {
	switch c {
	case ClassTransient, ClassEpisodic, ClassStable, ClassPermanent, ClassDefault:
		return true
	}
	return false
}

// RiskClass buckets entity and relationship types by the cost of promoting
// them wrongly. High-risk transitions above Semantic are never auto-approved.
type RiskClass string

const (
	RiskLow    RiskClass = "low"
	RiskMedium RiskClass = "medium"
	RiskHigh   RiskClass = "high"
)

// Valid reports whether r is a known risk class.
func (r RiskClass) Valid() bool {
	return r == RiskLow || r == RiskMedium || r == RiskHigh
}

// SubjectKind distinguishes what a promotion decision is about.
type SubjectKind string

const (
	SubjectEntity       SubjectKind = "entity"
	SubjectRelationship SubjectKind = "relationship"
)
