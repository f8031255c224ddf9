package types

import (
	"time"
)

// Entity is a named, typed knowledge unit in the tiered store.
//
// Invariants enforced by the owning components: the tier only advances
// forward one step at a time (demotion is an explicit path), confidence is
// clamped to [0,1], and the observation count strictly increases on merge
// and never resets.
type Entity struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	NormalizedName string `json:"normalized_name"`
	EntityType     string `json:"entity_type"`

	Tier             Tier    `json:"tier"`
	Confidence       float64 `json:"confidence"`
	ObservationCount int     `json:"observation_count"`

	// Authoritative is set once any merged evidence carried an
	// authoritative source kind. It never clears.
	Authoritative bool `json:"authoritative,omitempty"`

	FirstObserved time.Time `json:"first_observed"`
	LastObserved  time.Time `json:"last_observed"`

	// OriginBatchID is the batch that first created the entity.
	OriginBatchID string `json:"origin_batch_id,omitempty"`

	// OntologyCode is the recognized external classification code, if any.
	OntologyCode string `json:"ontology_code,omitempty"`

	// Attributes holds the values asserted for this entity. A later
	// observation asserting a different value for an existing key is a
	// contradiction.
	Attributes map[string]string `json:"attributes,omitempty"`

	// SourceIDs lists the observation ids already merged into this entity.
	// Merge skips observations whose id is present, which makes replaying
	// a batch idempotent with respect to observation counts.
	SourceIDs []string `json:"source_ids,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks structural invariants of the entity.
func (e *Entity) Validate() error {
	if e.Name == "" {
		return ErrEmptyName
	}
	if e.EntityType == "" {
		return ErrEmptyEntityType
	}
	if !e.Tier.Valid() {
		return ErrInvalidTier
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return ErrInvalidConfidence
	}
	return nil
}

// ValidateForCreate additionally requires an id.
func (e *Entity) ValidateForCreate() error {
	if e.ID == "" {
		return ErrEmptyID
	}
	return e.Validate()
}

// HasSource reports whether the observation id has already been merged.
func (e *Entity) HasSource(observationID string) bool {
	for _, id := range e.SourceIDs {
		if id == observationID {
			return true
		}
	}
	return false
}

// Relationship is a directed typed edge between two entities, carrying its
// own confidence and tier plus provenance.
type Relationship struct {
	ID       string `json:"id"`
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
	Type     string `json:"type"`

	Tier             Tier    `json:"tier"`
	Confidence       float64 `json:"confidence"`
	ObservationCount int     `json:"observation_count"`
	Authoritative    bool    `json:"authoritative,omitempty"`

	// Inferred marks relationships materialized from hyperedge
	// propagation rather than direct observation.
	Inferred bool `json:"inferred,omitempty"`

	// FactIDs lists the fact units supporting this relationship.
	FactIDs []string `json:"fact_ids,omitempty"`

	// SourceIDs lists merged observation ids, as on Entity.
	SourceIDs []string `json:"source_ids,omitempty"`

	FirstObserved time.Time `json:"first_observed"`
	LastObserved  time.Time `json:"last_observed"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Validate checks structural invariants of the relationship.
func (r *Relationship) Validate() error {
	if r.SourceID == "" || r.TargetID == "" {
		return ErrEmptyID
	}
	if r.Type == "" {
		return ErrEmptyName
	}
	if !r.Tier.Valid() {
		return ErrInvalidTier
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return ErrInvalidConfidence
	}
	return nil
}

// HasSource reports whether the observation id has already been merged.
func (r *Relationship) HasSource(observationID string) bool {
	for _, id := range r.SourceIDs {
		if id == observationID {
			return true
		}
	}
	return false
}

// HasFact reports whether the fact id is already recorded as provenance.
func (r *Relationship) HasFact(factID string) bool {
	for _, id := range r.FactIDs {
		if id == factID {
			return true
		}
	}
	return false
}

// Contradiction records a differing value asserted for an (entity, attribute)
// pair. The promotion gate's temporal-stability criterion reads these.
type Contradiction struct {
	ID            string    `json:"id"`
	EntityID      string    `json:"entity_id"`
	Attribute     string    `json:"attribute"`
	Prior         string    `json:"prior"`
	Asserted      string    `json:"asserted"`
	ObservationID string    `json:"observation_id"`
	RecordedAt    time.Time `json:"recorded_at"`
}
