package types

import "time"

// RelationAssertion is a binary relation asserted by an observation against
// another entity mentioned in the same context.
type RelationAssertion struct {
	TargetName string `json:"target_name"`
	TargetType string `json:"target_type"`
	Relation   string `json:"relation"`
}

// Observation is one raw entity mention produced by an upstream extractor.
// Observations sharing a ContextID were extracted from the same chunk of
// text and together form one fact candidate.
type Observation struct {
	ID        string `json:"id"`
	ContextID string `json:"context_id"`

	// Sequence is the watermark position assigned by the observation
	// source. The orchestrator advances its watermark past a sequence
	// only after the batch containing it is durably committed.
	Sequence uint64 `json:"sequence"`

	Name       string `json:"name"`
	EntityType string `json:"entity_type"`
	Role       string `json:"role,omitempty"`

	Attributes map[string]string `json:"attributes,omitempty"`

	// Score is the extraction confidence for this mention.
	Score ConfidenceScore `json:"score"`

	// FactType classifies the fact the shared context asserts.
	FactType FactType `json:"fact_type"`

	Relations []RelationAssertion `json:"relations,omitempty"`

	ObservedAt time.Time `json:"observed_at"`
}

// Validate checks required fields and the embedded score.
func (o *Observation) Validate() error {
	if o.ID == "" {
		return ErrEmptyID
	}
	if o.Name == "" {
		return ErrEmptyName
	}
	if o.EntityType == "" {
		return ErrEmptyEntityType
	}
	return o.Score.Validate()
}
