package dto

import (
	"errors"
	"strings"
	"time"

	"github.com/cognidex/crystal/pkg/types"
)

// MaxAttributeCount bounds how many attributes a single observation may
// carry.
const MaxAttributeCount = 64

// ObservationRequest is one entity mention posted by an upstream extractor.
type ObservationRequest struct {
	ID         string              `json:"id" binding:"required"`
	ContextID  string              `json:"context_id"`
	Name       string              `json:"name" binding:"required"`
	EntityType string              `json:"entity_type" binding:"required"`
	Role       string              `json:"role,omitempty"`
	Attributes map[string]string   `json:"attributes,omitempty"`
	Confidence float64             `json:"confidence"`
	Source     string              `json:"source"`
	FactType   string              `json:"fact_type,omitempty"`
	Relations  []RelationAssertion `json:"relations,omitempty"`
	ObservedAt *time.Time          `json:"observed_at,omitempty"`
}

// RelationAssertion mirrors types.RelationAssertion on the wire.
type RelationAssertion struct {
	TargetName string `json:"target_name" binding:"required"`
	TargetType string `json:"target_type" binding:"required"`
	Relation   string `json:"relation" binding:"required"`
}

// Validate checks the request beyond gin's binding tags.
func (r *ObservationRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("name cannot be blank")
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return errors.New("confidence must be in [0, 1]")
	}
	if !types.SourceKind(r.Source).Valid() {
		return errors.New("unknown confidence source kind")
	}
	if len(r.Attributes) > MaxAttributeCount {
		return errors.New("too many attributes")
	}
	return nil
}

// ToObservation converts the request into the engine's observation type.
func (r *ObservationRequest) ToObservation() *types.Observation {
	observedAt := time.Now()
	if r.ObservedAt != nil {
		observedAt = *r.ObservedAt
	}

	obs := &types.Observation{
		ID:         r.ID,
		ContextID:  r.ContextID,
		Name:       r.Name,
		EntityType: r.EntityType,
		Role:       r.Role,
		Attributes: r.Attributes,
		FactType:   types.FactType(r.FactType),
		ObservedAt: observedAt,
		Score: types.ConfidenceScore{
			Value:     r.Confidence,
			Source:    types.SourceKind(r.Source),
			Timestamp: observedAt,
		},
	}
	for _, rel := range r.Relations {
		obs.Relations = append(obs.Relations, types.RelationAssertion{
			TargetName: rel.TargetName,
			TargetType: rel.TargetType,
			Relation:   rel.Relation,
		})
	}
	return obs
}

// IngestRequest is a batch of observations sharing one submission.
type IngestRequest struct {
	Observations []ObservationRequest `json:"observations" binding:"required,min=1"`
}

// ApproveRequest carries a reviewer's verdict on a held promotion.
type ApproveRequest struct {
	Reviewer string `json:"reviewer" binding:"required"`
	Approved bool   `json:"approved"`
}

// Result is the generic success envelope.
type Result struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ErrorResponse is the generic failure envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
