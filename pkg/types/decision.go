package types

import "time"

// Criterion names evaluated by the promotion gate.
const (
	CriterionCorroboration    = "multi_source_corroboration"
	CriterionConfidence       = "confidence_threshold"
	CriterionStability        = "temporal_stability"
	CriterionDomainValidation = "domain_validation"
	CriterionContradiction    = "contradicting_evidence"
)

// CriterionResult is the pass/fail outcome of one gate criterion.
type CriterionResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// PromotionDecision is the record produced each time a tier transition is
// evaluated. It is written once to the audit trail and never mutated; a held
// decision is resolved by recording an approval, not by editing it.
type PromotionDecision struct {
	ID          string      `json:"id"`
	SubjectKind SubjectKind `json:"subject_kind"`
	SubjectID   string      `json:"subject_id"`
	SubjectName string      `json:"subject_name,omitempty"`

	FromTier Tier `json:"from_tier"`
	ToTier   Tier `json:"to_tier"`

	Approved       bool      `json:"approved"`
	Demotion       bool      `json:"demotion,omitempty"`
	Risk           RiskClass `json:"risk"`
	RequiresReview bool      `json:"requires_review"`

	Criteria []CriterionResult `json:"criteria"`

	EvaluatedAt time.Time `json:"evaluated_at"`
}

// Passed reports whether the named criterion passed.
func (d *PromotionDecision) Passed(name string) bool {
	for _, c := range d.Criteria {
		if c.Name == name {
			return c.Passed
		}
	}
	return false
}

// AllPassed reports whether every evaluated criterion passed.
func (d *PromotionDecision) AllPassed() bool {
	for _, c := range d.Criteria {
		if !c.Passed {
			return false
		}
	}
	return len(d.Criteria) > 0
}

// FailedCriteria returns the names of all failing criteria, for logging.
func (d *PromotionDecision) FailedCriteria() []string {
	var failed []string
	for _, c := range d.Criteria {
		if !c.Passed {
			failed = append(failed, c.Name)
		}
	}
	return failed
}
