// Package gate evaluates tier transitions. The gate itself is pure: it
// inspects a candidate snapshot assembled by its caller and returns a
// PromotionDecision. It never mutates tiers and never touches the store.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cognidex/crystal/pkg/confidence"
	"github.com/cognidex/crystal/pkg/types"
)

// Config holds the promotion thresholds. Zero values are invalid; use
// DefaultConfig as the baseline and override from pkg/config.
type Config struct {
	// MinObservations is the corroboration floor. Candidates with fewer
	// observations still pass criterion 1 when an authoritative score
	// backs them.
	MinObservations int

	// SemanticMinConfidence and ReasoningMinConfidence are the aggregate
	// confidence floors for promotion into the respective tier.
	// ReasoningMinConfidence also guards Reasoning -> Application.
	SemanticMinConfidence  float64
	ReasoningMinConfidence float64

	// StabilityWindow is how long a candidate must go without a
	// contradicting assertion before criterion 3 passes.
	StabilityWindow time.Duration

	// RiskByType buckets entity and relationship types. Types absent
	// from the table default to medium risk.
	RiskByType map[string]types.RiskClass
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		MinObservations:        3,
		SemanticMinConfidence:  0.6,
		ReasoningMinConfidence: 0.8,
		StabilityWindow:        48 * time.Hour,
		RiskByType: map[string]types.RiskClass{
			"treatment":  types.RiskHigh,
			"causation":  types.RiskHigh,
			"dosage":     types.RiskHigh,
			"diagnosis":  types.RiskMedium,
			"mention":    types.RiskLow,
			"reference":  types.RiskLow,
			"topic":      types.RiskLow,
			"keyword":    types.RiskLow,
			"associated": types.RiskLow,
		},
	}
}

// Validate rejects configs with inverted or degenerate thresholds.
func (c Config) Validate() error {
	if c.MinObservations < 1 {
		return fmt.Errorf("gate: min observations must be at least 1, got %d", c.MinObservations)
	}
	if c.SemanticMinConfidence <= 0 || c.SemanticMinConfidence > 1 {
		return fmt.Errorf("gate: semantic confidence floor %f outside (0,1]", c.SemanticMinConfidence)
	}
	if c.ReasoningMinConfidence < c.SemanticMinConfidence || c.ReasoningMinConfidence > 1 {
		return fmt.Errorf("gate: reasoning confidence floor %f must lie in [%f,1]",
			c.ReasoningMinConfidence, c.SemanticMinConfidence)
	}
	if c.StabilityWindow <= 0 {
		return fmt.Errorf("gate: stability window must be positive, got %s", c.StabilityWindow)
	}
	for typ, risk := range c.RiskByType {
		if !risk.Valid() {
			return fmt.Errorf("gate: unknown risk class %q for type %q", risk, typ)
		}
	}
	return nil
}

// Candidate is a snapshot of one entity or relationship up for promotion.
// The orchestrator assembles it; the gate only reads it.
type Candidate struct {
	Kind types.SubjectKind
	ID   string
	Name string

	// Type is the entity type or relationship type, used for risk lookup.
	Type string

	Tier             types.Tier
	Confidence       float64
	ObservationCount int
	Authoritative    bool
	EntityClass      types.EntityClass
	LastObserved     time.Time

	// LastContradiction is the zero time when no contradicting assertion
	// has ever been recorded.
	LastContradiction time.Time

	// DomainValidated is true when the ontology classifier returned a
	// recognized code for this subject.
	DomainValidated bool
}

// Gate applies the promotion criteria.
type Gate struct {
	cfg    Config
	scorer *confidence.Scorer
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Gate. The scorer supplies temporal decay for the
// confidence criterion so stale evidence cannot coast over the floor.
func New(cfg Config, scorer *confidence.Scorer, logger *slog.Logger) (*Gate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if scorer == nil {
		return nil, fmt.Errorf("gate: scorer is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{cfg: cfg, scorer: scorer, logger: logger, now: time.Now}, nil
}

// Risk returns the risk class for an entity or relationship type.
func (g *Gate) Risk(typ string) types.RiskClass {
	if risk, ok := g.cfg.RiskByType[typ]; ok {
		return risk
	}
	return types.RiskMedium
}

// Evaluate judges a one-step forward transition from the candidate's
// current tier. It always returns a decision; the error path is reserved
// for candidates that cannot legally transition at all.
func (g *Gate) Evaluate(ctx context.Context, candidate Candidate) (*types.PromotionDecision, error) {
	target, ok := candidate.Tier.Next()
	if !ok {
		return nil, fmt.Errorf("gate: %s %q at %s cannot advance: %w",
			candidate.Kind, candidate.Name, candidate.Tier, types.ErrInvalidTier)
	}

	risk := g.Risk(candidate.Type)
	decision := &types.PromotionDecision{
		ID:          uuid.New().String(),
		SubjectKind: candidate.Kind,
		SubjectID:   candidate.ID,
		SubjectName: candidate.Name,
		FromTier:    candidate.Tier,
		ToTier:      target,
		Risk:        risk,
		EvaluatedAt: g.now(),
	}

	decision.Criteria = append(decision.Criteria, g.corroboration(candidate))
	decision.Criteria = append(decision.Criteria, g.confidenceFloor(candidate, target))
	if target == types.TierSemantic {
		decision.Criteria = append(decision.Criteria, g.stability(candidate))
	}
	decision.Criteria = append(decision.Criteria, g.domainValidation(candidate, target))

	decision.Approved = decision.AllPassed()

	if decision.Approved && types.TierSemantic.Less(target) && risk == types.RiskHigh {
		// High-risk transitions above Semantic are held for a human,
		// never auto-approved.
		decision.Approved = false
		decision.RequiresReview = true
	}

	g.logger.Debug("promotion evaluated",
		"subject", candidate.Name,
		"from", candidate.Tier,
		"to", target,
		"approved", decision.Approved,
		"requires_review", decision.RequiresReview,
		"failed", decision.FailedCriteria())

	return decision, nil
}

// EvaluateDemotion is the explicit backward path. A contradiction recorded
// inside the stability window demotes the candidate one tier; entities
// already at Perception stay put.
func (g *Gate) EvaluateDemotion(ctx context.Context, candidate Candidate) (*types.PromotionDecision, error) {
	target, ok := candidate.Tier.Prev()
	if !ok {
		return nil, fmt.Errorf("gate: %s %q at %s cannot demote: %w",
			candidate.Kind, candidate.Name, candidate.Tier, types.ErrInvalidTier)
	}

	stability := g.stability(candidate)
	decision := &types.PromotionDecision{
		ID:          uuid.New().String(),
		SubjectKind: candidate.Kind,
		SubjectID:   candidate.ID,
		SubjectName: candidate.Name,
		FromTier:    candidate.Tier,
		ToTier:      target,
		Demotion:    true,
		Risk:        g.Risk(candidate.Type),
		Criteria:    []types.CriterionResult{stability},
		EvaluatedAt: g.now(),
	}

	// Demotion approves when stability FAILS: a fresh contradiction is
	// exactly the trigger for stepping back down.
	decision.Approved = !stability.Passed

	if decision.Approved {
		g.logger.Info("demotion approved",
			"subject", candidate.Name, "from", candidate.Tier, "to", target)
	}
	return decision, nil
}

func (g *Gate) corroboration(candidate Candidate) types.CriterionResult {
	passed := candidate.ObservationCount >= g.cfg.MinObservations || candidate.Authoritative
	return types.CriterionResult{
		Name:   types.CriterionCorroboration,
		Passed: passed,
		Detail: fmt.Sprintf("observations=%d min=%d authoritative=%t",
			candidate.ObservationCount, g.cfg.MinObservations, candidate.Authoritative),
	}
}

func (g *Gate) confidenceFloor(candidate Candidate, target types.Tier) types.CriterionResult {
	floor := g.cfg.SemanticMinConfidence
	if types.TierSemantic.Less(target) {
		floor = g.cfg.ReasoningMinConfidence
	}

	elapsed := g.now().Sub(candidate.LastObserved).Hours()
	if elapsed < 0 {
		elapsed = 0
	}
	effective := candidate.Confidence * g.scorer.Relevance(candidate.EntityClass, elapsed)

	return types.CriterionResult{
		Name:   types.CriterionConfidence,
		Passed: effective >= floor,
		Detail: fmt.Sprintf("aggregate=%.3f decayed=%.3f floor=%.3f elapsed=%.1fh",
			candidate.Confidence, effective, floor, elapsed),
	}
}

func (g *Gate) stability(candidate Candidate) types.CriterionResult {
	stable := candidate.LastContradiction.IsZero() ||
		g.now().Sub(candidate.LastContradiction) >= g.cfg.StabilityWindow

	detail := "no contradiction on record"
	if !candidate.LastContradiction.IsZero() {
		detail = fmt.Sprintf("last contradiction %s ago, window %s",
			g.now().Sub(candidate.LastContradiction).Round(time.Minute), g.cfg.StabilityWindow)
	}
	return types.CriterionResult{
		Name:   types.CriterionStability,
		Passed: stable,
		Detail: detail,
	}
}

func (g *Gate) domainValidation(candidate Candidate, target types.Tier) types.CriterionResult {
	required := types.TierSemantic.Less(target)
	passed := candidate.DomainValidated || !required
	return types.CriterionResult{
		Name:   types.CriterionDomainValidation,
		Passed: passed,
		Detail: fmt.Sprintf("validated=%t required=%t", candidate.DomainValidated, required),
	}
}
