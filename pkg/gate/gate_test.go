package gate

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognidex/crystal/pkg/confidence"
	"github.com/cognidex/crystal/pkg/types"
)

func newTestGate(t *testing.T) *Gate {
	t.Helper()
	scorer, err := confidence.NewScorer(nil, 0.01)
	require.NoError(t, err)
	g, err := New(DefaultConfig(), scorer, slog.Default())
	require.NoError(t, err)
	return g
}

func freshCandidate() Candidate {
	return Candidate{
		Kind:             types.SubjectEntity,
		ID:               "ent-1",
		Name:             "Aspirin",
		Type:             "Drug",
		Tier:             types.TierPerception,
		Confidence:       0.85,
		ObservationCount: 5,
		EntityClass:      types.ClassStable,
		LastObserved:     time.Now(),
		DomainValidated:  true,
	}
}

func TestEvaluateApprovesToSemantic(t *testing.T) {
	g := newTestGate(t)

	decision, err := g.Evaluate(context.Background(), freshCandidate())
	require.NoError(t, err)

	assert.True(t, decision.Approved)
	assert.False(t, decision.RequiresReview)
	assert.Equal(t, types.TierPerception, decision.FromTier)
	assert.Equal(t, types.TierSemantic, decision.ToTier)
	assert.Len(t, decision.Criteria, 4)
	assert.Empty(t, decision.FailedCriteria())
}

func TestEvaluateOneStepOnly(t *testing.T) {
	g := newTestGate(t)

	candidate := freshCandidate()
	candidate.Tier = types.TierApplication
	_, err := g.Evaluate(context.Background(), candidate)
	assert.ErrorIs(t, err, types.ErrInvalidTier)
}

func TestEvaluateCorroborationShortfall(t *testing.T) {
	g := newTestGate(t)

	candidate := freshCandidate()
	candidate.ObservationCount = 1
	candidate.Authoritative = false

	decision, err := g.Evaluate(context.Background(), candidate)
	require.NoError(t, err)

	assert.False(t, decision.Approved)
	assert.False(t, decision.Passed(types.CriterionCorroboration))
}

func TestEvaluateAuthoritativeOverridesCount(t *testing.T) {
	g := newTestGate(t)

	candidate := freshCandidate()
	candidate.ObservationCount = 1
	candidate.Authoritative = true

	decision, err := g.Evaluate(context.Background(), candidate)
	require.NoError(t, err)

	assert.True(t, decision.Passed(types.CriterionCorroboration))
}

func TestEvaluateConfidenceDecay(t *testing.T) {
	scorer, err := confidence.NewScorer(map[types.EntityClass]float64{
		types.ClassTransient: 0.1,
	}, 0.01)
	require.NoError(t, err)
	g, err := New(DefaultConfig(), scorer, slog.Default())
	require.NoError(t, err)

	candidate := freshCandidate()
	candidate.EntityClass = types.ClassTransient
	candidate.Confidence = 0.65
	candidate.LastObserved = time.Now().Add(-72 * time.Hour)

	decision, err := g.Evaluate(context.Background(), candidate)
	require.NoError(t, err)

	// 0.65 * exp(-0.1*72) is far below the 0.6 semantic floor.
	assert.False(t, decision.Passed(types.CriterionConfidence))
	assert.False(t, decision.Approved)
}

func TestEvaluateStabilityWindow(t *testing.T) {
	g := newTestGate(t)

	candidate := freshCandidate()
	candidate.LastContradiction = time.Now().Add(-1 * time.Hour)

	decision, err := g.Evaluate(context.Background(), candidate)
	require.NoError(t, err)
	assert.False(t, decision.Passed(types.CriterionStability))
	assert.False(t, decision.Approved)

	candidate.LastContradiction = time.Now().Add(-72 * time.Hour)
	decision, err = g.Evaluate(context.Background(), candidate)
	require.NoError(t, err)
	assert.True(t, decision.Passed(types.CriterionStability))
}

func TestEvaluateDomainValidationOnlyAboveSemantic(t *testing.T) {
	g := newTestGate(t)

	candidate := freshCandidate()
	candidate.DomainValidated = false

	// Not required for Perception -> Semantic.
	decision, err := g.Evaluate(context.Background(), candidate)
	require.NoError(t, err)
	assert.True(t, decision.Passed(types.CriterionDomainValidation))

	// Required for Semantic -> Reasoning.
	candidate.Tier = types.TierSemantic
	decision, err = g.Evaluate(context.Background(), candidate)
	require.NoError(t, err)
	assert.False(t, decision.Passed(types.CriterionDomainValidation))
	assert.False(t, decision.Approved)
}

func TestEvaluateStricterFloorAboveSemantic(t *testing.T) {
	g := newTestGate(t)

	candidate := freshCandidate()
	candidate.Tier = types.TierSemantic
	candidate.Confidence = 0.7 // above 0.6, below 0.8

	decision, err := g.Evaluate(context.Background(), candidate)
	require.NoError(t, err)
	assert.False(t, decision.Passed(types.CriterionConfidence))
}

func TestEvaluateHighRiskHeldForReview(t *testing.T) {
	g := newTestGate(t)

	candidate := freshCandidate()
	candidate.Kind = types.SubjectRelationship
	candidate.Type = "treatment"
	candidate.Tier = types.TierSemantic
	candidate.Confidence = 0.95

	decision, err := g.Evaluate(context.Background(), candidate)
	require.NoError(t, err)

	assert.False(t, decision.Approved)
	assert.True(t, decision.RequiresReview)
	assert.Equal(t, types.RiskHigh, decision.Risk)
	assert.Empty(t, decision.FailedCriteria())
}

func TestEvaluateHighRiskToSemanticNotHeld(t *testing.T) {
	g := newTestGate(t)

	candidate := freshCandidate()
	candidate.Type = "treatment"

	decision, err := g.Evaluate(context.Background(), candidate)
	require.NoError(t, err)

	assert.True(t, decision.Approved)
	assert.False(t, decision.RequiresReview)
}

func TestRiskDefaultsToMedium(t *testing.T) {
	g := newTestGate(t)
	assert.Equal(t, types.RiskMedium, g.Risk("unheard_of"))
	assert.Equal(t, types.RiskLow, g.Risk("mention"))
}

func TestEvaluateDemotion(t *testing.T) {
	g := newTestGate(t)

	candidate := freshCandidate()
	candidate.Tier = types.TierReasoning
	candidate.LastContradiction = time.Now().Add(-1 * time.Hour)

	decision, err := g.EvaluateDemotion(context.Background(), candidate)
	require.NoError(t, err)

	assert.True(t, decision.Approved)
	assert.True(t, decision.Demotion)
	assert.Equal(t, types.TierReasoning, decision.FromTier)
	assert.Equal(t, types.TierSemantic, decision.ToTier)
}

func TestEvaluateDemotionStableCandidateStays(t *testing.T) {
	g := newTestGate(t)

	candidate := freshCandidate()
	candidate.Tier = types.TierReasoning

	decision, err := g.EvaluateDemotion(context.Background(), candidate)
	require.NoError(t, err)
	assert.False(t, decision.Approved)
}

func TestEvaluateDemotionFromPerception(t *testing.T) {
	g := newTestGate(t)

	candidate := freshCandidate()
	candidate.Tier = types.TierPerception
	_, err := g.EvaluateDemotion(context.Background(), candidate)
	assert.ErrorIs(t, err, types.ErrInvalidTier)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.ReasoningMinConfidence = 0.5
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.MinObservations = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.StabilityWindow = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.RiskByType = map[string]types.RiskClass{"x": "extreme"}
	assert.Error(t, bad.Validate())
}
