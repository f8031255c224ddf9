package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTierOrdering(t *testing.T) {
	assert.Less(t, TierPerception.Rank(), TierSemantic.Rank())
	assert.Less(t, TierSemantic.Rank(), TierReasoning.Rank())
	assert.Less(t, TierReasoning.Rank(), TierApplication.Rank())

	assert.True(t, TierPerception.Less(TierSemantic))
	assert.False(t, TierApplication.Less(TierReasoning))
	assert.False(t, TierSemantic.Less(TierSemantic))
}

func TestTierNext(t *testing.T) {
	tests := []struct {
		tier Tier
		next Tier
		ok   bool
	}{
		{TierPerception, TierSemantic, true},
		{TierSemantic, TierReasoning, true},
		{TierReasoning, TierApplication, true},
		{TierApplication, TierApplication, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.tier), func(t *testing.T) {
			next, ok := tt.tier.Next()
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.next, next)
			}
		})
	}
}

func TestTierPrev(t *testing.T) {
	prev, ok := TierSemantic.Prev()
	require.True(t, ok)
	assert.Equal(t, TierPerception, prev)

	_, ok = TierPerception.Prev()
	assert.False(t, ok)
}

func TestParseTier(t *testing.T) {
	tier, err := ParseTier("semantic")
	require.NoError(t, err)
	assert.Equal(t, TierSemantic, tier)

	_, err = ParseTier("golden")
	assert.ErrorIs(t, err, ErrInvalidTier)
}

func TestSourceKindAuthoritative(t *testing.T) {
	assert.True(t, SourceUserValidation.Authoritative())
	assert.True(t, SourceOntologyMatch.Authoritative())
	assert.False(t, SourceNeuralInference.Authoritative())
	assert.False(t, SourceHeuristic.Authoritative())
	assert.False(t, SourceSymbolicRule.Authoritative())
}

func TestEntityValidate(t *testing.T) {
	entity := &Entity{
		ID:         "e1",
		Name:       "Aspirin",
		EntityType: "drug",
		Tier:       TierPerception,
		Confidence: 0.7,
	}
	require.NoError(t, entity.ValidateForCreate())

	entity.Confidence = 1.3
	assert.ErrorIs(t, entity.Validate(), ErrInvalidConfidence)

	entity.Confidence = 0.7
	entity.EntityType = ""
	assert.ErrorIs(t, entity.Validate(), ErrEmptyEntityType)
}

func TestEntityHasSource(t *testing.T) {
	entity := &Entity{SourceIDs: []string{"obs-1", "obs-2"}}
	assert.True(t, entity.HasSource("obs-1"))
	assert.False(t, entity.HasSource("obs-3"))
}

func TestConfidenceScoreValidate(t *testing.T) {
	score := ConfidenceScore{Value: 0.8, Source: SourceNeuralInference, Timestamp: time.Now()}
	require.NoError(t, score.Validate())

	score.Value = -0.1
	assert.ErrorIs(t, score.Validate(), ErrInvalidConfidence)

	score.Value = 0.5
	score.Source = "astrology"
	assert.ErrorIs(t, score.Validate(), ErrInvalidSource)
}

func TestFactUnitIDDeterministic(t *testing.T) {
	a := FactUnitID(FactTreatment, []string{"e1", "e2", "e3"})
	b := FactUnitID(FactTreatment, []string{"e3", "e1", "e2"})
	assert.Equal(t, a, b, "id must be stable under participant reordering")

	c := FactUnitID(FactTreatment, []string{"e1", "e2"})
	assert.NotEqual(t, a, c)

	d := FactUnitID(FactCausation, []string{"e1", "e2", "e3"})
	assert.NotEqual(t, a, d, "fact type participates in identity")
}

func TestFactUnitValidate(t *testing.T) {
	fact := &FactUnit{
		ID:   FactUnitID(FactAssociation, []string{"e1", "e2"}),
		Type: FactAssociation,
		Participants: []Participant{
			{EntityID: "e1", Role: "subject"},
			{EntityID: "e2", Role: "object"},
		},
		Confidence: 0.6,
	}
	require.NoError(t, fact.Validate())

	fact.Participants = fact.Participants[:1]
	assert.ErrorIs(t, fact.Validate(), ErrTooFewParticipants)
}

func TestFactUnitInvolves(t *testing.T) {
	fact := &FactUnit{Participants: []Participant{{EntityID: "e1"}, {EntityID: "e2"}}}
	assert.True(t, fact.Involves("e2"))
	assert.False(t, fact.Involves("e9"))
}

func TestPromotionDecisionHelpers(t *testing.T) {
	decision := &PromotionDecision{
		Criteria: []CriterionResult{
			{Name: CriterionCorroboration, Passed: true},
			{Name: CriterionConfidence, Passed: false},
			{Name: CriterionStability, Passed: true},
		},
	}
	assert.True(t, decision.Passed(CriterionCorroboration))
	assert.False(t, decision.Passed(CriterionConfidence))
	assert.Equal(t, []string{CriterionConfidence}, decision.FailedCriteria())
}

func TestObservationValidate(t *testing.T) {
	obs := &Observation{
		ID:         "obs-1",
		ContextID:  "chunk-1",
		Name:       "Drug A",
		EntityType: "drug",
		Score:      ConfidenceScore{Value: 0.6, Source: SourceHeuristic},
	}
	require.NoError(t, obs.Validate())

	obs.EntityType = ""
	assert.ErrorIs(t, obs.Validate(), ErrEmptyEntityType)
}
