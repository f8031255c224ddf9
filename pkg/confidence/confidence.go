// Package confidence provides the two pure scoring functions of the engine:
// weighted aggregation of typed confidence scores and temporal relevance
// decay. Both are deterministic and safe for concurrent use.
package confidence

import (
	"errors"
	"fmt"
	"math"

	"github.com/cognidex/crystal/pkg/types"
)

// ErrEmptyEvidence is returned when aggregation is attempted with no scores.
// Callers must guarantee at least one score exists; this is a programmer
// error, not a condition to default around.
var ErrEmptyEvidence = errors.New("confidence: no scores to aggregate")

// Reliability weights per source kind. User validation outranks everything;
// heuristic co-occurrence counts least.
var sourceWeights = map[types.SourceKind]float64{
	types.SourceUserValidation:  1.0,
	types.SourceSymbolicRule:    0.9,
	types.SourceOntologyMatch:   0.85,
	types.SourceNeuralInference: 0.7,
	types.SourceHeuristic:       0.4,
}

// Weight returns the reliability weight for a source kind. Unknown kinds
// weigh the same as heuristics rather than being dropped silently.
func Weight(kind types.SourceKind) float64 {
	if w, ok := sourceWeights[kind]; ok {
		return w
	}
	return sourceWeights[types.SourceHeuristic]
}

// Aggregate combines multiple typed confidence scores into one aggregate in
// [0,1] using a reliability-weighted mean. Input scores are never mutated.
func Aggregate(scores []types.ConfidenceScore) (float64, error) {
	if len(scores) == 0 {
		return 0, ErrEmptyEvidence
	}

	var weightedSum, weightSum float64
	for _, s := range scores {
		if err := s.Validate(); err != nil {
			return 0, fmt.Errorf("confidence: invalid score: %w", err)
		}
		w := Weight(s.Source)
		weightedSum += s.Value * w
		weightSum += w
	}

	return clamp(weightedSum / weightSum), nil
}

// HasAuthoritative reports whether any score comes from an authoritative
// source kind.
func HasAuthoritative(scores []types.ConfidenceScore) bool {
	for _, s := range scores {
		if s.Source.Authoritative() {
			return true
		}
	}
	return false
}

// Mean returns the unweighted mean of score values, used by the hypergraph
// bridge's fact-candidate floor.
func Mean(scores []types.ConfidenceScore) (float64, error) {
	if len(scores) == 0 {
		return 0, ErrEmptyEvidence
	}
	var sum float64
	for _, s := range scores {
		sum += s.Value
	}
	return clamp(sum / float64(len(scores))), nil
}

func clamp(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

// Strategy names one of the closed set of evidence-merging policies. Each
// strategy is a pure function over the score list; callers select one by
// enum value, validated at configuration load.
type Strategy string

const (
	// StrategyWeighted is the reliability-weighted mean, the default.
	StrategyWeighted Strategy = "weighted"
	// StrategyAuthoritativeFirst takes the strongest authoritative score
	// when one exists and falls back to the weighted mean otherwise.
	StrategyAuthoritativeFirst Strategy = "authoritative_first"
	// StrategyMean is the unweighted mean, treating all sources alike.
	StrategyMean Strategy = "mean"
)

// ErrUnknownStrategy is returned for strategy values outside the closed set.
var ErrUnknownStrategy = errors.New("confidence: unknown merge strategy")

// Valid reports whether s names a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyWeighted, StrategyAuthoritativeFirst, StrategyMean:
		return true
	}
	return false
}

// ParseStrategy converts a configuration string into a Strategy. The empty
// string parses to the default weighted strategy.
func ParseStrategy(s string) (Strategy, error) {
	if s == "" {
		return StrategyWeighted, nil
	}
	strategy := Strategy(s)
	if !strategy.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
	}
	return strategy, nil
}

// Merge aggregates scores under the named strategy.
func Merge(strategy Strategy, scores []types.ConfidenceScore) (float64, error) {
	switch strategy {
	case StrategyWeighted, "":
		return Aggregate(scores)
	case StrategyMean:
		return Mean(scores)
	case StrategyAuthoritativeFirst:
		if len(scores) == 0 {
			return 0, ErrEmptyEvidence
		}
		best := -1.0
		for _, s := range scores {
			if s.Source.Authoritative() && s.Value > best {
				best = s.Value
			}
		}
		if best >= 0 {
			return clamp(best), nil
		}
		return Aggregate(scores)
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
}

// Scorer maps an entity class and elapsed time since last observation to a
// decay-adjusted relevance weight in (0,1]. Lambdas are per entity class;
// classes absent from the table use the default lambda.
type Scorer struct {
	lambdas       map[types.EntityClass]float64
	defaultLambda float64
}

// NewScorer builds a Scorer from a per-class lambda table. Lambdas must be
// non-negative; a permanent class uses lambda 0 so relevance stays at 1.
func NewScorer(lambdas map[types.EntityClass]float64, defaultLambda float64) (*Scorer, error) {
	if defaultLambda < 0 {
		return nil, fmt.Errorf("confidence: default lambda must be non-negative, got %v", defaultLambda)
	}
	table := make(map[types.EntityClass]float64, len(lambdas))
	for class, lambda := range lambdas {
		if !class.Valid() {
			return nil, fmt.Errorf("confidence: unknown entity class %q", class)
		}
		if lambda < 0 {
			return nil, fmt.Errorf("confidence: lambda for class %q must be non-negative, got %v", class, lambda)
		}
		table[class] = lambda
	}
	return &Scorer{lambdas: table, defaultLambda: defaultLambda}, nil
}

// Relevance returns exp(-lambda*hours) for the class. The exponential keeps
// the result strictly positive and monotonically non-increasing in elapsed
// time. Negative elapsed time is treated as zero.
func (s *Scorer) Relevance(class types.EntityClass, elapsedHours float64) float64 {
	if elapsedHours < 0 {
		elapsedHours = 0
	}
	lambda, ok := s.lambdas[class]
	if !ok {
		lambda = s.defaultLambda
	}
	return math.Exp(-lambda * elapsedHours)
}
