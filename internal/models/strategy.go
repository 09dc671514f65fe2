package models

import "math"

// StrategyDimension is one weighted evaluation axis inside a strategy.
type StrategyDimension struct {
	Dimension   string  `json:"dimension"`
	Weight      float64 `json:"weight"`
	Priority    int     `json:"priority"`
	Rationale   string  `json:"rationale,omitempty"`
	Description string  `json:"description,omitempty"`
}

// EvaluationStrategy is the weighted dimension set the planner produces and
// the supervisor consumes.
type EvaluationStrategy struct {
	Dimensions        []StrategyDimension `json:"dimensions"`
	ExclusionCriteria []string            `json:"exclusion_criteria,omitempty"`
	InclusionCriteria []string            `json:"inclusion_criteria,omitempty"`
	TotalCandidates   int                 `json:"total_candidates"`
	TopK              int                 `json:"top_k"`
	ConfirmedByUser   bool                `json:"confirmed_by_user"`
}

// WeightSum returns the current total of dimension weights.
func (s *EvaluationStrategy) WeightSum() float64 {
	var sum float64
	for _, d := range s.Dimensions {
		sum += d.Weight
	}
	return sum
}

// Normalize rescales all weights so they sum to 1. A zero total is left
// untouched for the caller to reject.
func (s *EvaluationStrategy) Normalize() {
	sum := s.WeightSum()
	if sum <= 0 {
		return
	}
	for i := range s.Dimensions {
		s.Dimensions[i].Weight /= sum
	}
}

// WeightsValid reports whether weights sum to 1 within the accepted tolerance.
func (s *EvaluationStrategy) WeightsValid() bool {
	return math.Abs(s.WeightSum()-1.0) <= 0.01
}

// DimensionWeight looks up the weight for a dimension key, zero if absent.
func (s *EvaluationStrategy) DimensionWeight(key string) float64 {
	for _, d := range s.Dimensions {
		if d.Dimension == key {
			return d.Weight
		}
	}
	return 0
}

// HasDimension reports whether the strategy carries the given dimension key.
func (s *EvaluationStrategy) HasDimension(key string) bool {
	for _, d := range s.Dimensions {
		if d.Dimension == key {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so modifications never alias a session's
// confirmed strategy.
func (s *EvaluationStrategy) Clone() *EvaluationStrategy {
	if s == nil {
		return nil
	}
	out := *s
	out.Dimensions = append([]StrategyDimension(nil), s.Dimensions...)
	out.ExclusionCriteria = append([]string(nil), s.ExclusionCriteria...)
	out.InclusionCriteria = append([]string(nil), s.InclusionCriteria...)
	return &out
}
