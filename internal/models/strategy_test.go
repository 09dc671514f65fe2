package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStrategy() *EvaluationStrategy {
	return &EvaluationStrategy{
		Dimensions: []StrategyDimension{
			{Dimension: "market_compatibility", Weight: 0.5, Priority: 1},
			{Dimension: "financial_health", Weight: 0.3, Priority: 2},
			{Dimension: "technical_synergy", Weight: 0.2, Priority: 3},
		},
		TotalCandidates: 10,
		TopK:            5,
	}
}

func TestWeightSumAndValidity(t *testing.T) {
	s := testStrategy()
	assert.InDelta(t, 1.0, s.WeightSum(), 1e-9)
	assert.True(t, s.WeightsValid())

	s.Dimensions[0].Weight = 0.52
	assert.False(t, s.WeightsValid())

	// Inside the tolerance band.
	s.Dimensions[0].Weight = 0.505
	assert.True(t, s.WeightsValid())
}

func TestNormalize(t *testing.T) {
	s := testStrategy()
	s.Dimensions[0].Weight = 1.0
	s.Dimensions[1].Weight = 0.6
	s.Dimensions[2].Weight = 0.4

	s.Normalize()
	assert.InDelta(t, 1.0, s.WeightSum(), 1e-9)
	assert.InDelta(t, 0.5, s.Dimensions[0].Weight, 1e-9)
}

func TestNormalizeZeroSumIsNoOp(t *testing.T) {
	s := testStrategy()
	for i := range s.Dimensions {
		s.Dimensions[i].Weight = 0
	}
	s.Normalize()
	assert.Equal(t, 0.0, s.WeightSum())
}

func TestDimensionWeightAndHasDimension(t *testing.T) {
	s := testStrategy()
	assert.Equal(t, 0.3, s.DimensionWeight("financial_health"))
	assert.Equal(t, 0.0, s.DimensionWeight("unknown"))
	assert.True(t, s.HasDimension("technical_synergy"))
	assert.False(t, s.HasDimension("risk_profile"))
}

func TestCloneIsIndependent(t *testing.T) {
	s := testStrategy()
	s.ExclusionCriteria = []string{"consulting"}

	clone := s.Clone()
	require.NotNil(t, clone)
	clone.Dimensions[0].Weight = 0.9
	clone.ExclusionCriteria[0] = "changed"

	assert.Equal(t, 0.5, s.Dimensions[0].Weight)
	assert.Equal(t, "consulting", s.ExclusionCriteria[0])
}
