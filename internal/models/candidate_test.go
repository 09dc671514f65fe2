package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, NormalizeName("Acme Corp"), NormalizeName("  acme   CORP "))
	assert.NotEqual(t, NormalizeName("Acme Corp"), NormalizeName("Acme Inc"))
}

func TestDeterministicID(t *testing.T) {
	a := DeterministicID("Acme Corp")
	b := DeterministicID(" acme  corp")
	c := DeterministicID("Other Co")

	assert.Equal(t, a, b, "same company pasted twice must merge")
	assert.NotEqual(t, a, c)
	assert.True(t, strings.HasPrefix(a, "ext-"))
}

func TestSentinelScore(t *testing.T) {
	s := SentinelScore("financial_health")
	assert.Equal(t, 50, s.Score)
	assert.Equal(t, 0.0, s.Confidence)
	assert.True(t, s.IsSentinel())

	real := DimensionScore{Dimension: "financial_health", Score: 50, Confidence: 0.7, Reasoning: "thin data"}
	assert.False(t, real.IsSentinel())
}
