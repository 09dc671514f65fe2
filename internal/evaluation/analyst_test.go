package evaluation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partnerscope/internal/common/logger"
	"partnerscope/internal/models"
)

func sampleCandidate() models.Candidate {
	return models.Candidate{
		ID:   "cur-sakura",
		Name: "Sakura Robotics",
		Info: models.CandidateInfo{Industry: "Robotics", Location: "Tokyo, Japan"},
	}
}

func TestAnalyzeParsesScore(t *testing.T) {
	client := &fakeLLM{responses: map[string]string{"analyst:": `{
		"score": 82,
		"confidence": 0.85,
		"evidence": ["overlapping customer base"],
		"reasoning": "strong market overlap",
		"data_sources": ["company website"]
	}`}}
	a := NewAnalyst(client, "gpt-4.1", logger.NewTestLogger(t))

	score, err := a.Analyze(context.Background(), sampleCandidate(), sampleProfile(), "market_compatibility", "")
	require.NoError(t, err)
	assert.Equal(t, "market_compatibility", score.Dimension)
	assert.Equal(t, 82, score.Score)
	assert.Equal(t, 0.85, score.Confidence)
	assert.False(t, score.IsSentinel())
}

func TestAnalyzeClampsOutOfRangeValues(t *testing.T) {
	client := &fakeLLM{responses: map[string]string{"analyst:": `{
		"score": 100,
		"confidence": 1.0,
		"evidence": ["x"],
		"reasoning": "capped"
	}`}}
	a := NewAnalyst(client, "gpt-4.1", logger.NewTestLogger(t))

	score, err := a.Analyze(context.Background(), sampleCandidate(), sampleProfile(), "financial_health", "")
	require.NoError(t, err)
	assert.Equal(t, 100, score.Score)
	assert.Equal(t, 1.0, score.Confidence)
	assert.NotNil(t, score.DataSources)
}

func TestDimensionScoreSchemaRequiresEvidenceAtExtremes(t *testing.T) {
	err := dimensionScoreSchema.Validate(`{"score": 95, "confidence": 0.9, "reasoning": "sounds great"}`)
	require.Error(t, err, "high score without evidence fails validation")
	assert.Contains(t, err.Error(), "evidence")

	err = dimensionScoreSchema.Validate(`{"score": 12, "confidence": 0.9, "reasoning": "bad", "evidence": []}`)
	require.Error(t, err, "low score with empty evidence fails validation")

	assert.NoError(t, dimensionScoreSchema.Validate(`{"score": 95, "confidence": 0.9, "reasoning": "great", "evidence": ["customer overlap"]}`))
	assert.NoError(t, dimensionScoreSchema.Validate(`{"score": 50, "confidence": 0.6, "reasoning": "middling"}`))
}

func TestAnalyzeExtremeScoreWithoutEvidenceLowersConfidence(t *testing.T) {
	client := &fakeLLM{responses: map[string]string{"analyst:": `{
		"score": 95,
		"confidence": 0.9,
		"reasoning": "sounds great"
	}`}}
	a := NewAnalyst(client, "gpt-4.1", logger.NewTestLogger(t))

	score, err := a.Analyze(context.Background(), sampleCandidate(), sampleProfile(), "growth_potential", "")
	require.NoError(t, err)
	assert.LessOrEqual(t, score.Confidence, 0.5)
}

func TestAnalyzeUnknownDimension(t *testing.T) {
	a := NewAnalyst(&fakeLLM{}, "gpt-4.1", logger.NewTestLogger(t))
	_, err := a.Analyze(context.Background(), sampleCandidate(), sampleProfile(), "vibes", "")
	assert.Error(t, err)
}

func TestAnalyzePropagatesClientError(t *testing.T) {
	client := &fakeLLM{err: errors.New("gateway down")}
	a := NewAnalyst(client, "gpt-4.1", logger.NewTestLogger(t))

	_, err := a.Analyze(context.Background(), sampleCandidate(), sampleProfile(), "risk_profile", "")
	assert.Error(t, err)
}
