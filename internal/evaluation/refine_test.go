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

func TestFallbackClassify(t *testing.T) {
	cases := []struct {
		message string
		action  Action
	}{
		{"undo that", ActionUndo},
		{"go back to the previous list", ActionUndo},
		{"show me the top 3", ActionNarrowed},
		{"remove the consulting firms", ActionFiltered},
		{"filter out anyone in finance", ActionFiltered},
		{"prioritize financial health", ActionReordered},
		{"sort by confidence", ActionReordered},
		{"hmm", ActionClarify},
	}
	for _, tc := range cases {
		d := FallbackClassify(tc.message)
		assert.Equal(t, tc.action, d.Action, "message: %s", tc.message)
	}
}

func TestFallbackClassifyTopKParameter(t *testing.T) {
	d := FallbackClassify("just the top 5 please")
	require.Equal(t, ActionNarrowed, d.Action)
	assert.Equal(t, 5, d.Params.TopK)
}

func TestFallbackClassifyClarifyCarriesQuestion(t *testing.T) {
	d := FallbackClassify("something something")
	require.Equal(t, ActionClarify, d.Action)
	assert.NotEmpty(t, d.Params.Question)
}

func statsResult() *models.EvaluationResult {
	return &models.EvaluationResult{
		Evaluations: []models.CandidateEvaluation{
			{CandidateName: "A", CandidateInfo: models.CandidateInfo{Location: "Tokyo, Japan", Industry: "Robotics"}},
			{CandidateName: "B", CandidateInfo: models.CandidateInfo{Location: "Osaka, Japan", Industry: "Robotics"}},
			{CandidateName: "C", CandidateInfo: models.CandidateInfo{Location: "Berlin, Germany", Industry: "Fintech, Payments"}},
		},
	}
}

func TestResultStatistics(t *testing.T) {
	stats := ResultStatistics(statsResult())
	assert.Contains(t, stats, "Total: 3 results")
	assert.Contains(t, stats, "Japan: 2")
	assert.Contains(t, stats, "Germany: 1")
	assert.Contains(t, stats, "Robotics: 2")
	assert.Contains(t, stats, "Fintech: 1", "only the leading industry segment counts")
}

func TestResultStatisticsEmpty(t *testing.T) {
	assert.Equal(t, "No results currently.", ResultStatistics(nil))
	assert.Equal(t, "No results currently.", ResultStatistics(&models.EvaluationResult{}))
}

func TestClassifyUsesModelDecision(t *testing.T) {
	client := &fakeLLM{responses: map[string]string{"router:classify": `{
		"action": "narrowed",
		"parameters": {"top_k": 3},
		"rationale": "user asked for top 3",
		"response": "Narrowing to the top 3."
	}`}}
	r := NewRouter(client, "gpt-4o-mini", logger.NewTestLogger(t))

	d := r.Classify(context.Background(), "top 3 only", statsResult(), sampleProfile())
	assert.Equal(t, ActionNarrowed, d.Action)
	assert.Equal(t, 3, d.Params.TopK)
}

func TestClassifyFallsBackOnClientError(t *testing.T) {
	client := &fakeLLM{err: errors.New("gateway down")}
	r := NewRouter(client, "gpt-4o-mini", logger.NewTestLogger(t))

	d := r.Classify(context.Background(), "undo please", statsResult(), sampleProfile())
	assert.Equal(t, ActionUndo, d.Action)
}
