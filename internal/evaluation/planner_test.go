package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "partnerscope/internal/common/errors"
	"partnerscope/internal/common/logger"
	"partnerscope/internal/llm"
	"partnerscope/internal/models"
)

// fakeLLM resolves requests by operation tag prefix against canned replies.
type fakeLLM struct {
	mu          sync.Mutex
	responses   map[string]string
	err         error
	blockPrefix string // calls with this tag prefix hang until the context ends
	calls       []llm.Request
}

func (f *fakeLLM) Complete(ctx context.Context, req llm.Request) (*llm.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	if f.blockPrefix != "" && strings.HasPrefix(req.OperationTag, f.blockPrefix) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	for prefix, text := range f.responses {
		if strings.HasPrefix(req.OperationTag, prefix) {
			return &llm.Result{Text: text, Usage: llm.Usage{InputTokens: 10, OutputTokens: 5}}, nil
		}
	}
	return nil, errors.New("no canned response for " + req.OperationTag)
}

func (f *fakeLLM) CompleteInto(ctx context.Context, req llm.Request, out interface{}) (*llm.Result, error) {
	res, err := f.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(res.Text), out); err != nil {
		return nil, err
	}
	return res, nil
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func sampleProfile() models.StartupProfile {
	return models.StartupProfile{
		CompanyName:  "AssemblyAI KK",
		Industry:     "Robotics",
		PartnerNeeds: "manufacturing automation partners",
	}
}

const proposeReply = `{
	"dimensions": [
		{"dimension": "market_compatibility", "weight": 0.4, "priority": 1, "rationale": "core"},
		{"dimension": "financial_health", "weight": 0.3, "priority": 2},
		{"dimension": "technical_synergy", "weight": 0.2, "priority": 3},
		{"dimension": "made_up_axis", "weight": 0.5, "priority": 4},
		{"dimension": "risk_profile", "weight": 0.1, "priority": 5}
	],
	"exclusion_criteria": ["consulting"]
}`

func TestProposeBuildsNormalizedStrategy(t *testing.T) {
	client := &fakeLLM{responses: map[string]string{"planner:propose": proposeReply}}
	p := NewPlanner(client, "gpt-4.1", logger.NewTestLogger(t))

	strategy, summary, err := p.Propose(context.Background(), sampleProfile(), "", 12)
	require.NoError(t, err)

	require.Len(t, strategy.Dimensions, 4, "unknown dimensions are dropped")
	assert.True(t, strategy.WeightsValid())
	assert.Equal(t, 12, strategy.TotalCandidates)
	assert.Equal(t, 5, strategy.TopK)
	assert.False(t, strategy.ConfirmedByUser)
	assert.Equal(t, []string{"consulting"}, strategy.ExclusionCriteria)

	assert.Contains(t, summary, "Market Compatibility")
	assert.Contains(t, summary, "%")
}

func TestProposeTopKBoundedByCandidates(t *testing.T) {
	client := &fakeLLM{responses: map[string]string{"planner:propose": proposeReply}}
	p := NewPlanner(client, "gpt-4.1", logger.NewTestLogger(t))

	strategy, _, err := p.Propose(context.Background(), sampleProfile(), "", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, strategy.TopK)
}

func TestProposeTooFewKnownDimensions(t *testing.T) {
	client := &fakeLLM{responses: map[string]string{"planner:propose": `{
		"dimensions": [
			{"dimension": "market_compatibility", "weight": 0.5},
			{"dimension": "nonsense", "weight": 0.5}
		]
	}`}}
	p := NewPlanner(client, "gpt-4.1", logger.NewTestLogger(t))

	_, _, err := p.Propose(context.Background(), sampleProfile(), "", 5)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeStrategyInvalid, apperrors.AsStandard(err).Code)
}

func TestProposeTrimsToMaxDimensions(t *testing.T) {
	dims := []string{
		"market_compatibility", "financial_health", "technical_synergy",
		"operational_capacity", "geographic_coverage", "strategic_alignment",
		"cultural_fit", "resource_complementarity", "growth_potential",
	}
	var entries []string
	for i, d := range dims {
		entries = append(entries, `{"dimension": "`+d+`", "weight": 0.1, "priority": `+string(rune('1'+i))+`}`)
	}
	// Priorities above 9 are irrelevant here; nine entries, trimmed to seven.
	reply := `{"dimensions": [` + strings.Join(entries, ",") + `]}`

	client := &fakeLLM{responses: map[string]string{"planner:propose": reply}}
	p := NewPlanner(client, "gpt-4.1", logger.NewTestLogger(t))

	strategy, _, err := p.Propose(context.Background(), sampleProfile(), "", 5)
	require.NoError(t, err)
	assert.Len(t, strategy.Dimensions, 7)
	assert.True(t, strategy.WeightsValid())
}

func TestModifyCarriesCriteriaForward(t *testing.T) {
	client := &fakeLLM{responses: map[string]string{"planner:modify": `{
		"dimensions": [
			{"dimension": "market_compatibility", "weight": 0.5, "priority": 1},
			{"dimension": "financial_health", "weight": 0.3, "priority": 2},
			{"dimension": "risk_profile", "weight": 0.2, "priority": 3}
		],
		"changes_made": ["raised market weight"]
	}`}}
	p := NewPlanner(client, "gpt-4.1", logger.NewTestLogger(t))

	current := &models.EvaluationStrategy{
		Dimensions: []models.StrategyDimension{
			{Dimension: "market_compatibility", Weight: 0.4, Priority: 1},
			{Dimension: "financial_health", Weight: 0.3, Priority: 2},
			{Dimension: "risk_profile", Weight: 0.3, Priority: 3},
		},
		ExclusionCriteria: []string{"consulting"},
		TotalCandidates:   8,
		TopK:              5,
	}

	modified, changes, err := p.Modify(context.Background(), current, "raise market weight", sampleProfile())
	require.NoError(t, err)
	assert.Equal(t, []string{"raised market weight"}, changes)
	assert.Equal(t, []string{"consulting"}, modified.ExclusionCriteria)
	assert.Equal(t, 8, modified.TotalCandidates)
	assert.InDelta(t, 0.5, modified.DimensionWeight("market_compatibility"), 1e-9)
}

func TestApplyWeightAdjustment(t *testing.T) {
	strategy := &models.EvaluationStrategy{
		Dimensions: []models.StrategyDimension{
			{Dimension: "market_compatibility", Weight: 0.5},
			{Dimension: "financial_health", Weight: 0.3},
			{Dimension: "risk_profile", Weight: 0.2},
		},
	}

	out, err := ApplyWeightAdjustment(strategy, "market_compatibility", 0.6)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, out.DimensionWeight("market_compatibility"), 1e-9)
	assert.InDelta(t, 1.0, out.WeightSum(), 1e-9)
	// Remaining weights keep their relative proportions.
	assert.InDelta(t, 0.24, out.DimensionWeight("financial_health"), 1e-9)
	assert.InDelta(t, 0.16, out.DimensionWeight("risk_profile"), 1e-9)

	// Original untouched.
	assert.InDelta(t, 0.5, strategy.DimensionWeight("market_compatibility"), 1e-9)
}

func TestApplyWeightAdjustmentErrors(t *testing.T) {
	strategy := &models.EvaluationStrategy{
		Dimensions: []models.StrategyDimension{
			{Dimension: "market_compatibility", Weight: 1.0},
			{Dimension: "financial_health", Weight: 0.0},
		},
	}

	_, err := ApplyWeightAdjustment(strategy, "market_compatibility", 1.2)
	assert.Error(t, err)

	_, err = ApplyWeightAdjustment(strategy, "unknown_axis", 0.5)
	assert.Error(t, err)

	// All remaining weight sits on the adjusted dimension itself.
	_, err = ApplyWeightAdjustment(strategy, "market_compatibility", 0.5)
	assert.Error(t, err)
}
