package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	apperrors "partnerscope/internal/common/errors"
	"partnerscope/internal/common/logger"
	"partnerscope/internal/llm"
	"partnerscope/internal/models"
)

// LLMClient is the slice of the gateway the evaluation agents need.
type LLMClient interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Result, error)
	CompleteInto(ctx context.Context, req llm.Request, out interface{}) (*llm.Result, error)
}

const (
	minDimensions = 3
	maxDimensions = 7
	defaultTopK   = 5
)

var strategySchema = llm.MustSchema("planner_strategy", `{
	"type": "object",
	"required": ["dimensions"],
	"properties": {
		"dimensions": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["dimension", "weight"],
				"properties": {
					"dimension": {"type": "string"},
					"weight": {"type": "number", "minimum": 0, "maximum": 1},
					"priority": {"type": "integer", "minimum": 1},
					"rationale": {"type": "string"}
				}
			}
		},
		"reasoning": {"type": "string"},
		"summary": {"type": "string"},
		"exclusion_criteria": {"type": "array", "items": {"type": "string"}},
		"inclusion_criteria": {"type": "array", "items": {"type": "string"}},
		"changes_made": {"type": "array", "items": {"type": "string"}},
		"explanation": {"type": "string"}
	}
}`)

// Planner proposes and modifies evaluation strategies.
type Planner struct {
	client LLMClient
	model  string
	logger logger.Logger
}

func NewPlanner(client LLMClient, model string, log logger.Logger) *Planner {
	return &Planner{
		client: client,
		model:  model,
		logger: log.With(map[string]interface{}{"component": "planner"}),
	}
}

type strategyResponse struct {
	Dimensions []struct {
		Dimension string  `json:"dimension"`
		Weight    float64 `json:"weight"`
		Priority  int     `json:"priority"`
		Rationale string  `json:"rationale"`
	} `json:"dimensions"`
	Reasoning         string   `json:"reasoning"`
	Summary           string   `json:"summary"`
	ExclusionCriteria []string `json:"exclusion_criteria"`
	InclusionCriteria []string `json:"inclusion_criteria"`
	ChangesMade       []string `json:"changes_made"`
	Explanation       string   `json:"explanation"`
}

// Propose generates an initial strategy for the profile over numCandidates
// candidates. Requirements is optional caller-supplied free text.
func (p *Planner) Propose(ctx context.Context, profile models.StartupProfile, requirements string, numCandidates int) (*models.EvaluationStrategy, string, error) {
	if requirements == "" {
		requirements = "None"
	}

	prompt := fmt.Sprintf(`Analyze the following startup profile and partner requirements to propose an evaluation strategy.

STARTUP PROFILE:
- Name: %s
- Industry: %s
- Investment Stage: %s
- Product Stage: %s
- Description: %s

PARTNER REQUIREMENTS:
- Partner Needs: %s
- Additional Requirements: %s

NUMBER OF CANDIDATES TO EVALUATE: %d

Available dimensions: %s

Propose an evaluation strategy with:
1. 4-6 most relevant evaluation dimensions from the available set
2. Appropriate weights (must sum to 1.0)
3. Priority ranking for each dimension (1 = highest)
4. Rationale for each dimension selection

Respond in JSON: {"dimensions": [{"dimension": ..., "weight": 0.XX, "priority": N, "rationale": ...}], "reasoning": ..., "summary": ..., "exclusion_criteria": [...], "inclusion_criteria": [...]}`,
		profile.CompanyName, profile.Industry, orUnspecified(profile.InvestmentStage),
		orUnspecified(profile.ProductStage), profile.Description,
		profile.PartnerNeeds, requirements, numCandidates,
		strings.Join(DimensionKeys(), ", "))

	var parsed strategyResponse
	_, err := p.client.CompleteInto(ctx, llm.Request{
		Model:        p.model,
		Role:         "evaluation",
		OperationTag: "planner:propose",
		Schema:       strategySchema,
		Temperature:  0.3,
		Messages: []llm.Message{
			{Role: "system", Content: plannerSystemPrompt},
			{Role: "user", Content: prompt},
		},
	}, &parsed)
	if err != nil {
		return nil, "", err
	}

	strategy, err := p.buildStrategy(parsed, numCandidates)
	if err != nil {
		return nil, "", err
	}
	return strategy, Summary(strategy), nil
}

// Modify applies a free-text change to an existing strategy and re-normalizes.
func (p *Planner) Modify(ctx context.Context, current *models.EvaluationStrategy, modification string, profile models.StartupProfile) (*models.EvaluationStrategy, []string, error) {
	currentJSON, _ := json.MarshalIndent(current, "", "  ")

	prompt := fmt.Sprintf(`Current evaluation strategy:
%s

User modification request: %q

Startup context:
- Name: %s
- Industry: %s
- Partner needs: %s

Available dimensions: %s

Modify the strategy according to the user's request. Ensure:
1. Weights still sum to 1.0
2. The modification aligns with the startup's needs
3. Explain what changes were made and why

Respond in JSON: {"dimensions": [{"dimension": ..., "weight": 0.XX, "priority": N, "rationale": ...}], "changes_made": [...], "explanation": ...}`,
		string(currentJSON), modification,
		profile.CompanyName, profile.Industry, profile.PartnerNeeds,
		strings.Join(DimensionKeys(), ", "))

	var parsed strategyResponse
	_, err := p.client.CompleteInto(ctx, llm.Request{
		Model:        p.model,
		Role:         "evaluation",
		OperationTag: "planner:modify",
		Schema:       strategySchema,
		Temperature:  0.3,
		Messages: []llm.Message{
			{Role: "system", Content: plannerSystemPrompt},
			{Role: "user", Content: prompt},
		},
	}, &parsed)
	if err != nil {
		return nil, nil, err
	}

	modified, err := p.buildStrategy(parsed, current.TotalCandidates)
	if err != nil {
		return nil, nil, err
	}
	// Criteria carry over unless the modification replaced them.
	if len(modified.ExclusionCriteria) == 0 {
		modified.ExclusionCriteria = append([]string(nil), current.ExclusionCriteria...)
	}
	if len(modified.InclusionCriteria) == 0 {
		modified.InclusionCriteria = append([]string(nil), current.InclusionCriteria...)
	}
	return modified, parsed.ChangesMade, nil
}

// buildStrategy validates dimension keys, enforces the size bounds and
// normalizes weights.
func (p *Planner) buildStrategy(parsed strategyResponse, numCandidates int) (*models.EvaluationStrategy, error) {
	var dims []models.StrategyDimension
	for _, d := range parsed.Dimensions {
		if _, known := KnownDimension(d.Dimension); !known {
			p.logger.Warn("skipping unknown dimension", map[string]interface{}{"dimension": d.Dimension})
			continue
		}
		spec, _ := KnownDimension(d.Dimension)
		priority := d.Priority
		if priority == 0 {
			priority = len(dims) + 1
		}
		dims = append(dims, models.StrategyDimension{
			Dimension:   d.Dimension,
			Weight:      d.Weight,
			Priority:    priority,
			Rationale:   d.Rationale,
			Description: spec.Description,
		})
	}

	if len(dims) < minDimensions {
		return nil, apperrors.NewStrategyInvalidError(
			fmt.Sprintf("strategy needs at least %d known dimensions, got %d", minDimensions, len(dims)))
	}
	if len(dims) > maxDimensions {
		sort.SliceStable(dims, func(i, j int) bool { return dims[i].Priority < dims[j].Priority })
		dims = dims[:maxDimensions]
	}

	strategy := &models.EvaluationStrategy{
		Dimensions:        dims,
		ExclusionCriteria: parsed.ExclusionCriteria,
		InclusionCriteria: parsed.InclusionCriteria,
		TotalCandidates:   numCandidates,
		TopK:              minInt(defaultTopK, numCandidates),
		ConfirmedByUser:   false,
	}

	if strategy.WeightSum() <= 0 {
		return nil, apperrors.NewStrategyInvalidError("dimension weights sum to zero")
	}
	strategy.Normalize()
	return strategy, nil
}

// ApplyWeightAdjustment sets one dimension to an absolute weight and rescales
// the remainder proportionally so the total stays 1. No LLM call involved.
func ApplyWeightAdjustment(strategy *models.EvaluationStrategy, dimension string, target float64) (*models.EvaluationStrategy, error) {
	if target < 0 || target >= 1 {
		return nil, apperrors.NewStrategyInvalidError(
			fmt.Sprintf("target weight %.2f out of range (0,1)", target))
	}
	if !strategy.HasDimension(dimension) {
		return nil, apperrors.NewStrategyInvalidError("unknown dimension " + dimension)
	}

	out := strategy.Clone()
	restOld := 0.0
	for _, d := range out.Dimensions {
		if d.Dimension != dimension {
			restOld += d.Weight
		}
	}
	if restOld <= 0 {
		return nil, apperrors.NewStrategyInvalidError("remaining dimensions carry no weight to rescale")
	}

	scale := (1 - target) / restOld
	for i := range out.Dimensions {
		if out.Dimensions[i].Dimension == dimension {
			out.Dimensions[i].Weight = target
		} else {
			out.Dimensions[i].Weight *= scale
		}
	}
	return out, nil
}

// Summary renders the human-readable strategy bullet list shown to the user.
func Summary(strategy *models.EvaluationStrategy) string {
	var lines []string
	lines = append(lines, "Based on your requirements, I propose the following evaluation strategy:", "")

	sorted := append([]models.StrategyDimension(nil), strategy.Dimensions...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	for _, d := range sorted {
		label := d.Dimension
		if spec, ok := KnownDimension(d.Dimension); ok {
			label = spec.Label
		}
		lines = append(lines, fmt.Sprintf("- **%s** (%d%%)", label, int(d.Weight*100+0.5)))
		if d.Rationale != "" {
			lines = append(lines, fmt.Sprintf("  _%s_", d.Rationale))
		}
	}

	lines = append(lines, "",
		fmt.Sprintf("This strategy will evaluate %d candidates and return the top %d recommendations.",
			strategy.TotalCandidates, strategy.TopK))

	if len(strategy.ExclusionCriteria) > 0 {
		lines = append(lines, "", "Exclusion criteria: "+strings.Join(strategy.ExclusionCriteria, ", "))
	}

	lines = append(lines, "", "Would you like to adjust any of these weights or dimensions?")
	return strings.Join(lines, "\n")
}

const plannerSystemPrompt = `You are an evaluation strategist for startup partnership assessment. You design weighted multi-dimensional evaluation strategies tailored to a startup's profile and partner needs. Always respond with only a JSON document.`

func orUnspecified(s string) string {
	if s == "" {
		return "Not specified"
	}
	return s
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
