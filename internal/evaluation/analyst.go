package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"partnerscope/internal/common/logger"
	"partnerscope/internal/llm"
	"partnerscope/internal/models"
)

// Extreme scores must carry evidence; the conditional branches send bare
// extremes back through the gateway's repair turn.
var dimensionScoreSchema = llm.MustSchema("analyst_dimension_score", `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["score", "confidence", "reasoning"],
	"properties": {
		"score": {"type": "integer", "minimum": 0, "maximum": 100},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"evidence": {"type": "array", "items": {"type": "string"}},
		"reasoning": {"type": "string"},
		"data_sources": {"type": "array", "items": {"type": "string"}}
	},
	"allOf": [
		{
			"if": {"properties": {"score": {"minimum": 70}}},
			"then": {"required": ["evidence"], "properties": {"evidence": {"minItems": 1}}}
		},
		{
			"if": {"properties": {"score": {"maximum": 30}}},
			"then": {"required": ["evidence"], "properties": {"evidence": {"minItems": 1}}}
		}
	]
}`)

// Analyst scores candidates on single dimensions. One instance serves all
// dimensions; the prompt is specialized per call from the registry.
type Analyst struct {
	client LLMClient
	model  string
	logger logger.Logger
}

func NewAnalyst(client LLMClient, model string, log logger.Logger) *Analyst {
	return &Analyst{
		client: client,
		model:  model,
		logger: log.With(map[string]interface{}{"component": "analyst"}),
	}
}

// Analyze scores one candidate on one dimension. Callers decide what to do
// with the error; the supervisor substitutes the sentinel.
func (a *Analyst) Analyze(ctx context.Context, candidate models.Candidate, profile models.StartupProfile, dimension string, extra string) (models.DimensionScore, error) {
	spec, ok := KnownDimension(dimension)
	if !ok {
		return models.DimensionScore{}, fmt.Errorf("unknown dimension %s", dimension)
	}

	candidateJSON, _ := json.MarshalIndent(candidate, "", "  ")
	criteria := "- " + strings.Join(spec.Criteria, "\n- ")

	system := fmt.Sprintf(`You are a %s analyst evaluating potential partners for a startup.

Your evaluation criteria:
%s

Rules:
- Score candidates from 0 to 100 on your dimension only
- Report confidence between 0.0 and 1.0; use 0.5 when evidence is thin
- Cite concrete evidence for scores at the extremes
- Respond with only a JSON document`, spec.Label, criteria)

	user := fmt.Sprintf(`Startup: %s (%s). Partner needs: %s.

Candidate to evaluate:
%s
%s
Return JSON: {"score": 0-100, "confidence": 0.0-1.0, "evidence": [...], "reasoning": ..., "data_sources": [...]}`,
		profile.CompanyName, profile.Industry, profile.PartnerNeeds,
		string(candidateJSON), extraSection(extra))

	var out struct {
		Score       int      `json:"score"`
		Confidence  float64  `json:"confidence"`
		Evidence    []string `json:"evidence"`
		Reasoning   string   `json:"reasoning"`
		DataSources []string `json:"data_sources"`
	}
	_, err := a.client.CompleteInto(ctx, llm.Request{
		Model:        a.model,
		Role:         "evaluation",
		OperationTag: "analyst:" + dimension,
		Schema:       dimensionScoreSchema,
		Temperature:  0.2,
		Messages: []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}, &out)
	if err != nil {
		return models.DimensionScore{}, err
	}

	score := models.DimensionScore{
		Dimension:   dimension,
		Score:       clampInt(out.Score, 0, 100),
		Confidence:  clampFloat(out.Confidence, 0, 1),
		Evidence:    out.Evidence,
		Reasoning:   out.Reasoning,
		DataSources: out.DataSources,
	}

	// Fallback when an extreme score without evidence slips past the schema
	// repair budget: the value stays but its confidence is capped.
	if (score.Score >= 70 || score.Score <= 30) && len(score.Evidence) == 0 {
		a.logger.Debug("extreme score without evidence, lowering confidence", map[string]interface{}{
			"dimension": dimension,
			"candidate": candidate.Name,
			"score":     score.Score,
		})
		score.Confidence = clampFloat(score.Confidence, 0, 0.5)
	}
	if score.Evidence == nil {
		score.Evidence = []string{}
	}
	if score.DataSources == nil {
		score.DataSources = []string{}
	}
	return score, nil
}

func extraSection(extra string) string {
	if extra == "" {
		return ""
	}
	return "\nAdditional context:\n" + extra + "\n"
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
