package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"partnerscope/internal/common/logger"
	"partnerscope/internal/llm"
	"partnerscope/internal/models"
)

// LLMClient is the slice of the gateway the search pipeline needs.
type LLMClient interface {
	CompleteInto(ctx context.Context, req llm.Request, out interface{}) (*llm.Result, error)
}

var proposeNamesSchema = llm.MustSchema("search_propose_names", `{
	"type": "object",
	"required": ["companies"],
	"properties": {
		"companies": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["name"],
				"properties": {
					"name": {"type": "string"},
					"reason": {"type": "string"}
				}
			}
		}
	}
}`)

var companyDetailSchema = llm.MustSchema("search_company_detail", `{
	"type": "object",
	"required": ["match_score", "rationale"],
	"properties": {
		"website": {"type": "string"},
		"industry": {"type": "string"},
		"location": {"type": "string"},
		"size": {"type": "string"},
		"founded": {"type": "integer"},
		"employee_count": {"type": "integer"},
		"funding_total": {"type": "string"},
		"last_funding": {"type": "string"},
		"description": {"type": "string"},
		"match_score": {"type": "number", "minimum": 0, "maximum": 100},
		"rationale": {"type": "string"},
		"key_strengths": {"type": "array", "items": {"type": "string"}},
		"potential_concerns": {"type": "array", "items": {"type": "string"}},
		"recommended_action": {"type": "string"}
	}
}`)

// WebSource is the two-phase web discovery flow: propose candidate names,
// then fetch a detail block per name via web-search-augmented completion.
type WebSource struct {
	client LLMClient
	model  string
	seeds  int
	logger logger.Logger
}

func NewWebSource(client LLMClient, model string, seeds int, log logger.Logger) *WebSource {
	if seeds <= 0 {
		seeds = 15
	}
	return &WebSource{
		client: client,
		model:  model,
		seeds:  seeds,
		logger: log.With(map[string]interface{}{"component": "web-source"}),
	}
}

type proposedName struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// ProposeNames runs phase A and returns candidate company names.
func (w *WebSource) ProposeNames(ctx context.Context, profile models.StartupProfile, query string) ([]proposedName, error) {
	profileJSON, _ := json.MarshalIndent(profile, "", "  ")

	var out struct {
		Companies []proposedName `json:"companies"`
	}
	_, err := w.client.CompleteInto(ctx, llm.Request{
		Model:        w.model,
		Role:         "search",
		OperationTag: "search:propose_names",
		Schema:       proposeNamesSchema,
		WebSearch:    true,
		Messages: []llm.Message{
			{Role: "system", Content: "You are a partnership scout. Use web search to find real companies that could partner with the startup described. Return only JSON."},
			{Role: "user", Content: fmt.Sprintf(
				"Startup profile:\n%s\n\nSearch focus: %s\n\nPropose up to %d real companies that would make strong partners. Return JSON: {\"companies\": [{\"name\": ..., \"reason\": ...}]}",
				string(profileJSON), query, w.seeds)},
		},
	}, &out)
	if err != nil {
		return nil, err
	}

	// Drop blanks and duplicates the model sometimes produces.
	seen := make(map[string]bool)
	var names []proposedName
	for _, c := range out.Companies {
		key := models.NormalizeName(c.Name)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		names = append(names, c)
	}
	return names, nil
}

// FetchDetail runs phase B for one proposed name.
func (w *WebSource) FetchDetail(ctx context.Context, profile models.StartupProfile, name string) (models.Candidate, error) {
	var out struct {
		models.CandidateInfo
		MatchScore        float64  `json:"match_score"`
		Rationale         string   `json:"rationale"`
		KeyStrengths      []string `json:"key_strengths"`
		PotentialConcerns []string `json:"potential_concerns"`
		RecommendedAction string   `json:"recommended_action"`
	}
	_, err := w.client.CompleteInto(ctx, llm.Request{
		Model:        w.model,
		Role:         "search",
		OperationTag: "search:fetch_detail",
		Schema:       companyDetailSchema,
		WebSearch:    true,
		Messages: []llm.Message{
			{Role: "system", Content: "You research companies as partnership candidates. Use web search for current facts. Return only JSON."},
			{Role: "user", Content: fmt.Sprintf(
				"Research the company %q as a potential partner for %s (%s). The startup needs: %s.\nReturn a JSON object with website, industry, location, size, founded, employee_count, funding_total, last_funding, description, match_score (0-100), rationale, key_strengths, potential_concerns, recommended_action.",
				name, profile.CompanyName, profile.Industry, profile.PartnerNeeds)},
		},
	}, &out)
	if err != nil {
		return models.Candidate{}, err
	}

	return models.Candidate{
		ID:         "web-" + strings.ReplaceAll(models.NormalizeName(name), " ", "-"),
		Name:       name,
		Info:       out.CandidateInfo,
		Provenance: models.ProvenanceWebSearch,
		Match: &models.MatchAssessment{
			MatchScore:        out.MatchScore,
			Rationale:         out.Rationale,
			KeyStrengths:      out.KeyStrengths,
			PotentialConcerns: out.PotentialConcerns,
			RecommendedAction: out.RecommendedAction,
		},
	}, nil
}
