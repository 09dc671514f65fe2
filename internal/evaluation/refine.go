package evaluation

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"partnerscope/internal/common/logger"
	"partnerscope/internal/llm"
	"partnerscope/internal/models"
)

// Action is the closed refinement action set.
type Action string

const (
	ActionFiltered     Action = "filtered"
	ActionReordered    Action = "reordered"
	ActionNarrowed     Action = "narrowed"
	ActionExpanded     Action = "expanded"
	ActionRefined      Action = "refined"
	ActionExclude      Action = "exclude"
	ActionAdjustWeight Action = "adjust_weight"
	ActionUndo         Action = "undo"
	ActionClarify      Action = "clarify"
	ActionSearchFailed Action = "search_failed"
)

// ActionParams carries the parameters the resolved action needs.
type ActionParams struct {
	Industries []string `json:"industries,omitempty"`
	Locations  []string `json:"locations,omitempty"`
	Names      []string `json:"names,omitempty"`
	Criterion  string   `json:"criterion,omitempty"`
	TopK       int      `json:"top_k,omitempty"`
	Query      string   `json:"query,omitempty"`
	Constraint string   `json:"constraint,omitempty"`
	Dimension  string   `json:"dimension,omitempty"`
	Weight     float64  `json:"weight,omitempty"`
	Question   string   `json:"question,omitempty"`
}

// Decision is the router's classification of a free-text refinement.
type Decision struct {
	Action    Action       `json:"action"`
	Params    ActionParams `json:"parameters"`
	Rationale string       `json:"rationale"`
	Response  string       `json:"response"`
}

var routerSchema = llm.MustSchema("refinement_router", `{
	"type": "object",
	"required": ["action"],
	"properties": {
		"action": {
			"type": "string",
			"enum": ["filtered", "reordered", "narrowed", "expanded", "refined",
			         "exclude", "adjust_weight", "undo", "clarify", "search_failed"]
		},
		"parameters": {
			"type": "object",
			"properties": {
				"industries": {"type": "array", "items": {"type": "string"}},
				"locations": {"type": "array", "items": {"type": "string"}},
				"names": {"type": "array", "items": {"type": "string"}},
				"criterion": {"type": "string"},
				"top_k": {"type": "integer"},
				"query": {"type": "string"},
				"constraint": {"type": "string"},
				"dimension": {"type": "string"},
				"weight": {"type": "number"},
				"question": {"type": "string"}
			}
		},
		"rationale": {"type": "string"},
		"response": {"type": "string"}
	}
}`)

// Router classifies natural-language refinements into the action set.
type Router struct {
	client LLMClient
	model  string
	logger logger.Logger
}

func NewRouter(client LLMClient, model string, log logger.Logger) *Router {
	return &Router{
		client: client,
		model:  model,
		logger: log.With(map[string]interface{}{"component": "refinement-router"}),
	}
}

// Classify resolves one free-text refinement against the current result. When
// the LLM output cannot be used even after repair retries, the keyword
// fallback keeps the session responsive.
func (r *Router) Classify(ctx context.Context, message string, result *models.EvaluationResult, profile models.StartupProfile) Decision {
	stats := ResultStatistics(result)

	system := fmt.Sprintf(`You route refinement requests over partner evaluation results into exactly one action.

Actions:
- "filtered": remove evaluations matching industries/locations/names (only when matches exist in current results)
- "reordered": re-sort by a named criterion without changing membership
- "narrowed": keep only the top K (set top_k)
- "expanded": search for additional partners (set query)
- "refined": re-run evaluation with an amended strategy (set constraint)
- "exclude": remove specific named candidates (set names)
- "adjust_weight": change one dimension's weight (set dimension and weight)
- "undo": revert the last change
- "clarify": the request is too vague; set question
- "search_failed": the previous search failed and there is nothing to refine

Startup: %s (%s), looking for: %s

Result statistics (check before choosing filtered vs expanded):
%s

If the user asks for something absent from current results (a location or industry with zero entries), choose "expanded", not "filtered".
Respond with only JSON: {"action": ..., "parameters": {...}, "rationale": ..., "response": ...}`,
		profile.CompanyName, profile.Industry, profile.PartnerNeeds, stats)

	var decision Decision
	_, err := r.client.CompleteInto(ctx, llm.Request{
		Model:        r.model,
		Role:         "refinement",
		OperationTag: "router:classify",
		Schema:       routerSchema,
		Temperature:  0.2,
		Messages: []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: message},
		},
	}, &decision)
	if err != nil {
		r.logger.Warn("router classification failed, using keyword fallback", map[string]interface{}{
			"error": err.Error(),
		})
		return FallbackClassify(message)
	}
	if decision.Rationale == "" {
		decision.Rationale = "classified by refinement model"
	}
	return decision
}

// FallbackClassify is the rule-based classification used when the router LLM
// output is unusable. It only maps to actions that are safe without model
// judgment.
func FallbackClassify(message string) Decision {
	lower := strings.ToLower(message)

	if containsAny(lower, "undo", "go back", "revert", "start over") {
		return Decision{Action: ActionUndo, Rationale: "keyword match: undo"}
	}
	if m := regexp.MustCompile(`top (\d+)`).FindStringSubmatch(lower); m != nil {
		k, _ := strconv.Atoi(m[1])
		return Decision{Action: ActionNarrowed, Params: ActionParams{TopK: k}, Rationale: "keyword match: top N"}
	}
	if containsAny(lower, "remove", "exclude", "filter out", "without", "no ") {
		return Decision{Action: ActionFiltered, Params: ActionParams{Criterion: strings.TrimSpace(message)}, Rationale: "keyword match: filter"}
	}
	if containsAny(lower, "prioritize", "prefer", "rank by", "sort by", "order by") {
		return Decision{Action: ActionReordered, Params: ActionParams{Criterion: strings.TrimSpace(message)}, Rationale: "keyword match: reorder"}
	}
	return Decision{
		Action: ActionClarify,
		Params: ActionParams{Question: "Could you be more specific? For example: 'only in Japan', 'top 5', or 'remove consulting firms'."},
		Rationale: "request too vague for rule-based handling",
	}
}

// ResultStatistics tallies countries and industries over the current result
// so the router can tell filterable constraints from ones needing new search.
func ResultStatistics(result *models.EvaluationResult) string {
	if result == nil || len(result.Evaluations) == 0 {
		return "No results currently."
	}

	countries := map[string]int{}
	industries := map[string]int{}
	for _, e := range result.Evaluations {
		countries[detectCountry(e.CandidateInfo.Location)]++
		ind := strings.TrimSpace(strings.SplitN(e.CandidateInfo.Industry, ",", 2)[0])
		if ind == "" {
			ind = "Unknown"
		}
		industries[ind]++
	}

	return fmt.Sprintf("Total: %d results\nCountries: %s\nIndustries: %s",
		len(result.Evaluations), formatTally(countries), formatTally(industries))
}

var countryKeywords = []struct{ keyword, country string }{
	{"japan", "Japan"}, {"tokyo", "Japan"}, {"osaka", "Japan"},
	{"united states", "USA"}, {"usa", "USA"}, {"california", "USA"},
	{"new york", "USA"}, {"boston", "USA"}, {"san francisco", "USA"}, {"seattle", "USA"},
	{"china", "China"}, {"beijing", "China"}, {"shanghai", "China"},
	{"germany", "Germany"}, {"berlin", "Germany"}, {"munich", "Germany"},
	{"united kingdom", "UK"}, {"london", "UK"}, {"uk", "UK"},
	{"france", "France"}, {"paris", "France"},
	{"india", "India"}, {"bangalore", "India"}, {"mumbai", "India"},
	{"canada", "Canada"}, {"toronto", "Canada"},
	{"australia", "Australia"}, {"sydney", "Australia"},
	{"singapore", "Singapore"},
	{"south korea", "South Korea"}, {"seoul", "South Korea"}, {"korea", "South Korea"},
}

func detectCountry(location string) string {
	loc := strings.ToLower(location)
	for _, ck := range countryKeywords {
		if strings.Contains(loc, ck.keyword) {
			return ck.country
		}
	}
	return "Unknown"
}

func formatTally(tally map[string]int) string {
	type pair struct {
		key   string
		count int
	}
	pairs := make([]pair, 0, len(tally))
	for k, v := range tally {
		pairs = append(pairs, pair{k, v})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].count != pairs[j].count {
			return pairs[i].count > pairs[j].count
		}
		return pairs[i].key < pairs[j].key
	})
	parts := make([]string, 0, len(pairs))
	for i, p := range pairs {
		if i == 5 {
			break
		}
		parts = append(parts, fmt.Sprintf("%s: %d", p.key, p.count))
	}
	return strings.Join(parts, ", ")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
