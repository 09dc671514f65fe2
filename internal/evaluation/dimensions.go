// Package evaluation implements the staged pipeline: planner, dimension
// analysts, supervisor and refinement router.
package evaluation

import "sort"

// DimensionSpec describes one evaluation axis: its display label, what it
// measures and the criteria the analyst prompt is built from.
type DimensionSpec struct {
	Key         string   `json:"key"`
	Label       string   `json:"label"`
	Description string   `json:"description"`
	Criteria    []string `json:"-"`
}

// dimensionRegistry is the closed set of known dimensions. Adding a dimension
// means adding one entry here.
var dimensionRegistry = map[string]DimensionSpec{
	"market_compatibility": {
		Key:         "market_compatibility",
		Label:       "Market Compatibility",
		Description: "How well the candidate's market presence and positioning align with the startup",
		Criteria: []string{
			"Target market overlap and synergy",
			"Customer segment alignment",
			"Market positioning compatibility",
			"Competitive landscape fit",
			"Go-to-market strategy alignment",
		},
	},
	"financial_health": {
		Key:         "financial_health",
		Label:       "Financial Health",
		Description: "The candidate's financial stability and capacity to sustain a partnership",
		Criteria: []string{
			"Revenue and growth trajectory",
			"Funding status and runway",
			"Profitability indicators",
			"Financial stability",
			"Investment capacity for partnerships",
		},
	},
	"technical_synergy": {
		Key:         "technical_synergy",
		Label:       "Technical Synergy",
		Description: "Compatibility of technology, integrations and engineering capability",
		Criteria: []string{
			"Technology stack compatibility",
			"API and integration capabilities",
			"Technical innovation potential",
			"Data compatibility and sharing",
			"Technical team expertise alignment",
		},
	},
	"operational_capacity": {
		Key:         "operational_capacity",
		Label:       "Operational Capacity",
		Description: "Ability to deliver, scale and support joint operations",
		Criteria: []string{
			"Supply chain capabilities",
			"Manufacturing or service delivery capacity",
			"Logistics and distribution network",
			"Operational scalability",
			"Quality control processes",
		},
	},
	"geographic_coverage": {
		Key:         "geographic_coverage",
		Label:       "Geographic Coverage",
		Description: "Regional reach, distribution footprint and local expertise",
		Criteria: []string{
			"Regional presence and offices",
			"Distribution network coverage",
			"Local market expertise",
			"Regulatory knowledge by region",
			"Geographic expansion potential",
		},
	},
	"strategic_alignment": {
		Key:         "strategic_alignment",
		Label:       "Strategic Alignment",
		Description: "Fit between the candidate's long-term direction and the startup's goals",
		Criteria: []string{
			"Business vision alignment",
			"Long-term goal compatibility",
			"Partnership value proposition",
			"Strategic priority match",
			"Mutual benefit potential",
		},
	},
	"cultural_fit": {
		Key:         "cultural_fit",
		Label:       "Cultural Fit",
		Description: "Organizational and collaboration compatibility",
		Criteria: []string{
			"Organizational culture compatibility",
			"Communication style alignment",
			"Decision-making process fit",
			"Values and ethics alignment",
			"Collaboration history and style",
		},
	},
	"resource_complementarity": {
		Key:         "resource_complementarity",
		Label:       "Resource Complementarity",
		Description: "How the candidate's assets and expertise fill the startup's gaps",
		Criteria: []string{
			"Complementary capabilities",
			"Resource gaps that can be filled",
			"Expertise sharing potential",
			"Asset and IP complementarity",
			"Network and relationship access",
		},
	},
	"growth_potential": {
		Key:         "growth_potential",
		Label:       "Growth Potential",
		Description: "Upside the partnership could unlock for both sides",
		Criteria: []string{
			"Market expansion opportunities",
			"Revenue growth potential from partnership",
			"Scalability of collaboration",
			"Innovation and product development synergy",
			"Long-term partnership value",
		},
	},
	"risk_profile": {
		Key:         "risk_profile",
		Label:       "Risk Profile",
		Description: "Financial, operational and reputational risks of partnering",
		Criteria: []string{
			"Financial risk indicators",
			"Operational risks",
			"Reputational considerations",
			"Dependency risks",
			"Regulatory and compliance risks",
		},
	},
}

// KnownDimension looks up a dimension spec by key.
func KnownDimension(key string) (DimensionSpec, bool) {
	spec, ok := dimensionRegistry[key]
	return spec, ok
}

// Dimensions returns all registered dimension specs sorted by key.
func Dimensions() []DimensionSpec {
	out := make([]DimensionSpec, 0, len(dimensionRegistry))
	for _, spec := range dimensionRegistry {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// DimensionKeys returns the sorted key set, used in planner prompts.
func DimensionKeys() []string {
	keys := make([]string, 0, len(dimensionRegistry))
	for k := range dimensionRegistry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
