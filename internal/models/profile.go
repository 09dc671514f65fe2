package models

import "strings"

// StartupProfile describes the company looking for partners. It is immutable
// within a session.
type StartupProfile struct {
	CompanyName     string   `json:"company_name"`
	Industry        string   `json:"industry"`
	InvestmentStage string   `json:"investment_stage,omitempty"`
	ProductStage    string   `json:"product_stage,omitempty"`
	Description     string   `json:"description,omitempty"`
	PartnerNeeds    string   `json:"partner_needs"`
	Keywords        []string `json:"keywords,omitempty"`
}

// SearchTerms joins partner needs and keywords into one lowercase token set
// used by the curated scorer.
func (p StartupProfile) SearchTerms() []string {
	var terms []string
	for _, tok := range strings.Fields(strings.ToLower(p.PartnerNeeds)) {
		terms = append(terms, strings.Trim(tok, ".,;:"))
	}
	for _, kw := range p.Keywords {
		terms = append(terms, strings.ToLower(strings.TrimSpace(kw)))
	}
	return terms
}
