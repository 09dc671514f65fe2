package catalog

import (
	"fmt"
	"strings"

	"partnerscope/internal/models"
)

// Scorer rates a curated company against a startup profile. The default is
// lexical; alternative implementations can plug in without touching the
// pipeline.
type Scorer interface {
	Score(profile models.StartupProfile, company Company) models.MatchAssessment
}

// LexicalScorer blends keyword overlap, industry fit and description fit into
// a 0-100 match score.
type LexicalScorer struct{}

func NewLexicalScorer() *LexicalScorer {
	return &LexicalScorer{}
}

func (s *LexicalScorer) Score(profile models.StartupProfile, company Company) models.MatchAssessment {
	terms := profile.SearchTerms()

	keyword := s.keywordFit(terms, company)
	industry := s.industryFit(profile.Industry, company.Info.Industry)
	description := s.descriptionFit(terms, company.Info.Description)

	score := float64(keyword)*0.45 + float64(industry)*0.30 + float64(description)*0.25

	var strengths, concerns []string
	if keyword >= 60 {
		strengths = append(strengths, "strong overlap with stated partner needs")
	}
	if industry >= 80 {
		strengths = append(strengths, fmt.Sprintf("operates in %s", company.Info.Industry))
	}
	if company.Info.FundingTotal != "" {
		strengths = append(strengths, fmt.Sprintf("funded (%s total)", company.Info.FundingTotal))
	}
	if keyword < 30 {
		concerns = append(concerns, "little keyword overlap with partner needs")
	}
	if industry < 40 {
		concerns = append(concerns, "different industry focus")
	}
	if company.Info.Description == "" {
		concerns = append(concerns, "no company description on file")
	}

	action := "deprioritize"
	switch {
	case score >= 70:
		action = "pursue"
	case score >= 45:
		action = "investigate"
	}

	return models.MatchAssessment{
		MatchScore: score,
		Rationale: fmt.Sprintf("keyword fit %d, industry fit %d, description fit %d",
			keyword, industry, description),
		KeyStrengths:      strengths,
		PotentialConcerns: concerns,
		RecommendedAction: action,
	}
}

func (s *LexicalScorer) keywordFit(terms []string, company Company) int {
	if len(terms) == 0 {
		return 50
	}
	haystack := strings.ToLower(company.Name + " " + company.Info.Industry + " " + company.Info.Description)
	for _, kw := range company.Keywords {
		haystack += " " + kw
	}

	hits := 0
	for _, t := range terms {
		if len(t) < 3 {
			continue
		}
		if strings.Contains(haystack, t) {
			hits++
		}
	}
	if hits == 0 {
		return 10
	}
	fit := hits * 100 / len(terms)
	if fit > 100 {
		fit = 100
	}
	return fit
}

func (s *LexicalScorer) industryFit(profileIndustry, companyIndustry string) int {
	if profileIndustry == "" || companyIndustry == "" {
		return 50
	}
	p := strings.ToLower(profileIndustry)
	c := strings.ToLower(companyIndustry)
	if p == c {
		return 100
	}
	if strings.Contains(c, p) || strings.Contains(p, c) {
		return 85
	}
	// Any shared word counts as adjacency.
	for _, w := range strings.FieldsFunc(p, func(r rune) bool { return r == ' ' || r == '&' || r == ',' }) {
		if len(w) >= 4 && strings.Contains(c, w) {
			return 65
		}
	}
	return 30
}

func (s *LexicalScorer) descriptionFit(terms []string, description string) int {
	if description == "" {
		return 40
	}
	if len(terms) == 0 {
		return 50
	}
	desc := strings.ToLower(description)
	hits := 0
	for _, t := range terms {
		if len(t) >= 4 && strings.Contains(desc, t) {
			hits++
		}
	}
	fit := 30 + hits*20
	if fit > 100 {
		fit = 100
	}
	return fit
}
