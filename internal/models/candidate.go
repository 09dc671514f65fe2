package models

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// Provenance records how a candidate entered the session.
type Provenance string

const (
	ProvenanceCurated       Provenance = "curated-table"
	ProvenanceWebSearch     Provenance = "web-search"
	ProvenanceExternalPaste Provenance = "external-paste"
)

// CandidateInfo is the structured detail block attached to a candidate.
type CandidateInfo struct {
	Website       string `json:"website,omitempty"`
	Industry      string `json:"industry,omitempty"`
	Location      string `json:"location,omitempty"`
	Size          string `json:"size,omitempty"`
	Founded       int    `json:"founded,omitempty"`
	EmployeeCount int    `json:"employee_count,omitempty"`
	FundingTotal  string `json:"funding_total,omitempty"`
	LastFunding   string `json:"last_funding,omitempty"`
	Description   string `json:"description,omitempty"`
}

// MatchAssessment carries the search-time match fields produced by both the
// curated scorer and the web source.
type MatchAssessment struct {
	MatchScore        float64  `json:"match_score"`
	Rationale         string   `json:"rationale,omitempty"`
	KeyStrengths      []string `json:"key_strengths,omitempty"`
	PotentialConcerns []string `json:"potential_concerns,omitempty"`
	RecommendedAction string   `json:"recommended_action,omitempty"`
}

// Candidate is a prospective partner company known to a session.
type Candidate struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Info       CandidateInfo    `json:"info"`
	Provenance Provenance       `json:"provenance"`
	Match      *MatchAssessment `json:"match,omitempty"`
}

// NormalizeName lowercases and collapses whitespace for identity purposes.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// DeterministicID derives a stable id from the normalized name. Used for
// external-paste candidates that arrive without an id, so re-pasting the same
// company merges instead of duplicating.
func DeterministicID(name string) string {
	h := fnv.New64a()
	h.Write([]byte(NormalizeName(name)))
	return fmt.Sprintf("ext-%x", h.Sum64())
}
