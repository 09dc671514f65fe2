package models

import "time"

// DimensionScore is one analyst's assessment of one candidate on one
// dimension. Immutable once emitted.
type DimensionScore struct {
	Dimension   string   `json:"dimension"`
	Score       int      `json:"score"`
	Confidence  float64  `json:"confidence"`
	Evidence    []string `json:"evidence"`
	Reasoning   string   `json:"reasoning"`
	DataSources []string `json:"data_sources"`
}

// SentinelScore is the neutral placeholder an analyst returns when its call
// fails after gateway retries. Confidence zero keeps it out of the fusion.
func SentinelScore(dimension string) DimensionScore {
	return DimensionScore{
		Dimension:   dimension,
		Score:       50,
		Confidence:  0,
		Evidence:    []string{},
		Reasoning:   "unavailable",
		DataSources: []string{},
	}
}

// IsSentinel reports whether the score is the failure placeholder.
func (d DimensionScore) IsSentinel() bool {
	return d.Confidence == 0 && d.Reasoning == "unavailable"
}

// ConflictRecord documents a high/low dimension disagreement on a candidate
// and which side the weights favored.
type ConflictRecord struct {
	Candidate  string `json:"candidate"`
	Conflict   string `json:"conflict"`
	Resolution string `json:"resolution"`
}

// CandidateEvaluation is the fused multi-dimensional assessment of one
// candidate.
type CandidateEvaluation struct {
	CandidateID     string           `json:"candidate_id"`
	CandidateName   string           `json:"candidate_name"`
	CandidateInfo   CandidateInfo    `json:"candidate_info"`
	DimensionScores []DimensionScore `json:"dimension_scores"`
	FinalScore      float64          `json:"final_score"`
	Rank            int              `json:"rank"`
	Strengths       []string         `json:"strengths"`
	Weaknesses      []string         `json:"weaknesses"`
	Recommendations []string         `json:"recommendations"`
	Flags           []string         `json:"flags"`
}

// MeanConfidence averages analyst confidence across dimensions, used as the
// first rank tiebreaker.
func (e *CandidateEvaluation) MeanConfidence() float64 {
	if len(e.DimensionScores) == 0 {
		return 0
	}
	var sum float64
	for _, ds := range e.DimensionScores {
		sum += ds.Confidence
	}
	return sum / float64(len(e.DimensionScores))
}

// HasFlag reports whether the evaluation carries the named flag.
func (e *CandidateEvaluation) HasFlag(flag string) bool {
	for _, f := range e.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// ResultMetadata carries run bookkeeping attached to every result.
type ResultMetadata struct {
	GeneratedAt   time.Time `json:"generated_at"`
	DurationMS    int64     `json:"duration_ms"`
	CandidateUsed int       `json:"candidates_evaluated"`
	ModelUsed     string    `json:"model_used,omitempty"`
	Action        string    `json:"action,omitempty"`
}

// EvaluationResult is the full output of one evaluation run or refinement.
type EvaluationResult struct {
	Strategy          *EvaluationStrategy   `json:"strategy"`
	Evaluations       []CandidateEvaluation `json:"evaluations"`
	TopCandidates     []CandidateEvaluation `json:"top_candidates"`
	Summary           string                `json:"summary"`
	Insights          []string              `json:"insights"`
	ConflictsResolved []ConflictRecord      `json:"conflicts_resolved"`
	Metadata          ResultMetadata        `json:"metadata"`
}

// Clone deep-copies the result so history entries never alias live state.
func (r *EvaluationResult) Clone() *EvaluationResult {
	if r == nil {
		return nil
	}
	out := *r
	out.Strategy = r.Strategy.Clone()
	out.Evaluations = append([]CandidateEvaluation(nil), r.Evaluations...)
	out.TopCandidates = append([]CandidateEvaluation(nil), r.TopCandidates...)
	out.Insights = append([]string(nil), r.Insights...)
	out.ConflictsResolved = append([]ConflictRecord(nil), r.ConflictsResolved...)
	return &out
}
