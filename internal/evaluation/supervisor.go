package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"partnerscope/internal/common/logger"
	"partnerscope/internal/common/metrics"
	"partnerscope/internal/llm"
	"partnerscope/internal/models"
)

const (
	FlagEvaluationUnavailable = "evaluation_unavailable"
	FlagConflictPresent       = "conflict_present"
	FlagExclusionMatch        = "exclusion_criteria_match"

	maxInsightLines = 8

	defaultCandidateTimeout = 3 * time.Minute
)

var synthesisSchema = llm.MustSchema("supervisor_synthesis", `{
	"type": "object",
	"required": ["strengths", "weaknesses", "recommendations"],
	"properties": {
		"strengths": {"type": "array", "items": {"type": "string"}},
		"weaknesses": {"type": "array", "items": {"type": "string"}},
		"recommendations": {"type": "array", "items": {"type": "string"}}
	}
}`)

// Supervisor fans out dimension analysts, fuses their scores into ranked
// candidate evaluations and synthesizes the qualitative fields.
type Supervisor struct {
	client           LLMClient
	analyst          *Analyst
	model            string
	workers          int
	candidateTimeout time.Duration
	logger           logger.Logger
}

func NewSupervisor(client LLMClient, analyst *Analyst, model string, workers int, candidateTimeout time.Duration, log logger.Logger) *Supervisor {
	if workers <= 0 {
		workers = 8
	}
	if candidateTimeout <= 0 {
		candidateTimeout = defaultCandidateTimeout
	}
	return &Supervisor{
		client:           client,
		analyst:          analyst,
		model:            model,
		workers:          workers,
		candidateTimeout: candidateTimeout,
		logger:           log.With(map[string]interface{}{"component": "supervisor"}),
	}
}

// Evaluate runs the full pipeline over the candidate set: scoring matrix,
// fusion, ranking, conflict detection, synthesis and insights.
func (s *Supervisor) Evaluate(ctx context.Context, candidatesIn []models.Candidate, profile models.StartupProfile, strategy *models.EvaluationStrategy) (*models.EvaluationResult, error) {
	start := time.Now()

	matrix := s.scoreMatrix(ctx, candidatesIn, profile, strategy)

	evaluations := make([]models.CandidateEvaluation, 0, len(candidatesIn))
	for _, cand := range candidatesIn {
		eval := s.fuse(cand, matrix[cand.ID], strategy)
		evaluations = append(evaluations, eval)
	}

	conflicts := s.detectConflicts(evaluations, strategy)
	Rank(evaluations)

	for i := range evaluations {
		s.synthesize(ctx, &evaluations[i], profile)
		s.applyExclusionFlags(&evaluations[i], strategy)
	}

	result := AssembleResult(evaluations, strategy, conflicts)
	result.Summary = s.buildSummary(result)
	result.Insights = s.generateInsights(ctx, result, profile)
	result.Metadata = models.ResultMetadata{
		GeneratedAt:   time.Now().UTC(),
		DurationMS:    time.Since(start).Milliseconds(),
		CandidateUsed: len(evaluations),
		ModelUsed:     s.model,
		Action:        "evaluate",
	}

	outcome := "success"
	if ctx.Err() != nil {
		outcome = "cancelled"
	}
	metrics.EvaluationDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	return result, ctx.Err()
}

// scoreMatrix runs candidates x dimensions analyst calls with bounded
// concurrency, substituting sentinels for per-cell failures.
func (s *Supervisor) scoreMatrix(ctx context.Context, candidatesIn []models.Candidate, profile models.StartupProfile, strategy *models.EvaluationStrategy) map[string][]models.DimensionScore {
	var mu sync.Mutex
	results := make(map[string][]models.DimensionScore, len(candidatesIn))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	// Each candidate's fan-out gets its own deadline; a slow candidate times
	// out to sentinels without stalling the rest of the matrix.
	ctxByID := make(map[string]context.Context, len(candidatesIn))
	cancels := make([]context.CancelFunc, 0, len(candidatesIn))
	for _, cand := range candidatesIn {
		cctx, cancel := context.WithTimeout(gctx, s.candidateTimeout)
		ctxByID[cand.ID] = cctx
		cancels = append(cancels, cancel)
	}
	defer func() {
		for _, cancel := range cancels {
			cancel()
		}
	}()

	for _, cand := range candidatesIn {
		for _, dim := range strategy.Dimensions {
			cand, dim := cand, dim
			g.Go(func() error {
				score, err := s.analyst.Analyze(ctxByID[cand.ID], cand, profile, dim.Dimension, "")
				if err != nil {
					s.logger.Warn("analyst call failed, using sentinel", map[string]interface{}{
						"candidate": cand.Name,
						"dimension": dim.Dimension,
						"error":     err.Error(),
					})
					score = models.SentinelScore(dim.Dimension)
				}
				mu.Lock()
				results[cand.ID] = append(results[cand.ID], score)
				mu.Unlock()
				return nil
			})
		}
	}
	_ = g.Wait() // per-cell failures never abort the run

	// Dimension order inside each candidate follows the strategy.
	for id, scores := range results {
		ordered := make([]models.DimensionScore, 0, len(scores))
		for _, dim := range strategy.Dimensions {
			for _, sc := range scores {
				if sc.Dimension == dim.Dimension {
					ordered = append(ordered, sc)
					break
				}
			}
		}
		results[id] = ordered
	}
	return results
}

// fuse computes the confidence-weighted final score for one candidate.
func (s *Supervisor) fuse(cand models.Candidate, scores []models.DimensionScore, strategy *models.EvaluationStrategy) models.CandidateEvaluation {
	eval := models.CandidateEvaluation{
		CandidateID:     cand.ID,
		CandidateName:   cand.Name,
		CandidateInfo:   cand.Info,
		DimensionScores: scores,
		FinalScore:      FuseScore(scores, strategy),
	}

	allSentinel := len(scores) > 0
	anySentinel := false
	for _, sc := range scores {
		if sc.IsSentinel() {
			anySentinel = true
		} else {
			allSentinel = false
		}
	}
	if allSentinel {
		eval.FinalScore = 0
	}
	if anySentinel {
		eval.Flags = append(eval.Flags, FlagEvaluationUnavailable)
	}
	return eval
}

// FuseScore is the fusion rule: sum(score*weight*confidence) over
// sum(weight*confidence). Zero denominator yields zero.
func FuseScore(scores []models.DimensionScore, strategy *models.EvaluationStrategy) float64 {
	var weightedSum, totalWeight float64
	for _, sc := range scores {
		w := strategy.DimensionWeight(sc.Dimension)
		weightedSum += float64(sc.Score) * w * sc.Confidence
		totalWeight += w * sc.Confidence
	}
	if totalWeight == 0 {
		return 0
	}
	return weightedSum / totalWeight
}

// Rank sorts by final score descending with confidence and name tiebreakers,
// then assigns dense 1-based ranks.
func Rank(evaluations []models.CandidateEvaluation) {
	sort.SliceStable(evaluations, func(i, j int) bool {
		a, b := evaluations[i], evaluations[j]
		if a.FinalScore != b.FinalScore {
			return a.FinalScore > b.FinalScore
		}
		ac, bc := a.MeanConfidence(), b.MeanConfidence()
		if ac != bc {
			return ac > bc
		}
		return a.CandidateName < b.CandidateName
	})
	for i := range evaluations {
		evaluations[i].Rank = i + 1
	}
}

// AssembleResult builds the result envelope with top-k as a prefix of the
// ranked evaluations.
func AssembleResult(evaluations []models.CandidateEvaluation, strategy *models.EvaluationStrategy, conflicts []models.ConflictRecord) *models.EvaluationResult {
	topK := strategy.TopK
	if topK <= 0 || topK > len(evaluations) {
		topK = len(evaluations)
	}
	return &models.EvaluationResult{
		Strategy:          strategy,
		Evaluations:       evaluations,
		TopCandidates:     append([]models.CandidateEvaluation(nil), evaluations[:topK]...),
		ConflictsResolved: conflicts,
	}
}

// detectConflicts flags candidates where one dimension scores high and
// another low, both with usable confidence. Resolution names the side the
// weights favor.
func (s *Supervisor) detectConflicts(evaluations []models.CandidateEvaluation, strategy *models.EvaluationStrategy) []models.ConflictRecord {
	var out []models.ConflictRecord
	for i := range evaluations {
		eval := &evaluations[i]
		var high, low *models.DimensionScore
		for j := range eval.DimensionScores {
			sc := &eval.DimensionScores[j]
			if sc.Confidence < 0.6 {
				continue
			}
			if sc.Score >= 80 && (high == nil || sc.Score > high.Score) {
				high = sc
			}
			if sc.Score <= 30 && (low == nil || sc.Score < low.Score) {
				low = sc
			}
		}
		if high == nil || low == nil {
			continue
		}

		highMass := strategy.DimensionWeight(high.Dimension) * high.Confidence
		lowMass := strategy.DimensionWeight(low.Dimension) * low.Confidence
		winner := high.Dimension
		if lowMass > highMass {
			winner = low.Dimension
		}

		out = append(out, models.ConflictRecord{
			Candidate:  eval.CandidateName,
			Conflict:   fmt.Sprintf("%s high vs %s low", high.Dimension, low.Dimension),
			Resolution: fmt.Sprintf("%s dominates given weights", winner),
		})
		eval.Flags = append(eval.Flags, FlagConflictPresent)
	}
	return out
}

// synthesize fills strengths/weaknesses/recommendations via one LLM call per
// candidate, falling back to the rule-based top/bottom dimensions on failure.
func (s *Supervisor) synthesize(ctx context.Context, eval *models.CandidateEvaluation, profile models.StartupProfile) {
	matrixJSON, _ := json.MarshalIndent(eval.DimensionScores, "", "  ")

	var out struct {
		Strengths       []string `json:"strengths"`
		Weaknesses      []string `json:"weaknesses"`
		Recommendations []string `json:"recommendations"`
	}
	_, err := s.client.CompleteInto(ctx, llm.Request{
		Model:        s.model,
		Role:         "evaluation",
		OperationTag: "supervisor:synthesize",
		Schema:       synthesisSchema,
		Temperature:  0.3,
		Messages: []llm.Message{
			{Role: "system", Content: "You summarize multi-dimensional partner evaluations into concise strengths, weaknesses and recommendations. Respond with only JSON."},
			{Role: "user", Content: fmt.Sprintf(
				"Candidate %s scored %.1f overall as a partner for %s (needs: %s). Dimension scores:\n%s\nReturn JSON: {\"strengths\": [...], \"weaknesses\": [...], \"recommendations\": [...]} with at most 3 items each.",
				eval.CandidateName, eval.FinalScore, profile.CompanyName, profile.PartnerNeeds, string(matrixJSON))},
		},
	}, &out)
	if err != nil {
		s.logger.Warn("synthesis call failed, using rule-based fallback", map[string]interface{}{
			"candidate": eval.CandidateName,
			"error":     err.Error(),
		})
		out.Strengths, out.Weaknesses = ruleBasedStrengthsWeaknesses(eval.DimensionScores)
		out.Recommendations = []string{"Review dimension scores manually before engaging."}
	}

	eval.Strengths = out.Strengths
	eval.Weaknesses = out.Weaknesses
	eval.Recommendations = out.Recommendations
}

// ruleBasedStrengthsWeaknesses is the synthesis fallback: top-3 dimensions by
// score become strengths, bottom-3 weaknesses.
func ruleBasedStrengthsWeaknesses(scores []models.DimensionScore) (strengths, weaknesses []string) {
	sorted := append([]models.DimensionScore(nil), scores...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	for i := 0; i < len(sorted) && i < 3; i++ {
		if sorted[i].IsSentinel() {
			continue
		}
		strengths = append(strengths, fmt.Sprintf("%s: %d/100", dimensionLabel(sorted[i].Dimension), sorted[i].Score))
	}
	for i := len(sorted) - 1; i >= 0 && len(weaknesses) < 3; i-- {
		if sorted[i].IsSentinel() || sorted[i].Score >= 70 {
			continue
		}
		weaknesses = append(weaknesses, fmt.Sprintf("%s: %d/100", dimensionLabel(sorted[i].Dimension), sorted[i].Score))
	}
	return strengths, weaknesses
}

func dimensionLabel(key string) string {
	if spec, ok := KnownDimension(key); ok {
		return spec.Label
	}
	return key
}

// applyExclusionFlags marks candidates that lexically match an exclusion
// criterion so the UI can surface them.
func (s *Supervisor) applyExclusionFlags(eval *models.CandidateEvaluation, strategy *models.EvaluationStrategy) {
	if len(strategy.ExclusionCriteria) == 0 {
		return
	}
	haystack := strings.ToLower(eval.CandidateName + " " + eval.CandidateInfo.Industry + " " +
		eval.CandidateInfo.Location + " " + eval.CandidateInfo.Description)
	for _, criterion := range strategy.ExclusionCriteria {
		c := strings.ToLower(strings.TrimSpace(criterion))
		if c != "" && strings.Contains(haystack, c) {
			eval.Flags = append(eval.Flags, FlagExclusionMatch)
			return
		}
	}
}

// generateInsights runs the terminal cross-candidate synthesis, bounded to a
// fixed line count. Failure just yields no insights.
func (s *Supervisor) generateInsights(ctx context.Context, result *models.EvaluationResult, profile models.StartupProfile) []string {
	if len(result.TopCandidates) == 0 {
		return nil
	}

	var top []string
	for _, e := range result.TopCandidates {
		top = append(top, fmt.Sprintf("%d. %s (%.1f)", e.Rank, e.CandidateName, e.FinalScore))
	}

	res, err := s.client.Complete(ctx, llm.Request{
		Model:        s.model,
		Role:         "evaluation",
		OperationTag: "supervisor:insights",
		Temperature:  0.4,
		Messages: []llm.Message{
			{Role: "system", Content: "You distill partner evaluation results into short actionable insights."},
			{Role: "user", Content: fmt.Sprintf(
				"Top partner candidates for %s (needs: %s):\n%s\nWrite at most %d short bullet insights comparing them. One bullet per line, no preamble.",
				profile.CompanyName, profile.PartnerNeeds, strings.Join(top, "\n"), maxInsightLines)},
		},
	})
	if err != nil {
		s.logger.Warn("insights call failed", map[string]interface{}{"error": err.Error()})
		return nil
	}

	var insights []string
	for _, line := range strings.Split(res.Text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*• "))
		if line == "" {
			continue
		}
		insights = append(insights, line)
		if len(insights) == maxInsightLines {
			break
		}
	}
	return insights
}

func (s *Supervisor) buildSummary(result *models.EvaluationResult) string {
	if len(result.Evaluations) == 0 {
		return "No candidates were evaluated."
	}
	best := result.Evaluations[0]
	return fmt.Sprintf("Evaluated %d candidates across %d dimensions. Top match: %s (%.1f/100).",
		len(result.Evaluations), len(result.Strategy.Dimensions), best.CandidateName, best.FinalScore)
}
