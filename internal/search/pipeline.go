package search

import (
	"context"
	"sort"
	"time"

	apperrors "partnerscope/internal/common/errors"
	"partnerscope/internal/common/logger"
	"partnerscope/internal/common/metrics"
	"partnerscope/internal/catalog"
	"partnerscope/internal/models"
)

// Config bounds one search run.
type Config struct {
	Ceiling     time.Duration // hard stop for the whole search
	Watchdog    time.Duration // abort when no event for this long
	MaxResults  int
	CuratedOnly bool
}

// Pipeline drains the curated and web sources into one ranked candidate list,
// streaming progress along the way.
type Pipeline struct {
	cfg    Config
	source catalog.Source
	scorer catalog.Scorer
	web    *WebSource
	logger logger.Logger
}

func NewPipeline(cfg Config, source catalog.Source, scorer catalog.Scorer, web *WebSource, log logger.Logger) *Pipeline {
	if cfg.Ceiling == 0 {
		cfg.Ceiling = 5 * time.Minute
	}
	if cfg.Watchdog == 0 {
		cfg.Watchdog = 2 * time.Minute
	}
	if cfg.MaxResults == 0 {
		cfg.MaxResults = 10
	}
	if scorer == nil {
		scorer = catalog.NewLexicalScorer()
	}
	return &Pipeline{
		cfg:    cfg,
		source: source,
		scorer: scorer,
		web:    web,
		logger: log.With(map[string]interface{}{"component": "search-pipeline"}),
	}
}

// Run starts a search and returns its event stream. The channel closes after
// the terminal complete or error event. costNow supplies the session's
// running spend for event payloads; pass nil when not tracking.
func (p *Pipeline) Run(ctx context.Context, profile models.StartupProfile, query string, costNow func() float64) <-chan Event {
	if costNow == nil {
		costNow = func() float64 { return 0 }
	}
	out := make(chan Event, 32)

	go func() {
		defer close(out)
		start := time.Now()

		runCtx, cancel := context.WithTimeout(ctx, p.cfg.Ceiling)
		defer cancel()

		// The watchdog cancels the run when no event lands for too long.
		watchdog := time.AfterFunc(p.cfg.Watchdog, cancel)
		defer watchdog.Stop()

		emit := func(ev Event) {
			ev.Cost = costNow()
			watchdog.Reset(p.cfg.Watchdog)
			select {
			case out <- ev:
			case <-runCtx.Done():
			}
		}

		fail := func(outcome string, ev Event) {
			ev.Cost = costNow()
			metrics.SearchDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
			select {
			case out <- ev:
			default:
			}
		}

		var candidates []models.Candidate

		curated, err := p.runCurated(runCtx, profile, emit)
		if err != nil {
			p.logger.Warn("curated source failed, continuing with web only", map[string]interface{}{"error": err.Error()})
		}
		candidates = append(candidates, curated...)

		if !p.cfg.CuratedOnly && p.web != nil {
			webCands := p.runWeb(runCtx, profile, query, emit)
			candidates = mergeByName(candidates, webCands)
		}

		if runCtx.Err() != nil {
			if ctx.Err() != nil {
				fail("cancelled", Event{Type: EventError, Error: "cancelled", Message: "search cancelled by caller"})
				return
			}
			se := apperrors.NewSearchTimeoutError(time.Since(start))
			fail("timeout", Event{Type: EventError, Error: string(se.Code), Message: se.Details, Retriable: se.Retryable})
			return
		}

		sort.SliceStable(candidates, func(i, j int) bool {
			return matchScore(candidates[i]) > matchScore(candidates[j])
		})
		if len(candidates) > p.cfg.MaxResults {
			candidates = candidates[:p.cfg.MaxResults]
		}

		metrics.SearchDuration.WithLabelValues("success").Observe(time.Since(start).Seconds())
		emit(Event{
			Type:       EventComplete,
			Phase:      "done",
			Count:      len(candidates),
			Message:    "search complete",
			Candidates: candidates,
		})
	}()

	return out
}

func (p *Pipeline) runCurated(ctx context.Context, profile models.StartupProfile, emit func(Event)) ([]models.Candidate, error) {
	if p.source == nil {
		return nil, nil
	}

	emit(Event{Type: EventProgress, Phase: "curated", Message: "scanning curated table"})

	companies, err := p.source.Companies(ctx)
	if err != nil {
		return nil, err
	}

	var out []models.Candidate
	for _, company := range companies {
		match := p.scorer.Score(profile, company)
		if match.MatchScore < 30 {
			continue
		}
		out = append(out, company.Candidate(&match))
	}

	emit(Event{Type: EventProgress, Phase: "curated", Count: len(out),
		Message: "curated table scored"})
	return out, nil
}

func (p *Pipeline) runWeb(ctx context.Context, profile models.StartupProfile, query string, emit func(Event)) []models.Candidate {
	emit(Event{Type: EventProgress, Phase: "web:propose", Message: "proposing candidate companies"})

	names, err := p.web.ProposeNames(ctx, profile, query)
	if err != nil {
		p.logger.Warn("web name proposal failed", map[string]interface{}{"error": err.Error()})
		return nil
	}

	emit(Event{Type: EventProgress, Phase: "web:propose", Count: len(names),
		Message: "candidate names proposed"})

	var out []models.Candidate
	for i, seed := range names {
		if ctx.Err() != nil {
			break
		}
		cand, err := p.web.FetchDetail(ctx, profile, seed.Name)
		if err != nil {
			// Per-candidate failures are recorded and skipped.
			p.logger.Warn("web detail fetch failed", map[string]interface{}{
				"company": seed.Name,
				"error":   err.Error(),
			})
			continue
		}
		out = append(out, cand)
		emit(Event{Type: EventProgress, Phase: "web:detail", Index: i + 1, Total: len(names),
			Message: "researched " + seed.Name})
	}
	return out
}

// mergeByName unions two candidate lists, keeping the earlier entry when the
// same company appears in both sources.
func mergeByName(primary, extra []models.Candidate) []models.Candidate {
	seen := make(map[string]bool, len(primary))
	for _, c := range primary {
		seen[models.NormalizeName(c.Name)] = true
	}
	out := primary
	for _, c := range extra {
		key := models.NormalizeName(c.Name)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

func matchScore(c models.Candidate) float64 {
	if c.Match == nil {
		return 0
	}
	return c.Match.MatchScore
}
