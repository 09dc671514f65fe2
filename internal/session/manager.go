package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"partnerscope/internal/catalog"
	"partnerscope/internal/common/config"
	apperrors "partnerscope/internal/common/errors"
	"partnerscope/internal/common/logger"
	"partnerscope/internal/common/metrics"
	"partnerscope/internal/cost"
	"partnerscope/internal/evaluation"
	"partnerscope/internal/llm"
	"partnerscope/internal/models"
	"partnerscope/internal/search"
)

// Actions accepted by Dispatch.
const (
	ActionProposeStrategy  = "propose_strategy"
	ActionModifyStrategy   = "modify_strategy"
	ActionConfirmStrategy  = "confirm_strategy"
	ActionConfirmAndRun    = "confirm_and_run"
	ActionRefineResults    = "refine_results"
	ActionExclude          = "exclude"
	ActionAdjustWeight     = "adjust_weight"
	ActionUndo             = "undo"
	ActionView             = "view"
	ActionReset            = "reset"
	ActionEvaluateExternal = "evaluate_external"
)

// allowedPhases is the state machine: an action not listed for the session's
// current phase fails with a phase violation.
var allowedPhases = map[string][]Phase{
	ActionProposeStrategy:  {PhaseInit},
	ActionModifyStrategy:   {PhasePlanning},
	ActionConfirmStrategy:  {PhasePlanning},
	ActionConfirmAndRun:    {PhasePlanning},
	ActionRefineResults:    {PhaseComplete},
	ActionExclude:          {PhaseComplete},
	ActionAdjustWeight:     {PhaseComplete},
	ActionUndo:             {PhaseComplete},
	ActionEvaluateExternal: {PhaseComplete},
	ActionView:             {PhaseInit, PhasePlanning, PhaseEvaluating, PhaseComplete},
	ActionReset:            {PhaseInit, PhasePlanning, PhaseEvaluating, PhaseComplete},
}

// ActionRequest carries the parameters of one dispatched action.
type ActionRequest struct {
	Action       string   `json:"action"`
	Message      string   `json:"message,omitempty"`
	Requirements string   `json:"requirements,omitempty"`
	Names        []string `json:"names,omitempty"`
	Dimension    string   `json:"dimension,omitempty"`
	Weight       float64  `json:"weight,omitempty"`
	Query        string   `json:"query,omitempty"`
	Text         string   `json:"text,omitempty"`
}

// ActionResponse is the outcome of one dispatched action. Action reports the
// resolved action, which for refinements is the router's classification.
type ActionResponse struct {
	SessionID string                     `json:"session_id"`
	Phase     Phase                      `json:"phase"`
	Action    string                     `json:"action"`
	Response  string                     `json:"response"`
	Strategy  *models.EvaluationStrategy `json:"strategy,omitempty"`
	Result    *models.EvaluationResult   `json:"result,omitempty"`
	Cost      cost.Summary               `json:"cost"`
}

// Manager owns session lifecycle and routes every action through the phase
// state machine with per-session serialization.
type Manager struct {
	cfg     *config.Config
	store   *Store
	gateway *llm.Client
	source  catalog.Source
	scorer  catalog.Scorer
	logger  logger.Logger
}

func NewManager(cfg *config.Config, gateway *llm.Client, source catalog.Source, backend Backend, log logger.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		store:   NewStore(cfg.Session, backend, log),
		gateway: gateway,
		source:  source,
		scorer:  catalog.NewLexicalScorer(),
		logger:  log.With(map[string]interface{}{"component": "session-manager"}),
	}
}

// agents are the per-session LLM components, bound to the session's ledger.
type agents struct {
	sc         *llm.SessionClient
	planner    *evaluation.Planner
	supervisor *evaluation.Supervisor
	router     *evaluation.Router
}

func (m *Manager) agentsFor(sess *Session) *agents {
	sc := m.gateway.ForSession(sess.Ledger)
	evalModel := m.cfg.LLM.Models.Evaluation
	analyst := evaluation.NewAnalyst(sc, evalModel, m.logger)
	return &agents{
		sc:         sc,
		planner:    evaluation.NewPlanner(sc, evalModel, m.logger),
		supervisor: evaluation.NewSupervisor(sc, analyst, evalModel, m.cfg.LLM.AnalystWorkers, config.GetDuration(m.cfg.LLM.CandidateTimeout), m.logger),
		router:     evaluation.NewRouter(sc, m.cfg.LLM.Models.Refinement, m.logger),
	}
}

// CreateSession registers a session seeded with the given candidates.
func (m *Manager) CreateSession(ctx context.Context, profile models.StartupProfile, seed []models.Candidate) *Session {
	sess := newSession(profile, m.store.SnapshotDepth())
	for _, c := range seed {
		sess.Candidates.Upsert(c)
	}
	m.store.Put(sess)
	m.store.Persist(ctx, sess)
	m.logger.Info("session created", map[string]interface{}{
		"session_id": sess.ID,
		"startup":    profile.CompanyName,
		"candidates": len(seed),
	})
	return sess
}

// GetState returns the session's current state, falling back to the persisted
// snapshot for sessions that aged out of memory.
func (m *Manager) GetState(ctx context.Context, id string) (*State, error) {
	if sess := m.store.Get(id); sess != nil {
		sess.Lock()
		defer sess.Unlock()
		return sess.Snapshot(), nil
	}
	state, err := m.store.LoadFallback(ctx, id)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	if state == nil {
		return nil, apperrors.NewNotFoundError("session", id)
	}
	return state, nil
}

// DeleteSession removes the session from memory and the backend.
func (m *Manager) DeleteSession(ctx context.Context, id string) error {
	if m.store.Get(id) == nil {
		state, err := m.store.LoadFallback(ctx, id)
		if err != nil {
			return apperrors.NewInternalError(err)
		}
		if state == nil {
			return apperrors.NewNotFoundError("session", id)
		}
	}
	m.store.Delete(ctx, id)
	return nil
}

// Close stops background work and releases the store backend.
func (m *Manager) Close() error {
	return m.store.Close()
}

// Dispatch runs one action against a session. Actions on the same session are
// serialized; the phase machine rejects out-of-order ones.
func (m *Manager) Dispatch(ctx context.Context, sessionID string, req ActionRequest) (*ActionResponse, error) {
	sess := m.store.Get(sessionID)
	if sess == nil {
		return nil, apperrors.NewNotFoundError("session", sessionID)
	}

	sess.Lock()
	defer sess.Unlock()
	sess.LastActive = time.Now().UTC()

	if err := checkPhase(sess.Phase, req.Action); err != nil {
		return nil, err
	}

	ag := m.agentsFor(sess)
	resolved := req.Action
	var response string
	var err error

	switch req.Action {
	case ActionProposeStrategy:
		response, err = m.proposeStrategy(ctx, sess, ag, req.Requirements)
	case ActionModifyStrategy:
		response, err = m.modifyStrategy(ctx, sess, ag, req.Message)
	case ActionConfirmStrategy:
		sess.Strategy.ConfirmedByUser = true
		response = "Strategy confirmed. Say the word and I'll run the evaluation."
	case ActionConfirmAndRun:
		response, err = m.confirmAndRun(ctx, sess, ag)
	case ActionRefineResults:
		resolved, response, err = m.refine(ctx, sess, ag, req.Message)
	case ActionExclude:
		response, err = m.applyExclude(sess, req.Names)
	case ActionAdjustWeight:
		response, err = m.applyWeightAdjust(sess, req.Dimension, req.Weight)
	case ActionUndo:
		response = m.applyUndo(sess)
	case ActionEvaluateExternal:
		response, err = m.evaluateExternal(ctx, sess, ag, req.Text)
	case ActionView:
		response = viewSummary(sess)
	case ActionReset:
		sess.Strategy = nil
		sess.Result = nil
		sess.History = nil
		sess.undoHandles = nil
		sess.Phase = PhaseInit
		response = "Session reset. Candidates are kept; propose a new strategy to start over."
	default:
		return nil, apperrors.NewNotFoundError("action", req.Action)
	}
	if err != nil {
		return nil, err
	}

	metrics.RefinementActions.WithLabelValues(resolved).Inc()
	m.store.Persist(ctx, sess)

	return &ActionResponse{
		SessionID: sess.ID,
		Phase:     sess.Phase,
		Action:    resolved,
		Response:  response,
		Strategy:  sess.Strategy,
		Result:    sess.Result,
		Cost:      sess.Ledger.Summary(),
	}, nil
}

// ChatDispatch resolves a free-text message into an action. An explicit hint
// wins; otherwise the current phase decides.
func (m *Manager) ChatDispatch(ctx context.Context, sessionID, message, actionHint string) (*ActionResponse, error) {
	sess := m.store.Get(sessionID)
	if sess == nil {
		return nil, apperrors.NewNotFoundError("session", sessionID)
	}

	sess.Lock()
	phase := sess.Phase
	sess.Unlock()

	req := resolveChat(phase, message, actionHint)
	return m.Dispatch(ctx, sessionID, req)
}

func resolveChat(phase Phase, message, hint string) ActionRequest {
	switch hint {
	case "start":
		return ActionRequest{Action: ActionProposeStrategy, Requirements: message}
	case "confirm":
		return ActionRequest{Action: ActionConfirmAndRun}
	case "modify":
		return ActionRequest{Action: ActionModifyStrategy, Message: message}
	case "refine":
		return ActionRequest{Action: ActionRefineResults, Message: message}
	case "undo":
		return ActionRequest{Action: ActionUndo}
	case "reset":
		return ActionRequest{Action: ActionReset}
	case "view":
		return ActionRequest{Action: ActionView}
	}

	lower := strings.ToLower(message)
	switch phase {
	case PhaseInit:
		return ActionRequest{Action: ActionProposeStrategy, Requirements: message}
	case PhasePlanning:
		if containsAnyOf(lower, "confirm", "looks good", "go ahead", "proceed", "run it", "start the evaluation", "yes") {
			return ActionRequest{Action: ActionConfirmAndRun}
		}
		return ActionRequest{Action: ActionModifyStrategy, Message: message}
	default:
		return ActionRequest{Action: ActionRefineResults, Message: message}
	}
}

// StreamSearch runs the discovery pipeline for the session's profile and
// returns its event stream. Completed candidates are merged into the session.
func (m *Manager) StreamSearch(ctx context.Context, sessionID, query string) (<-chan search.Event, error) {
	sess := m.store.Get(sessionID)
	if sess == nil {
		return nil, apperrors.NewNotFoundError("session", sessionID)
	}

	sess.Lock()
	sess.LastActive = time.Now().UTC()
	ag := m.agentsFor(sess)
	profile := sess.Profile
	sess.Unlock()

	costNow := func() float64 { return sess.Ledger.Summary().TotalCost }
	inner := m.pipelineFor(ag).Run(ctx, profile, query, costNow)

	out := make(chan search.Event, 32)
	go func() {
		defer close(out)
		for ev := range inner {
			if ev.Type == search.EventComplete {
				sess.Lock()
				for _, c := range ev.Candidates {
					sess.Candidates.Upsert(c)
				}
				m.store.Persist(ctx, sess)
				sess.Unlock()
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// StreamCosts subscribes to the session's cost ledger for live spend updates.
// The caller must invoke the returned cancel when done consuming.
func (m *Manager) StreamCosts(sessionID string) (<-chan cost.Event, func(), error) {
	sess := m.store.Get(sessionID)
	if sess == nil {
		return nil, nil, apperrors.NewNotFoundError("session", sessionID)
	}
	ch, cancel := sess.Ledger.Subscribe()
	return ch, cancel, nil
}

func (m *Manager) pipelineFor(ag *agents) *search.Pipeline {
	web := search.NewWebSource(ag.sc, m.cfg.LLM.Models.Search, m.cfg.Search.WebSeeds, m.logger)
	return search.NewPipeline(search.Config{
		Ceiling:     config.GetDuration(m.cfg.Search.Ceiling),
		Watchdog:    config.GetDuration(m.cfg.Search.Watchdog),
		MaxResults:  m.cfg.Search.MaxResults,
		CuratedOnly: m.cfg.Search.CuratedOnly,
	}, m.source, m.scorer, web, m.logger)
}

func checkPhase(current Phase, action string) error {
	allowed, known := allowedPhases[action]
	if !known {
		return apperrors.NewNotFoundError("action", action)
	}
	for _, p := range allowed {
		if p == current {
			return nil
		}
	}
	return apperrors.NewPhaseViolationError(string(current), action)
}

func (m *Manager) proposeStrategy(ctx context.Context, sess *Session, ag *agents, requirements string) (string, error) {
	active := sess.Candidates.Active()
	if len(active) == 0 {
		return "", apperrors.NewStrategyInvalidError("no candidates loaded; run a search or paste candidates first")
	}

	strategy, summary, err := ag.planner.Propose(ctx, sess.Profile, requirements, len(active))
	if err != nil {
		return "", err
	}
	sess.Strategy = strategy
	sess.Phase = PhasePlanning
	return summary, nil
}

func (m *Manager) modifyStrategy(ctx context.Context, sess *Session, ag *agents, message string) (string, error) {
	strategy, changes, err := ag.planner.Modify(ctx, sess.Strategy, message, sess.Profile)
	if err != nil {
		return "", err
	}
	sess.Strategy = strategy

	response := evaluation.Summary(strategy)
	if len(changes) > 0 {
		response = "Changes made:\n- " + strings.Join(changes, "\n- ") + "\n\n" + response
	}
	return response, nil
}

func (m *Manager) confirmAndRun(ctx context.Context, sess *Session, ag *agents) (string, error) {
	sess.Strategy.ConfirmedByUser = true
	sess.Phase = PhaseEvaluating
	m.store.Persist(ctx, sess)

	result, err := m.runEvaluation(ctx, sess, ag, sess.Candidates.Active(), sess.Strategy, "evaluate")
	if err != nil {
		sess.Phase = PhasePlanning
		return "", err
	}

	sess.checkpoint(m.cfg.Session.HistoryDepth)
	sess.Result = result
	sess.Phase = PhaseComplete
	return result.Summary, nil
}

// runEvaluation bounds one supervisor run with the action timeout.
func (m *Manager) runEvaluation(ctx context.Context, sess *Session, ag *agents, cands []models.Candidate, strategy *models.EvaluationStrategy, action string) (*models.EvaluationResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, config.GetDuration(m.cfg.LLM.ActionTimeout))
	defer cancel()

	result, err := ag.supervisor.Evaluate(runCtx, cands, sess.Profile, strategy)
	if err != nil {
		return nil, apperrors.NewInternalError(fmt.Errorf("evaluation aborted: %w", err))
	}
	result.Metadata.Action = action
	return result, nil
}

func (m *Manager) refine(ctx context.Context, sess *Session, ag *agents, message string) (string, string, error) {
	decision := ag.router.Classify(ctx, message, sess.Result, sess.Profile)
	action := string(decision.Action)

	var response string
	var err error
	switch decision.Action {
	case evaluation.ActionClarify:
		response = decision.Params.Question
		if response == "" {
			response = "Could you be more specific about how to refine the results?"
		}
	case evaluation.ActionSearchFailed:
		response = "The previous search did not produce results to refine. Try a new search query."
	case evaluation.ActionUndo:
		response = m.applyUndo(sess)
	case evaluation.ActionExclude:
		response, err = m.applyExclude(sess, decision.Params.Names)
	case evaluation.ActionAdjustWeight:
		response, err = m.applyWeightAdjust(sess, decision.Params.Dimension, decision.Params.Weight)
	case evaluation.ActionFiltered:
		response = m.applyFilter(sess, decision.Params, message)
	case evaluation.ActionReordered:
		response = m.applyReorder(sess, firstNonEmpty(decision.Params.Criterion, message))
	case evaluation.ActionNarrowed:
		response = m.applyNarrow(sess, decision.Params.TopK)
	case evaluation.ActionExpanded:
		response, err = m.applyExpand(ctx, sess, ag, firstNonEmpty(decision.Params.Query, message))
	case evaluation.ActionRefined:
		response, err = m.applyRefined(ctx, sess, ag, firstNonEmpty(decision.Params.Constraint, message))
	default:
		response = "I couldn't map that request to a refinement. " + decision.Params.Question
	}
	return action, response, err
}

func (m *Manager) applyUndo(sess *Session) string {
	if !sess.undo() {
		return "Nothing to undo."
	}
	return "Reverted to the previous result."
}

func (m *Manager) applyExclude(sess *Session, names []string) (string, error) {
	if len(names) == 0 {
		return "Which candidates should I exclude? Name them and I'll remove them.", nil
	}

	var excludedIDs []string
	var unknown []string
	for _, name := range names {
		cand, ok := sess.Candidates.FindByName(name)
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		excludedIDs = append(excludedIDs, cand.ID)
	}
	if len(excludedIDs) == 0 {
		return "No candidates matched: " + strings.Join(unknown, ", "), nil
	}

	sess.checkpoint(m.cfg.Session.HistoryDepth)
	gone := make(map[string]bool, len(excludedIDs))
	for _, id := range excludedIDs {
		sess.Candidates.Exclude(id, "user requested")
		gone[id] = true
	}

	// Scores stay as computed; the excluded rows just leave the ranking.
	var kept []models.CandidateEvaluation
	for _, e := range sess.Result.Evaluations {
		if !gone[e.CandidateID] {
			kept = append(kept, e)
		}
	}
	m.rebuild(sess, kept, string(evaluation.ActionExclude), true)

	response := fmt.Sprintf("Excluded %d candidate(s); %d remain.", len(excludedIDs), len(kept))
	if len(unknown) > 0 {
		response += " Not found: " + strings.Join(unknown, ", ") + "."
	}
	return response, nil
}

func (m *Manager) applyWeightAdjust(sess *Session, dimension string, weight float64) (string, error) {
	key := resolveDimensionKey(sess.Strategy, dimension)
	newStrategy, err := evaluation.ApplyWeightAdjustment(sess.Strategy, key, weight)
	if err != nil {
		return "", err
	}

	sess.checkpoint(m.cfg.Session.HistoryDepth)
	sess.Strategy = newStrategy

	// Re-fuse and re-rank from the existing score matrix; no analyst calls.
	evals := append([]models.CandidateEvaluation(nil), sess.Result.Evaluations...)
	for i := range evals {
		evals[i].FinalScore = evaluation.FuseScore(evals[i].DimensionScores, newStrategy)
		if allSentinel(evals[i].DimensionScores) {
			evals[i].FinalScore = 0
		}
	}
	m.rebuild(sess, evals, string(evaluation.ActionAdjustWeight), true)

	return fmt.Sprintf("Set %s to %.0f%% and re-ranked from the existing scores.", key, weight*100), nil
}

func (m *Manager) applyFilter(sess *Session, params evaluation.ActionParams, message string) string {
	if params.Criterion == "" && len(params.Industries) == 0 && len(params.Locations) == 0 && len(params.Names) == 0 {
		params.Criterion = message
	}

	var kept []models.CandidateEvaluation
	removed := 0
	for _, e := range sess.Result.Evaluations {
		if filterMatches(e, params) {
			removed++
			continue
		}
		kept = append(kept, e)
	}

	if removed == 0 {
		return "No current results match that filter. If you want candidates like that, try expanding the search instead."
	}
	if len(kept) == 0 {
		return "That filter would remove every result, so I left them unchanged."
	}

	sess.checkpoint(m.cfg.Session.HistoryDepth)
	m.rebuild(sess, kept, string(evaluation.ActionFiltered), true)
	return fmt.Sprintf("Filtered out %d result(s); %d remain.", removed, len(kept))
}

func (m *Manager) applyReorder(sess *Session, criterion string) string {
	evals := append([]models.CandidateEvaluation(nil), sess.Result.Evaluations...)
	sorted, how := reorderEvaluations(evals, criterion)
	if how == "" {
		return "I couldn't map that to a sortable criterion. Try a dimension name, 'confidence' or 'name'."
	}

	sess.checkpoint(m.cfg.Session.HistoryDepth)
	for i := range sorted {
		sorted[i].Rank = i + 1
	}
	m.rebuild(sess, sorted, string(evaluation.ActionReordered), false)
	return "Re-sorted results by " + how + "."
}

func (m *Manager) applyNarrow(sess *Session, topK int) string {
	if topK <= 0 {
		topK = 5
	}
	evals := sess.Result.Evaluations
	if topK >= len(evals) {
		return fmt.Sprintf("Already showing all %d results.", len(evals))
	}

	sess.checkpoint(m.cfg.Session.HistoryDepth)
	kept := append([]models.CandidateEvaluation(nil), evals[:topK]...)
	m.rebuild(sess, kept, string(evaluation.ActionNarrowed), false)
	return fmt.Sprintf("Narrowed to the top %d results.", topK)
}

func (m *Manager) applyExpand(ctx context.Context, sess *Session, ag *agents, query string) (string, error) {
	costNow := func() float64 { return sess.Ledger.Summary().TotalCost }

	var found []models.Candidate
	var failMsg string
	for ev := range m.pipelineFor(ag).Run(ctx, sess.Profile, query, costNow) {
		switch ev.Type {
		case search.EventComplete:
			found = ev.Candidates
		case search.EventError:
			failMsg = ev.Message
		}
	}
	if failMsg != "" {
		return "Search failed: " + failMsg, nil
	}

	evaluated := make(map[string]bool, len(sess.Result.Evaluations))
	for _, e := range sess.Result.Evaluations {
		evaluated[e.CandidateID] = true
	}

	// Snapshot before the upserts so undo removes the additions too.
	handle := sess.Candidates.Snapshot()
	var fresh []models.Candidate
	for _, c := range found {
		c = sess.Candidates.Upsert(c)
		if !evaluated[c.ID] {
			fresh = append(fresh, c)
		}
	}
	if len(fresh) == 0 {
		sess.Candidates.Rollback(handle)
		return "Search finished but found no new candidates beyond the current set.", nil
	}

	// Only the new arrivals go through the analysts.
	addition, err := m.runEvaluation(ctx, sess, ag, fresh, sess.Strategy, string(evaluation.ActionExpanded))
	if err != nil {
		sess.Candidates.Rollback(handle)
		return "", err
	}

	sess.checkpointWith(handle, m.cfg.Session.HistoryDepth)
	merged := append(append([]models.CandidateEvaluation(nil), sess.Result.Evaluations...), addition.Evaluations...)
	sess.Result.ConflictsResolved = append(sess.Result.ConflictsResolved, addition.ConflictsResolved...)
	m.rebuild(sess, merged, string(evaluation.ActionExpanded), true)

	return fmt.Sprintf("Added %d new candidate(s); %d now ranked.", len(fresh), len(merged)), nil
}

func (m *Manager) applyRefined(ctx context.Context, sess *Session, ag *agents, constraint string) (string, error) {
	newStrategy, changes, err := ag.planner.Modify(ctx, sess.Strategy, constraint, sess.Profile)
	if err != nil {
		return "", err
	}

	result, err := m.runEvaluation(ctx, sess, ag, sess.Candidates.Active(), newStrategy, string(evaluation.ActionRefined))
	if err != nil {
		return "", err
	}

	sess.checkpoint(m.cfg.Session.HistoryDepth)
	sess.Strategy = newStrategy
	sess.Result = result

	response := "Re-evaluated with the amended strategy. " + result.Summary
	if len(changes) > 0 {
		response = "Changes made:\n- " + strings.Join(changes, "\n- ") + "\n\n" + response
	}
	return response, nil
}

var externalCandidatesSchema = llm.MustSchema("external_candidates", `{
	"type": "object",
	"required": ["candidates"],
	"properties": {
		"candidates": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["name"],
				"properties": {
					"name": {"type": "string"},
					"website": {"type": "string"},
					"industry": {"type": "string"},
					"location": {"type": "string"},
					"size": {"type": "string"},
					"founded": {"type": "integer"},
					"employee_count": {"type": "integer"},
					"funding_total": {"type": "string"},
					"last_funding": {"type": "string"},
					"description": {"type": "string"}
				}
			}
		}
	}
}`)

// evaluateExternal parses pasted text into candidates and scores the new ones
// against the current strategy.
func (m *Manager) evaluateExternal(ctx context.Context, sess *Session, ag *agents, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", apperrors.NewStrategyInvalidError("no text to parse")
	}

	var out struct {
		Candidates []struct {
			Name string `json:"name"`
			models.CandidateInfo
		} `json:"candidates"`
	}
	_, err := ag.sc.CompleteInto(ctx, llm.Request{
		Model:        m.cfg.LLM.Models.Chat,
		Role:         "chat",
		OperationTag: "external:parse",
		Schema:       externalCandidatesSchema,
		Temperature:  0,
		Messages: []llm.Message{
			{Role: "system", Content: "You extract company mentions from pasted text into structured candidate records. Return only JSON."},
			{Role: "user", Content: "Extract every company mentioned as a potential partner from the following text. Return JSON: {\"candidates\": [{\"name\": ..., \"website\": ..., \"industry\": ..., \"location\": ..., \"description\": ...}]}\n\n" + text},
		},
	}, &out)
	if err != nil {
		return "", err
	}
	if len(out.Candidates) == 0 {
		return "I couldn't find any company names in that text.", nil
	}

	evaluated := make(map[string]bool, len(sess.Result.Evaluations))
	for _, e := range sess.Result.Evaluations {
		evaluated[e.CandidateID] = true
	}

	// Snapshot before the upserts so undo removes the additions too.
	handle := sess.Candidates.Snapshot()
	var fresh []models.Candidate
	for _, pc := range out.Candidates {
		if strings.TrimSpace(pc.Name) == "" {
			continue
		}
		cand := sess.Candidates.Upsert(models.Candidate{
			Name:       pc.Name,
			Info:       pc.CandidateInfo,
			Provenance: models.ProvenanceExternalPaste,
		})
		if !evaluated[cand.ID] {
			fresh = append(fresh, cand)
		}
	}
	if len(fresh) == 0 {
		sess.Candidates.Rollback(handle)
		return "All pasted companies are already in the ranking.", nil
	}

	addition, err := m.runEvaluation(ctx, sess, ag, fresh, sess.Strategy, "evaluate_external")
	if err != nil {
		sess.Candidates.Rollback(handle)
		return "", err
	}

	sess.checkpointWith(handle, m.cfg.Session.HistoryDepth)
	merged := append(append([]models.CandidateEvaluation(nil), sess.Result.Evaluations...), addition.Evaluations...)
	sess.Result.ConflictsResolved = append(sess.Result.ConflictsResolved, addition.ConflictsResolved...)
	m.rebuild(sess, merged, "evaluate_external", true)

	return fmt.Sprintf("Parsed %d company(ies), evaluated %d new one(s).", len(out.Candidates), len(fresh)), nil
}

// rebuild reassembles the session result from an evaluation list. When rerank
// is false the list's existing order and ranks are kept.
func (m *Manager) rebuild(sess *Session, evals []models.CandidateEvaluation, action string, rerank bool) {
	if rerank {
		evaluation.Rank(evals)
	}

	surviving := make(map[string]bool, len(evals))
	for _, e := range evals {
		surviving[e.CandidateName] = true
	}
	var conflicts []models.ConflictRecord
	for _, c := range sess.Result.ConflictsResolved {
		if surviving[c.Candidate] {
			conflicts = append(conflicts, c)
		}
	}

	result := evaluation.AssembleResult(evals, sess.Strategy, conflicts)
	result.Summary = resultSummary(result)
	result.Metadata = models.ResultMetadata{
		GeneratedAt:   time.Now().UTC(),
		CandidateUsed: len(evals),
		ModelUsed:     m.cfg.LLM.Models.Evaluation,
		Action:        action,
	}
	sess.Result = result
}

func resultSummary(result *models.EvaluationResult) string {
	if len(result.Evaluations) == 0 {
		return "No candidates in the current result."
	}
	best := result.Evaluations[0]
	return fmt.Sprintf("%d candidates ranked across %d dimensions. Top match: %s (%.1f/100).",
		len(result.Evaluations), len(result.Strategy.Dimensions), best.CandidateName, best.FinalScore)
}

func viewSummary(sess *Session) string {
	switch sess.Phase {
	case PhaseInit:
		return fmt.Sprintf("Session for %s with %d candidate(s). No strategy yet.",
			sess.Profile.CompanyName, len(sess.Candidates.Active()))
	case PhasePlanning:
		return evaluation.Summary(sess.Strategy)
	case PhaseEvaluating:
		return "Evaluation is in progress."
	default:
		if sess.Result == nil {
			return "No result available."
		}
		return sess.Result.Summary
	}
}

// filterMatches reports whether the evaluation matches any of the removal
// parameters.
func filterMatches(e models.CandidateEvaluation, params evaluation.ActionParams) bool {
	hay := strings.ToLower(strings.Join([]string{
		e.CandidateName, e.CandidateInfo.Industry, e.CandidateInfo.Location, e.CandidateInfo.Description,
	}, " "))

	for _, ind := range params.Industries {
		if ind != "" && strings.Contains(hay, strings.ToLower(ind)) {
			return true
		}
	}
	for _, loc := range params.Locations {
		if loc != "" && strings.Contains(hay, strings.ToLower(loc)) {
			return true
		}
	}
	for _, name := range params.Names {
		if models.NormalizeName(name) == models.NormalizeName(e.CandidateName) {
			return true
		}
	}
	for _, token := range criterionTokens(params.Criterion) {
		if strings.Contains(hay, token) {
			return true
		}
	}
	return false
}

// criterionTokens strips command words out of a free-text filter criterion.
var criterionStopwords = map[string]bool{
	"remove": true, "exclude": true, "filter": true, "out": true, "without": true,
	"the": true, "all": true, "any": true, "please": true, "from": true,
	"results": true, "result": true, "list": true, "ones": true, "them": true,
}

func criterionTokens(criterion string) []string {
	var out []string
	for _, tok := range strings.Fields(strings.ToLower(criterion)) {
		tok = strings.Trim(tok, ".,!?\"'")
		if len(tok) < 3 || criterionStopwords[tok] {
			continue
		}
		out = append(out, tok)
	}
	return out
}

// reorderEvaluations sorts by the named criterion: a dimension, confidence or
// name. The second return names what was applied, empty when unmapped.
func reorderEvaluations(evals []models.CandidateEvaluation, criterion string) ([]models.CandidateEvaluation, string) {
	crit := strings.ToLower(criterion)

	for _, spec := range evaluation.Dimensions() {
		if strings.Contains(crit, spec.Key) || strings.Contains(crit, strings.ToLower(spec.Label)) {
			key := spec.Key
			sortEvals(evals, func(a, b models.CandidateEvaluation) bool {
				return dimensionScoreOf(a, key) > dimensionScoreOf(b, key)
			})
			return evals, spec.Label + " score"
		}
	}
	if strings.Contains(crit, "confidence") {
		sortEvals(evals, func(a, b models.CandidateEvaluation) bool {
			return a.MeanConfidence() > b.MeanConfidence()
		})
		return evals, "confidence"
	}
	if strings.Contains(crit, "name") || strings.Contains(crit, "alphabet") {
		sortEvals(evals, func(a, b models.CandidateEvaluation) bool {
			return a.CandidateName < b.CandidateName
		})
		return evals, "name"
	}
	return evals, ""
}

func sortEvals(evals []models.CandidateEvaluation, less func(a, b models.CandidateEvaluation) bool) {
	sort.SliceStable(evals, func(i, j int) bool { return less(evals[i], evals[j]) })
}

func dimensionScoreOf(e models.CandidateEvaluation, dimension string) int {
	for _, ds := range e.DimensionScores {
		if ds.Dimension == dimension {
			return ds.Score
		}
	}
	return -1
}

// resolveDimensionKey accepts either a registry key or a display label.
func resolveDimensionKey(strategy *models.EvaluationStrategy, dimension string) string {
	if strategy.HasDimension(dimension) {
		return dimension
	}
	lower := strings.ToLower(strings.TrimSpace(dimension))
	for _, spec := range evaluation.Dimensions() {
		if strings.ToLower(spec.Label) == lower || spec.Key == lower {
			return spec.Key
		}
	}
	return dimension
}

func allSentinel(scores []models.DimensionScore) bool {
	if len(scores) == 0 {
		return false
	}
	for _, sc := range scores {
		if !sc.IsSentinel() {
			return false
		}
	}
	return true
}

func containsAnyOf(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
