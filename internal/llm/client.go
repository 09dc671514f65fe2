// Package llm is the single gateway every component uses to talk to the
// chat-completions provider. It owns structured-output validation, transient
// retries, rate limiting and cost accounting.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apperrors "partnerscope/internal/common/errors"
	"partnerscope/internal/common/logger"
	"partnerscope/internal/common/metrics"
	"partnerscope/internal/cost"
)

// Config bounds the gateway. Zero values are filled by NewClient.
type Config struct {
	BaseURL        string
	APIKey         string
	CallTimeout    time.Duration
	MaxRetries     int // total provider attempts per call
	RepairRetries  int // schema repair budget per structured call
	MaxConcurrent  int // global in-flight cap
	RequestsPerMin int // per-model token bucket
}

// Message is one chat turn on the wire.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes one gateway call. Role is the engine role the model is
// playing (search, chat, refinement, evaluation) and only labels metrics.
type Request struct {
	Model        string
	Role         string
	OperationTag string
	Messages     []Message
	Schema       *Schema
	Temperature  float64
	MaxTokens    int
	WebSearch    bool
}

// Usage mirrors the provider's token accounting.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Result is a completed gateway call. For structured calls Text holds the
// schema-valid JSON document with fences stripped.
type Result struct {
	Text           string
	Usage          Usage
	WebSearchCalls int
}

// Recorder receives the cost event of every provider round trip, including
// failed and abandoned ones.
type Recorder interface {
	Record(cost.Event)
}

// Client is the process-wide gateway. Sessions wrap it with ForSession to
// bind a cost ledger.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     logger.Logger
	prices     *PriceTable

	sem chan struct{}

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewClient(cfg Config, prices *PriceTable, log logger.Logger) *Client {
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = 90 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RepairRetries == 0 {
		cfg.RepairRetries = 2
	}
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = 16
	}
	if cfg.RequestsPerMin == 0 {
		cfg.RequestsPerMin = 300
	}
	if prices == nil {
		prices = DefaultPriceTable()
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			// Per-call deadlines come from the context.
		},
		logger:   log.With(map[string]interface{}{"component": "llm-gateway"}),
		prices:   prices,
		sem:      make(chan struct{}, cfg.MaxConcurrent),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Prices exposes the loaded table for components that price non-call work.
func (c *Client) Prices() *PriceTable { return c.prices }

// ForSession binds the gateway to a session's cost ledger.
func (c *Client) ForSession(ledger *cost.Ledger) *SessionClient {
	return &SessionClient{c: c, ledger: ledger}
}

// Complete runs one gateway call. When req.Schema is set, the reply is
// validated and repaired up to the repair budget before failing with
// LLMSchemaError.
func (c *Client) Complete(ctx context.Context, req Request, rec Recorder) (*Result, error) {
	if req.Schema == nil {
		return c.callWithRetry(ctx, req, req.Messages, rec)
	}

	messages := append([]Message(nil), req.Messages...)
	var lastErr error

	for repair := 0; repair <= c.cfg.RepairRetries; repair++ {
		res, err := c.callWithRetry(ctx, req, messages, rec)
		if err != nil {
			return nil, err
		}

		cleaned := CleanJSONContent(res.Text)
		if verr := req.Schema.Validate(cleaned); verr != nil {
			lastErr = verr
			c.logger.Warn("structured output failed validation", map[string]interface{}{
				"schema":  req.Schema.Name(),
				"model":   req.Model,
				"attempt": repair + 1,
				"error":   verr.Error(),
			})
			messages = append(messages,
				Message{Role: "assistant", Content: res.Text},
				Message{Role: "user", Content: fmt.Sprintf(
					"Your previous response did not match the required JSON schema. Errors: %s. Respond again with only a corrected JSON document.", verr.Error())},
			)
			continue
		}

		res.Text = cleaned
		return res, nil
	}

	return nil, apperrors.NewLLMSchemaError(req.Model, lastErr)
}

// CompleteInto unmarshals a structured completion into out.
func (c *Client) CompleteInto(ctx context.Context, req Request, rec Recorder, out interface{}) (*Result, error) {
	res, err := c.Complete(ctx, req, rec)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(res.Text), out); err != nil {
		return nil, apperrors.NewLLMSchemaError(req.Model, err)
	}
	return res, nil
}

// WebSearch runs a web-search-augmented completion.
func (c *Client) WebSearch(ctx context.Context, req Request, rec Recorder) (*Result, error) {
	req.WebSearch = true
	return c.Complete(ctx, req, rec)
}

// callWithRetry is one logical provider call: rate limit, concurrency cap,
// then up to MaxRetries total attempts with exponential backoff and jitter on
// transient failures.
func (c *Client) callWithRetry(ctx context.Context, req Request, messages []Message, rec Recorder) (*Result, error) {
	if err := c.limiter(req.Model).Wait(ctx); err != nil {
		c.recordCancelled(req, rec)
		return nil, apperrors.NewLLMTransientError(req.Model, err)
	}

	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		c.recordCancelled(req, rec)
		return nil, apperrors.NewLLMTransientError(req.Model, ctx.Err())
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			backoff := time.Duration(100*(1<<(attempt-2))) * time.Millisecond
			backoff += time.Duration(rand.Int63n(int64(backoff) + 1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				c.recordCancelled(req, rec)
				return nil, apperrors.NewLLMTransientError(req.Model, ctx.Err())
			}
		}

		res, transient, err := c.callOnce(ctx, req, messages, rec)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			c.recordCancelled(req, rec)
			return nil, apperrors.NewLLMTransientError(req.Model, ctx.Err())
		}
		if !transient {
			return nil, apperrors.NewInternalError(err)
		}
	}

	metrics.LLMCallsTotal.WithLabelValues(req.Role, req.Model, "transient_exhausted").Inc()
	return nil, apperrors.NewLLMTransientError(req.Model, lastErr)
}

type chatRequest struct {
	Model            string                 `json:"model"`
	Messages         []Message              `json:"messages"`
	Temperature      float64                `json:"temperature,omitempty"`
	MaxTokens        int                    `json:"max_tokens,omitempty"`
	ResponseFormat   *responseFormat        `json:"response_format,omitempty"`
	WebSearchOptions map[string]interface{} `json:"web_search_options,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// callOnce performs a single HTTP round trip. The bool reports whether the
// failure is transient.
func (c *Client) callOnce(ctx context.Context, req Request, messages []Message, rec Recorder) (*Result, bool, error) {
	payload := chatRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.Schema != nil {
		payload.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	if req.WebSearch {
		payload.WebSearchOptions = map[string]interface{}{}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, false, err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewBuffer(body))
	if err != nil {
		return nil, false, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	metrics.LLMCallDuration.WithLabelValues(req.Role, req.Model).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LLMCallsTotal.WithLabelValues(req.Role, req.Model, "network_error").Inc()
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		transient := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		outcome := "provider_error"
		if transient {
			outcome = "transient_error"
		}
		metrics.LLMCallsTotal.WithLabelValues(req.Role, req.Model, outcome).Inc()
		return nil, transient, fmt.Errorf("status %d: %s", resp.StatusCode, string(raw))
	}

	var apiResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		metrics.LLMCallsTotal.WithLabelValues(req.Role, req.Model, "decode_error").Inc()
		return nil, true, fmt.Errorf("decode error: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		metrics.LLMCallsTotal.WithLabelValues(req.Role, req.Model, "empty_response").Inc()
		return nil, true, fmt.Errorf("empty choices in response")
	}

	res := &Result{
		Text: apiResp.Choices[0].Message.Content,
		Usage: Usage{
			InputTokens:  apiResp.Usage.PromptTokens,
			OutputTokens: apiResp.Usage.CompletionTokens,
		},
	}
	if req.WebSearch {
		res.WebSearchCalls = 1
	}

	c.record(req, res, req.OperationTag, rec)
	metrics.LLMCallsTotal.WithLabelValues(req.Role, req.Model, "success").Inc()

	return res, false, nil
}

func (c *Client) record(req Request, res *Result, tag string, rec Recorder) {
	inCost, outCost := c.prices.TokenCost(req.Model, res.Usage.InputTokens, res.Usage.OutputTokens)
	webCost := c.prices.WebSearchCost(res.WebSearchCalls)

	metrics.LLMTokensTotal.WithLabelValues(req.Model, "input").Add(float64(res.Usage.InputTokens))
	metrics.LLMTokensTotal.WithLabelValues(req.Model, "output").Add(float64(res.Usage.OutputTokens))
	metrics.LLMCostDollars.WithLabelValues(req.Model, tag).Add(inCost + outCost + webCost)

	if rec == nil {
		return
	}
	rec.Record(cost.Event{
		InputTokens:    res.Usage.InputTokens,
		OutputTokens:   res.Usage.OutputTokens,
		InputCost:      inCost,
		OutputCost:     outCost,
		WebSearchCalls: res.WebSearchCalls,
		WebSearchCost:  webCost,
		OperationTag:   tag,
	})
}

// recordCancelled books an abandoned call. Usage is unknown at abandonment so
// only the tag is kept.
func (c *Client) recordCancelled(req Request, rec Recorder) {
	metrics.LLMCallsTotal.WithLabelValues(req.Role, req.Model, "cancelled").Inc()
	if rec == nil {
		return
	}
	rec.Record(cost.Event{OperationTag: "cancelled"})
}

func (c *Client) limiter(model string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if lim, ok := c.limiters[model]; ok {
		return lim
	}
	perSecond := rate.Limit(float64(c.cfg.RequestsPerMin) / 60.0)
	burst := c.cfg.RequestsPerMin / 10
	if burst < 1 {
		burst = 1
	}
	lim := rate.NewLimiter(perSecond, burst)
	c.limiters[model] = lim
	return lim
}

// SessionClient is the gateway bound to one session's ledger. All engine
// components call through this.
type SessionClient struct {
	c      *Client
	ledger *cost.Ledger
}

func (s *SessionClient) Complete(ctx context.Context, req Request) (*Result, error) {
	return s.c.Complete(ctx, req, s.ledger)
}

func (s *SessionClient) CompleteInto(ctx context.Context, req Request, out interface{}) (*Result, error) {
	return s.c.CompleteInto(ctx, req, s.ledger, out)
}

func (s *SessionClient) WebSearch(ctx context.Context, req Request) (*Result, error) {
	return s.c.WebSearch(ctx, req, s.ledger)
}

// Ledger exposes the bound ledger for summary reads.
func (s *SessionClient) Ledger() *cost.Ledger { return s.ledger }
