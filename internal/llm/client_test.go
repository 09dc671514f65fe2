package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "partnerscope/internal/common/errors"
	"partnerscope/internal/common/logger"
	"partnerscope/internal/cost"
)

// fakeProvider serves the chat-completions wire format with scripted
// per-call behavior.
type fakeProvider struct {
	mu      sync.Mutex
	calls   int
	bodies  []chatRequest
	handler func(call int) (status int, content string)
}

func (f *fakeProvider) serve(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	f.calls++
	call := f.calls
	f.bodies = append(f.bodies, req)
	f.mu.Unlock()

	status, content := f.handler(call)
	if status != http.StatusOK {
		w.WriteHeader(status)
		fmt.Fprint(w, `{"error": "boom"}`)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
		"usage": map[string]int{"prompt_tokens": 100, "completion_tokens": 40},
	})
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestClient(t *testing.T, provider *fakeProvider, cfg Config) (*Client, *cost.Ledger) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(provider.serve))
	t.Cleanup(srv.Close)

	cfg.BaseURL = srv.URL
	cfg.APIKey = "test-key"
	client := NewClient(cfg, DefaultPriceTable(), logger.NewTestLogger(t))
	return client, cost.NewLedger()
}

func plainRequest() Request {
	return Request{
		Model:        "gpt-4o-mini",
		Role:         "evaluation",
		OperationTag: "test:plain",
		Messages:     []Message{{Role: "user", Content: "hello"}},
	}
}

func TestCompleteRecordsUsageAndCost(t *testing.T) {
	provider := &fakeProvider{handler: func(int) (int, string) {
		return http.StatusOK, "partner analysis text"
	}}
	client, ledger := newTestClient(t, provider, Config{})

	res, err := client.Complete(context.Background(), plainRequest(), ledger)
	require.NoError(t, err)
	assert.Equal(t, "partner analysis text", res.Text)
	assert.Equal(t, 100, res.Usage.InputTokens)
	assert.Equal(t, 40, res.Usage.OutputTokens)

	sum := ledger.Summary()
	assert.Equal(t, 1, sum.Operations)
	assert.Equal(t, 100, sum.InputTokens)
	// gpt-4o-mini: 0.15 in / 0.60 out per 1M tokens.
	assert.InDelta(t, 100.0/1e6*0.15+40.0/1e6*0.60, sum.TotalCost, 1e-12)
}

func TestSchemaRepairRetriesThenSucceeds(t *testing.T) {
	provider := &fakeProvider{handler: func(call int) (int, string) {
		if call == 1 {
			return http.StatusOK, `{"score": "not an integer"}`
		}
		return http.StatusOK, `{"score": 88}`
	}}
	client, ledger := newTestClient(t, provider, Config{})

	req := plainRequest()
	req.Schema = testSchema

	var out struct {
		Score int `json:"score"`
	}
	_, err := client.CompleteInto(context.Background(), req, ledger, &out)
	require.NoError(t, err)
	assert.Equal(t, 88, out.Score)
	assert.Equal(t, 2, provider.callCount())

	// The repair turn carries the bad reply and the validation errors.
	second := provider.bodies[1]
	require.Greater(t, len(second.Messages), len(req.Messages))
	assert.Contains(t, second.Messages[len(second.Messages)-1].Content, "did not match the required JSON schema")

	// Every round trip was billed.
	assert.Equal(t, 2, ledger.Summary().Operations)
}

func TestSchemaErrorAfterRepairBudget(t *testing.T) {
	provider := &fakeProvider{handler: func(int) (int, string) {
		return http.StatusOK, `{"wrong": true}`
	}}
	client, ledger := newTestClient(t, provider, Config{RepairRetries: 1})

	req := plainRequest()
	req.Schema = testSchema

	_, err := client.Complete(context.Background(), req, ledger)
	require.Error(t, err)
	se := apperrors.AsStandard(err)
	assert.Equal(t, apperrors.ErrCodeLLMSchemaError, se.Code)
	assert.Equal(t, 2, provider.callCount(), "initial call plus one repair")
}

func TestTransientFailureIsRetried(t *testing.T) {
	provider := &fakeProvider{handler: func(call int) (int, string) {
		if call == 1 {
			return http.StatusServiceUnavailable, ""
		}
		return http.StatusOK, "recovered"
	}}
	client, ledger := newTestClient(t, provider, Config{})

	res, err := client.Complete(context.Background(), plainRequest(), ledger)
	require.NoError(t, err)
	assert.Equal(t, "recovered", res.Text)
	assert.Equal(t, 2, provider.callCount())
}

func TestTransientBudgetExhausted(t *testing.T) {
	provider := &fakeProvider{handler: func(int) (int, string) {
		return http.StatusTooManyRequests, ""
	}}
	client, _ := newTestClient(t, provider, Config{MaxRetries: 2})

	_, err := client.Complete(context.Background(), plainRequest(), nil)
	require.Error(t, err)
	se := apperrors.AsStandard(err)
	assert.Equal(t, apperrors.ErrCodeLLMTransientError, se.Code)
	assert.True(t, se.Retryable)
	assert.Equal(t, 2, provider.callCount(), "MaxRetries bounds total attempts")
}

func TestDefaultRetryBudgetIsThreeAttempts(t *testing.T) {
	provider := &fakeProvider{handler: func(int) (int, string) {
		return http.StatusServiceUnavailable, ""
	}}
	client, _ := newTestClient(t, provider, Config{})

	_, err := client.Complete(context.Background(), plainRequest(), nil)
	require.Error(t, err)
	assert.Equal(t, 3, provider.callCount())
}

func TestNonTransientFailureDoesNotRetry(t *testing.T) {
	provider := &fakeProvider{handler: func(int) (int, string) {
		return http.StatusBadRequest, ""
	}}
	client, _ := newTestClient(t, provider, Config{})

	_, err := client.Complete(context.Background(), plainRequest(), nil)
	require.Error(t, err)
	assert.Equal(t, 1, provider.callCount())
	se := apperrors.AsStandard(err)
	assert.Equal(t, apperrors.ErrCodeInternal, se.Code)
}

func TestCancelledCallStillBooksEvent(t *testing.T) {
	provider := &fakeProvider{handler: func(int) (int, string) {
		return http.StatusOK, "never reached"
	}}
	client, ledger := newTestClient(t, provider, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Complete(ctx, plainRequest(), ledger)
	require.Error(t, err)

	events := ledger.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "cancelled", events[0].OperationTag)
	assert.Zero(t, events[0].InputTokens)
	assert.Zero(t, events[0].TotalCost)
}

func TestWebSearchBillsFlatRate(t *testing.T) {
	provider := &fakeProvider{handler: func(int) (int, string) {
		return http.StatusOK, "web result"
	}}
	client, ledger := newTestClient(t, provider, Config{})

	res, err := client.WebSearch(context.Background(), plainRequest(), ledger)
	require.NoError(t, err)
	assert.Equal(t, 1, res.WebSearchCalls)

	sum := ledger.Summary()
	assert.Equal(t, 1, sum.WebSearchCalls)
	assert.InDelta(t, 0.01, sum.WebSearchCost, 1e-12)
}

func TestSessionClientBindsLedger(t *testing.T) {
	provider := &fakeProvider{handler: func(int) (int, string) {
		return http.StatusOK, "ok"
	}}
	client, ledger := newTestClient(t, provider, Config{})

	sc := client.ForSession(ledger)
	_, err := sc.Complete(context.Background(), plainRequest())
	require.NoError(t, err)
	assert.Equal(t, 1, sc.Ledger().Summary().Operations)
}
