package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatusMapping(t *testing.T) {
	assert.Equal(t, http.StatusConflict, HTTPStatus(ErrCodePhaseViolation))
	assert.Equal(t, http.StatusUnprocessableEntity, HTTPStatus(ErrCodeStrategyInvalid))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(ErrCodeNotFound))
	assert.Equal(t, http.StatusBadGateway, HTTPStatus(ErrCodeLLMTransientError))
	assert.Equal(t, http.StatusGatewayTimeout, HTTPStatus(ErrCodeSearchTimeout))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(ErrCodeInternal))
}

func TestToHTTPPayload(t *testing.T) {
	status, payload := ToHTTPPayload(NewPhaseViolationError("planning", "refine_results"))
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "PHASE_VIOLATION", payload.Error)
	assert.NotEmpty(t, payload.Detail)
	assert.False(t, payload.Retriable)
}

func TestToHTTPPayloadWrapsUnknownErrors(t *testing.T) {
	status, payload := ToHTTPPayload(errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "INTERNAL", payload.Error)
}

func TestAsStandardUnwrapsChain(t *testing.T) {
	inner := NewSearchTimeoutError(2 * time.Minute)
	wrapped := fmt.Errorf("pipeline: %w", inner)

	se := AsStandard(wrapped)
	require.NotNil(t, se)
	assert.Equal(t, ErrCodeSearchTimeout, se.Code)
	assert.Contains(t, se.Details, "2m0s")
	assert.True(t, IsRetryable(wrapped))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewLLMTransientError("gpt-4o-mini", errors.New("503"))))
	assert.False(t, IsRetryable(NewStrategyInvalidError("bad weights")))
	assert.False(t, IsRetryable(errors.New("plain")))
}
