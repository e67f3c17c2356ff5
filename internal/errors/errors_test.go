package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyrotor/keyrotor/internal/core"
	"github.com/keyrotor/keyrotor/internal/server/middleware"
)

func TestFromPoolMapsSentinels(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		err    error
		code   string
		status int
	}{
		{core.ErrKeyNotFound, CodeNotFound, http.StatusNotFound},
		{fmt.Errorf("delete %q: %w", "k", core.ErrKeyNotFound), CodeNotFound, http.StatusNotFound},
		{core.ErrRateLimitExceeded, CodeRateLimited, http.StatusTooManyRequests},
		{core.ErrNoAvailableKey, CodeNoAvailableKey, http.StatusServiceUnavailable},
		{fmt.Errorf("commit: %w", core.ErrKeyVanished), CodeInternal, http.StatusInternalServerError},
		{context.DeadlineExceeded, CodeTimeout, http.StatusGatewayTimeout},
		{stderrors.New("boom"), CodeInternal, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		env := FromPool(ctx, tc.err)
		require.NotNil(t, env, tc.err.Error())
		assert.Equal(t, tc.code, env.Code, tc.err.Error())
		assert.Equal(t, tc.status, HTTPStatusFromEnvelope(env), tc.err.Error())
		assert.NotEmpty(t, env.CorrelationID, tc.err.Error())
	}
}

func TestHTTPStatusFromCodeDefaultsToInternal(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusFromCode("SOMETHING_ELSE"))
	assert.Equal(t, http.StatusBadRequest, HTTPStatusFromCode(CodeInvalidInput))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusFromEnvelope(nil))
}

func TestRespondWithErrorWritesEnvelope(t *testing.T) {
	var captured *http.Request
	handler := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r
		RespondWithEnvelope(w, r, FromPool(r.Context(), core.ErrNoAvailableKey))
	}))

	req := httptest.NewRequest(http.MethodGet, "/next", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, CodeNoAvailableKey, body.Error.Code)
	assert.Equal(t, "no available API keys", body.Error.Message)
	assert.Equal(t, middleware.GetRequestID(captured.Context()), body.Error.RequestID)
}

func TestEnsureEnvelopeWrapsPlainErrors(t *testing.T) {
	env := EnsureEnvelope(stderrors.New("plain"))
	assert.Equal(t, CodeInternal, env.Code)
	assert.Equal(t, "plain", ResponseDetails(env)["wrapped_error"])

	nilEnv := EnsureEnvelope(nil)
	assert.Equal(t, CodeInternal, nilEnv.Code)
}
