package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/voicegate/types"
)

func TestHealth_Liveness(t *testing.T) {
	h := NewHealthHandler("1.2.3", zap.NewNop())
	rec := httptest.NewRecorder()
	h.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "1.2.3", status.Version)
}

func TestHealth_ReadyAllPass(t *testing.T) {
	h := NewHealthHandler("", zap.NewNop())
	h.RegisterCheck(CheckFunc{CheckName: "pool", Fn: func(context.Context) error { return nil }})

	rec := httptest.NewRecorder()
	h.HandleReady(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "pass", status.Checks["pool"].Status)
}

func TestHealth_ReadyFailure(t *testing.T) {
	h := NewHealthHandler("", zap.NewNop())
	h.RegisterCheck(CheckFunc{CheckName: "ok", Fn: func(context.Context) error { return nil }})
	h.RegisterCheck(CheckFunc{CheckName: "bad", Fn: func(context.Context) error {
		return errors.New("draining")
	}})

	rec := httptest.NewRecorder()
	h.HandleReady(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "pass", status.Checks["ok"].Status)
	assert.Equal(t, "fail", status.Checks["bad"].Status)
	assert.Equal(t, "draining", status.Checks["bad"].Message)
}

func TestWriteError_StatusMapping(t *testing.T) {
	cases := []struct {
		code   types.ErrorCode
		status int
	}{
		{types.ErrInvalidRequest, http.StatusBadRequest},
		{types.ErrInvalidMode, http.StatusUnprocessableEntity},
		{types.ErrSessionNotFound, http.StatusNotFound},
		{types.ErrSessionEnded, http.StatusConflict},
		{types.ErrCapacityExceeded, http.StatusServiceUnavailable},
		{types.ErrResourceUnavailable, http.StatusServiceUnavailable},
		{types.ErrInternalError, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(string(tc.code), func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, types.NewError(tc.code, "boom"), zap.NewNop())
			assert.Equal(t, tc.status, rec.Code)

			var resp Response
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			assert.Equal(t, string(tc.code), resp.Error.Code)
		})
	}
}

func TestWriteError_PlainErrorBecomesInternal(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, errors.New("plain failure"), zap.NewNop())
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(types.ErrInternalError), resp.Error.Code)
}

func TestWriteError_ExplicitHTTPStatusWins(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, types.NewError(types.ErrInvalidRequest, "gone").WithHTTPStatus(http.StatusGone), zap.NewNop())
	assert.Equal(t, http.StatusGone, rec.Code)
}
