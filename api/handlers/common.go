package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/voicegate/types"
)

// Response is the unified API response envelope.
type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *ErrorInfo  `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ErrorInfo carries a structured error in the response envelope.
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// WriteJSON writes a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a success envelope with status 200.
func WriteSuccess(w http.ResponseWriter, data interface{}) {
	WriteStatus(w, http.StatusOK, data)
}

// WriteStatus writes a success envelope with an explicit status.
func WriteStatus(w http.ResponseWriter, status int, data interface{}) {
	WriteJSON(w, status, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// WriteError writes an error envelope, mapping the error code to an HTTP
// status. Non-structured errors are reported as internal errors.
func WriteError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var verr *types.Error
	if !errors.As(err, &verr) {
		verr = types.NewError(types.ErrInternalError, err.Error())
	}

	status := verr.HTTPStatus
	if status == 0 {
		status = statusForCode(verr.Code)
	}
	if verr.Retryable && status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}

	if logger != nil {
		logger.Warn("request failed",
			zap.String("code", string(verr.Code)),
			zap.Int("status", status),
			zap.Error(err))
	}

	WriteJSON(w, status, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:      string(verr.Code),
			Message:   verr.Message,
			Retryable: verr.Retryable,
		},
		Timestamp: time.Now(),
	})
}

func statusForCode(code types.ErrorCode) int {
	switch code {
	case types.ErrInvalidRequest:
		return http.StatusBadRequest
	case types.ErrInvalidMode:
		return http.StatusUnprocessableEntity
	case types.ErrSessionNotFound:
		return http.StatusNotFound
	case types.ErrSessionEnded:
		return http.StatusConflict
	case types.ErrCapacityExceeded, types.ErrResourceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON parses a request body into dst, rejecting unknown fields.
func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return types.NewError(types.ErrInvalidRequest, "malformed request body").WithCause(err)
	}
	return nil
}
