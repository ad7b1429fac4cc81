package channel

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"chasingclaw/internal/domain"
)

type errorBody struct {
	Error string           `json:"error"`
	Code  domain.ErrorCode `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// retryAfterSeconds is advertised on transient failures.
const retryAfterSeconds = "5"

// writeError maps err to a status code through its domain error code.
// Transient errors carry a Retry-After hint.
func writeError(w http.ResponseWriter, err error) {
	code := domain.ErrorCodeOf(err)
	if domain.IsRetryableError(err) {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	writeJSON(w, statusFor(code), errorBody{Error: err.Error(), Code: code})
}

func statusFor(code domain.ErrorCode) int {
	switch code {
	case domain.CodeInvalidInput, domain.CodeInvalidSchedule, domain.CodeSSRFBlocked:
		return http.StatusBadRequest
	case domain.CodeNotFound, domain.CodeJobNotFound, domain.CodeSessionNotFound:
		return http.StatusNotFound
	case domain.CodeRateLimit:
		return http.StatusTooManyRequests
	case domain.CodeProviderError, domain.CodeAuthInvalid, domain.CodeContextOverflow:
		return http.StatusBadGateway
	case domain.CodeTimeout:
		return http.StatusGatewayTimeout
	case domain.CodeBusClosed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		msg := "invalid JSON: " + err.Error()
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			msg = "request body too large"
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Code: domain.CodeInvalidInput})
		return false
	}
	return true
}

// flexBool accepts JSON booleans as well as "true"/"1"/"yes"/"on" strings
// and numbers.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case bool:
		*b = flexBool(t)
	case float64:
		*b = t != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes", "on":
			*b = true
		default:
			*b = false
		}
	default:
		*b = false
	}
	return nil
}
