package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/MrEthical07/twofa"
)

const maxBodyBytes = 16 << 10

var errBadBody = errors.New("malformed request body")

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorBody      `json:"error"`
	Login *loginResponse `json:"login,omitempty"`
}

var errorMessages = map[twofa.ErrorCode]string{
	twofa.CodeUnauthorized:       "Authentication required.",
	twofa.CodeInvalidCredentials: "Invalid user name or password.",
	twofa.CodeSessionInvalid:     "The session is invalid or has expired.",
	twofa.CodeCodeInvalid:        "The code is invalid or has expired.",
	twofa.CodeAttemptsExceeded:   "Too many failed attempts. Start again.",
	twofa.CodeRateLimited:        "Too many requests. Try again later.",
	twofa.CodeLockedOut:          "The account is temporarily locked.",
	twofa.CodeNotAllowed:         "Sign-in is not allowed for this account yet.",
	twofa.CodeValidation:         "The request is invalid.",
	twofa.CodeNotEnabled:         "Two-factor authentication is not enabled.",
	twofa.CodeMailUnavailable:    "The code could not be sent.",
	twofa.CodeUnavailable:        "The service is temporarily unavailable.",
	twofa.CodeInternal:           "Internal error.",
}

func statusFor(code twofa.ErrorCode) int {
	switch code {
	case twofa.CodeUnauthorized, twofa.CodeInvalidCredentials, twofa.CodeSessionInvalid:
		return http.StatusUnauthorized
	case twofa.CodeCodeInvalid, twofa.CodeValidation:
		return http.StatusBadRequest
	case twofa.CodeAttemptsExceeded, twofa.CodeRateLimited:
		return http.StatusTooManyRequests
	case twofa.CodeLockedOut:
		return http.StatusLocked
	case twofa.CodeNotAllowed:
		return http.StatusForbidden
	case twofa.CodeNotEnabled:
		return http.StatusConflict
	case twofa.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error, login *loginResponse) {
	code := twofa.ClassifyError(err)
	if errors.Is(err, errBadBody) {
		code = twofa.CodeValidation
	}
	status := statusFor(code)

	if wait, ok := twofa.RetryAfter(err, a.now()); ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
	}
	if status >= http.StatusInternalServerError {
		a.logger.Error().Err(err).Str("path", r.URL.Path).Str("code", string(code)).Msg("request failed")
	}
	writeJSON(w, status, errorEnvelope{
		Error: errorBody{Code: string(code), Message: errorMessages[code]},
		Login: login,
	})
}

func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errBadBody
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
