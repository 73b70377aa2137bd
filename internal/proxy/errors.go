package proxy

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/svcgate/svcgate/internal/circuitbreaker"
)

// newUpstreamStatusError builds the error fed into failure classification
// when the upstream answers with a server error.
func newUpstreamStatusError(statusCode int) error {
	return circuitbreaker.NewHTTPError(statusCode)
}

// retryAfterSeconds extracts a whole-second hint from an open-circuit error.
func retryAfterSeconds(err error) int {
	var openErr *circuitbreaker.OpenError
	if !errors.As(err, &openErr) || openErr.NextAttempt.IsZero() {
		return 0
	}
	remaining := time.Until(openErr.NextAttempt)
	if remaining <= 0 {
		return 0
	}
	secs := int(remaining / time.Second)
	if remaining%time.Second > 0 {
		secs++
	}
	return secs
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, errName, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: errName, Message: message})
}
