package httpapi

import (
	"crypto/hmac"
	"strings"
)

type authError struct {
	status  int
	code    string
	message string
}

func (e *authError) Error() string {
	return e.message
}

// authorizeBearer checks the Authorization header against the configured
// control token. The comparison is constant time so the token cannot be
// recovered byte by byte, local listener or not.
func authorizeBearer(authHeader, token string) *authError {
	if token == "" {
		return &authError{status: 503, code: "unavailable", message: "control token not configured"}
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return &authError{status: 401, code: "unauthorized", message: "missing or invalid bearer token"}
	}
	presented := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if !hmac.Equal([]byte(presented), []byte(token)) {
		return &authError{status: 401, code: "unauthorized", message: "token mismatch"}
	}
	return nil
}
