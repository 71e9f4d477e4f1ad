package relayer

import "fmt"

// RelayerError is a coded error surfaced at the service boundary so the HTTP
// layer can map failures to status codes without string matching.
type RelayerError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *RelayerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Common error codes
const (
	ErrCodeInvalidRequest   = "invalid_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeEstimationFailed = "estimation_failed"
	ErrCodeBroadcastFailed  = "broadcast_failed"
	ErrCodePartialFailure   = "partial_failure"
	ErrCodeRateLimited      = "rate_limited"
	ErrCodeUpstreamTimeout  = "upstream_timeout"
	ErrCodeInvalidSignature = "invalid_signature_encoding"
	ErrCodeInvalidAddress   = "invalid_address"
	ErrCodeInvalidAmount    = "invalid_amount"
)

// NewRelayerError creates a new coded relayer error.
func NewRelayerError(code, message string, details map[string]interface{}) *RelayerError {
	return &RelayerError{
		Code:    code,
		Message: message,
		Details: details,
	}
}
