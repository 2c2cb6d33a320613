package errors

import sterrors "errors"

var (
	ErrServiceRequired      = sterrors.New("meshkit: runtime service is required")
	ErrHandlerRequired      = sterrors.New("meshkit: handler function is required")
	ErrConsumeQueueRequired = sterrors.New("meshkit: consume queue is required")
	ErrHandlerNameRequired  = sterrors.New("meshkit: handler name is required")
	ErrPayloadTypeRequired  = sterrors.New("meshkit: payload type is required")
	ErrPayloadPointerNeeded = sterrors.New("meshkit: payload type must be a pointer")
	ErrPublisherRequired    = sterrors.New("meshkit: publisher is required")
	ErrTopicRequired        = sterrors.New("meshkit: topic is required")
	ErrEventPayloadRequired = sterrors.New("meshkit: event payload is required")

	// ErrCircuitOpen is returned without invoking the wrapped call while a
	// breaker is open. Callers should treat it as "temporarily unavailable"
	// and fall back, not as a hard failure.
	ErrCircuitOpen = sterrors.New("meshkit: circuit open")

	// Not-found sentinels surface as 404-class results on the HTTP API and
	// never abort the process.
	ErrMessageNotFound  = sterrors.New("meshkit: message not found")
	ErrInstanceNotFound = sterrors.New("meshkit: service instance not found")
	ErrTraceNotFound    = sterrors.New("meshkit: trace not found")
	ErrBreakerNotFound  = sterrors.New("meshkit: circuit breaker not found")

	// ErrQueuePaused is returned by Send when the target logical queue has
	// been paused by an operator.
	ErrQueuePaused = sterrors.New("meshkit: queue is paused")

	// ErrMessageNotRetryable is returned when a retry or replay targets a
	// message whose current status does not allow it. Surfaces as a 409 on
	// the HTTP API.
	ErrMessageNotRetryable = sterrors.New("meshkit: message is not in a retryable state")

	ErrConfigRequired = sterrors.New("meshkit: configuration is required")
	ErrLoggerRequired = sterrors.New("meshkit: logger is required")
)

// ConfigValidationError wraps a configuration validation failure so callers
// can distinguish it from runtime errors.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "meshkit: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError wraps err in a ConfigValidationError. Returns nil
// for a nil err.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
