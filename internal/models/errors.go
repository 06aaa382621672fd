package models

import "errors"

var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrEmbeddingUnavailable  = errors.New("embedding unavailable")
	ErrRetrievalUnavailable  = errors.New("retrieval unavailable")
	ErrGenerationUnavailable = errors.New("generation unavailable")
	ErrGenerationTimeout     = errors.New("generation timed out")
	ErrGenerationEmpty       = errors.New("generation returned no candidates")
	ErrDeliveryFailed        = errors.New("delivery failed")
	ErrPersistenceFailed     = errors.New("persistence failed")
)

// ErrorCode maps an error to the machine-readable code sent to clients.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrGenerationTimeout):
		return "generation_timeout"
	case errors.Is(err, ErrGenerationEmpty):
		return "generation_empty"
	case errors.Is(err, ErrGenerationUnavailable):
		return "generation_unavailable"
	case errors.Is(err, ErrDeliveryFailed):
		return "delivery_failed"
	default:
		return "internal_error"
	}
}
