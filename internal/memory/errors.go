package memory

import "errors"

// Sentinel errors surfaced by the service and its stores.
var (
	// ErrRecordNotFound indicates an operation on a non-existent record.
	ErrRecordNotFound = errors.New("memory: record not found")

	// ErrPromptNotFound indicates an operation on a non-existent skill prompt.
	ErrPromptNotFound = errors.New("memory: skill prompt not found")

	// ErrRuleNotFound indicates an operation on a non-existent context rule.
	ErrRuleNotFound = errors.New("memory: context rule not found")

	// ErrSkillNotFound indicates an operation on a non-registered skill.
	ErrSkillNotFound = errors.New("memory: skill not found")

	// ErrInvalidInput indicates a caller-supplied value that failed validation.
	ErrInvalidInput = errors.New("memory: invalid input")

	// ErrEmbeddingFailed indicates the embedder produced no usable vector.
	ErrEmbeddingFailed = errors.New("memory: embedding failed")

	// ErrEmbedderNotReady indicates the embedder was asked for a vector
	// before Init completed.
	ErrEmbedderNotReady = errors.New("memory: embedder not ready")

	// ErrDatabase tags failures originating in the backing store.
	ErrDatabase = errors.New("memory: database error")

	// ErrStoreUnavailable indicates the backing database file is locked by
	// another process. The bootstrap layer retries on this error.
	ErrStoreUnavailable = errors.New("memory: store unavailable: database locked")
)

// Code is a stable error code surfaced in response envelopes.
type Code string

// Error codes surfaced to callers.
const (
	CodeInvalidRequest  Code = "INVALID_REQUEST"
	CodeUnauthorized    Code = "UNAUTHORIZED"
	CodePayloadTooLarge Code = "PAYLOAD_TOO_LARGE"
	CodeNotFound        Code = "NOT_FOUND"
	CodeEmbeddingFailed Code = "EMBEDDING_FAILED"
	CodeDatabaseError   Code = "DATABASE_ERROR"
	CodeInternalError   Code = "INTERNAL_ERROR"
)

// CodeOf classifies err into a stable error code. The first unrecoverable
// failure in a request is classified here; unknown errors are INTERNAL_ERROR.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRecordNotFound),
		errors.Is(err, ErrPromptNotFound),
		errors.Is(err, ErrRuleNotFound),
		errors.Is(err, ErrSkillNotFound):
		return CodeNotFound
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidRequest
	case errors.Is(err, ErrEmbeddingFailed), errors.Is(err, ErrEmbedderNotReady):
		return CodeEmbeddingFailed
	case errors.Is(err, ErrDatabase), errors.Is(err, ErrStoreUnavailable):
		return CodeDatabaseError
	default:
		return CodeInternalError
	}
}
