package contract

import "errors"

var (
	ErrModelInvoke          = errors.New("model invoke failed")
	ErrSchemaViolation      = errors.New("model response violates schema")
	ErrValidation           = errors.New("validation failed")
	ErrToolInvocation       = errors.New("tool invocation failed")
	ErrRetrievalUnavailable = errors.New("all retrieval tools failed")
	ErrSynthesisFailed      = errors.New("answer synthesis failed")
	ErrUpstreamTransport    = errors.New("upstream delegate unreachable")
)
