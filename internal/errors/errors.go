// Package errors classifies failures into the orchestrator's error taxonomy
// so callers can decide propagation policy without inspecting error strings.
package errors

import (
	"errors"
	"fmt"
)

// Kind is the category of a surfaced failure, per the error handling design.
type Kind int

const (
	// KindValidation is a client-observable 4xx.
	KindValidation Kind = iota
	// KindSessionMissing is a 404 on explicit reads; /chat transparently creates instead.
	KindSessionMissing
	// KindProviderFailure is surfaced only after every configured LLM provider is exhausted.
	KindProviderFailure
	// KindDispatchFailure produces an error completion synchronously.
	KindDispatchFailure
	// KindAgentTimeout is synthesized by the correlation sweeper.
	KindAgentTimeout
	// KindStoreOutage degrades responses with degraded:true.
	KindStoreOutage
	// KindProtocolError is a malformed bus envelope; logged and dropped.
	KindProtocolError
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindSessionMissing:
		return "session_missing"
	case KindProviderFailure:
		return "provider_failure"
	case KindDispatchFailure:
		return "dispatch_failure"
	case KindAgentTimeout:
		return "agent_timeout"
	case KindStoreOutage:
		return "store_outage"
	case KindProtocolError:
		return "protocol_error"
	default:
		return "unknown"
	}
}

// Code returns the stable machine-readable code surfaced to clients.
func (k Kind) Code() string {
	switch k {
	case KindValidation:
		return "VALIDATION_ERROR"
	case KindSessionMissing:
		return "SESSION_NOT_FOUND"
	case KindProviderFailure:
		return "PROVIDER_UNAVAILABLE"
	case KindDispatchFailure:
		return "DISPATCH_FAILED"
	case KindAgentTimeout:
		return "AGENT_TIMEOUT"
	case KindStoreOutage:
		return "STORE_OUTAGE"
	case KindProtocolError:
		return "PROTOCOL_ERROR"
	default:
		return "UNKNOWN_ERROR"
	}
}

// Classified wraps an error with its kind and an optional correlation id, so
// the taxonomy survives as it's passed up through the engine.
type Classified struct {
	Original      error
	CorrelationID string
	Kind          Kind
}

func (c *Classified) Error() string {
	if c.Original == nil {
		return fmt.Sprintf("classified error: kind=%s", c.Kind)
	}
	return fmt.Sprintf("%s: %v", c.Kind, c.Original)
}

func (c *Classified) Unwrap() error { return c.Original }

// New wraps err with the given kind.
func New(kind Kind, err error) *Classified {
	return &Classified{Kind: kind, Original: err}
}

// WithCorrelation attaches a correlation id to a classified error.
func (c *Classified) WithCorrelation(id string) *Classified {
	c.CorrelationID = id
	return c
}

// As is a thin re-export of errors.As so callers don't need a second import
// when they already depend on this package for Classified.
func As(err error, target any) bool { return errors.As(err, target) }

// Sentinel errors raised by leaf components; the engine classifies them into
// Kind values when it decides how to propagate a failure.
var (
	ErrConflict         = errors.New("session store: concurrent write conflict")
	ErrDispatchTimeout  = errors.New("message bus: dispatch exceeded flush deadline")
	ErrSessionNotFound  = errors.New("session not found")
	ErrValidation       = errors.New("validation failed")
	ErrProviderTimeout  = errors.New("llm provider: timeout")
	ErrProviderRateLimited = errors.New("llm provider: rate limited")
	ErrProviderBadInput = errors.New("llm provider: bad input")
	ErrProviderUnavailable = errors.New("llm provider: unavailable")
	ErrCircuitOpen      = errors.New("llm provider: circuit open")
	ErrNoConnection     = errors.New("push hub: no live connection for session")
)

// IsSoft reports whether err is one of the LLM provider failure modes that
// should trigger failover to the next provider in the registry, as opposed
// to ErrProviderBadInput which is hard and must not be retried.
func IsSoft(err error) bool {
	return errors.Is(err, ErrProviderTimeout) ||
		errors.Is(err, ErrProviderRateLimited) ||
		errors.Is(err, ErrProviderUnavailable)
}
