package sched

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sakaguchi/xbot/errors"
)

// ErrorKind classifies a stage failure for the scheduler's retry decision.
// The scheduler is the single decision point: handlers tag their failures,
// nothing else decides retry versus terminal.
type ErrorKind string

const (
	// ErrorTransient covers network faults, timeouts, and rate limits.
	// Eligible for retry with backoff.
	ErrorTransient ErrorKind = "transient"
	// ErrorPermanent covers invalid input and rejected content. Never retried.
	ErrorPermanent ErrorKind = "permanent"
	// ErrorAuthExpired means a credential must be rotated before retrying.
	ErrorAuthExpired ErrorKind = "auth_expired"
)

// StageError is a tagged failure from a stage handler.
type StageError struct {
	Kind ErrorKind
	Err  error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Transient tags err as retryable.
func Transient(err error) *StageError {
	return &StageError{Kind: ErrorTransient, Err: err}
}

// Transientf creates a retryable failure.
func Transientf(format string, args ...interface{}) *StageError {
	return &StageError{Kind: ErrorTransient, Err: errors.Newf(format, args...)}
}

// Permanent tags err as non-retryable.
func Permanent(err error) *StageError {
	return &StageError{Kind: ErrorPermanent, Err: err}
}

// Permanentf creates a non-retryable failure.
func Permanentf(format string, args ...interface{}) *StageError {
	return &StageError{Kind: ErrorPermanent, Err: errors.Newf(format, args...)}
}

// AuthExpired tags err as retryable only after credential rotation.
func AuthExpired(err error) *StageError {
	return &StageError{Kind: ErrorAuthExpired, Err: err}
}

// Classify extracts the error kind from a handler failure. Errors that carry
// no tag are treated as transient so an unexpected fault is retried rather
// than terminally failed; the dedup index keeps the retry safe.
func Classify(err error) ErrorKind {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTransient
	}
	return ErrorTransient
}

// Handler executes one pipeline stage. Handlers call out to external
// collaborators but never mutate the job store or dedup index; those writes
// belong to the scheduler so a handler interrupted mid-call cannot leave a
// partial update behind.
type Handler interface {
	// Kind returns the job kind this handler executes.
	Kind() JobKind

	// Execute runs the stage for the given payload and returns a reference
	// to the produced artefact (stored translation id, posted status id).
	// Failures should be tagged with Transient/Permanent/AuthExpired.
	Execute(ctx context.Context, payload json.RawMessage) (resultRef string, err error)
}

// HandlerRegistry routes jobs to handlers by kind.
// Thread-safe for concurrent registration and lookup.
type HandlerRegistry struct {
	handlers map[JobKind]Handler
	mu       sync.RWMutex
}

// NewHandlerRegistry creates an empty handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[JobKind]Handler),
	}
}

// Register adds a handler for its kind.
// Panics if a handler is already registered for that kind.
func (r *HandlerRegistry) Register(handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kind := handler.Kind()
	if _, exists := r.handlers[kind]; exists {
		panic(fmt.Sprintf("handler already registered for kind: %s", kind))
	}
	r.handlers[kind] = handler
}

// Get retrieves the handler for a kind. Returns nil if none is registered.
func (r *HandlerRegistry) Get(kind JobKind) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[kind]
}

// Has checks if a handler is registered for a kind.
func (r *HandlerRegistry) Has(kind JobKind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.handlers[kind]
	return exists
}
