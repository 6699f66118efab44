package errors

import (
	"errors"
)

// Sentinel errors for different categories
var (
	// ErrInvalidInput - caller supplied a malformed request
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound - resource not found
	ErrNotFound = errors.New("not found")

	// ErrUpstream - the backend knowledge-base service failed an operation
	ErrUpstream = errors.New("upstream service error")

	// ErrTransient - transient error (network, timeout, rate limit)
	ErrTransient = errors.New("transient error")

	// ErrInvalidModelOutput - model or persisted payload is malformed
	ErrInvalidModelOutput = errors.New("invalid model output")

	// ErrInternal - internal error
	ErrInternal = errors.New("internal error")
)
