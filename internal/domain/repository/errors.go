package repository

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the requested row does not exist locally.
	ErrNotFound = errors.New("not found")

	// ErrAuth means the upstream rejected the shared credential.
	ErrAuth = errors.New("upstream rejected credential")
	// ErrUpstreamUnavailable covers network failures, timeouts and 5xx responses.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrUnknownSymbol means the upstream does not know the symbol.
	ErrUnknownSymbol = errors.New("symbol unknown upstream")
	// ErrUnknownMarket is returned for a market outside the catalogue.
	ErrUnknownMarket = errors.New("unknown market")

	// ErrStoreConflict wraps any rejected store write.
	ErrStoreConflict = errors.New("store write rejected")

	// ErrAlreadyProcessing is returned when a poll for the symbol is in flight.
	ErrAlreadyProcessing = errors.New("symbol already processing")
	// ErrInvalidTransition is returned for a status change not allowed by the state machine.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidationError describes a malformed upstream record.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
