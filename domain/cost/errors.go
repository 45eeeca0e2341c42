package cost

import (
	"errors"
	"fmt"
)

// Sentinel errors matched with errors.Is.
var (
	// ErrValidation marks bad input rejected before any network call.
	ErrValidation = errors.New("validation failed")

	// ErrTransient marks a recoverable provider failure (network, throttling).
	ErrTransient = errors.New("transient provider error")

	// ErrPermanent marks a provider failure that retrying cannot fix.
	ErrPermanent = errors.New("permanent provider error")

	// ErrUnknownProvider is returned when a provider ID is not registered.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrDuplicateProvider is returned when a provider is registered twice.
	ErrDuplicateProvider = errors.New("provider already registered")
)

// ValidationError describes a rejected analysis request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ErrorKind classifies a provider failure.
type ErrorKind string

// Provider error kinds.
const (
	KindTransient ErrorKind = "transient"
	KindPermanent ErrorKind = "permanent"
)

// ProviderError is a classified failure returned by a ProviderClient.
type ProviderError struct {
	Provider ProviderID
	Kind     ErrorKind
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is matches ErrTransient or ErrPermanent according to Kind.
func (e *ProviderError) Is(target error) bool {
	switch target {
	case ErrTransient:
		return e.Kind == KindTransient
	case ErrPermanent:
		return e.Kind == KindPermanent
	}
	return false
}

// Transient wraps err as a retryable failure of provider.
func Transient(provider ProviderID, err error) error {
	return &ProviderError{Provider: provider, Kind: KindTransient, Err: err}
}

// Permanent wraps err as a non-retryable failure of provider.
func Permanent(provider ProviderID, err error) error {
	return &ProviderError{Provider: provider, Kind: KindPermanent, Err: err}
}

// IsTransient reports whether err carries a transient provider classification.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsPermanent reports whether err carries a permanent provider classification.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}
