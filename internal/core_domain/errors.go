package core_domain

import (
	"errors"
	"fmt"
)

// ValidationError rejects a malformed phone or payload. Never retried and
// never creates a Lead.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

// UnresolvedIdentityError signals a masked identifier that could not be
// mapped to a real contact. The carrying event is dropped and acknowledged
// as ignored, never raised to the caller.
type UnresolvedIdentityError struct {
	MaskedID string
}

func (e *UnresolvedIdentityError) Error() string {
	return fmt.Sprintf("masked identifier %q could not be resolved", e.MaskedID)
}

// ProviderErrorCause distinguishes gateway business failures.
type ProviderErrorCause string

const (
	CauseUnsupportedMediaPlan ProviderErrorCause = "unsupported_media_plan"
	CauseSessionNotFound      ProviderErrorCause = "session_not_found"
	CauseIdentityResolution   ProviderErrorCause = "identity_resolution"
	CauseGeneric              ProviderErrorCause = "generic"
)

// ProviderError is a gateway non-success response, surfaced to the caller
// as a business failure.
type ProviderError struct {
	Provider   Provider
	Cause      ProviderErrorCause
	Message    string
	StatusCode int
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s error (%s): %s", e.Provider, e.Cause, e.Message)
}

// AsProviderError unwraps err into a *ProviderError when possible.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// StorageResolutionError means a media reference could not be exchanged for
// a fetchable URL. The send aborts before any network call.
type StorageResolutionError struct {
	Ref string
	Err error
}

func (e *StorageResolutionError) Error() string {
	return fmt.Sprintf("media reference %q could not be resolved: %v", e.Ref, e.Err)
}

func (e *StorageResolutionError) Unwrap() error { return e.Err }
