package app

import (
	"time"

	"github.com/atendezap/atendezap/internal/core_domain"
)

// Presigner exchanges an object key for a short-lived fetchable URL.
// Implemented by platform/objectstore.S3Store.
type Presigner interface {
	PresignGet(key string, ttl time.Duration) (string, error)
}

// MediaResolver turns internal storage references into URLs the gateway can
// fetch, immediately before dispatch.
type MediaResolver struct {
	presigner Presigner
	ttl       time.Duration
}

func NewMediaResolver(presigner Presigner, ttl time.Duration) *MediaResolver {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &MediaResolver{presigner: presigner, ttl: ttl}
}

// Resolve returns a fetchable URL for ref. A failure is a typed
// StorageResolutionError: the send aborts and nothing is transmitted with a
// broken reference.
func (m *MediaResolver) Resolve(ref string) (string, error) {
	if m.presigner == nil {
		return "", &core_domain.StorageResolutionError{Ref: ref, Err: errNoObjectStore}
	}
	url, err := m.presigner.PresignGet(ref, m.ttl)
	if err != nil {
		return "", &core_domain.StorageResolutionError{Ref: ref, Err: err}
	}
	return url, nil
}

var errNoObjectStore = &noObjectStoreError{}

type noObjectStoreError struct{}

func (*noObjectStoreError) Error() string { return "object store not configured" }
