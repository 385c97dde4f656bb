package models

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Validation-class errors. They are reported to the caller of the failing
// operation and never roll back anything beyond that operation.
var (
	ErrEntityNotFound         = errors.New("entity not found")
	ErrInvalidEntityUpdate    = errors.New("invalid entity update")
	ErrDuplicateRecords       = errors.New("duplicate records")
	ErrUnknownApiKey          = errors.New("unknown api key")
	ErrRevokedApiKeyUsed      = errors.New("revoked api key used")
	ErrDuplicateType          = errors.New("duplicate type definitions")
	ErrMalformedQuery         = errors.New("malformed query")
	ErrUnsupportedFormat      = errors.New("unsupported format")
	ErrUnknownPrefix          = errors.New("unknown namespace prefix")
	ErrConcurrentModification = errors.New("entity was modified concurrently")
	ErrInvalidRequest         = errors.New("invalid request")
	ErrUnauthenticated        = errors.New("unauthenticated")
	ErrForbidden              = errors.New("forbidden")
	ErrNotImplemented         = errors.New("not implemented")
)

// ErrStoreIO marks infrastructure failures of the statement store
var ErrStoreIO = errors.New("statement store failure")

// InvalidEntityUpdateError describes why an update was rejected
type InvalidEntityUpdateError struct {
	Entity IRI
	Reason string
}

func (e *InvalidEntityUpdateError) Error() string {
	return fmt.Sprintf("invalid update of entity <%s>: %s", e.Entity, e.Reason)
}

// Is makes errors.Is(err, ErrInvalidEntityUpdate) hold
func (e *InvalidEntityUpdateError) Is(target error) bool {
	return target == ErrInvalidEntityUpdate
}

// NewInvalidEntityUpdate creates an InvalidEntityUpdateError with a stack
func NewInvalidEntityUpdate(entity IRI, reason string) error {
	return errors.WithStack(&InvalidEntityUpdateError{Entity: entity, Reason: reason})
}

// StoreFailure wraps a driver error as ErrStoreIO
func StoreFailure(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(err, msg), ErrStoreIO)
}

// IsClientError reports whether err was caused by the caller's input or
// credentials rather than by the infrastructure
func IsClientError(err error) bool {
	return errors.IsAny(err,
		ErrEntityNotFound,
		ErrInvalidEntityUpdate,
		ErrDuplicateRecords,
		ErrUnknownApiKey,
		ErrRevokedApiKeyUsed,
		ErrDuplicateType,
		ErrMalformedQuery,
		ErrUnsupportedFormat,
		ErrUnknownPrefix,
		ErrConcurrentModification,
		ErrInvalidRequest,
		ErrUnauthenticated,
		ErrForbidden,
		ErrNotImplemented,
	)
}

// IsInfrastructureError reports whether err is a store failure
func IsInfrastructureError(err error) bool {
	return errors.Is(err, ErrStoreIO)
}
