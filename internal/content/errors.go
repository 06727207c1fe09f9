package content

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownCollection indicates a collection identifier outside the allow-list.
	ErrUnknownCollection = errors.New("content: unknown collection")
	// ErrNotFound indicates the record id does not resolve within the collection.
	ErrNotFound = errors.New("content: record not found")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingRegistry   = errors.New("schema registry is required")
)

// ServiceError carries an operation-scoped code for storage failures.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the dotted operation code, e.g. content.create.insert_failed.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opStoreNew   = "content.store.new"
	opList       = "content.list"
	opGet        = "content.get"
	opCreate     = "content.create"
	opUpdate     = "content.update"
	opDelete     = "content.delete"
	opBulkDelete = "content.bulk_delete"
	opStats      = "content.stats"
	opListPublic = "content.list_public"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}
