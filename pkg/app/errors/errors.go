// Package errors contains helper functions and types to work with errors
package errors

import "errors"

// Category defines error category
type Category int

const (
	// CategoryConfig Invalid or missing configuration; fatal at boot,
	// never produced afterwards.
	CategoryConfig Category = iota
	// CategoryStore The relational store failed; transient, the stage
	// retries on its next poll.
	CategoryStore
	// CategoryIndexer The event indexer failed after its own retries;
	// transient.
	CategoryIndexer
	// CategoryRPC A chain RPC call failed across all failover endpoints;
	// the item is logged and skipped.
	CategoryRPC
	// CategoryBroadcast A broadcast transaction was included but reverted;
	// domain outcome, the message ends up Failed.
	CategoryBroadcast
	// CategoryUnexpected The service failed in an unexpected way; isolated
	// by the per-item loop.
	CategoryUnexpected
)

func (c Category) String() string {
	switch c {
	case CategoryConfig:
		return "CategoryConfig"
	case CategoryStore:
		return "CategoryStore"
	case CategoryIndexer:
		return "CategoryIndexer"
	case CategoryRPC:
		return "CategoryRPC"
	case CategoryBroadcast:
		return "CategoryBroadcast"
	default:
		return "CategoryUnexpected"
	}
}

// StoreKind is the coarse classification of store failures.
type StoreKind int

const (
	// StoreIo covers statement and scan failures that are neither
	// connectivity nor constraint problems.
	StoreIo StoreKind = iota
	// StoreNotConnected covers dial, pool and ping failures.
	StoreNotConnected
	// StoreConflict covers unique and foreign key violations.
	StoreConflict
)

func (k StoreKind) String() string {
	switch k {
	case StoreNotConnected:
		return "NotConnected"
	case StoreConflict:
		return "Conflict"
	default:
		return "Io"
	}
}

// ServiceError represents service specific type that
// is used all over the services.
type ServiceError struct {
	Category Category
	// Kind further qualifies CategoryStore errors; zero otherwise.
	Kind    StoreKind
	Message string
	Err     error
}

// Error method to comply with error interface
func (err ServiceError) Error() string {
	if err.Err != nil {
		return err.Message + ": " + err.Err.Error()
	}
	return err.Message
}

// Unwrap returns the underlying error
func (err ServiceError) Unwrap() error {
	return err.Err
}

// Is checks that provided error is a ServiceError with desired Category
func Is(err error, cat Category) bool {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) && svcErr.Category == cat {
		return true
	}
	return false
}

// CategoryOf extracts the category of err, CategoryUnexpected for plain errors.
func CategoryOf(err error) Category {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Category
	}
	return CategoryUnexpected
}

// StoreKindOf extracts the store kind of err, StoreIo for anything else.
func StoreKindOf(err error) StoreKind {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) && svcErr.Category == CategoryStore {
		return svcErr.Kind
	}
	return StoreIo
}

// ConfigError returns a fatal boot-time configuration error
func ConfigError(err error, message string) error {
	if err == nil {
		err = errors.New("invalid configuration")
	}
	return &ServiceError{
		Category: CategoryConfig,
		Message:  message,
		Err:      err,
	}
}

// StoreError returns a store error of the given kind
func StoreError(err error, kind StoreKind, message string) error {
	if err == nil {
		err = errors.New("store failure")
	}
	return &ServiceError{
		Category: CategoryStore,
		Kind:     kind,
		Message:  message,
		Err:      err,
	}
}

// IndexerError returns an indexer error
func IndexerError(err error, message string) error {
	if err == nil {
		err = errors.New("indexer failure")
	}
	return &ServiceError{
		Category: CategoryIndexer,
		Message:  message,
		Err:      err,
	}
}

// RPCError returns a chain transport error
func RPCError(err error, message string) error {
	if err == nil {
		err = errors.New("rpc failure")
	}
	return &ServiceError{
		Category: CategoryRPC,
		Message:  message,
		Err:      err,
	}
}

// BroadcastRevertedError returns the domain error for an included but
// reverted relayer transaction
func BroadcastRevertedError(message string) error {
	return &ServiceError{
		Category: CategoryBroadcast,
		Message:  message,
		Err:      errors.New("transaction reverted"),
	}
}

// UnexpectedError wraps anything the taxonomy does not cover
func UnexpectedError(err error, message string) error {
	if err == nil {
		err = errors.New("unexpected failure")
	}
	return &ServiceError{
		Category: CategoryUnexpected,
		Message:  message,
		Err:      err,
	}
}
