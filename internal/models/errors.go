package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies inventory failures for callers
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindConflict   ErrorKind = "conflict"
	KindNotFound   ErrorKind = "not_found"
	KindStorage    ErrorKind = "storage"
)

// Error codes that need finer handling than their kind
const (
	CodeDuplicateIdentifier = "DUPLICATE_IDENTIFIER"
	CodeAccountIsDuplicate  = "ACCOUNT_IS_DUPLICATE"
	CodeAccountUnavailable  = "ACCOUNT_UNAVAILABLE"
	CodeInsufficientStock   = "INSUFFICIENT_STOCK"
	CodeInvalidInput        = "INVALID_INPUT"
	CodeMalformedCSV        = "MALFORMED_CSV"
	CodeNotFound            = "NOT_FOUND"
	CodeStorage             = "STORAGE_ERROR"
)

// InventoryError is returned by every inventory operation
type InventoryError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *InventoryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *InventoryError) Unwrap() error {
	return e.Err
}

// NewValidationError reports malformed or out-of-range input
func NewValidationError(format string, args ...interface{}) *InventoryError {
	return &InventoryError{Kind: KindValidation, Code: CodeInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// NewConflictError reports a uniqueness violation or an illegal transition
func NewConflictError(code, format string, args ...interface{}) *InventoryError {
	return &InventoryError{Kind: KindConflict, Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewNotFoundError reports a missing account, group, product or reservation
func NewNotFoundError(format string, args ...interface{}) *InventoryError {
	return &InventoryError{Kind: KindNotFound, Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// NewStorageError wraps a failure of the transactional write sequence
func NewStorageError(op string, err error) *InventoryError {
	return &InventoryError{Kind: KindStorage, Code: CodeStorage, Message: op + " failed", Err: err}
}

// KindOf returns the kind of err, KindStorage for foreign errors
func KindOf(err error) ErrorKind {
	var ie *InventoryError
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return KindStorage
}

// CodeOf returns the code of err or an empty string
func CodeOf(err error) string {
	var ie *InventoryError
	if errors.As(err, &ie) {
		return ie.Code
	}
	return ""
}
