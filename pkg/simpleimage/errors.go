package simpleimage

import (
	"errors"
	"fmt"
)

// Error types
var (
	// ErrAttachmentNotFound indicates an attachment row was not found
	ErrAttachmentNotFound = errors.New("attachment not found")

	// ErrObjectNotFound indicates a blob store object was not found
	ErrObjectNotFound = errors.New("object not found")

	// ErrUnknownOwnerType indicates no configuration is registered for an owner type
	ErrUnknownOwnerType = errors.New("unknown owner type")

	// ErrUnknownField indicates a payload field that is not configured
	ErrUnknownField = errors.New("unknown field")

	// ErrUnknownOperation indicates a preset step names an unsupported transform
	ErrUnknownOperation = errors.New("unknown transform operation")

	// ErrUnknownPreset indicates a preset name that is not configured
	ErrUnknownPreset = errors.New("unknown preset")

	// ErrSourceMissing indicates an upload source that does not exist
	ErrSourceMissing = errors.New("upload source missing")

	// ErrInvalidReference indicates a reference that is not a bare stored filename
	ErrInvalidReference = errors.New("invalid stored file reference")

	// ErrTableExists indicates the attachment table is already present
	ErrTableExists = errors.New("table already exists")
)

// StorageError represents an error related to storage operations
type StorageError struct {
	Key string
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// VariantError represents a failed preset generation
type VariantError struct {
	Preset   string
	Filename string
	Op       string
	Err      error
}

func (e *VariantError) Error() string {
	return fmt.Sprintf("variant %s failed for %s during %s: %v", e.Preset, e.Filename, e.Op, e.Err)
}

func (e *VariantError) Unwrap() error {
	return e.Err
}

// ConflictError is returned when a schema object already exists
type ConflictError struct {
	Table string
	Err   error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("table %q: %v", e.Table, e.Err)
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}
