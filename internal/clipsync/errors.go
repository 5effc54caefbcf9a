package clipsync

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrSecurity   = errors.New("security violation")
	ErrEncryption = errors.New("encryption failed")
	ErrNetwork    = errors.New("network failure")
	ErrRepository = errors.New("repository failure")
	ErrNotFound   = errors.New("not found")
	ErrClosed     = errors.New("closed")
)

// ValidationError reports a locally detectable input problem. It is always
// raised before any network or encryption work is attempted.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// UserMessage returns a message suitable for direct display.
func (e *ValidationError) UserMessage() string {
	return e.Message
}

// SecurityError reports an ownership or authorization mismatch. Operations
// failing with it must never be retried.
type SecurityError struct {
	Message string
}

func (e *SecurityError) Error() string {
	return "security: " + e.Message
}

func (e *SecurityError) Is(target error) bool {
	return target == ErrSecurity
}

func (e *SecurityError) UserMessage() string {
	return e.Message
}

// EncryptionError reports a key, token, or authentication failure from the
// encryption engine. Fatal on the write path; tolerated per item on reads.
type EncryptionError struct {
	Op      string
	Message string
	Err     error
}

func (e *EncryptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("encryption: %s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("encryption: %s: %s", e.Op, e.Message)
}

func (e *EncryptionError) Is(target error) bool {
	return target == ErrEncryption
}

func (e *EncryptionError) Unwrap() error {
	return e.Err
}

func (e *EncryptionError) UserMessage() string {
	return "Unable to read or protect this item. The encryption passphrase may be wrong."
}

// NetworkError wraps a transport failure. Retry policy belongs to the
// caller, never to the repository.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Is(target error) bool {
	return target == ErrNetwork
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

func (e *NetworkError) UserMessage() string {
	return "Could not reach the sync service. Check your connection and try again."
}

// RepositoryError wraps an unexpected backend failure that fits no more
// specific category.
type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("repository: %s: %v", e.Op, e.Err)
}

func (e *RepositoryError) Is(target error) bool {
	return target == ErrRepository
}

func (e *RepositoryError) Unwrap() error {
	return e.Err
}

func (e *RepositoryError) UserMessage() string {
	return "Something went wrong while syncing. Please try again."
}
