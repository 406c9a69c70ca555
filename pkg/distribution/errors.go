package distribution

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidKey   = errors.New("invalid artifact key")
	ErrNotFound     = errors.New("artifact not found")
	ErrUnauthorized = errors.New("unauthorized access to artifact")
	ErrDigest       = errors.New("artifact digest mismatch")
)

// Error codes carried by FetchError.
const (
	CodeNotFound     = "NOT_FOUND"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeUnknown      = "UNKNOWN"
)

// KeyError represents an error related to an invalid artifact key
type KeyError struct {
	Key string
	Err error
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("invalid artifact key %q: %v", e.Key, e.Err)
}

func (e *KeyError) Unwrap() error {
	return e.Err
}

// Is implements error matching for KeyError
func (e *KeyError) Is(target error) bool {
	return target == ErrInvalidKey
}

// FetchError represents an error that occurs when fetching an artifact
type FetchError struct {
	Source string
	Key    string
	// Code is one of CodeNotFound, CodeUnauthorized or CodeUnknown.
	Code    string
	Message string
	Err     error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("failed to fetch %q from %s: %s", e.Key, e.Source, e.Code)
	if e.Message != "" {
		msg += " - " + e.Message
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is implements error matching for FetchError
func (e *FetchError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Code == CodeNotFound
	case ErrUnauthorized:
		return e.Code == CodeUnauthorized
	default:
		return false
	}
}

// NewKeyError creates a new KeyError
func NewKeyError(key string, err error) error {
	return &KeyError{
		Key: key,
		Err: err,
	}
}

// NewFetchError creates a new FetchError
func NewFetchError(source, key, code, message string, err error) error {
	return &FetchError{
		Source:  source,
		Key:     key,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
