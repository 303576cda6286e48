package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBackendUnavailable marks storage that cannot be reached. It is fatal
// for the specific call; whether to retry is the caller's decision, the
// store never retries on its own.
var ErrBackendUnavailable = errors.New("memory backend unavailable")

// ValidationError rejects malformed input before any I/O happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ValidateKeyContent checks the Put preconditions shared by every backend.
func ValidateKeyContent(key, content string) error {
	if strings.TrimSpace(key) == "" {
		return &ValidationError{Field: "key", Reason: "must not be empty"}
	}
	if strings.TrimSpace(content) == "" {
		return &ValidationError{Field: "content", Reason: "must not be empty"}
	}
	return nil
}
