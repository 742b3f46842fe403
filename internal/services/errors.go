package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrUnsupported      = errors.New("unsupported")
	ErrResourceExceeded = errors.New("resource limit exceeded")
	ErrRemoteFailure    = errors.New("remote failure")
	ErrPersistence      = errors.New("persistence failure")
	ErrIntegrity        = errors.New("integrity violation")
	ErrValidation       = errors.New("validation error")
	ErrConfiguration    = errors.New("configuration error")
	ErrTimeout          = errors.New("timeout")
	ErrTransient        = errors.New("transient failure")
)

var markers = []struct {
	err  error
	name string
}{
	{ErrNotFound, "not_found"},
	{ErrUnsupported, "unsupported"},
	{ErrResourceExceeded, "resource_exceeded"},
	{ErrTimeout, "timeout"},
	{ErrRemoteFailure, "remote_failure"},
	{ErrPersistence, "persistence_failure"},
	{ErrIntegrity, "integrity_violation"},
	{ErrValidation, "validation"},
	{ErrConfiguration, "configuration"},
	{ErrTransient, "transient"},
}

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind returns the short marker name carried by err, or "unknown".
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, m := range markers {
		if errors.Is(err, m.err) {
			return m.name
		}
	}
	return "unknown"
}

// Retryable reports whether the background queue should try the item again.
// Missing files, unsupported formats and configuration problems do not improve
// with another attempt.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrUnsupported),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrConfiguration),
		errors.Is(err, ErrIntegrity):
		return false
	default:
		return true
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
