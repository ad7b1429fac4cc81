package tool

import (
	"fmt"

	"chasingclaw/internal/domain"
)

// invalidParam reports a bad tool argument. The message leads so the model
// sees it first; the sentinel keeps the error classifiable.
func invalidParam(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), domain.ErrInvalidInput)
}

// RequireField fails when value is empty.
func RequireField(name, value string) error {
	if value == "" {
		return invalidParam("'%s' is required", name)
	}
	return nil
}

// RequireTogether fails when exactly one of the two values is set.
func RequireTogether(aName, a, bName, b string) error {
	if (a == "") != (b == "") {
		return invalidParam("'%s' and '%s' must be set together", aName, bName)
	}
	return nil
}

// ValidateRange checks that value is within [lo, hi].
func ValidateRange(name string, value, lo, hi int) error {
	if value < lo || value > hi {
		return invalidParam("'%s' must be between %d and %d", name, lo, hi)
	}
	return nil
}

// ValidateMaxLength checks that value does not exceed max bytes.
func ValidateMaxLength(name, value string, max int) error {
	if len(value) > max {
		return invalidParam("'%s' exceeds %d bytes", name, max)
	}
	return nil
}

// ValidateAll returns the first non-nil error.
func ValidateAll(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
