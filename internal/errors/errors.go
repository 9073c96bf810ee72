package errors

import (
	"errors"
	"fmt"
)

// Common error types shared by the identity core and its stores
var (
	// Lookup errors
	ErrNotFound        = errors.New("not found")
	ErrProfileNotFound = errors.New("profile not found")

	// Session errors
	ErrNoBackendUser = errors.New("no backend user")

	// General errors
	ErrUnsupported = errors.New("unsupported operation")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
