package handles

import (
	"fmt"
	"strings"
)

const (
	MinLength = 3
	MaxLength = 10
)

var forbiddenRuns = []string{"..", "__", "._", "_."}

// ValidationError describes a malformed handle. Reason is safe to show to the person.
type ValidationError struct {
	Handle string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid handle %q: %s", e.Handle, e.Reason)
}

// Canonicalize trims and lowercases a handle and checks it against the handle policy:
//   - 3 to 10 characters
//   - only a-z, 0-9, '.' and '_'
//   - starts and ends with a letter or digit
//   - no "..", "__", "._" or "_."
func Canonicalize(input string) (string, error) {
	handle := strings.ToLower(strings.TrimSpace(input))
	invalid := func(reason string) (string, error) {
		return "", &ValidationError{Handle: input, Reason: reason}
	}

	if handle == "" {
		return invalid("handle is required")
	}
	if len(handle) < MinLength || len(handle) > MaxLength {
		return invalid(fmt.Sprintf("handle must be between %d and %d characters", MinLength, MaxLength))
	}
	for i := 0; i < len(handle); i++ {
		if !isAllowed(handle[i]) {
			return invalid("handle may only contain letters, numbers, '.' and '_'")
		}
	}
	if !isAlphaNum(handle[0]) || !isAlphaNum(handle[len(handle)-1]) {
		return invalid("handle must start and end with a letter or number")
	}
	for _, run := range forbiddenRuns {
		if strings.Contains(handle, run) {
			return invalid(fmt.Sprintf("handle must not contain %q", run))
		}
	}
	return handle, nil
}

func isAlphaNum(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9')
}

func isAllowed(ch byte) bool {
	return isAlphaNum(ch) || ch == '.' || ch == '_'
}
