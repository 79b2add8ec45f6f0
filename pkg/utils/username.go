package utils

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	MinUsernameLength = 3
	MaxUsernameLength = 32
	MinPasswordLength = 12
)

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// ValidateUsername checks an operator username: 3-32 characters of letters,
// digits, underscore, dot or dash, starting with a letter or digit.
func ValidateUsername(username string) error {
	username = strings.TrimSpace(username)

	if len(username) < MinUsernameLength {
		return &ValidationError{Field: "username", Message: "Username must be at least 3 characters"}
	}
	if len(username) > MaxUsernameLength {
		return &ValidationError{Field: "username", Message: "Username must be at most 32 characters"}
	}
	if !usernameRegex.MatchString(username) {
		return &ValidationError{Field: "username", Message: "Username can only contain letters, numbers, underscores, dots and dashes"}
	}
	first := rune(username[0])
	if !unicode.IsLetter(first) && !unicode.IsDigit(first) {
		return &ValidationError{Field: "username", Message: "Username must start with a letter or number"}
	}
	return nil
}

// ValidatePassword enforces a minimum length for operator passwords.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return &ValidationError{Field: "password", Message: "Password must be at least 12 characters"}
	}
	return nil
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
