package common

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	"tenantcore/internal/apperr"
)

const (
	maxEmailLength    = 254
	maxNameLength     = 200
	minPasswordLength = 8
	maxSearchBytes    = 100
)

// NormalizeEmail trims and lowercases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail accepts a bare address only, without a display name.
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return apperr.Validation("email", "email is required")
	}
	if len(email) > maxEmailLength {
		return apperr.Validation("email", "email is too long")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return apperr.Validation("email", "email is invalid")
	}
	return nil
}

func ValidatePassword(password string) error {
	if password == "" {
		return apperr.Validation("password", "password is required")
	}
	if len(password) < minPasswordLength {
		return apperr.Validation("password", "password must be at least 8 characters")
	}
	return nil
}

// ValidateRequiredString validates required string fields
func ValidateRequiredString(value, fieldName string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return apperr.Validation(fieldName, fieldName+" is required")
	}
	if len(value) > maxNameLength {
		return apperr.Validation(fieldName, fieldName+" is too long")
	}
	return nil
}

// SanitizeSearchQuery strips LIKE wildcards and bounds the length.
func SanitizeSearchQuery(query string) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return ""
	}
	query = strings.ReplaceAll(query, "%", "")
	query = strings.ReplaceAll(query, "_", "")
	return strings.TrimSpace(truncateUTF8(query, maxSearchBytes))
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	end := 0
	for end < len(s) {
		_, size := utf8.DecodeRuneInString(s[end:])
		if end+size > n {
			break
		}
		end += size
	}
	return s[:end]
}

// InvalidValue reports an unparseable request parameter.
func InvalidValue(field, value string) error {
	return apperr.Validation(field, fmt.Sprintf("invalid %s %q", field, value))
}
