// Package validate checks user input before it is sent to the backend.
package validate

import (
	"errors"
	"net/mail"
	"strings"
)

const (
	minEmailLength = 5
	maxEmailLength = 254
	verifyCodeLen  = 6
)

// Error is a validation failure with a message fit for the user.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string { return e.Field + ": " + e.Message }

// IsValidationError reports whether err is a validation failure.
func IsValidationError(err error) bool {
	var v *Error
	return errors.As(err, &v)
}

// Email validates an email address and returns it trimmed.
func Email(raw string) (string, error) {
	addr := strings.TrimSpace(raw)
	switch {
	case addr == "":
		return "", &Error{Field: "email", Message: "Please enter your email address."}
	case len(addr) < minEmailLength:
		return "", &Error{Field: "email", Message: "Email address is too short."}
	case len(addr) > maxEmailLength:
		return "", &Error{Field: "email", Message: "Email address is too long."}
	case strings.Count(addr, "@") != 1:
		return "", &Error{Field: "email", Message: "Email address must contain exactly one @ symbol."}
	}

	local, domain, _ := strings.Cut(addr, "@")
	if local == "" || domain == "" || !strings.Contains(domain, ".") ||
		strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") || strings.Contains(domain, "..") {
		return "", &Error{Field: "email", Message: "Please enter a valid email address."}
	}
	parsed, err := mail.ParseAddress(addr)
	if err != nil || parsed.Address != addr {
		return "", &Error{Field: "email", Message: "Please enter a valid email address."}
	}
	return addr, nil
}

// VerifyCode validates a 6 digit email verification code and returns it trimmed.
func VerifyCode(raw string) (string, error) {
	code := strings.TrimSpace(raw)
	if code == "" {
		return "", &Error{Field: "verifyCode", Message: "Please enter the verification code."}
	}
	if len(code) != verifyCodeLen {
		return "", &Error{Field: "verifyCode", Message: "The verification code has 6 digits."}
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return "", &Error{Field: "verifyCode", Message: "The verification code may only contain digits."}
		}
	}
	return code, nil
}
