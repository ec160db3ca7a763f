package callback

import (
	"errors"
	"fmt"
	"net/http"
)

// OAuthError is an error reported by the provider on the redirect.
type OAuthError struct {
	// Code is the OAuth error code.
	Code string `json:"error"`
	// Description is the provider's human-readable description.
	Description string `json:"error_description,omitempty"`
	// StatusCode is the HTTP status the loopback server answers with.
	StatusCode int `json:"-"`
}

func (e *OAuthError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("OAuth error %s: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("OAuth error: %s", e.Code)
}

// NewOAuthError creates a new OAuth error.
func NewOAuthError(code, description string) *OAuthError {
	return &OAuthError{Code: code, Description: description, StatusCode: http.StatusBadRequest}
}

// AuthenticationError is a reconciler-side failure with a stable type.
type AuthenticationError struct {
	Type    string
	Message string
	Cause   error
}

func (e *AuthenticationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AuthenticationError) Unwrap() error { return e.Cause }

var (
	// ErrInvalidState is a returned state that does not match the stored one.
	ErrInvalidState = &AuthenticationError{Type: "invalid_state", Message: "OAuth state parameter is invalid"}
	// ErrMissingVerifier means the code verifier of the attempt is gone.
	ErrMissingVerifier = &AuthenticationError{Type: "missing_verifier", Message: "OAuth code verifier is missing"}
	// ErrMissingCode is a redirect with neither a code nor an error.
	ErrMissingCode = &AuthenticationError{Type: "missing_code", Message: "authorization code is missing"}
	// ErrLinkRequiresLogin is a link attempt without a signed-in session.
	ErrLinkRequiresLogin = &AuthenticationError{Type: "authentication_required", Message: "linking requires a signed-in session"}
)

// GetUserFriendlyMessage maps an error to the text shown to the user.
func GetUserFriendlyMessage(err error) string {
	var oauthErr *OAuthError
	if errors.As(err, &oauthErr) {
		return OAuthErrorMessage(oauthErr.Code)
	}
	var authErr *AuthenticationError
	if errors.As(err, &authErr) {
		switch authErr.Type {
		case "invalid_state":
			return "The login request could not be verified. Please start again."
		case "missing_verifier", "missing_code":
			return "The login session was lost. Please try again."
		case "authentication_required":
			return "Please sign in before linking another account."
		}
	}
	return "Social login failed. Please try again."
}

// OAuthErrorMessage maps a provider error code to a user-facing message.
func OAuthErrorMessage(code string) string {
	switch code {
	case "access_denied":
		return "Login was cancelled or access was denied."
	case "invalid_request":
		return "The login request was invalid. Please try again."
	case "unauthorized_client":
		return "This application is not allowed to use this login method."
	case "unsupported_response_type":
		return "The login provider does not support this request."
	case "invalid_scope":
		return "The requested permissions are invalid."
	default:
		return "Social login failed. Please try again."
	}
}
