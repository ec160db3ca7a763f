// Package misc holds small helpers shared by the CLI and the loopback server.
package misc

import (
	"fmt"
	"net/url"
	"strings"
)

// OAuthCallback captures the parsed OAuth callback parameters.
type OAuthCallback struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// Empty reports whether the callback carries neither a code nor an error.
func (c *OAuthCallback) Empty() bool {
	return c == nil || (c.Code == "" && c.Error == "")
}

// CallbackFromValues merges query and fragment parameters. Providers differ in where they
// place code, state and error, so each field is taken from the query when present and from
// the fragment otherwise.
func CallbackFromValues(query, fragment url.Values) *OAuthCallback {
	pick := func(key string) string {
		if v := strings.TrimSpace(query.Get(key)); v != "" {
			return v
		}
		return strings.TrimSpace(fragment.Get(key))
	}
	cb := &OAuthCallback{
		Code:             pick("code"),
		State:            pick("state"),
		Error:            pick("error"),
		ErrorDescription: pick("error_description"),
	}

	// Some providers append the state to the code with a '#'.
	if cb.Code != "" && cb.State == "" && strings.Contains(cb.Code, "#") {
		parts := strings.SplitN(cb.Code, "#", 2)
		cb.Code, cb.State = parts[0], parts[1]
	}
	if cb.Error == "" && cb.ErrorDescription != "" {
		cb.Error, cb.ErrorDescription = cb.ErrorDescription, ""
	}
	return cb
}

// ParseOAuthCallback extracts OAuth parameters from a full redirect URL or a bare query.
// It returns nil when the input is empty.
func ParseOAuthCallback(input string) (*OAuthCallback, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil, nil
	}

	candidate := trimmed
	if !strings.Contains(candidate, "://") {
		switch {
		case strings.HasPrefix(candidate, "?"), strings.HasPrefix(candidate, "#"):
			candidate = "http://localhost/" + candidate
		case strings.ContainsAny(candidate, "/?#") || strings.Contains(candidate, ":"):
			candidate = "http://" + candidate
		case strings.Contains(candidate, "="):
			candidate = "http://localhost/?" + candidate
		default:
			return nil, fmt.Errorf("invalid callback URL")
		}
	}

	parsedURL, err := url.Parse(candidate)
	if err != nil {
		return nil, err
	}
	fragment, _ := url.ParseQuery(parsedURL.Fragment)
	cb := CallbackFromValues(parsedURL.Query(), fragment)
	if cb.Empty() {
		return nil, fmt.Errorf("callback URL missing code")
	}
	return cb, nil
}
