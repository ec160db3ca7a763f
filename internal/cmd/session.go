package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/growgrammers/authflow/internal/auth/session"
	"github.com/growgrammers/authflow/sdk/authflow"
)

// ErrRefreshFailed is returned by DoRefresh when the backend refused the refresh. The
// local session is gone at that point.
var ErrRefreshFailed = errors.New("refresh failed, please sign in again")

// DoStatus prints the authentication status as JSON.
func DoStatus(ctx context.Context, agent *authflow.Agent, out io.Writer) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(agent.Status(ctx))
}

// DoRefresh forces a token refresh.
func DoRefresh(ctx context.Context, agent *authflow.Agent, out io.Writer) error {
	if !agent.Session.Tokens().Has(ctx) {
		return session.ErrNotAuthenticated
	}
	if !agent.Session.Refresh(ctx) {
		return ErrRefreshFailed
	}
	if minutes, ok := agent.Session.Tokens().MinutesUntilExpiry(ctx); ok {
		_, _ = fmt.Fprintf(out, "Access token refreshed, valid for %d more minutes.\n", minutes)
	} else {
		_, _ = fmt.Fprintln(out, "Access token refreshed.")
	}
	return nil
}

// DoLogout signs out. Local state is cleared even when the backend call fails; that
// failure is reported as a warning only.
func DoLogout(ctx context.Context, agent *authflow.Agent, out io.Writer) error {
	if err := agent.Session.Logout(ctx); err != nil {
		_, _ = fmt.Fprintf(out, "Warning: the server could not be notified (%v). Local sign-in data was removed.\n", err)
		return nil
	}
	_, _ = fmt.Fprintln(out, "Signed out.")
	return nil
}

// DoWhoAmI prints the signed-in user.
func DoWhoAmI(ctx context.Context, agent *authflow.Agent, out io.Writer, forceRefresh bool) error {
	user, err := agent.Session.UserInfo(ctx, forceRefresh)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(user)
}
