package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/growgrammers/authflow/internal/auth/callback"
	"github.com/growgrammers/authflow/internal/auth/email"
	"github.com/growgrammers/authflow/internal/auth/oauthstate"
	"github.com/growgrammers/authflow/internal/browser"
	"github.com/growgrammers/authflow/internal/misc"
	"github.com/growgrammers/authflow/internal/provider"
	"github.com/growgrammers/authflow/internal/validate"
	"github.com/growgrammers/authflow/sdk/authflow"
	log "github.com/sirupsen/logrus"
)

// DefaultLoginTimeout bounds how long a login waits for the provider redirect.
const DefaultLoginTimeout = 5 * time.Minute

// ErrLoginTimeout is returned when no callback arrived in time.
var ErrLoginTimeout = errors.New("login: timed out waiting for the provider callback")

// LoginOptions contains options for the login processes.
type LoginOptions struct {
	// NoBrowser skips opening the browser; the URL is printed and the redirect URL can be
	// pasted back instead.
	NoBrowser bool

	// Timeout overrides DefaultLoginTimeout when > 0.
	Timeout time.Duration

	// Prompt allows the caller to provide interactive input when needed.
	Prompt func(prompt string) (string, error)

	// Out receives user-facing messages, os.Stdout when nil.
	Out io.Writer

	// Launcher opens the authorization URL; nil uses the system browser.
	Launcher *browser.Launcher
}

func (o *LoginOptions) out() io.Writer {
	if o.Out != nil {
		return o.Out
	}
	return os.Stdout
}

func (o *LoginOptions) prompt() func(string) (string, error) {
	if o.Prompt != nil {
		return o.Prompt
	}
	reader := bufio.NewReader(os.Stdin)
	out := o.out()
	return func(prompt string) (string, error) {
		_, _ = fmt.Fprint(out, prompt)
		value, err := reader.ReadString('\n')
		if err != nil && (value == "" || !errors.Is(err, io.EOF)) {
			return "", err
		}
		return strings.TrimSpace(value), nil
	}
}

// DoOAuthLogin runs a provider login or link through the loopback server. It starts the
// server, opens the authorization URL and waits for the callback outcome.
func DoOAuthLogin(ctx context.Context, agent *authflow.Agent, p provider.Name, mode oauthstate.Mode, options *LoginOptions) error {
	if options == nil {
		options = &LoginOptions{}
	}
	out := options.out()
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = DefaultLoginTimeout
	}

	if err := agent.Server.Start(); err != nil {
		return fmt.Errorf("start callback server: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if errStop := agent.Server.Stop(stopCtx); errStop != nil {
			log.WithError(errStop).Warn("failed to stop callback server")
		}
	}()

	outcomes := agent.Session.AwaitOutcome()
	authURL, err := agent.Session.StartOAuth(ctx, p, mode)
	if err != nil {
		return err
	}

	if options.NoBrowser {
		_, _ = fmt.Fprintf(out, "Visit the following URL to continue signing in with %s:\n%s\n", p.DisplayName(), authURL)
		go readPastedCallback(ctx, agent, p, options)
	} else {
		launcher := browser.Launcher{Out: out}
		if options.Launcher != nil {
			launcher = *options.Launcher
			if launcher.Out == nil {
				launcher.Out = out
			}
		}
		launcher.OpenOrShow(authURL)
	}
	_, _ = fmt.Fprintln(out, "Waiting for the provider callback...")

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case outcome := <-outcomes:
		return reportOutcome(out, outcome)
	case <-timer.C:
		_ = agent.Session.OAuthState().Cleanup(context.WithoutCancel(ctx), p)
		return ErrLoginTimeout
	case <-ctx.Done():
		_ = agent.Session.OAuthState().Cleanup(context.WithoutCancel(ctx), p)
		return ctx.Err()
	}
}

// readPastedCallback lets a user on a machine without a loopback browser paste the
// redirect URL. An empty line stops reading; the loopback server may still deliver.
func readPastedCallback(ctx context.Context, agent *authflow.Agent, p provider.Name, options *LoginOptions) {
	promptFn := options.prompt()
	for {
		input, err := promptFn("Paste the redirect URL here (or press Enter to keep waiting): ")
		if err != nil || input == "" || ctx.Err() != nil {
			return
		}
		cb, errParse := misc.ParseOAuthCallback(input)
		if errParse != nil {
			_, _ = fmt.Fprintf(options.out(), "Could not read that URL: %v\n", errParse)
			continue
		}
		agent.Session.HandleCallback(ctx, callback.Params{Provider: p, OAuthCallback: *cb})
		return
	}
}

func reportOutcome(out io.Writer, outcome callback.Outcome) error {
	switch outcome.Kind {
	case callback.LoginSucceeded:
		_, _ = fmt.Fprintf(out, "%s authentication successful!\n", outcome.Provider.DisplayName())
		return nil
	case callback.LinkSucceeded:
		_, _ = fmt.Fprintf(out, "%s account linked.\n", outcome.Provider.DisplayName())
		return nil
	}
	_, _ = fmt.Fprintf(out, "%s\n", outcome.Message)
	if outcome.Err != nil {
		return outcome.Err
	}
	return fmt.Errorf("login failed: %s", outcome.Kind)
}

// DoEmailLogin signs in with a one-time code sent to an address. An expired code sends
// the user back to requesting a new one.
func DoEmailLogin(ctx context.Context, agent *authflow.Agent, address string, options *LoginOptions) error {
	if options == nil {
		options = &LoginOptions{}
	}
	out := options.out()
	promptFn := options.prompt()

	for {
		if strings.TrimSpace(address) == "" {
			value, err := promptFn("Email address: ")
			if err != nil {
				return fmt.Errorf("read email address: %w", err)
			}
			address = value
		}
		if err := agent.Email.RequestCode(ctx, address); err != nil {
			if validate.IsValidationError(err) {
				_, _ = fmt.Fprintf(out, "%v\n", err)
				address = ""
				continue
			}
			return err
		}
		_, _ = fmt.Fprintf(out, "A verification code was sent to %s.\n", address)

		expired, err := verifyLoop(ctx, agent, address, promptFn, out)
		if err != nil {
			return err
		}
		if !expired {
			_, _ = fmt.Fprintln(out, "Email authentication successful!")
			return nil
		}
	}
}

// verifyLoop prompts for codes until one is accepted. It reports expired=true when a new
// code has to be requested.
func verifyLoop(ctx context.Context, agent *authflow.Agent, address string, promptFn func(string) (string, error), out io.Writer) (bool, error) {
	for {
		code, err := promptFn("Verification code: ")
		if err != nil {
			return false, fmt.Errorf("read verification code: %w", err)
		}
		err = agent.Email.Verify(ctx, address, code)
		switch {
		case err == nil:
			return false, nil
		case errors.Is(err, email.ErrCodeExpired):
			_, _ = fmt.Fprintf(out, "%v\n", err)
			return true, nil
		case validate.IsValidationError(err):
			_, _ = fmt.Fprintf(out, "%v\n", err)
		default:
			var userErr *email.UserError
			if !errors.As(err, &userErr) {
				return false, err
			}
			_, _ = fmt.Fprintln(out, userErr.Message)
		}
	}
}
