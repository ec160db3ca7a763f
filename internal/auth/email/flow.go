// Package email drives the email one-time-code login: request a code for an address, then
// verify it. The flow is a small state machine so that an expired code forces a new
// request instead of being retried.
package email

import (
	"context"
	"errors"
	"sync"

	"github.com/growgrammers/authflow/internal/authcore"
	"github.com/growgrammers/authflow/internal/logging"
	"github.com/growgrammers/authflow/internal/provider"
	"github.com/growgrammers/authflow/internal/validate"
)

var (
	// ErrCodeNotRequested is returned by Verify before a code was sent to the address.
	ErrCodeNotRequested = errors.New("email: request a verification code first")
	// ErrCodeExpired means the code timed out; a new one has to be requested.
	ErrCodeExpired = errors.New("email: verification code expired")
)

// Step is where the flow currently is.
type Step string

const (
	StepEnterEmail Step = "enter_email"
	StepEnterCode  Step = "enter_code"
	StepDone       Step = "done"
)

// Backend is the part of the auth-core API the flow uses.
type Backend interface {
	RequestEmailCode(ctx context.Context, email string) authcore.Result[authcore.Empty]
	Login(ctx context.Context, req authcore.LoginRequest) authcore.Result[authcore.Session]
}

// Sink receives the session of a successful login.
type Sink interface {
	OnLogin(ctx context.Context, p provider.Name, s authcore.Session) error
}

// Flow is the email login state machine. It is safe for concurrent use.
type Flow struct {
	backend Backend
	sink    Sink

	mu    sync.Mutex
	step  Step
	email string
}

// NewFlow returns a flow waiting for an email address.
func NewFlow(backend Backend, sink Sink) *Flow {
	return &Flow{backend: backend, sink: sink, step: StepEnterEmail}
}

// Step returns the current step and the address a code was sent to.
func (f *Flow) Step() (Step, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.step, f.email
}

// Reset returns the flow to the email step.
func (f *Flow) Reset() {
	f.mu.Lock()
	f.step, f.email = StepEnterEmail, ""
	f.mu.Unlock()
}

// RequestCode validates addr and asks the backend to send it a code.
func (f *Flow) RequestCode(ctx context.Context, addr string) error {
	addr, err := validate.Email(addr)
	if err != nil {
		return err
	}
	res := f.backend.RequestEmailCode(ctx, addr)
	if !res.OK() {
		logging.Entry(ctx).WithField("kind", res.Failure.Kind).Warn("email code request failed")
		return &UserError{Message: Message(res.Failure), Err: res.Err()}
	}
	f.mu.Lock()
	f.step, f.email = StepEnterCode, addr
	f.mu.Unlock()
	logging.Entry(ctx).Info("email verification code sent")
	return nil
}

// Verify logs in with the code sent to addr.
func (f *Flow) Verify(ctx context.Context, addr, code string) error {
	addr, err := validate.Email(addr)
	if err != nil {
		return err
	}
	if code, err = validate.VerifyCode(code); err != nil {
		return err
	}
	f.mu.Lock()
	requested := f.step == StepEnterCode && f.email == addr
	f.mu.Unlock()
	if !requested {
		return ErrCodeNotRequested
	}

	res := f.backend.Login(ctx, authcore.LoginRequest{Provider: string(provider.Email), Email: addr, VerifyCode: code})
	if !res.OK() {
		logging.Entry(ctx).WithField("kind", res.Failure.Kind).Warn("email login failed")
		if res.Failure.Kind == authcore.KindExpiredCode {
			f.Reset()
			return &UserError{Message: Message(res.Failure), Err: ErrCodeExpired}
		}
		return &UserError{Message: Message(res.Failure), Err: res.Err()}
	}
	if err = f.sink.OnLogin(ctx, provider.Email, res.Value); err != nil {
		return err
	}
	f.mu.Lock()
	f.step = StepDone
	f.mu.Unlock()
	return nil
}

// UserError carries the message to show next to the underlying failure.
type UserError struct {
	Message string
	Err     error
}

func (e *UserError) Error() string { return e.Message }
func (e *UserError) Unwrap() error { return e.Err }

// Message maps a backend failure of the email flow to a user-facing message.
func Message(f *authcore.Failure) string {
	if f == nil {
		return ""
	}
	switch f.Kind {
	case authcore.KindExpiredCode:
		return "The verification code has expired. Please request a new code."
	case authcore.KindInvalidCode:
		return "The verification code is incorrect."
	case authcore.KindRateLimited:
		return "Too many attempts. Please wait a moment and try again."
	case authcore.KindNetwork, authcore.KindTimeout:
		return "Could not reach the server. Please try again."
	}
	if f.Message != "" {
		return f.Message
	}
	return "Email login failed. Please try again."
}
