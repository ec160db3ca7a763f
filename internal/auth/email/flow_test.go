package email

import (
	"context"
	"errors"
	"testing"

	"github.com/growgrammers/authflow/internal/authcore"
	"github.com/growgrammers/authflow/internal/provider"
	"github.com/growgrammers/authflow/internal/validate"
)

type fakeBackend struct {
	requested []string
	loginFail *authcore.Failure
	lastLogin authcore.LoginRequest
}

func (b *fakeBackend) RequestEmailCode(_ context.Context, addr string) authcore.Result[authcore.Empty] {
	b.requested = append(b.requested, addr)
	return authcore.Ok(authcore.Empty{})
}

func (b *fakeBackend) Login(_ context.Context, req authcore.LoginRequest) authcore.Result[authcore.Session] {
	b.lastLogin = req
	if b.loginFail != nil {
		return authcore.Fail[authcore.Session](b.loginFail)
	}
	return authcore.Ok(authcore.Session{AccessToken: "email-token"})
}

type sinkFunc func(ctx context.Context, p provider.Name, s authcore.Session) error

func (f sinkFunc) OnLogin(ctx context.Context, p provider.Name, s authcore.Session) error {
	return f(ctx, p, s)
}

func TestFlowHappyPath(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := &fakeBackend{}
	var got provider.Name
	flow := NewFlow(backend, sinkFunc(func(_ context.Context, p provider.Name, s authcore.Session) error {
		got = p
		return nil
	}))

	if err := flow.Verify(ctx, "test@example.com", "123456"); !errors.Is(err, ErrCodeNotRequested) {
		t.Fatalf("verify before request: %v", err)
	}
	if err := flow.RequestCode(ctx, " test@example.com "); err != nil {
		t.Fatalf("RequestCode: %v", err)
	}
	if step, addr := flow.Step(); step != StepEnterCode || addr != "test@example.com" {
		t.Fatalf("step = %s, %s", step, addr)
	}
	if err := flow.Verify(ctx, "test@example.com", "123456"); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if backend.lastLogin.Provider != "email" || backend.lastLogin.VerifyCode != "123456" || backend.lastLogin.AuthCode != "" {
		t.Fatalf("login request = %+v", backend.lastLogin)
	}
	if got != provider.Email {
		t.Fatalf("sink provider = %q", got)
	}
	if step, _ := flow.Step(); step != StepDone {
		t.Fatalf("step = %s", step)
	}
}

func TestFlowRejectsInvalidInput(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := &fakeBackend{}
	flow := NewFlow(backend, sinkFunc(func(context.Context, provider.Name, authcore.Session) error { return nil }))

	if err := flow.RequestCode(ctx, "test@@example.com"); !validate.IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(backend.requested) != 0 {
		t.Fatal("invalid email must not reach the backend")
	}
}

func TestFlowBackendFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		kind      authcore.FailureKind
		wantStep  Step
		wantReset bool
	}{
		{kind: authcore.KindExpiredCode, wantStep: StepEnterEmail, wantReset: true},
		{kind: authcore.KindInvalidCode, wantStep: StepEnterCode},
		{kind: authcore.KindRateLimited, wantStep: StepEnterCode},
	}
	for _, tt := range tests {
		backend := &fakeBackend{loginFail: &authcore.Failure{Kind: tt.kind, Message: "backend says no"}}
		flow := NewFlow(backend, sinkFunc(func(context.Context, provider.Name, authcore.Session) error { return nil }))
		if err := flow.RequestCode(ctx, "test@example.com"); err != nil {
			t.Fatalf("RequestCode: %v", err)
		}
		err := flow.Verify(ctx, "test@example.com", "654321")
		var userErr *UserError
		if !errors.As(err, &userErr) || userErr.Message != Message(backend.loginFail) {
			t.Fatalf("%s: error = %v", tt.kind, err)
		}
		if errors.Is(err, ErrCodeExpired) != tt.wantReset {
			t.Fatalf("%s: ErrCodeExpired = %v", tt.kind, errors.Is(err, ErrCodeExpired))
		}
		if step, _ := flow.Step(); step != tt.wantStep {
			t.Fatalf("%s: step = %s, want %s", tt.kind, step, tt.wantStep)
		}
	}
}
