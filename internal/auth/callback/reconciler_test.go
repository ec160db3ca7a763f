package callback

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/growgrammers/authflow/internal/auth/nav"
	"github.com/growgrammers/authflow/internal/auth/oauthstate"
	"github.com/growgrammers/authflow/internal/authcore"
	"github.com/growgrammers/authflow/internal/misc"
	"github.com/growgrammers/authflow/internal/provider"
	"github.com/growgrammers/authflow/internal/storage"
)

type fakeExchanger struct {
	logins atomic.Int32
	links  atomic.Int32
	gate   chan struct{}

	mu      sync.Mutex
	lastReq authcore.LoginRequest
	fail    *authcore.Failure
}

func (f *fakeExchanger) Login(_ context.Context, req authcore.LoginRequest) authcore.Result[authcore.Session] {
	f.logins.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	f.lastReq = req
	fail := f.fail
	f.mu.Unlock()
	if fail != nil {
		return authcore.Fail[authcore.Session](fail)
	}
	return authcore.Ok(authcore.Session{AccessToken: "access-" + req.AuthCode, ExpiredAt: time.Now().Add(time.Hour).UnixMilli()})
}

func (f *fakeExchanger) LinkSocial(_ context.Context, p, _, _, _ string) authcore.Result[authcore.UserInfo] {
	f.links.Add(1)
	return authcore.Ok(authcore.UserInfo{ID: "u1", Providers: []string{p}})
}

type fakeSession struct {
	mu     sync.Mutex
	token  string
	linked []provider.Name
}

func (s *fakeSession) OnLogin(_ context.Context, _ provider.Name, sess authcore.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = sess.AccessToken
	return nil
}

func (s *fakeSession) OnLinked(_ context.Context, p provider.Name, _ authcore.UserInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.linked = append(s.linked, p)
}

func (s *fakeSession) AccessToken(context.Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *fakeSession) IsAuthenticated(ctx context.Context) bool { return s.AccessToken(ctx) != "" }

type fixture struct {
	state     *oauthstate.State
	exchanger *fakeExchanger
	session   *fakeSession
	r         *Reconciler
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		state:     oauthstate.New(storage.NewMemoryStorage()),
		exchanger: &fakeExchanger{},
		session:   &fakeSession{},
	}
	f.r = New(f.state, f.exchanger, f.session, opts)
	f.r.afterFunc = func(_ time.Duration, fn func()) { fn() }
	t.Cleanup(f.r.Close)
	return f
}

func (f *fixture) begin(t *testing.T, p provider.Name, mode oauthstate.Mode) string {
	t.Helper()
	params, err := f.state.BeginFlow(context.Background(), p, mode)
	if err != nil {
		t.Fatalf("BeginFlow: %v", err)
	}
	return params.State
}

func callbackParams(p provider.Name, code, state string) Params {
	return Params{Provider: p, OAuthCallback: misc.OAuthCallback{Code: code, State: state}}
}

func TestHandleLoginSucceeds(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Options{})
	state := f.begin(t, provider.Google, oauthstate.ModeLogin)
	verifier, _ := f.state.Verifier(ctx, provider.Google)

	out := f.r.Handle(ctx, callbackParams(provider.Google, "code-1", state))
	if out.Kind != LoginSucceeded || out.Destination != nav.Complete {
		t.Fatalf("outcome = %+v", out)
	}
	if f.exchanger.lastReq.Provider != "google" || f.exchanger.lastReq.AuthCode != "code-1" || f.exchanger.lastReq.CodeVerifier != verifier {
		t.Fatalf("login request = %+v", f.exchanger.lastReq)
	}
	if f.session.AccessToken(ctx) != "access-code-1" {
		t.Fatalf("session token = %q", f.session.AccessToken(ctx))
	}
	if _, ok := f.state.Verifier(ctx, provider.Google); ok {
		t.Fatal("verifier must be cleaned after a terminal outcome")
	}
	if _, ok := f.state.InProgress(ctx); ok {
		t.Fatal("in-progress marker must be cleaned")
	}
}

func TestHandleSequentialDuplicateReplaysOutcome(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Options{})
	state := f.begin(t, provider.Kakao, oauthstate.ModeLogin)
	params := callbackParams(provider.Kakao, "dup-code", state)

	first := f.r.Handle(ctx, params)
	second := f.r.Handle(ctx, params)
	if got := f.exchanger.logins.Load(); got != 1 {
		t.Fatalf("login calls = %d, want 1", got)
	}
	if first.Destination != second.Destination || first.Kind != second.Kind {
		t.Fatalf("first = %+v, second = %+v", first, second)
	}
	if first.Replayed || !second.Replayed {
		t.Fatalf("replayed flags = %v, %v", first.Replayed, second.Replayed)
	}
}

func TestHandleConcurrentDuplicatesExchangeOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.exchanger.gate = make(chan struct{})
	state := f.begin(t, provider.Naver, oauthstate.ModeLogin)
	params := callbackParams(provider.Naver, "race-code", state)

	const callers = 4
	var wg sync.WaitGroup
	outcomes := make([]Outcome, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = f.r.Handle(ctx, params)
		}(i)
	}
	for f.exchanger.logins.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(f.exchanger.gate)
	wg.Wait()

	if got := f.exchanger.logins.Load(); got != 1 {
		t.Fatalf("login calls = %d, want 1", got)
	}
	for i, out := range outcomes {
		if out.Destination != nav.Complete {
			t.Errorf("caller %d destination = %s", i, out.Destination)
		}
	}
}

func TestHandleStateMismatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	strict := newFixture(t, Options{})
	strict.begin(t, provider.Google, oauthstate.ModeLogin)
	out := strict.r.Handle(ctx, callbackParams(provider.Google, "c", "forged"))
	if out.Kind != StateRejected || out.Destination != nav.Entry {
		t.Fatalf("strict outcome = %+v", out)
	}
	if strict.exchanger.logins.Load() != 0 {
		t.Fatal("no exchange may happen after a state mismatch")
	}
	if _, ok := strict.state.Verifier(ctx, provider.Google); ok {
		t.Fatal("rejected callback must clean up")
	}

	lenient := newFixture(t, Options{InsecureSkipStateCheck: true})
	lenient.begin(t, provider.Google, oauthstate.ModeLogin)
	out = lenient.r.Handle(ctx, callbackParams(provider.Google, "c", "forged"))
	if out.Kind != LoginSucceeded {
		t.Fatalf("lenient outcome = %+v", out)
	}
}

func TestHandleProviderError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		code string
		want string
	}{
		{"access_denied", "Login was cancelled or access was denied."},
		{"invalid_scope", "The requested permissions are invalid."},
		{"server_error", "Social login failed. Please try again."},
	}
	for _, tt := range tests {
		f := newFixture(t, Options{ErrorRedirectDelay: 2 * time.Second})
		f.begin(t, provider.Kakao, oauthstate.ModeLogin)
		out := f.r.Handle(ctx, Params{Provider: provider.Kakao, OAuthCallback: misc.OAuthCallback{Error: tt.code}})
		if out.Kind != ProviderError || out.Destination != nav.Entry {
			t.Fatalf("%s: outcome = %+v", tt.code, out)
		}
		if out.Message != tt.want {
			t.Errorf("%s: message = %q, want %q", tt.code, out.Message, tt.want)
		}
		if out.Delay != 2*time.Second {
			t.Errorf("%s: delay = %v", tt.code, out.Delay)
		}
		if _, ok := f.state.Verifier(ctx, provider.Kakao); ok {
			t.Errorf("%s: verifier must be cleaned", tt.code)
		}
		if f.exchanger.logins.Load() != 0 {
			t.Errorf("%s: unexpected exchange", tt.code)
		}
	}
}

func TestHandleMissingCodeAndVerifier(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Options{})

	if out := f.r.Handle(ctx, Params{Provider: provider.Google}); out.Kind != Failed {
		t.Fatalf("missing code outcome = %+v", out)
	}
	if out := f.r.Handle(ctx, callbackParams(provider.Name("github"), "c", "s")); out.Kind != Failed {
		t.Fatalf("unknown provider outcome = %+v", out)
	}

	// The callback state matches nothing because the flow was never started, so only the
	// lenient mode reaches the verifier check.
	lenient := newFixture(t, Options{InsecureSkipStateCheck: true})
	out := lenient.r.Handle(ctx, callbackParams(provider.Google, "c", "s"))
	if out.Kind != Failed || out.Destination != nav.Login || out.Err != ErrMissingVerifier {
		t.Fatalf("missing verifier outcome = %+v", out)
	}
	if lenient.exchanger.logins.Load() != 0 {
		t.Fatal("no exchange without a verifier")
	}
}

func TestHandleBackendFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.exchanger.fail = &authcore.Failure{Kind: authcore.KindInvalidCode, Message: "Invalid authorization code"}
	state := f.begin(t, provider.Google, oauthstate.ModeLogin)

	out := f.r.Handle(ctx, callbackParams(provider.Google, "bad", state))
	if out.Kind != Failed || out.Destination != nav.Login {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Message != "Invalid authorization code" {
		t.Fatalf("message = %q", out.Message)
	}
	if f.session.IsAuthenticated(ctx) {
		t.Fatal("failed login must not authenticate")
	}
}

func TestHandleLinkMode(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t, Options{})
	f.session.token = "signed-in"
	state := f.begin(t, provider.Kakao, oauthstate.ModeLink)
	out := f.r.Handle(ctx, callbackParams(provider.Kakao, "link-code", state))
	if out.Kind != LinkSucceeded || out.Destination != nav.Linked("kakao") {
		t.Fatalf("outcome = %+v", out)
	}
	if f.exchanger.links.Load() != 1 || f.exchanger.logins.Load() != 0 {
		t.Fatalf("links = %d, logins = %d", f.exchanger.links.Load(), f.exchanger.logins.Load())
	}
	if len(f.session.linked) != 1 || f.session.linked[0] != provider.Kakao {
		t.Fatalf("linked = %v", f.session.linked)
	}

	anon := newFixture(t, Options{})
	state = anon.begin(t, provider.Kakao, oauthstate.ModeLink)
	out = anon.r.Handle(ctx, callbackParams(provider.Kakao, "link-code", state))
	if out.Kind != Failed || out.Err != ErrLinkRequiresLogin {
		t.Fatalf("anonymous link outcome = %+v", out)
	}
	if anon.exchanger.links.Load() != 0 {
		t.Fatal("link without session must not reach the backend")
	}
}

func TestHandleGuardHeldElsewhere(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Options{})
	state := f.begin(t, provider.Google, oauthstate.ModeLogin)

	other := oauthstate.New(f.state.Storage())
	if ok, err := other.TryAcquireProcessing(ctx, provider.Google, time.Minute); !ok || err != nil {
		t.Fatalf("acquire = %v, %v", ok, err)
	}
	out := f.r.Handle(ctx, callbackParams(provider.Google, "c", state))
	if out.Kind != Duplicate || out.Destination != nav.Login {
		t.Fatalf("outcome = %+v", out)
	}
	if f.exchanger.logins.Load() != 0 {
		t.Fatal("a guarded callback must not exchange")
	}
	if _, ok := f.state.Verifier(ctx, provider.Google); !ok {
		t.Fatal("the guard owner's verifier must survive")
	}
}

func TestResumePendingPriority(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Options{})

	if _, ok := f.r.ResumePending(ctx); ok {
		t.Fatal("nothing pending yet")
	}

	f.begin(t, provider.Naver, oauthstate.ModeLogin)
	f.begin(t, provider.Google, oauthstate.ModeLogin)
	for _, p := range []provider.Name{provider.Naver, provider.Google} {
		if ok, err := f.state.ConsumeCode(ctx, p, string(p)+"-code"); !ok || err != nil {
			t.Fatalf("ConsumeCode(%s) = %v, %v", p, ok, err)
		}
	}

	out, ok := f.r.ResumePending(ctx)
	if !ok || out.Provider != provider.Google || out.Kind != LoginSucceeded {
		t.Fatalf("resume = %+v, %v", out, ok)
	}
	if f.exchanger.lastReq.AuthCode != "google-code" {
		t.Fatalf("exchanged code = %q", f.exchanger.lastReq.AuthCode)
	}
	if _, pending := f.state.PendingCode(ctx, provider.Naver); pending {
		t.Fatal("lower priority pending code must be discarded")
	}
	if _, ok = f.r.ResumePending(ctx); ok {
		t.Fatal("second resume must find nothing")
	}
}
