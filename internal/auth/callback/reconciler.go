// Package callback reconciles OAuth redirects with the flow recorded in storage. It checks
// the CSRF state, makes sure an authorization code is exchanged at most once, dispatches to
// the login or account-link endpoint and decides where the user lands.
//
// Every entry point is idempotent: the same (provider, code) delivered twice, concurrently
// or one after the other, ends on the same destination with a single exchange call.
package callback

import (
	"context"
	"time"

	"github.com/growgrammers/authflow/internal/auth/nav"
	"github.com/growgrammers/authflow/internal/auth/oauthstate"
	"github.com/growgrammers/authflow/internal/authcore"
	"github.com/growgrammers/authflow/internal/cache"
	"github.com/growgrammers/authflow/internal/config"
	"github.com/growgrammers/authflow/internal/logging"
	"github.com/growgrammers/authflow/internal/misc"
	"github.com/growgrammers/authflow/internal/provider"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// processingStaleAfter bounds how long a guard left by a crashed process blocks callbacks.
const processingStaleAfter = 2 * time.Minute

// OutcomeKind is the terminal state of one callback.
type OutcomeKind string

const (
	LoginSucceeded OutcomeKind = "login_succeeded"
	LinkSucceeded  OutcomeKind = "link_succeeded"
	Failed         OutcomeKind = "failed"
	ProviderError  OutcomeKind = "provider_error"
	StateRejected  OutcomeKind = "state_rejected"
	Duplicate      OutcomeKind = "duplicate"
)

// Outcome tells the host where to send the user and what to show.
type Outcome struct {
	Kind        OutcomeKind     `json:"kind"`
	Provider    provider.Name   `json:"provider"`
	Mode        oauthstate.Mode `json:"mode,omitempty"`
	Destination nav.Destination `json:"destination"`
	// Message is user-facing; empty on success.
	Message string `json:"message,omitempty"`
	// Delay is how long the message should stay visible before redirecting.
	Delay time.Duration `json:"delay,omitempty"`
	// Replayed is set when the outcome was answered from the cache of finished callbacks.
	Replayed bool `json:"replayed,omitempty"`
	// Err is the underlying cause for failures.
	Err error `json:"-"`
}

// Succeeded reports whether the callback signed the user in or linked an account.
func (o Outcome) Succeeded() bool { return o.Kind == LoginSucceeded || o.Kind == LinkSucceeded }

// Params are the redirect parameters for one provider.
type Params struct {
	Provider provider.Name
	misc.OAuthCallback
}

// Exchanger is the backend half of the flow.
type Exchanger interface {
	Login(ctx context.Context, req authcore.LoginRequest) authcore.Result[authcore.Session]
	LinkSocial(ctx context.Context, provider, accessToken, authCode, codeVerifier string) authcore.Result[authcore.UserInfo]
}

// Session receives the results of successful exchanges.
type Session interface {
	OnLogin(ctx context.Context, p provider.Name, s authcore.Session) error
	OnLinked(ctx context.Context, p provider.Name, user authcore.UserInfo)
	AccessToken(ctx context.Context) string
	IsAuthenticated(ctx context.Context) bool
}

// Options tunes the reconciler.
type Options struct {
	// InsecureSkipStateCheck lets a mismatched state continue with a warning.
	InsecureSkipStateCheck bool
	ProcessingReleaseDelay time.Duration
	ErrorRedirectDelay     time.Duration
	OutcomeTTL             time.Duration
}

// OptionsFromConfig reads the callback settings of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		InsecureSkipStateCheck: cfg.InsecureSkipStateCheck,
		ProcessingReleaseDelay: cfg.Callback.ProcessingReleaseDelay,
		ErrorRedirectDelay:     cfg.Callback.ErrorRedirectDelay,
		OutcomeTTL:             cfg.Callback.OutcomeTTL,
	}
}

// Reconciler processes OAuth redirects.
type Reconciler struct {
	state     *oauthstate.State
	exchanger Exchanger
	session   Session
	opts      Options

	group    singleflight.Group
	outcomes *cache.TTLCache[Outcome]
	// afterFunc schedules the delayed guard release.
	afterFunc func(d time.Duration, f func())
}

// New returns a Reconciler. Close releases its outcome cache.
func New(state *oauthstate.State, exchanger Exchanger, session Session, opts Options) *Reconciler {
	if opts.ProcessingReleaseDelay <= 0 {
		opts.ProcessingReleaseDelay = config.DefaultProcessingReleaseDelay
	}
	if opts.ErrorRedirectDelay <= 0 {
		opts.ErrorRedirectDelay = config.DefaultErrorRedirectDelay
	}
	if opts.OutcomeTTL <= 0 {
		opts.OutcomeTTL = config.DefaultOutcomeTTL
	}
	if opts.InsecureSkipStateCheck {
		log.Warn("OAuth state mismatches will NOT abort callbacks (insecure-skip-state-check is enabled)")
	}
	return &Reconciler{
		state:     state,
		exchanger: exchanger,
		session:   session,
		opts:      opts,
		outcomes:  cache.NewTTLCache[Outcome](opts.OutcomeTTL),
		afterFunc: func(d time.Duration, f func()) { time.AfterFunc(d, f) },
	}
}

// Close stops background work.
func (r *Reconciler) Close() { r.outcomes.Close() }

// Handle reconciles one redirect.
func (r *Reconciler) Handle(ctx context.Context, p Params) Outcome {
	ctx = logging.EnsureRequestID(ctx)
	entry := logging.Entry(ctx).WithField("provider", p.Provider)

	if !p.Provider.Valid() {
		return Outcome{Kind: Failed, Provider: p.Provider, Destination: nav.Login, Message: GetUserFriendlyMessage(provider.ErrUnknownProvider), Err: provider.ErrUnknownProvider}
	}
	if p.Error != "" {
		oauthErr := NewOAuthError(p.Error, p.ErrorDescription)
		entry.WithField("error", p.Error).Warn("provider returned an OAuth error")
		if err := r.state.Cleanup(ctx, p.Provider); err != nil {
			entry.WithError(err).Warn("cleanup after provider error failed")
		}
		return Outcome{
			Kind:        ProviderError,
			Provider:    p.Provider,
			Destination: nav.Entry,
			Message:     GetUserFriendlyMessage(oauthErr),
			Delay:       r.opts.ErrorRedirectDelay,
			Err:         oauthErr,
		}
	}
	if p.Code == "" {
		return Outcome{Kind: Failed, Provider: p.Provider, Destination: nav.Entry, Message: GetUserFriendlyMessage(ErrMissingCode), Err: ErrMissingCode}
	}

	if cached, ok := r.outcomes.Get(string(p.Provider), p.Code); ok {
		entry.WithField("outcome", cached.Kind).Debug("duplicate callback answered from outcome cache")
		cached.Replayed = true
		return cached
	}

	key := string(p.Provider) + ":" + cache.HashSecret(p.Code)
	v, _, shared := r.group.Do(key, func() (interface{}, error) {
		out := r.process(context.WithoutCancel(ctx), p, false)
		if out.Kind != Duplicate {
			r.outcomes.Put(string(p.Provider), p.Code, out)
		}
		return out, nil
	})
	if shared {
		entry.Debug("concurrent duplicate callback joined the in-flight reconciliation")
	}
	return v.(Outcome)
}

// ResumePending finishes an authorization code that was recorded but never exchanged,
// for example because the agent stopped mid-flow. Providers are scanned in priority order;
// the first pending code is processed and the codes of the other providers are cleaned.
func (r *Reconciler) ResumePending(ctx context.Context) (Outcome, bool) {
	ctx = logging.EnsureRequestID(ctx)
	var (
		chosen provider.Name
		code   string
	)
	for _, p := range provider.Priority {
		c, ok := r.state.PendingCode(ctx, p)
		if !ok {
			continue
		}
		if chosen == "" {
			chosen, code = p, c
			continue
		}
		logging.Entry(ctx).WithField("provider", p).Info("discarding pending authorization code of lower priority provider")
		if err := r.state.Cleanup(ctx, p); err != nil {
			logging.Entry(ctx).WithError(err).Warn("cleanup of pending code failed")
		}
	}
	if chosen == "" {
		return Outcome{}, false
	}

	p := Params{Provider: chosen, OAuthCallback: misc.OAuthCallback{Code: code}}
	v, _, _ := r.group.Do(string(chosen)+":"+cache.HashSecret(code), func() (interface{}, error) {
		out := r.process(context.WithoutCancel(ctx), p, true)
		if out.Kind != Duplicate {
			r.outcomes.Put(string(chosen), code, out)
		}
		return out, nil
	})
	return v.(Outcome), true
}

// process runs one reconciliation. resumed skips state validation and code recording,
// both of which happened when the code was first delivered.
func (r *Reconciler) process(ctx context.Context, p Params, resumed bool) Outcome {
	entry := logging.Entry(ctx).WithField("provider", p.Provider)

	acquired, err := r.state.TryAcquireProcessing(ctx, p.Provider, processingStaleAfter)
	if err != nil {
		entry.WithError(err).Warn("processing guard unavailable, continuing without it")
	} else if !acquired {
		entry.Info("callback already being processed elsewhere")
		return r.duplicate(ctx, p.Provider)
	}
	if acquired {
		defer r.afterFunc(r.opts.ProcessingReleaseDelay, func() {
			if errRelease := r.state.ReleaseProcessing(context.Background(), p.Provider); errRelease != nil {
				log.WithError(errRelease).WithField("provider", p.Provider).Warn("failed to release callback processing guard")
			}
		})
	}
	defer func() {
		if errCleanup := r.state.Cleanup(ctx, p.Provider); errCleanup != nil {
			entry.WithError(errCleanup).Warn("oauth state cleanup failed")
		}
	}()

	if !resumed {
		valid, errValidate := r.state.ValidateReturn(ctx, p.Provider, p.State)
		if errValidate != nil {
			entry.WithError(errValidate).Warn("state validation failed")
		}
		if !valid {
			if !r.opts.InsecureSkipStateCheck {
				entry.Warn("OAuth state mismatch, aborting callback")
				return Outcome{Kind: StateRejected, Provider: p.Provider, Destination: nav.Entry, Message: GetUserFriendlyMessage(ErrInvalidState), Err: ErrInvalidState}
			}
			entry.Warn("OAuth state mismatch ignored because insecure-skip-state-check is enabled")
		}

		if r.state.IsCodeUsed(ctx, p.Provider, p.Code) {
			entry.Info("authorization code already used, ignoring duplicate callback")
			return r.duplicate(ctx, p.Provider)
		}
		fresh, errConsume := r.state.ConsumeCode(ctx, p.Provider, p.Code)
		if errConsume != nil {
			entry.WithError(errConsume).Warn("failed to record authorization code")
		} else if !fresh {
			entry.Info("authorization code already recorded, ignoring duplicate callback")
			return r.duplicate(ctx, p.Provider)
		}
	}

	marker := r.state.Marker(ctx, p.Provider)
	verifier, ok := r.state.Verifier(ctx, p.Provider)
	if !ok {
		entry.Warn("code verifier missing, cannot exchange authorization code")
		return Outcome{Kind: Failed, Provider: p.Provider, Mode: marker.Mode, Destination: nav.Login, Message: GetUserFriendlyMessage(ErrMissingVerifier), Err: ErrMissingVerifier}
	}
	if marker.Mode == oauthstate.ModeLink {
		return r.link(ctx, p, verifier)
	}
	return r.login(ctx, p, verifier)
}

func (r *Reconciler) login(ctx context.Context, p Params, verifier string) Outcome {
	entry := logging.Entry(ctx).WithFields(log.Fields{"provider": p.Provider, "mode": oauthstate.ModeLogin})
	res := r.exchanger.Login(ctx, authcore.LoginRequest{
		Provider:     string(p.Provider),
		AuthCode:     p.Code,
		CodeVerifier: verifier,
	})
	r.markUsed(ctx, p.Provider)
	if !res.OK() {
		entry.WithField("kind", res.Failure.Kind).Warnf("login exchange failed: %s", res.Failure.Message)
		return Outcome{Kind: Failed, Provider: p.Provider, Mode: oauthstate.ModeLogin, Destination: nav.Login, Message: res.Message(GetUserFriendlyMessage(nil)), Err: res.Err()}
	}
	if err := r.session.OnLogin(ctx, p.Provider, res.Value); err != nil {
		entry.WithError(err).Error("failed to store session after login")
		return Outcome{Kind: Failed, Provider: p.Provider, Mode: oauthstate.ModeLogin, Destination: nav.Login, Message: GetUserFriendlyMessage(err), Err: err}
	}
	entry.WithField("destination", nav.Complete).Info("social login succeeded")
	return Outcome{Kind: LoginSucceeded, Provider: p.Provider, Mode: oauthstate.ModeLogin, Destination: nav.Complete}
}

func (r *Reconciler) link(ctx context.Context, p Params, verifier string) Outcome {
	entry := logging.Entry(ctx).WithFields(log.Fields{"provider": p.Provider, "mode": oauthstate.ModeLink})
	accessToken := r.session.AccessToken(ctx)
	if accessToken == "" {
		entry.Warn("link callback without a signed-in session")
		return Outcome{Kind: Failed, Provider: p.Provider, Mode: oauthstate.ModeLink, Destination: nav.Login, Message: GetUserFriendlyMessage(ErrLinkRequiresLogin), Err: ErrLinkRequiresLogin}
	}
	res := r.exchanger.LinkSocial(ctx, string(p.Provider), accessToken, p.Code, verifier)
	r.markUsed(ctx, p.Provider)
	if !res.OK() {
		entry.WithField("kind", res.Failure.Kind).Warnf("account link failed: %s", res.Failure.Message)
		return Outcome{Kind: Failed, Provider: p.Provider, Mode: oauthstate.ModeLink, Destination: nav.Login, Message: res.Message(GetUserFriendlyMessage(nil)), Err: res.Err()}
	}
	r.session.OnLinked(ctx, p.Provider, res.Value)
	dest := nav.Linked(string(p.Provider))
	entry.WithField("destination", dest).Info("account linked")
	return Outcome{Kind: LinkSucceeded, Provider: p.Provider, Mode: oauthstate.ModeLink, Destination: dest}
}

func (r *Reconciler) markUsed(ctx context.Context, p provider.Name) {
	if err := r.state.MarkCodeUsed(ctx, p); err != nil {
		logging.Entry(ctx).WithError(err).WithField("provider", p).Warn("failed to mark authorization code used")
	}
}

// duplicate is the harmless answer to a callback that another invocation owns. The user
// goes where the owner will send them once it is done.
func (r *Reconciler) duplicate(ctx context.Context, p provider.Name) Outcome {
	dest := nav.Login
	if r.session.IsAuthenticated(ctx) {
		dest = nav.Complete
	}
	return Outcome{Kind: Duplicate, Provider: p, Destination: dest}
}
