// Package session is the composition root of the auth core. A Context owns the storage,
// the token store, the OAuth bookkeeping, the refresh coordinator and the callback
// reconciler of one agent, and it is the only place where they meet. Callers construct it
// once, call Init before serving and Dispose when done.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/growgrammers/authflow/internal/auth/callback"
	"github.com/growgrammers/authflow/internal/auth/nav"
	"github.com/growgrammers/authflow/internal/auth/oauthstate"
	"github.com/growgrammers/authflow/internal/auth/refresh"
	"github.com/growgrammers/authflow/internal/auth/status"
	"github.com/growgrammers/authflow/internal/auth/token"
	"github.com/growgrammers/authflow/internal/authcore"
	"github.com/growgrammers/authflow/internal/config"
	"github.com/growgrammers/authflow/internal/logging"
	"github.com/growgrammers/authflow/internal/misc"
	"github.com/growgrammers/authflow/internal/provider"
	"github.com/growgrammers/authflow/internal/storage"
	log "github.com/sirupsen/logrus"
)

// ErrNotAuthenticated is returned by operations that need a signed-in session.
var ErrNotAuthenticated = errors.New("session: not authenticated")

// Backend is the auth-core API the session talks to.
type Backend interface {
	callback.Exchanger
	refresh.Refresher
	Logout(ctx context.Context, provider string) authcore.Result[authcore.Empty]
	RequestEmailCode(ctx context.Context, email string) authcore.Result[authcore.Empty]
	Me(ctx context.Context, accessToken string) authcore.Result[authcore.UserInfo]
}

// Context wires the auth core together.
type Context struct {
	cfg      *config.Config
	store    storage.Storage
	backend  Backend
	registry *provider.Registry
	navi     nav.Navigator

	tokens      *token.Store
	oauth       *oauthstate.State
	status      *status.Aggregator
	coordinator *refresh.Coordinator
	reconciler  *callback.Reconciler

	waitMu  sync.Mutex
	waiters []chan callback.Outcome

	disposeOnce sync.Once
}

// Option customizes a Context.
type Option func(*options)

type options struct {
	navigator   nav.Navigator
	tokenOpts   []token.Option
	oauthOpts   []oauthstate.Option
	callbackOpt func(*callback.Options)
}

// WithNavigator sets where navigation requests go. The default discards them.
func WithNavigator(n nav.Navigator) Option { return func(o *options) { o.navigator = n } }

// WithClock sets the time source of the token store and OAuth bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.tokenOpts = append(o.tokenOpts, token.WithClock(now))
		o.oauthOpts = append(o.oauthOpts, oauthstate.WithClock(now))
	}
}

// WithExpiryExtractor replaces the JWT expiry extractor of the token store.
func WithExpiryExtractor(e token.ExpiryExtractor) Option {
	return func(o *options) { o.tokenOpts = append(o.tokenOpts, token.WithExtractor(e)) }
}

// WithCallbackOptions adjusts the reconciler options derived from configuration.
func WithCallbackOptions(fn func(*callback.Options)) Option {
	return func(o *options) { o.callbackOpt = fn }
}

// New builds a Context over store and backend. The Context takes ownership of store.
func New(cfg *config.Config, store storage.Storage, backend Backend, opts ...Option) *Context {
	o := &options{navigator: nav.Discard{}}
	for _, opt := range opts {
		opt(o)
	}
	if cfg == nil {
		cfg = &config.Config{}
		cfg.ApplyDefaults()
	}

	c := &Context{
		cfg:      cfg,
		store:    store,
		backend:  backend,
		registry: provider.NewRegistry(cfg),
		navi:     o.navigator,
		tokens:   token.NewStore(store, o.tokenOpts...),
		oauth:    oauthstate.New(store, o.oauthOpts...),
	}
	c.status = status.New(c.tokens, c)
	c.coordinator = refresh.New(c.tokens, backend, c, refresh.Options{
		Interval:  cfg.Refresh.Interval,
		Threshold: cfg.Refresh.Threshold,
		CurrentProvider: func(ctx context.Context) string {
			p, _ := c.CurrentProvider(ctx)
			return string(p)
		},
	})
	cbOpts := callback.OptionsFromConfig(cfg)
	if o.callbackOpt != nil {
		o.callbackOpt(&cbOpts)
	}
	c.reconciler = callback.New(c.oauth, backend, c, cbOpts)
	return c
}

// Init finishes a callback that was interrupted before its code was exchanged and starts
// background refresh when a valid session exists.
func (c *Context) Init(ctx context.Context) error {
	if _, _, err := c.store.Get(ctx, oauthstate.KeyAuthToken); err != nil {
		return fmt.Errorf("session: storage unavailable: %w", err)
	}
	if out, ok := c.reconciler.ResumePending(ctx); ok {
		log.WithFields(log.Fields{"provider": out.Provider, "outcome": out.Kind}).Info("resumed pending OAuth callback")
		c.publish(ctx, out)
	}
	if c.IsAuthenticated(ctx) {
		c.coordinator.Start(ctx)
	}
	return nil
}

// Dispose stops background work and closes the storage.
func (c *Context) Dispose() {
	c.disposeOnce.Do(func() {
		c.coordinator.Stop()
		c.reconciler.Close()
		if err := c.store.Close(); err != nil {
			log.WithError(err).Warn("failed to close storage")
		}
	})
}

func (c *Context) Config() *config.Config { return c.cfg }
func (c *Context) Tokens() *token.Store { return c.tokens }
func (c *Context) OAuthState() *oauthstate.State { return c.oauth }
func (c *Context) Coordinator() *refresh.Coordinator { return c.coordinator }
func (c *Context) Reconciler() *callback.Reconciler { return c.reconciler }
func (c *Context) Registry() *provider.Registry { return c.registry }
func (c *Context) Backend() Backend { return c.backend }
func (c *Context) Navigator() nav.Navigator { return c.navi }
func (c *Context) Status(ctx context.Context) status.Status { return c.status.Compute(ctx) }

// IsAuthenticated reports whether a non-expired token is stored.
func (c *Context) IsAuthenticated(ctx context.Context) bool { return c.status.IsAuthenticated(ctx) }

// AccessToken returns the stored access token, or "".
func (c *Context) AccessToken(ctx context.Context) string {
	t, ok := c.tokens.Get(ctx)
	if !ok {
		return ""
	}
	return t.AccessToken
}

// CurrentProvider returns the login method of the current session.
func (c *Context) CurrentProvider(ctx context.Context) (provider.Name, bool) {
	return status.StoredProvider{Store: c.store, Key: oauthstate.KeyCurrentProviderType}.CurrentProvider(ctx)
}

// SetCurrentProvider records the login method of the current session.
func (c *Context) SetCurrentProvider(ctx context.Context, p provider.Name) error {
	return c.store.Set(ctx, oauthstate.KeyCurrentProviderType, string(p))
}

// OnLogin stores a freshly issued session and starts background refresh.
func (c *Context) OnLogin(ctx context.Context, p provider.Name, s authcore.Session) error {
	misc.LogCredentialSeparator()
	misc.LogSavingToken(string(p), s.AccessToken)
	if err := c.tokens.Save(ctx, token.Token{AccessToken: s.AccessToken, ExpiredAt: s.ExpiredAt}); err != nil {
		return err
	}
	if err := c.SetCurrentProvider(ctx, p); err != nil {
		logging.Entry(ctx).WithError(err).Warn("failed to record current provider")
	}
	if s.User != nil {
		c.cacheUser(ctx, *s.User)
	}
	c.coordinator.Start(ctx)
	return nil
}

// OnLinked refreshes the cached user after a provider was attached.
func (c *Context) OnLinked(ctx context.Context, p provider.Name, user authcore.UserInfo) {
	logging.Entry(ctx).WithField("provider", p).Info("provider linked to account")
	c.cacheUser(ctx, user)
}

// ExpireSession drops every piece of local authentication state and sends the user to the
// entry screen. It runs on the refresh loop, so it must not wait for the coordinator.
func (c *Context) ExpireSession(ctx context.Context, reason string) {
	logging.Entry(ctx).WithField("error", reason).Warn("session expired, signing out locally")
	c.clearLocal(ctx)
	c.navi.Navigate(ctx, nav.Entry)
}

// Logout signs out at the backend and always clears local state. The backend failure, if
// any, is returned after the local session is gone.
func (c *Context) Logout(ctx context.Context) error {
	p, _ := c.CurrentProvider(ctx)
	res := c.backend.Logout(ctx, string(p))
	c.coordinator.Stop()
	c.clearLocal(ctx)
	c.navi.Navigate(ctx, nav.Entry)
	if !res.OK() {
		logging.Entry(ctx).WithField("kind", res.Failure.Kind).Warnf("backend logout failed, local session cleared anyway: %s", res.Failure.Message)
		return res.Err()
	}
	logging.Entry(ctx).WithField("provider", p).Info("logged out")
	return nil
}

func (c *Context) clearLocal(ctx context.Context) {
	if err := c.tokens.Clear(ctx); err != nil {
		logging.Entry(ctx).WithError(err).Error("failed to clear token")
	}
	if err := c.oauth.ClearAll(ctx); err != nil {
		logging.Entry(ctx).WithError(err).Warn("failed to clear oauth markers")
	}
	if err := c.store.Delete(ctx, oauthstate.KeyCurrentProviderType, authcore.KeyCookies); err != nil {
		logging.Entry(ctx).WithError(err).Warn("failed to clear current provider")
	}
	if cc, ok := c.backend.(cookieClearer); ok {
		if err := cc.ClearCookies(ctx); err != nil {
			logging.Entry(ctx).WithError(err).Warn("failed to clear backend cookies")
		}
	}
}

// cookieClearer is implemented by backends that keep cookies across runs.
type cookieClearer interface {
	ClearCookies(ctx context.Context) error
}

// Refresh forces a token refresh, sharing any refresh already in flight.
func (c *Context) Refresh(ctx context.Context) bool {
	if !c.tokens.Has(ctx) {
		return false
	}
	return c.coordinator.ForceRefresh(ctx)
}

// StartOAuth begins a provider flow and returns the authorization URL to open. A missing
// client id is reported before any state is written.
func (c *Context) StartOAuth(ctx context.Context, p provider.Name, mode oauthstate.Mode) (string, error) {
	if _, err := c.registry.OAuth2Config(p); err != nil {
		return "", err
	}
	if mode == oauthstate.ModeLink && !c.IsAuthenticated(ctx) {
		return "", callback.ErrLinkRequiresLogin
	}
	params, err := c.oauth.BeginFlow(ctx, p, mode)
	if err != nil {
		return "", err
	}
	authURL, err := c.registry.AuthURL(p, params)
	if err != nil {
		_ = c.oauth.Cleanup(ctx, p)
		return "", err
	}
	logging.Entry(ctx).WithFields(log.Fields{"provider": p, "mode": mode}).Info("OAuth flow started")
	return authURL, nil
}

// HandleCallback reconciles a provider redirect and notifies outcome waiters.
func (c *Context) HandleCallback(ctx context.Context, p callback.Params) callback.Outcome {
	out := c.reconciler.Handle(ctx, p)
	c.publish(ctx, out)
	return out
}

// AwaitOutcome returns a channel that receives the next non-duplicate callback outcome.
func (c *Context) AwaitOutcome() <-chan callback.Outcome {
	ch := make(chan callback.Outcome, 1)
	c.waitMu.Lock()
	c.waiters = append(c.waiters, ch)
	c.waitMu.Unlock()
	return ch
}

func (c *Context) publish(ctx context.Context, out callback.Outcome) {
	if out.Kind == callback.Duplicate || out.Replayed {
		return
	}
	c.navi.Navigate(ctx, out.Destination)
	c.waitMu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.waitMu.Unlock()
	for _, ch := range waiters {
		ch <- out
		close(ch)
	}
}

// UserInfo returns the signed-in user, from cache unless forceRefresh is set or nothing
// is cached. An unauthorized answer expires the session.
func (c *Context) UserInfo(ctx context.Context, forceRefresh bool) (authcore.UserInfo, error) {
	accessToken := c.AccessToken(ctx)
	if accessToken == "" {
		return authcore.UserInfo{}, ErrNotAuthenticated
	}
	if !forceRefresh {
		if raw, ok, err := c.store.Get(ctx, oauthstate.KeyUserInfo); err == nil && ok {
			var cached authcore.UserInfo
			if json.Unmarshal([]byte(raw), &cached) == nil && cached.ID != "" {
				return cached, nil
			}
		}
	}
	res := c.backend.Me(ctx, accessToken)
	if !res.OK() {
		if res.Failure.Kind == authcore.KindUnauthorized {
			c.ExpireSession(ctx, res.Failure.Message)
			return authcore.UserInfo{}, ErrNotAuthenticated
		}
		return authcore.UserInfo{}, res.Err()
	}
	c.cacheUser(ctx, res.Value)
	return res.Value, nil
}

func (c *Context) cacheUser(ctx context.Context, user authcore.UserInfo) {
	raw, err := json.Marshal(user)
	if err != nil {
		return
	}
	if err = c.store.Set(ctx, oauthstate.KeyUserInfo, string(raw)); err != nil {
		logging.Entry(ctx).WithError(err).Warn("failed to cache user info")
	}
}
