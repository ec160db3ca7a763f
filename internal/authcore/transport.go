package authcore

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/growgrammers/authflow/internal/logging"
)

// Preflight is run before an authenticated API request leaves the process.
type Preflight interface {
	EnsureFresh(ctx context.Context)
}

// TokenSource returns the current access token.
type TokenSource interface {
	AccessToken(ctx context.Context) string
}

// preflightAllowList are API paths that never trigger the pre-flight expiry check: they are
// either unauthenticated or are the refresh itself.
var preflightAllowList = []string{PathLogin, PathRefresh, PathLogout, PathEmailCode}

// preflightTransport runs the just-in-time expiry check for /api/ requests. The check
// never blocks the request; if it fails the backend answers 401 on its own.
type preflightTransport struct {
	base       http.RoundTripper
	requestLog bool

	mu     sync.RWMutex
	hook   Preflight
	tokens TokenSource
}

func (t *preflightTransport) set(p Preflight, tokens TokenSource) {
	t.mu.Lock()
	t.hook, t.tokens = p, tokens
	t.mu.Unlock()
}

func (t *preflightTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.mu.RLock()
	hook, tokens := t.hook, t.tokens
	t.mu.RUnlock()

	if hook != nil && needsPreflight(req.URL.Path) {
		hook.EnsureFresh(req.Context())
		if tokens != nil && strings.HasPrefix(req.Header.Get("Authorization"), "Bearer ") {
			if current := tokens.AccessToken(req.Context()); current != "" {
				req = req.Clone(req.Context())
				req.Header.Set("Authorization", "Bearer "+current)
			}
		}
	}
	if t.requestLog {
		logging.Entry(req.Context()).Debugf("-> %s %s", req.Method, req.URL.Path)
	}
	return t.base.RoundTrip(req)
}

func needsPreflight(path string) bool {
	idx := strings.Index(path, "/api/")
	if idx < 0 {
		return false
	}
	path = path[idx:]
	for _, allowed := range preflightAllowList {
		if path == allowed {
			return false
		}
	}
	return true
}
