// Package authcore is the HTTP client for the growgrammers auth backend. Every call returns
// a Result instead of panicking or leaking transport errors; network failures and timeouts
// are converted once at the call boundary.
package authcore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/growgrammers/authflow/internal/config"
	"github.com/growgrammers/authflow/internal/logging"
	"github.com/growgrammers/authflow/internal/storage"
	"github.com/growgrammers/authflow/internal/util"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/net/publicsuffix"
)

// Backend endpoints.
const (
	PathLogin     = "/api/v1/auth/login"
	PathRefresh   = "/api/v1/auth/refresh"
	PathLogout    = "/api/v1/auth/logout"
	PathEmailCode = "/api/v1/auth/email/code"
	PathMe        = "/api/v1/users/me"
	pathLinks     = "/api/v1/users/me/links/"
)

// ClientType is sent as X-Client-Type so the backend issues the refresh token as a cookie.
const ClientType = "web"

const genericMessage = "Something went wrong. Please try again."

// ErrPrimitiveBody rejects request bodies that do not encode to a JSON object.
var ErrPrimitiveBody = errors.New("authcore: request body must be a JSON object")

// Client talks to the auth backend. The cookie jar carries the HttpOnly refresh cookie.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	timeout    time.Duration
	preflight  *preflightTransport

	cookieStore storage.Storage
	jar         *persistentJar
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its transport is wrapped with the
// pre-flight hook and a cookie jar is added when missing.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.httpClient = hc } }

// NewClient builds a client for cfg.APIBaseURL. A missing base URL is a configuration
// failure reported before any request is made.
func NewClient(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil || strings.TrimSpace(cfg.APIBaseURL) == "" {
		return nil, &Failure{Kind: KindConfig, Message: "API base URL is not configured", Err: config.ErrMissingAPIBaseURL}
	}
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/"))
	if err != nil || base.Host == "" {
		return nil, &Failure{Kind: KindConfig, Message: "API base URL is invalid", Err: err}
	}

	c := &Client{baseURL: base, timeout: cfg.RequestTimeout}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout <= 0 {
		c.timeout = config.DefaultRequestTimeout
	}
	if c.httpClient == nil {
		c.httpClient = util.SetProxy(&cfg.SDKConfig, &http.Client{})
	}
	if c.httpClient.Jar == nil {
		jar, errJar := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if errJar != nil {
			return nil, fmt.Errorf("authcore: create cookie jar: %w", errJar)
		}
		c.httpClient.Jar = jar
	}
	if c.cookieStore != nil {
		c.jar = newPersistentJar(base, c.httpClient.Jar, c.cookieStore)
		c.httpClient.Jar = c.jar
	}
	inner := c.httpClient.Transport
	if inner == nil {
		inner = http.DefaultTransport
	}
	c.preflight = &preflightTransport{base: inner, requestLog: cfg.RequestLog}
	c.httpClient.Transport = c.preflight
	return c, nil
}

// SetPreflight installs the hook that runs before authenticated API requests. It is set
// after construction because the refresh coordinator itself depends on the client.
func (c *Client) SetPreflight(p Preflight, tokens TokenSource) {
	c.preflight.set(p, tokens)
}

// ClearCookies forgets the backend cookies, both in memory and in the cookie store.
func (c *Client) ClearCookies(ctx context.Context) error {
	if c.jar == nil {
		return nil
	}
	return c.jar.clear(ctx)
}

// Login exchanges social or email credentials for a session.
func (c *Client) Login(ctx context.Context, req LoginRequest) Result[Session] {
	doc, fail := c.do(ctx, http.MethodPost, PathLogin, req, "")
	if fail != nil {
		return Fail[Session](fail)
	}
	s, ok := parseSession(doc)
	if !ok {
		return Fail[Session](&Failure{Kind: KindContract, Message: "login response carried no access token"})
	}
	return Ok(s)
}

// Refresh trades the refresh cookie for a new access token.
func (c *Client) Refresh(ctx context.Context, provider string) Result[Session] {
	doc, fail := c.do(ctx, http.MethodPost, PathRefresh, map[string]string{"provider": provider}, "")
	if fail != nil {
		return Fail[Session](fail)
	}
	s, ok := parseSession(doc)
	if !ok {
		return Fail[Session](&Failure{Kind: KindContract, Message: "refresh response carried no access token"})
	}
	return Ok(s)
}

// Logout ends the server side session and drops the refresh cookie.
func (c *Client) Logout(ctx context.Context, provider string) Result[Empty] {
	if _, fail := c.do(ctx, http.MethodPost, PathLogout, map[string]string{"provider": provider}, ""); fail != nil {
		return Fail[Empty](fail)
	}
	return Ok(Empty{})
}

// RequestEmailCode asks the backend to mail a verification code.
func (c *Client) RequestEmailCode(ctx context.Context, email string) Result[Empty] {
	if _, fail := c.do(ctx, http.MethodPost, PathEmailCode, map[string]string{"email": email}, ""); fail != nil {
		return Fail[Empty](fail)
	}
	return Ok(Empty{})
}

// LinkSocial attaches provider to the account identified by accessToken.
func (c *Client) LinkSocial(ctx context.Context, provider, accessToken, authCode, codeVerifier string) Result[UserInfo] {
	body := map[string]string{"authCode": authCode, "codeVerifier": codeVerifier}
	doc, fail := c.do(ctx, http.MethodPost, pathLinks+url.PathEscape(provider), body, accessToken)
	if fail != nil {
		return Fail[UserInfo](fail)
	}
	return Ok(parseUser(payload(doc)))
}

// Me fetches the signed-in user.
func (c *Client) Me(ctx context.Context, accessToken string) Result[UserInfo] {
	doc, fail := c.do(ctx, http.MethodGet, PathMe, nil, accessToken)
	if fail != nil {
		return Fail[UserInfo](fail)
	}
	return Ok(parseUser(payload(doc)))
}

// encodeBody encodes body exactly once and rejects anything that is not a JSON object.
func encodeBody(body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	if raw, ok := body.(json.RawMessage); ok {
		if !gjson.ParseBytes(raw).IsObject() {
			return nil, ErrPrimitiveBody
		}
		return raw, nil
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("authcore: encode body: %w", err)
	}
	if !gjson.ParseBytes(raw).IsObject() {
		return nil, ErrPrimitiveBody
	}
	return raw, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, bearer string) (gjson.Result, *Failure) {
	raw, err := encodeBody(body)
	if err != nil {
		return gjson.Result{}, &Failure{Kind: KindContract, Message: "invalid request body", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL.JoinPath(path)
	var reader io.Reader
	if raw != nil {
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return gjson.Result{}, &Failure{Kind: KindContract, Message: "invalid request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Client-Type", ClientType)
	if raw != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return gjson.Result{}, &Failure{Kind: KindTimeout, Message: "The request timed out. Please try again.", Err: err}
		}
		return gjson.Result{}, &Failure{Kind: KindNetwork, Message: "Could not reach the server. Check your connection.", Err: err}
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("authcore: close response body: %v", errClose)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, &Failure{Kind: KindNetwork, Message: "Could not read the server response.", Status: resp.StatusCode, Err: err}
	}
	logging.Entry(ctx).WithField("status", resp.StatusCode).Debugf("%s %s", method, path)

	doc := gjson.ParseBytes(data)
	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		if doc.Get("success").Exists() && !doc.Get("success").Bool() {
			return doc, classify(resp.StatusCode, doc)
		}
		return doc, nil
	}
	return doc, classify(resp.StatusCode, doc)
}

// classify maps a rejected response to a Failure using the status and the backend error code.
func classify(status int, doc gjson.Result) *Failure {
	message := firstString(doc, "message", "error.message", "data.message")
	code := strings.ToUpper(firstString(doc, "code", "error.code", "errorCode", "data.code"))

	f := &Failure{Kind: KindRejected, Status: status, Message: message}
	switch {
	case strings.Contains(code, "EXPIRED"):
		f.Kind = KindExpiredCode
		if f.Message == "" {
			f.Message = "The verification code has expired. Please request a new one."
		}
	case strings.Contains(code, "INVALID") && strings.Contains(code, "CODE"):
		f.Kind = KindInvalidCode
		if f.Message == "" {
			f.Message = "The verification code is incorrect."
		}
	case status == http.StatusTooManyRequests || strings.Contains(code, "RATE") || strings.Contains(code, "TOO_MANY"):
		f.Kind = KindRateLimited
		if f.Message == "" {
			f.Message = "Too many requests. Please wait a moment and try again."
		}
	case status == http.StatusUnauthorized:
		f.Kind = KindUnauthorized
		if f.Message == "" {
			f.Message = "Your session has expired. Please sign in again."
		}
	}
	if f.Message == "" {
		f.Message = genericMessage
	}
	return f
}

func firstString(doc gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := doc.Get(p); v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	return ""
}
