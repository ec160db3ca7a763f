package authcore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/growgrammers/authflow/internal/storage"
	log "github.com/sirupsen/logrus"
)

// KeyCookies is the storage key holding the backend cookies between runs.
const KeyCookies = "auth_cookies"

const cookieIOTimeout = 5 * time.Second

// WithCookieStore persists the cookies the backend sets, the refresh cookie above all,
// so a later process can refresh without logging in again.
func WithCookieStore(store storage.Storage) Option {
	return func(c *Client) { c.cookieStore = store }
}

type storedCookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Path     string `json:"path,omitempty"`
	Domain   string `json:"domain,omitempty"`
	Expires  int64  `json:"expires,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
	HttpOnly bool   `json:"httpOnly,omitempty"`
}

func (s storedCookie) id() string { return s.Name + ";" + s.Path }

func (s storedCookie) cookie() *http.Cookie {
	ck := &http.Cookie{
		Name:     s.Name,
		Value:    s.Value,
		Path:     s.Path,
		Domain:   s.Domain,
		Secure:   s.Secure,
		HttpOnly: s.HttpOnly,
	}
	if s.Expires > 0 {
		ck.Expires = time.Unix(s.Expires, 0)
	}
	return ck
}

// persistentJar mirrors the base host's cookies into storage. Cookies for other hosts
// only live in the wrapped jar.
type persistentJar struct {
	base  *url.URL
	inner http.CookieJar
	store storage.Storage
	now   func() time.Time

	mu    sync.Mutex
	saved map[string]storedCookie
}

func newPersistentJar(base *url.URL, inner http.CookieJar, store storage.Storage) *persistentJar {
	j := &persistentJar{base: base, inner: inner, store: store, now: time.Now, saved: make(map[string]storedCookie)}
	j.restore()
	return j
}

func (j *persistentJar) restore() {
	ctx, cancel := context.WithTimeout(context.Background(), cookieIOTimeout)
	defer cancel()
	raw, ok, err := j.store.Get(ctx, KeyCookies)
	if err != nil {
		log.WithError(err).Warn("failed to load stored cookies")
		return
	}
	if !ok || raw == "" {
		return
	}
	var list []storedCookie
	if err = json.Unmarshal([]byte(raw), &list); err != nil {
		log.WithError(err).Warn("discarding unreadable stored cookies")
		return
	}
	now := j.now().Unix()
	cookies := make([]*http.Cookie, 0, len(list))
	for _, sc := range list {
		if sc.Expires > 0 && sc.Expires <= now {
			continue
		}
		j.saved[sc.id()] = sc
		cookies = append(cookies, sc.cookie())
	}
	if len(cookies) > 0 {
		j.inner.SetCookies(j.base, cookies)
		log.Debugf("restored %d backend cookie(s)", len(cookies))
	}
}

func (j *persistentJar) Cookies(u *url.URL) []*http.Cookie { return j.inner.Cookies(u) }

func (j *persistentJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.inner.SetCookies(u, cookies)
	if !strings.EqualFold(u.Hostname(), j.base.Hostname()) {
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	now := j.now()
	for _, ck := range cookies {
		sc := storedCookie{
			Name:     ck.Name,
			Value:    ck.Value,
			Path:     ck.Path,
			Domain:   ck.Domain,
			Secure:   ck.Secure,
			HttpOnly: ck.HttpOnly,
		}
		switch {
		case ck.MaxAge < 0:
			delete(j.saved, sc.id())
			continue
		case ck.MaxAge > 0:
			sc.Expires = now.Add(time.Duration(ck.MaxAge) * time.Second).Unix()
		case !ck.Expires.IsZero():
			sc.Expires = ck.Expires.Unix()
		}
		if sc.Expires > 0 && sc.Expires <= now.Unix() {
			delete(j.saved, sc.id())
			continue
		}
		j.saved[sc.id()] = sc
	}
	j.persistLocked()
}

func (j *persistentJar) persistLocked() {
	ctx, cancel := context.WithTimeout(context.Background(), cookieIOTimeout)
	defer cancel()
	if len(j.saved) == 0 {
		if err := j.store.Delete(ctx, KeyCookies); err != nil {
			log.WithError(err).Warn("failed to delete stored cookies")
		}
		return
	}
	list := make([]storedCookie, 0, len(j.saved))
	for _, sc := range j.saved {
		list = append(list, sc)
	}
	sort.Slice(list, func(a, b int) bool { return list[a].id() < list[b].id() })
	data, err := json.Marshal(list)
	if err != nil {
		log.WithError(err).Warn("failed to encode cookies")
		return
	}
	if err = j.store.Set(ctx, KeyCookies, string(data)); err != nil {
		log.WithError(err).Warn("failed to store cookies")
	}
}

// clear expires every persisted cookie in the wrapped jar and drops the stored copy.
func (j *persistentJar) clear(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.saved) > 0 {
		expired := make([]*http.Cookie, 0, len(j.saved))
		for _, sc := range j.saved {
			ck := sc.cookie()
			ck.MaxAge = -1
			expired = append(expired, ck)
		}
		j.inner.SetCookies(j.base, expired)
	}
	j.saved = make(map[string]storedCookie)
	return j.store.Delete(ctx, KeyCookies)
}
