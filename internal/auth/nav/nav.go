// Package nav names the screens an auth flow can end on and lets the host (HTTP server or
// CLI) observe where the core wants the user to go next.
package nav

import (
	"context"
	"net/url"
	"sync"
)

// Destination is a loopback path the user is sent to.
type Destination string

const (
	// Entry is the unauthenticated start screen.
	Entry Destination = "/"
	// Login is the login method selection screen.
	Login Destination = "/login"
	// Complete is shown after a successful login.
	Complete Destination = "/auth/complete"
	// Dashboard is the protected post-login view.
	Dashboard Destination = "/dashboard"
)

// Linked is the dashboard with a marker telling it which provider was just linked.
func Linked(provider string) Destination {
	return Destination(string(Dashboard) + "?linked=" + url.QueryEscape(provider))
}

func (d Destination) String() string { return string(d) }

// Navigator receives navigation requests that are not tied to an HTTP response, such as
// the forced logout after a failed refresh.
type Navigator interface {
	Navigate(ctx context.Context, dest Destination)
}

// Recorder is a Navigator that remembers the last destination and notifies subscribers.
type Recorder struct {
	mu   sync.Mutex
	last Destination
	subs []chan Destination
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Navigate(_ context.Context, dest Destination) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = dest
	for _, ch := range r.subs {
		select {
		case ch <- dest:
		default:
		}
	}
}

// Last returns the most recent destination, or "" when none was recorded.
func (r *Recorder) Last() Destination {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Subscribe returns a channel receiving future destinations. Slow readers miss updates.
func (r *Recorder) Subscribe() <-chan Destination {
	ch := make(chan Destination, 4)
	r.mu.Lock()
	r.subs = append(r.subs, ch)
	r.mu.Unlock()
	return ch
}

// Discard drops every navigation request.
type Discard struct{}

func (Discard) Navigate(context.Context, Destination) {}
