// Package refresh keeps the access token fresh. A ticker checks the time left on the
// stored token and refreshes it once it drops under the threshold. Concurrent refresh
// requests share a single network call, and a failed refresh expires the local session:
// the user has to sign in again.
package refresh

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/growgrammers/authflow/internal/auth/token"
	"github.com/growgrammers/authflow/internal/authcore"
	"github.com/growgrammers/authflow/internal/config"
	"github.com/growgrammers/authflow/internal/logging"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// State is the coordinator's position in Idle -> Checking -> (Idle | Refreshing) -> Idle.
type State int32

const (
	Idle State = iota
	Checking
	Refreshing
)

func (s State) String() string {
	switch s {
	case Checking:
		return "checking"
	case Refreshing:
		return "refreshing"
	default:
		return "idle"
	}
}

// ErrRefreshFailed is returned by Check when the refresh it triggered failed.
var ErrRefreshFailed = errors.New("refresh: token refresh failed")

// Refresher performs the network refresh.
type Refresher interface {
	Refresh(ctx context.Context, provider string) authcore.Result[authcore.Session]
}

// Escalator drops all local authentication state after a failed refresh and sends the
// user back to the entry screen.
type Escalator interface {
	ExpireSession(ctx context.Context, reason string)
}

// Options configures a Coordinator.
type Options struct {
	Interval  time.Duration
	Threshold time.Duration
	// CurrentProvider names the provider sent with the refresh request.
	CurrentProvider func(ctx context.Context) string
}

// Coordinator is the background refresh monitor.
type Coordinator struct {
	tokens    *token.Store
	refresher Refresher
	escalator Escalator
	provider  func(ctx context.Context) string

	mu        sync.Mutex
	interval  time.Duration
	threshold time.Duration
	cancel    context.CancelFunc
	done      chan struct{}
	retime    chan struct{}

	state atomic.Int32
	group singleflight.Group
}

// New returns a stopped Coordinator.
func New(tokens *token.Store, refresher Refresher, escalator Escalator, opts Options) *Coordinator {
	if opts.Interval <= 0 {
		opts.Interval = config.DefaultRefreshInterval
	}
	if opts.Threshold <= 0 {
		opts.Threshold = config.DefaultRefreshThreshold
	}
	if opts.CurrentProvider == nil {
		opts.CurrentProvider = func(context.Context) string { return "" }
	}
	return &Coordinator{
		tokens:    tokens,
		refresher: refresher,
		escalator: escalator,
		provider:  opts.CurrentProvider,
		interval:  opts.Interval,
		threshold: opts.Threshold,
		retime:    make(chan struct{}, 1),
	}
}

// State returns the current state.
func (c *Coordinator) State() State { return State(c.state.Load()) }

// Running reports whether the monitor loop is active.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

// Timing returns the current interval and threshold.
func (c *Coordinator) Timing() (time.Duration, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval, c.threshold
}

// SetTiming changes interval and threshold; a running loop picks up the new interval on
// its next tick.
func (c *Coordinator) SetTiming(interval, threshold time.Duration) {
	c.mu.Lock()
	if interval > 0 {
		c.interval = interval
	}
	if threshold > 0 {
		c.threshold = threshold
	}
	c.mu.Unlock()
	select {
	case c.retime <- struct{}{}:
	default:
	}
}

// Start launches the monitor loop. Calling Start on a running coordinator is a no-op.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(loopCtx, c.done, c.interval)
	log.Debug("refresh coordinator started")
}

// Stop ends the monitor loop and waits for it to exit.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	log.Debug("refresh coordinator stopped")
}

// halt cancels the loop without waiting, for use from inside the loop.
func (c *Coordinator) halt() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Coordinator) run(ctx context.Context, done chan struct{}, interval time.Duration) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.retime:
			next, _ := c.Timing()
			if next != interval {
				interval = next
				ticker.Reset(interval)
			}
		case <-ticker.C:
			if _, err := c.Check(logging.EnsureRequestID(ctx)); err != nil {
				return
			}
		}
	}
}

// Check refreshes the token when the minutes left are at or under the threshold. It
// returns whether a refresh happened; a failed refresh returns ErrRefreshFailed after the
// session was expired. Concurrent callers share one threshold decision and therefore
// observe the same outcome.
func (c *Coordinator) Check(ctx context.Context) (bool, error) {
	ch := c.group.DoChan("check", func() (interface{}, error) {
		callCtx := context.WithoutCancel(ctx)
		c.state.CompareAndSwap(int32(Idle), int32(Checking))
		minutes, ok := c.tokens.MinutesUntilExpiry(callCtx)
		_, threshold := c.Timing()
		if !ok || minutes > int(threshold/time.Minute) {
			c.state.CompareAndSwap(int32(Checking), int32(Idle))
			return checkResult{}, nil
		}
		logging.Entry(callCtx).WithField("minutes_left", minutes).Info("access token close to expiry, refreshing")
		if !c.refresh(callCtx) {
			return checkResult{failed: true}, nil
		}
		return checkResult{refreshed: true}, nil
	})

	select {
	case r := <-ch:
		res, _ := r.Val.(checkResult)
		if res.failed {
			return false, ErrRefreshFailed
		}
		return res.refreshed, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

type checkResult struct {
	refreshed bool
	failed    bool
}

// ForceRefresh refreshes regardless of the time left, still sharing an in-flight call.
func (c *Coordinator) ForceRefresh(ctx context.Context) bool {
	return c.refresh(ctx)
}

// EnsureFresh is the pre-flight check run before authenticated API requests. Its
// failures are logged and never stop the request.
func (c *Coordinator) EnsureFresh(ctx context.Context) {
	if !c.tokens.Has(ctx) {
		return
	}
	if _, err := c.Check(ctx); err != nil {
		logging.Entry(ctx).WithError(err).Warn("pre-flight token refresh failed")
	}
}

// MinutesUntilExpiry reports the whole minutes left on the stored token.
func (c *Coordinator) MinutesUntilExpiry(ctx context.Context) (int, bool) {
	return c.tokens.MinutesUntilExpiry(ctx)
}

// refresh performs at most one network refresh at a time; every concurrent caller gets
// the outcome of the call in flight.
func (c *Coordinator) refresh(ctx context.Context) bool {
	ch := c.group.DoChan("refresh", func() (interface{}, error) {
		c.state.Store(int32(Refreshing))
		defer c.state.Store(int32(Idle))

		// The shared call outlives any single caller's cancellation.
		callCtx := context.WithoutCancel(ctx)
		entry := logging.Entry(callCtx)
		res := c.refresher.Refresh(callCtx, c.provider(callCtx))
		if !res.OK() {
			entry.WithField("kind", res.Failure.Kind).Warnf("token refresh failed: %s", res.Failure.Message)
		} else if err := c.tokens.Save(callCtx, token.Token{AccessToken: res.Value.AccessToken, ExpiredAt: res.Value.ExpiredAt}); err != nil {
			entry.WithError(err).Error("failed to store refreshed token")
		} else {
			entry.Info("access token refreshed")
			return true, nil
		}

		c.halt()
		if c.escalator != nil {
			c.escalator.ExpireSession(callCtx, res.Message("token refresh failed"))
		}
		return false, nil
	})

	select {
	case r := <-ch:
		ok, _ := r.Val.(bool)
		return ok
	case <-ctx.Done():
		return false
	}
}
