// Package authstate follows the backend session and turns its change
// notifications into a latest-wins stream of session snapshots.
package authstate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jrsteele09/fairway-identity/internal/metrics"
	"github.com/jrsteele09/fairway-identity/internal/signal"
	"github.com/rs/zerolog/log"
)

// DefaultLivenessTimeout is how long a subscription may stay silent before the
// coordinator gives up on it.
const DefaultLivenessTimeout = 5 * time.Second

// ErrAuthTimeout is fatal: the backend listener never delivered a first event and
// cannot be cancelled, so the only recovery is restarting the process.
var ErrAuthTimeout = errors.New("backend auth listener missed its liveness deadline")

// BackendAuthError wraps a failure reported by the backend listener.
type BackendAuthError struct {
	Err error
}

func (e *BackendAuthError) Error() string {
	return fmt.Sprintf("backend auth: %v", e.Err)
}

func (e *BackendAuthError) Unwrap() error {
	return e.Err
}

// Listener receives backend session changes. userID is empty when signed out.
type Listener func(userID string, err error)

// Source is a backend session subscription. There is no way to unsubscribe.
type Source interface {
	OnAuthStateChanged(listener Listener)
}

// State is one snapshot of the backend session.
type State struct {
	UserID  string `json:"userId,omitempty"`
	Loading bool   `json:"loading"`
	Err     error  `json:"-"`
}

// SignedIn reports whether a backend user is present.
func (s State) SignedIn() bool {
	return s.UserID != ""
}

// Coordinator subscribes once to a Source and publishes State snapshots.
type Coordinator struct {
	source  Source
	state   *signal.Latest[State]
	timeout time.Duration
	onFatal func(error)
	metrics metrics.Recorder

	mu       sync.Mutex
	started  bool
	resolved bool
	timedOut bool
	timer    *time.Timer
}

// CoordinatorOption defines a function type to modify the Coordinator instance.
type CoordinatorOption func(*Coordinator)

// WithLivenessTimeout overrides DefaultLivenessTimeout
func WithLivenessTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithFatalHandler replaces the default fatal handler, which panics with the error
// so the process run loop restarts.
func WithFatalHandler(fn func(error)) CoordinatorOption {
	return func(c *Coordinator) {
		if fn != nil {
			c.onFatal = fn
		}
	}
}

// WithMetrics records liveness timeouts on r
func WithMetrics(r metrics.Recorder) CoordinatorOption {
	return func(c *Coordinator) {
		c.metrics = metrics.OrNop(r)
	}
}

// NewCoordinator creates a Coordinator for source. Nothing happens until Start.
func NewCoordinator(source Source, options ...CoordinatorOption) (*Coordinator, error) {
	if source == nil {
		return nil, errors.New("[authstate.NewCoordinator] source is required")
	}
	c := &Coordinator{
		source:  source,
		state:   signal.NewLatest(State{Loading: true}),
		timeout: DefaultLivenessTimeout,
		onFatal: func(err error) { panic(err) },
		metrics: metrics.Nop{},
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// Start subscribes to the source and arms the liveness deadline. Calling Start again
// is a no-op.
func (c *Coordinator) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.timer = time.AfterFunc(c.timeout, c.expire)
	c.mu.Unlock()

	c.source.OnAuthStateChanged(c.deliver)
}

func (c *Coordinator) deliver(userID string, err error) {
	c.mu.Lock()
	if c.timedOut {
		// a listener answering after the deadline cannot revive the session
		c.mu.Unlock()
		return
	}
	if !c.resolved {
		c.resolved = true
		c.timer.Stop()
	}
	c.mu.Unlock()

	next := State{UserID: userID}
	if err != nil {
		next = State{Err: &BackendAuthError{Err: err}}
		log.Err(err).Msg("Backend auth listener reported an error")
	}
	c.state.Set(next)
}

func (c *Coordinator) expire() {
	c.mu.Lock()
	if c.resolved {
		c.mu.Unlock()
		return
	}
	c.resolved = true
	c.timedOut = true
	c.mu.Unlock()

	c.metrics.RecordAuthTimeout()
	log.Error().Dur("timeout", c.timeout).Msg("Backend auth listener never answered, restart required")
	c.state.Set(State{Err: ErrAuthTimeout})
	c.onFatal(ErrAuthTimeout)
}

// Current returns the latest snapshot.
func (c *Coordinator) Current() State {
	s, _ := c.state.Get()
	return s
}

// Observe streams snapshots, starting with the current one, until ctx ends.
func (c *Coordinator) Observe(ctx context.Context) <-chan State {
	return c.state.Stream(ctx)
}

// WaitResolved blocks until the session is no longer loading.
func (c *Coordinator) WaitResolved(ctx context.Context) (State, error) {
	s, version := c.state.Get()
	for s.Loading {
		var err error
		s, version, err = c.state.Wait(ctx, version)
		if err != nil {
			return State{Loading: true}, err
		}
	}
	return s, nil
}
