// Package gate decides, for every screen, whether to render it or send the person
// to handle selection. It combines platform readiness, the backend session and the
// person's profile into one explicit state.
package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jrsteele09/fairway-identity/authstate"
	apperrors "github.com/jrsteele09/fairway-identity/internal/errors"
	"github.com/jrsteele09/fairway-identity/internal/metrics"
	"github.com/jrsteele09/fairway-identity/platform"
	"github.com/jrsteele09/fairway-identity/profiles"
	"github.com/rs/zerolog/log"
)

// State of the gate for the current visit.
type State int

const (
	StateInitializing State = iota
	StatePlatformPending
	StateBackendPending
	StateProfileCheck
	StateReady
	StateHandleSelection
	StateError
)

var stateNames = map[State]string{
	StateInitializing:    "initializing",
	StatePlatformPending: "platform_pending",
	StateBackendPending:  "backend_pending",
	StateProfileCheck:    "profile_check",
	StateReady:           "ready",
	StateHandleSelection: "handle_selection",
	StateError:           "error",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether the state ends evaluation for this visit.
func (s State) Terminal() bool {
	return s == StateReady || s == StateHandleSelection || s == StateError
}

// Destination is the logical place the caller should show. Building the actual
// path (locale prefix and so on) is up to the caller.
type Destination int

const (
	DestinationNone Destination = iota
	DestinationReady
	DestinationHandleSelection
	// DestinationSignIn is never decided by Evaluate: a visitor without a backend
	// session goes to handle selection, where the anonymous sign-in happens. Callers
	// use it to link to the sign-in screen, which the gate treats as exempt.
	DestinationSignIn
	DestinationError
)

func (d Destination) String() string {
	switch d {
	case DestinationReady:
		return "ready"
	case DestinationHandleSelection:
		return "handle_selection"
	case DestinationSignIn:
		return "sign_in"
	case DestinationError:
		return "error"
	default:
		return "none"
	}
}

// RouteKind classifies the requested screen.
type RouteKind int

const (
	RouteApp RouteKind = iota
	RouteHandleSelection
	RouteSignIn
)

// Route is the screen being requested.
type Route struct {
	Path string
	Kind RouteKind
}

// Inputs are the upstream signals for one evaluation. ProfileGeneration changes
// whenever the cached profile of the session user is invalidated.
type Inputs struct {
	Route             Route
	Platform          platform.Readiness
	Session           authstate.State
	ProfileGeneration uint64
}

// Decision is the result of an evaluation. Issued is true only the first time a
// decision is reached for a given set of inputs; repeat evaluations return the
// same decision with Issued false and have no side effects.
type Decision struct {
	State       State
	Destination Destination
	Err         error
	Issued      bool
}

// ProfileLoader returns the profile of userID, from cache or storage.
// Returns errors.ErrProfileNotFound when the person has no profile yet.
type ProfileLoader interface {
	LoadProfile(ctx context.Context, userID string) (*profiles.Profile, error)
}

// Gate is the access state machine for one client session.
type Gate struct {
	loader   ProfileLoader
	navigate func(Decision)
	metrics  metrics.Recorder

	// state is readable while an evaluation is loading the profile
	state atomic.Int32

	mu      sync.Mutex
	lastKey *inputKey
	last    Decision
}

// Option defines a function type to modify the Gate instance.
type Option func(*Gate)

// WithNavigator is called once per issued redirect decision.
func WithNavigator(fn func(Decision)) Option {
	return func(g *Gate) {
		g.navigate = fn
	}
}

// WithMetrics records decisions on r
func WithMetrics(r metrics.Recorder) Option {
	return func(g *Gate) {
		g.metrics = metrics.OrNop(r)
	}
}

// New creates a Gate in StateInitializing.
func New(loader ProfileLoader, options ...Option) (*Gate, error) {
	if loader == nil {
		return nil, errors.New("[gate.New] profile loader is required")
	}
	g := &Gate{loader: loader, metrics: metrics.Nop{}}
	g.setState(StateInitializing)
	for _, opt := range options {
		opt(g)
	}
	return g, nil
}

// State returns the current state.
func (g *Gate) State() State {
	return State(g.state.Load())
}

func (g *Gate) setState(s State) {
	g.state.Store(int32(s))
}

// Mount moves a fresh gate to PlatformPending; the caller starts the platform
// bootstrap alongside.
func (g *Gate) Mount() {
	g.state.CompareAndSwap(int32(StateInitializing), int32(StatePlatformPending))
}

type inputKey struct {
	path       string
	kind       RouteKind
	platform   platform.Status
	platformEr string
	loading    bool
	userID     string
	sessionEr  string
	generation uint64
}

func keyOf(in Inputs) inputKey {
	return inputKey{
		path:       in.Route.Path,
		kind:       in.Route.Kind,
		platform:   in.Platform.Status,
		platformEr: errString(in.Platform.Err),
		loading:    in.Session.Loading,
		userID:     in.Session.UserID,
		sessionEr:  errString(in.Session.Err),
		generation: in.ProfileGeneration,
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Evaluate runs the state machine against in.
func (g *Gate) Evaluate(ctx context.Context, in Inputs) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := keyOf(in)
	if g.lastKey != nil && *g.lastKey == key {
		repeat := g.last
		repeat.Issued = false
		return repeat
	}

	decision := g.decide(ctx, in)
	g.setState(decision.State)
	g.lastKey = &key

	if !decision.State.Terminal() {
		// pending states wait for the next signal, nothing to issue yet
		g.last = decision
		return decision
	}

	decision.Issued = true
	g.last = decision
	g.metrics.RecordGateDecision(decision.Destination.String(), true)

	switch decision.Destination {
	case DestinationHandleSelection, DestinationError:
		log.Info().
			Str("path", in.Route.Path).
			Str("user_id", in.Session.UserID).
			Str("state", decision.State.String()).
			Msg("Access gate redirect")
		if g.navigate != nil {
			g.navigate(decision)
		}
	}
	return decision
}

func (g *Gate) decide(ctx context.Context, in Inputs) Decision {
	// the screens the gate redirects to must never redirect themselves
	if in.Route.Kind == RouteHandleSelection || in.Route.Kind == RouteSignIn {
		return Decision{State: StateReady, Destination: DestinationReady}
	}

	if in.Platform.Err != nil {
		return Decision{State: StateError, Destination: DestinationError, Err: in.Platform.Err}
	}
	if in.Session.Err != nil {
		return Decision{State: StateError, Destination: DestinationError, Err: in.Session.Err}
	}

	// login-required exits through the platform's own redirect
	if in.Platform.Status != platform.StatusReady {
		return Decision{State: StatePlatformPending}
	}
	if in.Session.Loading {
		return Decision{State: StateBackendPending}
	}
	if !in.Session.SignedIn() {
		return Decision{State: StateHandleSelection, Destination: DestinationHandleSelection}
	}

	g.setState(StateProfileCheck)
	profile, err := g.loader.LoadProfile(ctx, in.Session.UserID)
	switch {
	case errors.Is(err, apperrors.ErrProfileNotFound):
		return Decision{State: StateHandleSelection, Destination: DestinationHandleSelection}
	case err != nil:
		log.Err(err).Str("user_id", in.Session.UserID).Msg("Access gate could not load profile")
		return Decision{State: StateError, Destination: DestinationError, Err: err}
	case !profile.HasName():
		return Decision{State: StateHandleSelection, Destination: DestinationHandleSelection}
	}
	return Decision{State: StateReady, Destination: DestinationReady}
}
