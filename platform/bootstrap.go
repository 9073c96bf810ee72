// Package platform brings up the host messaging-app SDK and reports when the
// platform identity is ready.
package platform

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jrsteele09/fairway-identity/internal/metrics"
	"github.com/jrsteele09/fairway-identity/internal/signal"
	"github.com/rs/zerolog/log"
)

// SDK is the host platform SDK as seen by the bootstrap.
type SDK interface {
	// IsInitialized reports the SDK's own view, including initialisation done elsewhere
	IsInitialized() bool
	Init(ctx context.Context) error
	IsLoggedIn() bool
	// Login sends the person to the host login. Nothing after it should run for this visit.
	Login(redirectURI string)
	// IsInClient reports whether we run inside the host app's embedded browser
	IsInClient() bool
	// UserID is the platform identity of the logged-in person
	UserID(ctx context.Context) (string, error)
}

// Status is the outcome of Initialize.
type Status int

const (
	StatusPending Status = iota
	StatusReady
	StatusLoginRequired
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusLoginRequired:
		return "login_required"
	default:
		return "pending"
	}
}

// InitError is a host SDK initialisation failure. It blocks access.
type InitError struct {
	Message string
	Err     error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("platform init failed: %s", e.Message)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// Readiness is one snapshot of the platform signal.
type Readiness struct {
	Status Status
	Err    error
}

// IsReady reports whether the platform identity can be used.
func (r Readiness) IsReady() bool {
	return r.Status == StatusReady && r.Err == nil
}

// Resolved reports whether the platform signal reached a final value for this visit.
func (r Readiness) Resolved() bool {
	return r.Err != nil || r.Status != StatusPending
}

// Bootstrap drives SDK initialisation and publishes Readiness.
type Bootstrap struct {
	sdk         SDK
	redirectURI string
	state       *signal.Latest[Readiness]
	metrics     metrics.Recorder
	mu          sync.Mutex
}

// BootstrapOption defines a function type to modify the Bootstrap instance.
type BootstrapOption func(*Bootstrap)

// WithMetrics records bootstrap outcomes on r
func WithMetrics(r metrics.Recorder) BootstrapOption {
	return func(b *Bootstrap) {
		b.metrics = metrics.OrNop(r)
	}
}

// NewBootstrap creates a Bootstrap. redirectURI is where the host login returns to.
func NewBootstrap(sdk SDK, redirectURI string, options ...BootstrapOption) (*Bootstrap, error) {
	if sdk == nil {
		return nil, errors.New("[platform.NewBootstrap] sdk is required")
	}
	b := &Bootstrap{
		sdk:         sdk,
		redirectURI: redirectURI,
		state:       signal.NewLatest(Readiness{}),
		metrics:     metrics.Nop{},
	}
	for _, opt := range options {
		opt(b)
	}
	return b, nil
}

// Initialize brings the SDK up.
//
//   - already initialised and logged in: StatusReady
//   - already initialised, not logged in: login redirect, StatusLoginRequired
//   - not initialised: Init, then the same login check; an Init failure is *InitError
//
// Repeated calls after Ready return Ready straight away. Whether the SDK is up is
// always asked of the SDK, so initialisation done by someone else is respected.
func (b *Bootstrap) Initialize(ctx context.Context) (Status, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.sdk.IsInitialized() {
		if err := b.sdk.Init(ctx); err != nil {
			initErr := &InitError{Message: err.Error(), Err: err}
			b.metrics.RecordPlatformInit(metrics.OutcomeInitError)
			log.Err(err).Msg("Platform SDK initialisation failed")
			b.state.Set(Readiness{Err: initErr})
			return StatusPending, initErr
		}
	}

	if !b.sdk.IsLoggedIn() {
		b.metrics.RecordPlatformInit(metrics.OutcomeLoginRedirect)
		b.state.Set(Readiness{Status: StatusLoginRequired})
		b.sdk.Login(b.redirectURI)
		return StatusLoginRequired, nil
	}

	if current, _ := b.state.Get(); current.IsReady() {
		return StatusReady, nil
	}
	b.metrics.RecordPlatformInit(metrics.OutcomeReady)
	b.state.Set(Readiness{Status: StatusReady})
	return StatusReady, nil
}

// Current returns the latest readiness snapshot.
func (b *Bootstrap) Current() Readiness {
	r, _ := b.state.Get()
	return r
}

// Observe streams readiness snapshots until ctx ends.
func (b *Bootstrap) Observe(ctx context.Context) <-chan Readiness {
	return b.state.Stream(ctx)
}

// InClient reports whether the SDK runs inside the host app.
func (b *Bootstrap) InClient() bool {
	return b.sdk.IsInClient()
}

// UserID returns the platform identity once Ready.
func (b *Bootstrap) UserID(ctx context.Context) (string, error) {
	if !b.Current().IsReady() {
		return "", errors.New("platform is not ready")
	}
	return b.sdk.UserID(ctx)
}
