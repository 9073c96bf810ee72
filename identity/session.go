// Package identity is the per-client session object of the identity core. It owns
// the platform bootstrap, the backend auth coordinator, the profile cache and the
// access gate of one visitor and exposes their state to the outer layers.
package identity

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jrsteele09/fairway-identity/authstate"
	"github.com/jrsteele09/fairway-identity/gate"
	"github.com/jrsteele09/fairway-identity/handles"
	apperrors "github.com/jrsteele09/fairway-identity/internal/errors"
	"github.com/jrsteele09/fairway-identity/internal/metrics"
	"github.com/jrsteele09/fairway-identity/migration"
	"github.com/jrsteele09/fairway-identity/platform"
	"github.com/jrsteele09/fairway-identity/profilecache"
	"github.com/jrsteele09/fairway-identity/profiles"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Services are the shared, storage-backed services a session uses.
type Services struct {
	Profiles  profiles.Repo
	Handles   *handles.Service
	Migration *migration.Service
}

// Snapshot is the combined identity of the session at one point in time.
type Snapshot struct {
	PlatformUserID string `json:"platformUserId,omitempty"`
	BackendUserID  string `json:"backendUserId,omitempty"`
	Ready          bool   `json:"ready"`
	Err            error  `json:"-"`
}

// Session is created once per visitor and must not be shared between visitors.
type Session struct {
	bootstrap   *platform.Bootstrap
	coordinator *authstate.Coordinator
	cache       *profilecache.Store
	gate        *gate.Gate
	services    Services

	redirectURI     string
	livenessTimeout time.Duration
	onFatal         func(error)
	navigate        func(gate.Decision)
	cacheSize       int
	language        profiles.Language
	metrics         metrics.Recorder

	mu         sync.Mutex
	userID     string
	generation uint64
	// migration result of the backend user it ran for
	migrationUserID string
	migrated        *profiles.Profile
}

// Option defines a function type to modify the Session instance.
type Option func(*Session)

// WithRedirectURI is where the host login returns to.
func WithRedirectURI(uri string) Option {
	return func(s *Session) {
		s.redirectURI = uri
	}
}

// WithLivenessTimeout overrides the backend auth liveness deadline.
func WithLivenessTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.livenessTimeout = d
	}
}

// WithFatalHandler is called when the backend auth listener never answers.
func WithFatalHandler(fn func(error)) Option {
	return func(s *Session) {
		s.onFatal = fn
	}
}

// WithNavigator receives redirect decisions issued by the access gate.
func WithNavigator(fn func(gate.Decision)) Option {
	return func(s *Session) {
		s.navigate = fn
	}
}

// WithCacheSize sets the profile cache capacity.
func WithCacheSize(size int) Option {
	return func(s *Session) {
		s.cacheSize = size
	}
}

// WithLanguage sets the language new profiles are created with.
func WithLanguage(language profiles.Language) Option {
	return func(s *Session) {
		s.language = language
	}
}

// WithMetrics records platform, auth and gate events on r
func WithMetrics(r metrics.Recorder) Option {
	return func(s *Session) {
		s.metrics = metrics.OrNop(r)
	}
}

// NewSession wires a session for one visitor. Nothing runs until Start.
func NewSession(sdk platform.SDK, source authstate.Source, services Services, options ...Option) (*Session, error) {
	if services.Profiles == nil {
		return nil, errors.New("[identity.NewSession] profile repo is required")
	}
	if services.Handles == nil {
		return nil, errors.New("[identity.NewSession] handle service is required")
	}
	if services.Migration == nil {
		return nil, errors.New("[identity.NewSession] migration service is required")
	}

	s := &Session{
		services:        services,
		livenessTimeout: authstate.DefaultLivenessTimeout,
		language:        profiles.LanguageEN,
		metrics:         metrics.Nop{},
	}
	for _, opt := range options {
		opt(s)
	}

	var err error
	if s.bootstrap, err = platform.NewBootstrap(sdk, s.redirectURI, platform.WithMetrics(s.metrics)); err != nil {
		return nil, err
	}

	coordinatorOpts := []authstate.CoordinatorOption{
		authstate.WithLivenessTimeout(s.livenessTimeout),
		authstate.WithMetrics(s.metrics),
	}
	if s.onFatal != nil {
		coordinatorOpts = append(coordinatorOpts, authstate.WithFatalHandler(s.onFatal))
	}
	if s.coordinator, err = authstate.NewCoordinator(source, coordinatorOpts...); err != nil {
		return nil, err
	}

	if s.cache, err = profilecache.New(s.cacheSize); err != nil {
		return nil, err
	}

	gateOpts := []gate.Option{gate.WithMetrics(s.metrics)}
	if s.navigate != nil {
		gateOpts = append(gateOpts, gate.WithNavigator(s.navigate))
	}
	if s.gate, err = gate.New(s, gateOpts...); err != nil {
		return nil, err
	}
	return s, nil
}

// Start mounts the gate, subscribes to backend auth and brings up the platform
// SDK. The returned error is the platform bootstrap failure, if any; it is also
// published on the readiness stream.
func (s *Session) Start(ctx context.Context) (platform.Status, error) {
	s.gate.Mount()
	s.coordinator.Start()
	return s.bootstrap.Initialize(ctx)
}

// ObserveSession streams backend session snapshots until ctx ends.
func (s *Session) ObserveSession(ctx context.Context) <-chan authstate.State {
	return s.coordinator.Observe(ctx)
}

// ObservePlatformReady streams platform readiness until ctx ends.
func (s *Session) ObservePlatformReady(ctx context.Context) <-chan platform.Readiness {
	return s.bootstrap.Observe(ctx)
}

// WaitSession blocks until the backend session is resolved.
func (s *Session) WaitSession(ctx context.Context) (authstate.State, error) {
	return s.coordinator.WaitResolved(ctx)
}

// Platform returns the current platform readiness.
func (s *Session) Platform() platform.Readiness {
	return s.bootstrap.Current()
}

// Backend returns the current backend session state.
func (s *Session) Backend() authstate.State {
	state := s.coordinator.Current()
	s.syncUser(state.UserID)
	return state
}

// Snapshot combines both identity sources.
func (s *Session) Snapshot(ctx context.Context) Snapshot {
	ready := s.bootstrap.Current()
	backend := s.Backend()

	snap := Snapshot{BackendUserID: backend.UserID, Ready: ready.IsReady(), Err: ready.Err}
	if backend.Err != nil {
		snap.Err = backend.Err
	}
	if snap.Ready {
		if platformID, err := s.bootstrap.UserID(ctx); err == nil {
			snap.PlatformUserID = platformID
		}
	}
	return snap
}

// syncUser drops cached profiles when the signed-in user changes so a fresh sign-in
// never sees the previous user's data.
func (s *Session) syncUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if userID == s.userID {
		return
	}
	if s.userID != "" {
		s.cache.Invalidate(s.userID)
	}
	if userID != "" {
		s.cache.Invalidate(userID)
	}
	log.Debug().Str("previous", s.userID).Str("uid", userID).Msg("Backend user changed")
	s.userID = userID
	s.generation++
	s.migrationUserID = ""
	s.migrated = nil
}

// Profile returns the profile of userID from the cache, fetching it on a miss.
func (s *Session) Profile(ctx context.Context, userID string) (*profiles.Profile, error) {
	if p, ok := s.cache.Get(userID); ok {
		return &p, nil
	}

	s.mu.Lock()
	generation := s.generation
	s.mu.Unlock()

	p, err := s.services.Profiles.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// an invalidation during the fetch means p may already be stale
	if s.generation == generation {
		s.cache.Set(userID, *p)
	}
	return p, nil
}

// LoadProfile lets the session act as the gate's profile source.
func (s *Session) LoadProfile(ctx context.Context, userID string) (*profiles.Profile, error) {
	return s.Profile(ctx, userID)
}

// InvalidateProfileCache drops the cached profile of userID.
func (s *Session) InvalidateProfileCache(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.cache.Invalidate(userID)
}

// ClaimHandle reserves handle for the signed-in backend user.
func (s *Session) ClaimHandle(ctx context.Context, handle string, language profiles.Language) (*profiles.Profile, error) {
	state := s.Backend()
	if !state.SignedIn() {
		return nil, apperrors.ErrNoBackendUser
	}
	if language == "" {
		language = s.language
	}

	p, err := s.services.Handles.Claim(ctx, handle, state.UserID, language)
	if err != nil {
		return nil, err
	}
	s.InvalidateProfileCache(state.UserID)
	return p, nil
}

// HandleAvailable reports whether handle is currently free.
func (s *Session) HandleAvailable(ctx context.Context, handle string) (bool, error) {
	return s.services.Handles.Available(ctx, handle)
}

// ChangeRole updates the role of userID and invalidates its cached profile.
func (s *Session) ChangeRole(ctx context.Context, userID string, role profiles.RoleType) (*profiles.Profile, error) {
	p, err := s.services.Profiles.SetRole(ctx, userID, role)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "[ChangeRole] update failed")
	}
	s.InvalidateProfileCache(userID)
	return p, nil
}

// MigrateIfLegacyExistsAndLink runs the legacy migration at most once per backend
// user of this session. Later calls for the same user return the first result
// without touching storage. Callers must have verified that legacyPlatformID is the
// platform identity of userID; MigrateLegacyAccount does that.
func (s *Session) MigrateIfLegacyExistsAndLink(ctx context.Context, legacyPlatformID, userID string) *profiles.Profile {
	s.mu.Lock()
	if s.migrationUserID == userID && userID != "" {
		migrated := s.migrated
		s.mu.Unlock()
		return migrated.Clone()
	}
	s.migrationUserID = userID
	s.migrated = nil
	s.mu.Unlock()

	migrated := s.services.Migration.MigrateIfLegacyExistsAndLink(ctx, legacyPlatformID, userID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.migrationUserID != userID {
		// the backend user changed while linking
		return nil
	}
	s.migrated = migrated
	return migrated.Clone()
}

// MigrateLegacyAccount links the legacy account of the verified platform user to
// the signed-in backend user. It does nothing unless the platform is ready, a
// backend user is signed in and the session runs inside the host client.
func (s *Session) MigrateLegacyAccount(ctx context.Context) *profiles.Profile {
	return s.maybeMigrate(ctx, s.bootstrap.Current(), s.Backend())
}

func (s *Session) maybeMigrate(ctx context.Context, ready platform.Readiness, backend authstate.State) *profiles.Profile {
	if !ready.IsReady() || !backend.SignedIn() || !s.bootstrap.InClient() {
		return nil
	}
	s.mu.Lock()
	if s.migrationUserID == backend.UserID {
		migrated := s.migrated
		s.mu.Unlock()
		return migrated.Clone()
	}
	s.mu.Unlock()

	platformID, err := s.bootstrap.UserID(ctx)
	if err != nil {
		log.Err(err).Msg("Platform user id unavailable, skipping legacy migration")
		return nil
	}
	return s.MigrateIfLegacyExistsAndLink(ctx, platformID, backend.UserID)
}

// Evaluate runs the access gate for route against the current signals. Legacy
// migration is attempted first, once, when both identities are known.
func (s *Session) Evaluate(ctx context.Context, route gate.Route) gate.Decision {
	ready := s.bootstrap.Current()
	backend := s.Backend()
	s.maybeMigrate(ctx, ready, backend)

	s.mu.Lock()
	generation := s.generation
	s.mu.Unlock()

	return s.gate.Evaluate(ctx, gate.Inputs{
		Route:             route,
		Platform:          ready,
		Session:           backend,
		ProfileGeneration: generation,
	})
}

// GateState returns the current access gate state.
func (s *Session) GateState() gate.State {
	return s.gate.State()
}

// Close drops all cached profiles.
func (s *Session) Close() {
	s.cache.Purge()
}
