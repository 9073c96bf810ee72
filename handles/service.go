package handles

import (
	"context"
	"strings"
	"time"

	apperrors "github.com/jrsteele09/fairway-identity/internal/errors"
	"github.com/jrsteele09/fairway-identity/internal/metrics"
	"github.com/jrsteele09/fairway-identity/profiles"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Service reserves handles and creates the owning profile.
type Service struct {
	store   Store
	metrics metrics.Recorder
	nowTime func() time.Time
}

// ServiceOption defines a function type to modify the Service instance.
type ServiceOption func(*Service)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ServiceOption {
	return func(s *Service) {
		s.nowTime = nowFunc
	}
}

// WithMetrics records claim outcomes on r
func WithMetrics(r metrics.Recorder) ServiceOption {
	return func(s *Service) {
		s.metrics = metrics.OrNop(r)
	}
}

// NewService creates a reservation Service on top of store.
func NewService(store Store, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("[handles.NewService] store is required")
	}
	s := &Service{
		store:   store,
		metrics: metrics.Nop{},
		nowTime: time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Claim validates handle and atomically reserves it for ownerID, creating or merging
// the owner's profile with name=handle, role=temporary and registered=false.
//
// Returns *ValidationError for a malformed handle (nothing is written) and
// ErrReservationConflict when the handle is taken. Conflicts are never retried.
// The caller must invalidate any cached profile of ownerID on success.
func (s *Service) Claim(ctx context.Context, handle, ownerID string, language profiles.Language) (*profiles.Profile, error) {
	canonical, err := Canonicalize(handle)
	if err != nil {
		s.metrics.RecordClaim(metrics.OutcomeInvalid)
		return nil, err
	}
	if strings.TrimSpace(ownerID) == "" {
		return nil, errors.Wrap(apperrors.ErrNoBackendUser, "[Claim] owner is required")
	}
	if language == "" {
		language = profiles.LanguageEN
	}

	now := s.nowTime().UTC()
	reservation := Reservation{Handle: canonical, OwnerID: ownerID, CreatedAt: now}
	profile, err := s.store.Claim(ctx, reservation, profiles.NewTemporary(ownerID, canonical, language, now))
	switch {
	case errors.Is(err, ErrReservationConflict):
		s.metrics.RecordClaim(metrics.OutcomeConflict)
		log.Info().Str("handle", canonical).Str("uid", ownerID).Msg("Handle already reserved")
		return nil, ErrReservationConflict
	case err != nil:
		s.metrics.RecordClaim(metrics.OutcomeError)
		return nil, errors.Wrap(err, "[Claim] reservation failed")
	}

	s.metrics.RecordClaim(metrics.OutcomeClaimed)
	log.Info().Str("handle", canonical).Str("uid", ownerID).Msg("Handle reserved")
	return profile, nil
}

// Available reports whether handle is well formed and currently unreserved. The
// answer is advisory; only Claim decides ownership.
func (s *Service) Available(ctx context.Context, handle string) (bool, error) {
	canonical, err := Canonicalize(handle)
	if err != nil {
		return false, err
	}
	_, err = s.store.GetReservation(ctx, canonical)
	if errors.Is(err, apperrors.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "[Available] lookup failed")
	}
	return false, nil
}
