package migration

import (
	"context"
	"errors"
	"strings"
	"time"

	apperrors "github.com/jrsteele09/fairway-identity/internal/errors"
	"github.com/jrsteele09/fairway-identity/internal/metrics"
	"github.com/jrsteele09/fairway-identity/profiles"
	"github.com/rs/zerolog/log"
)

// Service performs best-effort legacy account migration.
type Service struct {
	repo    Repo
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

// WithMetrics records migration outcomes on r
func WithMetrics(r metrics.Recorder) ServiceOption {
	return func(s *Service) {
		s.metrics = metrics.OrNop(r)
	}
}

func NewService(repo Repo, options ...ServiceOption) (*Service, error) {
	if repo == nil {
		return nil, errors.New("[migration.NewService] repo is required")
	}
	s := &Service{repo: repo, metrics: metrics.Nop{}, nowTime: time.Now}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// MigrateIfLegacyExistsAndLink links the legacy account of legacyPlatformID to
// newBackendID and returns the resulting profile. It returns nil when there is no
// legacy account, and also when lookup or link fails: those failures are logged
// and never returned.
func (s *Service) MigrateIfLegacyExistsAndLink(ctx context.Context, legacyPlatformID, newBackendID string) *profiles.Profile {
	if strings.TrimSpace(legacyPlatformID) == "" || strings.TrimSpace(newBackendID) == "" {
		s.metrics.RecordMigration(metrics.OutcomeNoLegacy)
		return nil
	}

	account, err := s.repo.FindByPlatformID(ctx, legacyPlatformID)
	if errors.Is(err, apperrors.ErrNotFound) {
		s.metrics.RecordMigration(metrics.OutcomeNoLegacy)
		return nil
	}
	if err != nil {
		s.metrics.RecordMigration(metrics.OutcomeLookupError)
		lookupErr := &LookupError{PlatformID: legacyPlatformID, Err: err}
		log.Err(lookupErr).Str("platform_id", legacyPlatformID).Msg("Legacy account lookup failed")
		return nil
	}

	// already ours: nothing to write
	if account.LinkedTo == newBackendID {
		s.metrics.RecordMigration(metrics.OutcomeLinked)
		return account.Profile(newBackendID)
	}

	linked, written, err := s.repo.Link(ctx, legacyPlatformID, newBackendID, s.nowTime().UTC())
	if err != nil {
		s.metrics.RecordMigration(metrics.OutcomeLinkError)
		linkErr := &LinkError{PlatformID: legacyPlatformID, BackendID: newBackendID, Err: err}
		log.Err(linkErr).
			Str("platform_id", legacyPlatformID).
			Str("uid", newBackendID).
			Msg("Legacy account link failed")
		return nil
	}

	s.metrics.RecordMigration(metrics.OutcomeLinked)
	log.Info().
		Str("platform_id", legacyPlatformID).
		Str("uid", newBackendID).
		Bool("written", written).
		Msg("Legacy account linked")
	return linked.Profile(newBackendID)
}
