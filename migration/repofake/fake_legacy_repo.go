package fakelegacyrepo

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/jrsteele09/fairway-identity/internal/errors"
	"github.com/jrsteele09/fairway-identity/migration"
)

var _ migration.Repo = (*FakeLegacyRepo)(nil)

type FakeLegacyRepo struct {
	accounts map[string]migration.LegacyAccount
	lookups  int
	writes   int
	lock     sync.RWMutex

	// FindErr and LinkErr inject failures
	FindErr error
	LinkErr error
}

func NewFakeLegacyRepo() *FakeLegacyRepo {
	return &FakeLegacyRepo{
		accounts: make(map[string]migration.LegacyAccount),
	}
}

func (lr *FakeLegacyRepo) FindByPlatformID(_ context.Context, platformID string) (*migration.LegacyAccount, error) {
	lr.lock.Lock()
	defer lr.lock.Unlock()

	lr.lookups++
	if lr.FindErr != nil {
		return nil, lr.FindErr
	}
	a, ok := lr.accounts[platformID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &a, nil
}

func (lr *FakeLegacyRepo) Link(_ context.Context, platformID, backendID string, at time.Time) (*migration.LegacyAccount, bool, error) {
	lr.lock.Lock()
	defer lr.lock.Unlock()

	if lr.LinkErr != nil {
		return nil, false, lr.LinkErr
	}
	a, ok := lr.accounts[platformID]
	if !ok {
		return nil, false, apperrors.ErrNotFound
	}
	switch a.LinkedTo {
	case backendID:
		return &a, false, nil
	case "":
	default:
		return nil, false, migration.ErrAlreadyLinked
	}
	a.LinkedTo = backendID
	a.LinkedAt = &at
	lr.accounts[platformID] = a
	lr.writes++
	return &a, true, nil
}

// Put stores a legacy account. Test setup only.
func (lr *FakeLegacyRepo) Put(a migration.LegacyAccount) {
	lr.lock.Lock()
	defer lr.lock.Unlock()
	lr.accounts[a.PlatformID] = a
}

// Writes returns the number of link mutations applied.
func (lr *FakeLegacyRepo) Writes() int {
	lr.lock.RLock()
	defer lr.lock.RUnlock()
	return lr.writes
}

// Lookups returns the number of FindByPlatformID calls.
func (lr *FakeLegacyRepo) Lookups() int {
	lr.lock.RLock()
	defer lr.lock.RUnlock()
	return lr.lookups
}
