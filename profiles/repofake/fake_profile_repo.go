package fakeprofilerepo

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/jrsteele09/fairway-identity/internal/errors"
	"github.com/jrsteele09/fairway-identity/profiles"
)

var _ profiles.Repo = (*FakeProfileRepo)(nil)

type FakeProfileRepo struct {
	profiles map[string]*profiles.Profile
	reads    map[string]int // GetByID calls per id
	lock     sync.RWMutex
}

func NewFakeProfileRepo() *FakeProfileRepo {
	return &FakeProfileRepo{
		profiles: make(map[string]*profiles.Profile),
		reads:    make(map[string]int),
	}
}

func (pr *FakeProfileRepo) GetByID(_ context.Context, id string) (*profiles.Profile, error) {
	pr.lock.Lock()
	defer pr.lock.Unlock()

	pr.reads[id]++
	p, ok := pr.profiles[id]
	if !ok {
		return nil, apperrors.ErrProfileNotFound
	}
	return p.Clone(), nil
}

func (pr *FakeProfileRepo) SetRole(_ context.Context, id string, role profiles.RoleType) (*profiles.Profile, error) {
	pr.lock.Lock()
	defer pr.lock.Unlock()

	p, ok := pr.profiles[id]
	if !ok {
		return nil, apperrors.ErrProfileNotFound
	}
	p.Role = role
	p.Registered = p.HasName() && role != profiles.RoleTemporary
	p.UpdatedAt = time.Now()
	return p.Clone(), nil
}

// Merge upserts the explicitly set fields of p, preserving CreatedAt and
// PictureURL of an existing record.
func (pr *FakeProfileRepo) Merge(p profiles.Profile) profiles.Profile {
	pr.lock.Lock()
	defer pr.lock.Unlock()

	if existing, ok := pr.profiles[p.ID]; ok {
		if !existing.CreatedAt.IsZero() {
			p.CreatedAt = existing.CreatedAt
		}
		if p.PictureURL == nil {
			p.PictureURL = existing.PictureURL
		}
	}
	pr.profiles[p.ID] = p.Clone()
	return *p.Clone()
}

// Put stores a profile as-is. Test setup only.
func (pr *FakeProfileRepo) Put(p profiles.Profile) {
	pr.lock.Lock()
	defer pr.lock.Unlock()
	pr.profiles[p.ID] = p.Clone()
}

// Reads returns how many times GetByID was called for id.
func (pr *FakeProfileRepo) Reads(id string) int {
	pr.lock.RLock()
	defer pr.lock.RUnlock()
	return pr.reads[id]
}
