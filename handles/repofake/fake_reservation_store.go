package fakereservationstore

import (
	"context"
	"errors"
	"sync"

	"github.com/jrsteele09/fairway-identity/handles"
	apperrors "github.com/jrsteele09/fairway-identity/internal/errors"
	"github.com/jrsteele09/fairway-identity/profiles"
	fakeprofilerepo "github.com/jrsteele09/fairway-identity/profiles/repofake"
)

var _ handles.Store = (*FakeReservationStore)(nil)

type FakeReservationStore struct {
	reservations map[string]handles.Reservation
	profiles     *fakeprofilerepo.FakeProfileRepo
	lock         sync.Mutex

	// ProfileWriteErr makes the profile half of a claim fail
	ProfileWriteErr error
}

func NewFakeReservationStore(profileRepo *fakeprofilerepo.FakeProfileRepo) *FakeReservationStore {
	return &FakeReservationStore{
		reservations: make(map[string]handles.Reservation),
		profiles:     profileRepo,
	}
}

func (rs *FakeReservationStore) Claim(ctx context.Context, r handles.Reservation, p profiles.Profile) (*profiles.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rs.lock.Lock()
	defer rs.lock.Unlock()

	if _, ok := rs.reservations[r.Handle]; ok {
		return nil, handles.ErrReservationConflict
	}
	if rs.ProfileWriteErr != nil {
		return nil, rs.ProfileWriteErr
	}
	rs.reservations[r.Handle] = r
	merged := rs.profiles.Merge(p)
	return &merged, nil
}

func (rs *FakeReservationStore) GetReservation(_ context.Context, handle string) (*handles.Reservation, error) {
	rs.lock.Lock()
	defer rs.lock.Unlock()

	r, ok := rs.reservations[handle]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &r, nil
}

// Count returns the number of reservations held.
func (rs *FakeReservationStore) Count() int {
	rs.lock.Lock()
	defer rs.lock.Unlock()
	return len(rs.reservations)
}

var ErrInjected = errors.New("injected failure")
