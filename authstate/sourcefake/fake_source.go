package sourcefake

import (
	"sync"

	"github.com/jrsteele09/fairway-identity/authstate"
)

var _ authstate.Source = (*FakeSource)(nil)

// FakeSource records listeners and lets tests emit session changes by hand.
type FakeSource struct {
	listeners []authstate.Listener
	lock      sync.Mutex
}

func NewFakeSource() *FakeSource {
	return &FakeSource{}
}

func (fs *FakeSource) OnAuthStateChanged(listener authstate.Listener) {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	fs.listeners = append(fs.listeners, listener)
}

// Emit delivers a change to every listener.
func (fs *FakeSource) Emit(userID string, err error) {
	fs.lock.Lock()
	listeners := append([]authstate.Listener(nil), fs.listeners...)
	fs.lock.Unlock()

	for _, l := range listeners {
		l(userID, err)
	}
}

// Subscribers is the number of registered listeners.
func (fs *FakeSource) Subscribers() int {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	return len(fs.listeners)
}
