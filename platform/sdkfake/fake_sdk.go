package sdkfake

import (
	"context"
	"sync"

	"github.com/jrsteele09/fairway-identity/platform"
)

var _ platform.SDK = (*FakeSDK)(nil)

// FakeSDK is a scriptable host SDK.
type FakeSDK struct {
	lock sync.Mutex

	Initialized bool
	LoggedIn    bool
	InClient    bool
	PlatformID  string
	InitErr     error
	UserIDErr   error

	InitCalls  int
	LoginCalls []string
}

func NewFakeSDK() *FakeSDK {
	return &FakeSDK{InClient: true}
}

func (f *FakeSDK) IsInitialized() bool {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.Initialized
}

func (f *FakeSDK) Init(context.Context) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.InitCalls++
	if f.InitErr != nil {
		return f.InitErr
	}
	f.Initialized = true
	return nil
}

func (f *FakeSDK) IsLoggedIn() bool {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.LoggedIn
}

func (f *FakeSDK) Login(redirectURI string) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.LoginCalls = append(f.LoginCalls, redirectURI)
}

func (f *FakeSDK) IsInClient() bool {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.InClient
}

func (f *FakeSDK) UserID(context.Context) (string, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.UserIDErr != nil {
		return "", f.UserIDErr
	}
	return f.PlatformID, nil
}

// Logins is the number of login redirects issued.
func (f *FakeSDK) Logins() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return len(f.LoginCalls)
}
