package backend

import (
	"errors"
	"strings"
	"sync"

	"github.com/jrsteele09/fairway-identity/authstate"
	"github.com/rs/zerolog/log"
)

var _ authstate.Source = (*Client)(nil)

// Client is one browser's view of the backend session. It resolves a persisted
// token in the background and notifies listeners on every change. Listeners cannot
// be removed.
type Client struct {
	auth *Auth

	// deliverMu keeps listener calls in the order the changes happened
	deliverMu   sync.Mutex
	mu          sync.Mutex
	listeners   []authstate.Listener
	initialized bool
	current     *Session
	initErr     error
}

// NewClient restores the session carried by token. An empty token means signed out.
// Restoration runs in the background; listeners hear about it once it completes.
func (a *Auth) NewClient(token string) *Client {
	c := &Client{auth: a}
	go c.restore(token)
	return c
}

func (c *Client) restore(token string) {
	var (
		session *Session
		err     error
	)
	if strings.TrimSpace(token) != "" {
		session, err = c.auth.Verify(token)
		if errors.Is(err, ErrSessionExpired) {
			log.Info().Msg("Backend session expired, treating as signed out")
			session, err = nil, nil
		}
	}

	c.mu.Lock()
	if c.initialized {
		// a sign-in or sign-out already replaced the persisted session
		c.mu.Unlock()
		return
	}
	c.initialized = true
	c.current = session
	c.initErr = err
	c.mu.Unlock()
	c.notify()
}

// OnAuthStateChanged registers listener. If the session is already resolved the
// listener is called straight away with the current state.
func (c *Client) OnAuthStateChanged(listener authstate.Listener) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	c.listeners = append(c.listeners, listener)
	initialized := c.initialized
	userID, err := c.snapshotLocked()
	c.mu.Unlock()

	if initialized {
		listener(userID, err)
	}
}

// SignInAnonymously replaces the current session with a new anonymous account.
func (c *Client) SignInAnonymously() (*Session, error) {
	session, err := c.auth.SignInAnonymously()
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.initialized = true
	c.current = session
	c.initErr = nil
	c.mu.Unlock()
	c.notify()
	return session, nil
}

// SignOut clears the current session.
func (c *Client) SignOut() {
	c.mu.Lock()
	c.initialized = true
	c.current = nil
	c.initErr = nil
	c.mu.Unlock()
	c.notify()
}

// Session returns the current session, or nil when signed out.
func (c *Client) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	s := *c.current
	return &s
}

func (c *Client) snapshotLocked() (string, error) {
	if c.initErr != nil {
		return "", c.initErr
	}
	if c.current == nil {
		return "", nil
	}
	return c.current.UserID, nil
}

func (c *Client) notify() {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	listeners := append([]authstate.Listener(nil), c.listeners...)
	userID, err := c.snapshotLocked()
	c.mu.Unlock()

	for _, l := range listeners {
		l(userID, err)
	}
}
