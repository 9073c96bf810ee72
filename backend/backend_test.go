package backend_test

import (
	"context"
	"testing"
	"time"

	"github.com/jrsteele09/fairway-identity/authstate"
	"github.com/jrsteele09/fairway-identity/backend"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newAuth(t *testing.T, options ...backend.AuthOption) *backend.Auth {
	t.Helper()
	a, err := backend.NewAuth(testSecret, options...)
	require.NoError(t, err)
	return a
}

func TestNewAuth_RejectsShortSecret(t *testing.T) {
	_, err := backend.NewAuth([]byte("short"))
	require.Error(t, err)
}

func TestAuth_SignInAndVerify(t *testing.T) {
	a := newAuth(t)

	session, err := a.SignInAnonymously()
	require.NoError(t, err)
	require.NotEmpty(t, session.UserID)
	require.True(t, session.Anonymous)

	verified, err := a.Verify(session.Token)
	require.NoError(t, err)
	require.Equal(t, session.UserID, verified.UserID)
	require.True(t, verified.Anonymous)

	t.Run("other secret", func(t *testing.T) {
		other, err := backend.NewAuth([]byte("fedcba9876543210fedcba9876543210"))
		require.NoError(t, err)
		_, err = other.Verify(session.Token)
		require.Error(t, err)
	})

	t.Run("other issuer", func(t *testing.T) {
		_, err := newAuth(t, backend.WithIssuer("someone-else")).Verify(session.Token)
		require.Error(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := a.Verify("not-a-token")
		require.Error(t, err)
		require.NotErrorIs(t, err, backend.ErrSessionExpired)
	})
}

func TestAuth_Expired(t *testing.T) {
	a := newAuth(t, backend.WithSessionTTL(time.Minute))
	session, err := a.SignInAnonymously()
	require.NoError(t, err)

	backend.NowTimeFunc = func() time.Time { return time.Now().Add(2 * time.Hour) }
	defer func() { backend.NowTimeFunc = time.Now }()

	_, err = a.Verify(session.Token)
	require.ErrorIs(t, err, backend.ErrSessionExpired)
}

func TestClient_DrivesCoordinator(t *testing.T) {
	a := newAuth(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	t.Run("signed out without token", func(t *testing.T) {
		client := a.NewClient("")
		c, err := authstate.NewCoordinator(client, authstate.WithFatalHandler(func(error) {}))
		require.NoError(t, err)
		c.Start()

		state, err := c.WaitResolved(ctx)
		require.NoError(t, err)
		require.False(t, state.SignedIn())
		require.NoError(t, state.Err)

		session, err := client.SignInAnonymously()
		require.NoError(t, err)
		require.Equal(t, session.UserID, c.Current().UserID)

		client.SignOut()
		require.False(t, c.Current().SignedIn())
		require.Nil(t, client.Session())
	})

	t.Run("restores persisted token", func(t *testing.T) {
		session, err := a.SignInAnonymously()
		require.NoError(t, err)

		client := a.NewClient(session.Token)
		c, err := authstate.NewCoordinator(client, authstate.WithFatalHandler(func(error) {}))
		require.NoError(t, err)
		c.Start()

		state, err := c.WaitResolved(ctx)
		require.NoError(t, err)
		require.Equal(t, session.UserID, state.UserID)
		require.Equal(t, session.UserID, client.Session().UserID)
	})

	t.Run("bad token surfaces backend error", func(t *testing.T) {
		client := a.NewClient("bogus")
		c, err := authstate.NewCoordinator(client, authstate.WithFatalHandler(func(error) {}))
		require.NoError(t, err)
		c.Start()

		state, err := c.WaitResolved(ctx)
		require.NoError(t, err)
		var authErr *authstate.BackendAuthError
		require.ErrorAs(t, state.Err, &authErr)
	})
}

func TestAuth_WithSigner(t *testing.T) {
	signer := backend.NewHMACSigner([]byte("fedcba9876543210fedcba9876543210"))
	a := newAuth(t, backend.WithSigner(signer))

	session, err := a.SignInAnonymously()
	require.NoError(t, err)

	verified, err := a.Verify(session.Token)
	require.NoError(t, err)
	require.Equal(t, session.UserID, verified.UserID)

	// the secret passed to NewAuth is no longer the signing key
	_, err = newAuth(t).Verify(session.Token)
	require.Error(t, err)
	require.Equal(t, "HS256", signer.GetSigningMethod().Alg())
}
