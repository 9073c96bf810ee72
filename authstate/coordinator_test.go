package authstate_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/fairway-identity/authstate"
	"github.com/jrsteele09/fairway-identity/authstate/sourcefake"
	"github.com/stretchr/testify/require"
)

func newCoordinator(t *testing.T, source authstate.Source, options ...authstate.CoordinatorOption) *authstate.Coordinator {
	t.Helper()
	c, err := authstate.NewCoordinator(source, options...)
	require.NoError(t, err)
	return c
}

func TestNewCoordinator_RequiresSource(t *testing.T) {
	_, err := authstate.NewCoordinator(nil)
	require.Error(t, err)
}

func TestCoordinator_LoadingUntilFirstEvent(t *testing.T) {
	src := sourcefake.NewFakeSource()
	c := newCoordinator(t, src, authstate.WithFatalHandler(func(error) {}))

	require.True(t, c.Current().Loading)
	c.Start()
	c.Start()
	require.Equal(t, 1, src.Subscribers())
	require.True(t, c.Current().Loading)

	src.Emit("uid-1", nil)
	state := c.Current()
	require.False(t, state.Loading)
	require.Equal(t, "uid-1", state.UserID)
	require.True(t, state.SignedIn())
	require.NoError(t, state.Err)
}

func TestCoordinator_ListenerError(t *testing.T) {
	src := sourcefake.NewFakeSource()
	c := newCoordinator(t, src, authstate.WithFatalHandler(func(error) {}))
	c.Start()

	boom := errors.New("token revoked")
	src.Emit("", boom)

	state := c.Current()
	require.False(t, state.Loading)
	var authErr *authstate.BackendAuthError
	require.ErrorAs(t, state.Err, &authErr)
	require.ErrorIs(t, state.Err, boom)
}

func TestCoordinator_LivenessDeadline(t *testing.T) {
	t.Run("fires once when silent", func(t *testing.T) {
		src := sourcefake.NewFakeSource()
		var (
			fatal    atomic.Int32
			fatalErr atomic.Value
		)
		c := newCoordinator(t, src,
			authstate.WithLivenessTimeout(20*time.Millisecond),
			authstate.WithFatalHandler(func(err error) {
				fatalErr.Store(err)
				fatal.Add(1)
			}),
		)
		c.Start()

		require.Eventually(t, func() bool { return fatal.Load() == 1 }, time.Second, 5*time.Millisecond)
		require.ErrorIs(t, fatalErr.Load().(error), authstate.ErrAuthTimeout)
		require.ErrorIs(t, c.Current().Err, authstate.ErrAuthTimeout)
		require.False(t, c.Current().Loading)

		// a late answer does not revive the session
		src.Emit("uid-1", nil)
		require.ErrorIs(t, c.Current().Err, authstate.ErrAuthTimeout)
		require.Equal(t, int32(1), fatal.Load())
	})

	t.Run("disarmed by first event", func(t *testing.T) {
		src := sourcefake.NewFakeSource()
		var fatal atomic.Int32
		c := newCoordinator(t, src,
			authstate.WithLivenessTimeout(20*time.Millisecond),
			authstate.WithFatalHandler(func(error) { fatal.Add(1) }),
		)
		c.Start()
		src.Emit("", nil)

		time.Sleep(60 * time.Millisecond)
		require.Zero(t, fatal.Load())
		require.False(t, c.Current().Loading)
		require.False(t, c.Current().SignedIn())

		src.Emit("uid-2", nil)
		require.Equal(t, "uid-2", c.Current().UserID)
	})
}

func TestCoordinator_ObserveAndWait(t *testing.T) {
	src := sourcefake.NewFakeSource()
	c := newCoordinator(t, src, authstate.WithFatalHandler(func(error) {}))
	c.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	stream := c.Observe(ctx)
	require.True(t, (<-stream).Loading)

	go src.Emit("uid-1", nil)

	state, err := c.WaitResolved(ctx)
	require.NoError(t, err)
	require.Equal(t, "uid-1", state.UserID)

	require.Eventually(t, func() bool {
		select {
		case s := <-stream:
			return s.UserID == "uid-1"
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}
