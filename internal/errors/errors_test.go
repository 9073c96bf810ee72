package errors_test

import (
	stderrors "errors"
	"testing"

	apperrors "github.com/jrsteele09/fairway-identity/internal/errors"
	"github.com/stretchr/testify/require"
)

func TestWrapf(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		require.NoError(t, apperrors.Wrapf(nil, "context %d", 1))
	})

	t.Run("wraps with context", func(t *testing.T) {
		err := apperrors.Wrapf(apperrors.ErrNotFound, "load %s", "users/abc")
		require.EqualError(t, err, "load users/abc: not found")
		require.True(t, stderrors.Is(err, apperrors.ErrNotFound))
	})
}
