package handles_test

import (
	"testing"

	"github.com/jrsteele09/fairway-identity/handles"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		for input, want := range map[string]string{
			"abc":         "abc",
			"abcdefghij":  "abcdefghij",
			"john_doe":    "john_doe",
			"  Golfer1  ": "golfer1",
			"a.b_c":       "a.b_c",
			"007":         "007",
			"JOHN.DOE":    "john.doe",
		} {
			got, err := handles.Canonicalize(input)
			require.NoError(t, err, input)
			require.Equal(t, want, got)
		}
	})

	t.Run("rejected", func(t *testing.T) {
		for input, reason := range map[string]string{
			"":            "required",
			"   ":         "required",
			"ab":          "between 3 and 10",
			"abcdefghijk": "between 3 and 10",
			"jo..hn":      `".."`,
			"jo__hn":      `"__"`,
			"jo._hn":      `"._"`,
			"jo_.hn":      `"_."`,
			"_john":       "start and end",
			"john.":       "start and end",
			"jo-hn":       "only contain",
			"jöhn":        "only contain",
			"jo hn":       "only contain",
		} {
			_, err := handles.Canonicalize(input)
			require.Error(t, err, input)

			var vErr *handles.ValidationError
			require.ErrorAs(t, err, &vErr)
			require.Contains(t, vErr.Reason, reason, input)
		}
	})

	t.Run("length boundary", func(t *testing.T) {
		_, err := handles.Canonicalize("ab")
		require.Error(t, err)
		_, err = handles.Canonicalize("abcdefghijk")
		require.Error(t, err)
		_, err = handles.Canonicalize("abc")
		require.NoError(t, err)
		_, err = handles.Canonicalize("abcdefghij")
		require.NoError(t, err)
	})
}
