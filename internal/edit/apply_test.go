package edit

import (
	"testing"

	"scribe/internal/match"
	"scribe/internal/normalize"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApply(t *testing.T) {
	text := "alpha\nbeta\ngamma\n"
	m, err := match.FindUnique(text, "beta")
	require.NoError(t, err)

	assert.Equal(t, "alpha\nBETA\ngamma\n", Apply(text, m, "BETA"))
}

func TestApplyKeepsWhitespaceOutsideMatch(t *testing.T) {
	text := "foo \n"
	m, err := match.FindUnique(text, "foo")
	require.NoError(t, err)

	assert.Equal(t, "bar \n", Apply(text, m, "bar"))
}

func TestApplyTranslatesReplacementLineEndings(t *testing.T) {
	t.Run("lf file", func(t *testing.T) {
		text := "a\nb\nc\n"
		m, err := match.FindUnique(text, "b")
		require.NoError(t, err)
		assert.Equal(t, "a\nx\ny\nc\n", Apply(text, m, "x\r\ny"))
	})

	t.Run("crlf file", func(t *testing.T) {
		text := "a\r\nb\r\nc\r\n"
		m, err := match.FindUnique(text, "b")
		require.NoError(t, err)
		assert.Equal(t, "a\r\nx\r\ny\r\nc\r\n", Apply(text, m, "x\ny"))
	})
}

// A no-op edit reproduces the original text whichever tier matched.
func TestApplyRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		text string
		old  string
		tier normalize.Tier
	}{
		{"exact", "one\ntwo\nthree\n", "two", normalize.Exact},
		{"trailing", "one  \ntwo\nthree\n", "one\ntwo", normalize.TrailingSpace},
		{"runs", "x  =   1\ny = 2\n", "x = 1", normalize.SpaceRuns},
		{"line trim", "func() {\n    a()\n    b()\n}\n", "a()\nb()", normalize.LineTrim},
		{"empty file", "", "", normalize.Exact},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := match.FindUnique(tt.text, tt.old)
			require.NoError(t, err)
			assert.Equal(t, tt.tier, m.Tier)

			original := tt.text[m.Start:m.End]
			assert.Equal(t, tt.text, Apply(tt.text, m, original))
		})
	}
}

func TestApplyAll(t *testing.T) {
	text := "x = 1\ny = 2\nx = 1\n"
	ms, err := match.Find(text, match.Query{Old: "x = 1", Expected: 2})
	require.NoError(t, err)

	assert.Equal(t, "x = 3\ny = 2\nx = 3\n", ApplyAll(text, []match.Result{ms[1], ms[0]}, "x = 3"))
}

func TestApplyCreatesContentInEmptyFile(t *testing.T) {
	m, err := match.FindUnique("", "")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", Apply("", m, "hello\n"))
}
