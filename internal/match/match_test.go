package match

import (
	"strings"
	"testing"

	"scribe/internal/errors"
	"scribe/internal/normalize"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindUnique(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		old       string
		wantTier  normalize.Tier
		wantRange string
	}{
		{
			name:      "exact substring",
			text:      "package main\n\nfunc main() {}\n",
			old:       "func main() {}",
			wantTier:  normalize.Exact,
			wantRange: "func main() {}",
		},
		{
			name:      "trailing space on disk",
			text:      "foo \n",
			old:       "foo",
			wantTier:  normalize.Exact,
			wantRange: "foo",
		},
		{
			name:      "trailing whitespace drift",
			text:      "foo \nbar\n",
			old:       "foo\t\nbar",
			wantTier:  normalize.TrailingSpace,
			wantRange: "foo \nbar",
		},
		{
			name:      "blank line with whitespace",
			text:      "a()\n    \nb()\n",
			old:       "a()\n\nb()",
			wantTier:  normalize.TrailingSpace,
			wantRange: "a()\n    \nb()",
		},
		{
			name:      "interior runs",
			text:      "if x  ==\t1 {\n",
			old:       "if x == 1 {",
			wantTier:  normalize.SpaceRuns,
			wantRange: "if x  ==\t1 {",
		},
		{
			name:      "indentation drift",
			text:      "func f() {\n\tif ok {\n\t\treturn\n\t}\n}\n",
			old:       "if ok {\n    return\n}",
			wantTier:  normalize.LineTrim,
			wantRange: "if ok {\n\t\treturn\n\t}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := FindUnique(tt.text, tt.old)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTier, res.Tier)
			assert.Equal(t, tt.wantRange, tt.text[res.Start:res.End])
		})
	}
}

func TestFindUniqueAmbiguous(t *testing.T) {
	_, err := FindUnique("x = 1\nx = 1\n", "x = 1")
	require.Error(t, err)

	e, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrorTypeAmbiguous, e.Type)
	assert.Equal(t, normalize.Exact.String(), e.Tier)
	assert.Equal(t, 2, e.Count)
}

// Once a strict tier sees two occurrences, looser tiers are not consulted.
func TestAmbiguityIsTerminal(t *testing.T) {
	text := "call()\ncall()  \n  call()\n"
	_, err := FindUnique(text, "call()\t")
	require.Error(t, err)

	e, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrorTypeAmbiguous, e.Type)
	assert.Equal(t, normalize.TrailingSpace.String(), e.Tier)

	counts := e.Details.([]TierCount)
	require.Len(t, counts, 2)
	assert.Equal(t, 0, counts[0].Count)
	assert.Equal(t, 3, counts[1].Count)
}

func TestOverlappingOccurrencesAreAmbiguous(t *testing.T) {
	_, err := FindUnique("aaa", "aa")
	assert.True(t, errors.Is(err, errors.ErrorTypeAmbiguous))
}

func TestTierOneMatchesPlainSearch(t *testing.T) {
	text := "one two three two one"
	res, err := FindUnique(text, "three")
	require.NoError(t, err)

	assert.Equal(t, normalize.Exact, res.Tier)
	assert.Equal(t, strings.Index(text, "three"), res.Start)
	require.Len(t, res.Counts, 1)
}

func TestFindUniqueNotFound(t *testing.T) {
	_, err := FindUnique("alpha\nbeta\n", "gamma")
	require.Error(t, err)

	e, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrorTypeNotFound, e.Type)
	assert.Len(t, e.Details.([]TierCount), len(normalize.Tiers()))
}

func TestEmptySearchString(t *testing.T) {
	t.Run("empty file", func(t *testing.T) {
		res, err := FindUnique("", "")
		require.NoError(t, err)
		assert.Equal(t, 0, res.Start)
		assert.Equal(t, 0, res.End)
	})

	t.Run("non-empty file", func(t *testing.T) {
		_, err := FindUnique("content\n", "")
		assert.True(t, errors.Is(err, errors.ErrorTypeInvalidRequest))
	})
}

func TestWhitespaceOnlyNeedle(t *testing.T) {
	_, err := FindUnique("a\nb\n", "   ")
	assert.True(t, errors.Is(err, errors.ErrorTypeNotFound))
}

func TestLineTrimRequiresWholeLines(t *testing.T) {
	text := "  total := count + 1\n"
	// Would only match part of a line once trimmed.
	_, err := FindUnique(text, "   total :=   count")
	require.Error(t, err)

	res, err := FindUnique(text, "   total  :=  count + 1   ")
	require.NoError(t, err)
	assert.Equal(t, normalize.LineTrim, res.Tier)
	assert.Equal(t, "total := count + 1", text[res.Start:res.End])
}

func TestFindExpected(t *testing.T) {
	text := "log()\nwork()\nlog()\n"

	t.Run("matches expected count", func(t *testing.T) {
		results, err := Find(text, Query{Old: "log()", Expected: 2})
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, 0, results[0].Start)
		assert.Equal(t, 13, results[1].Start)
	})

	t.Run("fewer than expected", func(t *testing.T) {
		_, err := Find(text, Query{Old: "work()", Expected: 2})
		assert.True(t, errors.Is(err, errors.ErrorTypeNotFound))
	})

	t.Run("negative", func(t *testing.T) {
		_, err := Find(text, Query{Old: "log()", Expected: -1})
		assert.True(t, errors.Is(err, errors.ErrorTypeInvalidRequest))
	})
}
