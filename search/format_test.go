package search

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lxw15337674/memox-sub000/server/store"
)

func TestFormatter_Format(t *testing.T) {
	created := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	f := NewFormatter(FormatterOptions{Location: time.UTC})

	results := f.Format([]store.Row{
		{ID: "a", Content: "short note", CreatedAt: &created, UpdatedAt: &created, Distance: 0.25},
		{ID: "b", Content: "undated", Distance: 1.3},
	})
	require.Len(t, results, 2)

	a := results[0]
	assert.Equal(t, "a", a.ID)
	require.NotNil(t, a.Similarity)
	assert.InDelta(t, 0.75, *a.Similarity, 1e-12)
	assert.Equal(t, "short note", a.Preview)
	require.NotNil(t, a.CreatedAt)
	assert.Equal(t, "2024-05-06T07:08:09Z", *a.CreatedAt)
	assert.Equal(t, "2024-05-06 07:08", a.DisplayDate)

	b := results[1]
	require.NotNil(t, b.Similarity)
	assert.InDelta(t, -0.3, *b.Similarity, 1e-12)
	assert.Nil(t, b.CreatedAt)
	assert.Nil(t, b.UpdatedAt)
	assert.Equal(t, UnknownDate, b.DisplayDate)
}

func TestFormatter_PreservesOrder(t *testing.T) {
	f := NewFormatter(FormatterOptions{})
	results := f.Format([]store.Row{{ID: "far", Distance: 0.4}, {ID: "near", Distance: 0.1}})
	assert.Equal(t, "far", results[0].ID)
	assert.Equal(t, "near", results[1].ID)
}

func TestFormatter_Preview(t *testing.T) {
	f := NewFormatter(FormatterOptions{})

	exact := strings.Repeat("a", DefaultPreviewLength)
	assert.Equal(t, exact, f.Format([]store.Row{{Content: exact}})[0].Preview)

	long := strings.Repeat("b", DefaultPreviewLength+1)
	assert.Equal(t, strings.Repeat("b", DefaultPreviewLength)+"...", f.Format([]store.Row{{Content: long}})[0].Preview)

	// Truncation counts characters, not bytes.
	cjk := strings.Repeat("记", 200)
	p := f.Format([]store.Row{{Content: cjk}})[0].Preview
	assert.Equal(t, DefaultPreviewLength+3, len([]rune(p)))
	assert.True(t, strings.HasSuffix(p, "..."))
}

func TestFormatter_NonFiniteDistanceIsNull(t *testing.T) {
	f := NewFormatter(FormatterOptions{})
	results := f.Format([]store.Row{{ID: "nan", Distance: math.NaN()}, {ID: "inf", Distance: math.Inf(1)}})

	assert.Nil(t, results[0].Similarity)
	assert.Nil(t, results[1].Similarity)

	b, err := json.Marshal(results[0])
	require.NoError(t, err)
	assert.Contains(t, string(b), `"similarity":null`)
	assert.Contains(t, string(b), `"createdAt":null`)
}

func TestFormatter_CustomLayout(t *testing.T) {
	created := time.Date(2024, 1, 2, 3, 4, 0, 0, time.UTC)
	f := NewFormatter(FormatterOptions{DateLayout: "Jan 2", PreviewLength: 3, Location: time.UTC})

	r := f.Format([]store.Row{{Content: "abcdef", CreatedAt: &created}})[0]
	assert.Equal(t, "Jan 2", r.DisplayDate)
	assert.Equal(t, "abc...", r.Preview)
}
