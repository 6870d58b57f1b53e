package dotpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	m := map[string]any{
		"a": 1,
		"b": map[string]any{
			"c": map[string]any{"d": "deep"},
			"e": nil,
		},
	}

	v, ok := Get(m, "a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = Get(m, "b.c.d")
	require.True(t, ok)
	assert.Equal(t, "deep", v)

	// existing key with nil value resolves
	v, ok = Get(m, "b.e")
	assert.True(t, ok)
	assert.Nil(t, v)

	_, ok = Get(m, "b.missing")
	assert.False(t, ok)
	_, ok = Get(m, "a.b")
	assert.False(t, ok)
	_, ok = Get(m, "")
	assert.False(t, ok)
}

func TestSet(t *testing.T) {
	m := map[string]any{}
	Set(m, "a.b.c", 42)
	v, ok := Get(m, "a.b.c")
	require.True(t, ok)
	assert.Equal(t, 42, v)

	// overwrites scalars in the middle of the path
	Set(m, "a.b", "flat")
	v, _ = Get(m, "a.b")
	assert.Equal(t, "flat", v)
	Set(m, "a.b.c", 1)
	v, _ = Get(m, "a.b.c")
	assert.Equal(t, 1, v)
}

func TestParent(t *testing.T) {
	p, leaf := Parent("a.b.c")
	assert.Equal(t, "a.b", p)
	assert.Equal(t, "c", leaf)

	p, leaf = Parent("solo")
	assert.Equal(t, "", p)
	assert.Equal(t, "solo", leaf)
}

func TestRoot(t *testing.T) {
	assert.Equal(t, "a", Root("a.b.c"))
	assert.Equal(t, "solo", Root("solo"))
}
