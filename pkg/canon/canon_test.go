package canon

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizeKeyOrderIndependence(t *testing.T) {
	a := map[string]any{"b": 1.0, "a": 2.0, "c": map[string]any{"y": 1.0, "x": 2.0}}
	b := map[string]any{"c": map[string]any{"x": 2.0, "y": 1.0}, "a": 2.0, "b": 1.0}

	out1, err := Canonicalize(a)
	require.NoError(t, err)
	out2, err := Canonicalize(b)
	require.NoError(t, err)

	assert.Equal(t, out1, out2)
	assert.Equal(t, `{"a":2,"b":1,"c":{"x":2,"y":1}}`, string(out1))
}

func TestCanonicalizeArrayOrderPreserved(t *testing.T) {
	out, err := Canonicalize(map[string]any{"items": []any{3.0, 1.0, 2.0}})
	require.NoError(t, err)
	assert.Equal(t, `{"items":[3,1,2]}`, string(out))
}

func TestCanonicalizeRejectsNaNAndInfinity(t *testing.T) {
	_, err := Canonicalize(map[string]any{"v": math.NaN()})
	require.Error(t, err)

	_, err = Canonicalize(map[string]any{"v": math.Inf(1)})
	require.Error(t, err)
}

func TestHashIsStableAcrossKeyOrder(t *testing.T) {
	h1, err := Hash(map[string]any{"b": 1.0, "a": 2.0})
	require.NoError(t, err)
	h2, err := Hash(map[string]any{"a": 2.0, "b": 1.0})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestCanonicalizeEscapesStrings(t *testing.T) {
	out, err := Canonicalize(map[string]any{"s": "a\"b\\c\nd"})
	require.NoError(t, err)
	assert.Equal(t, `{"s":"a\"b\\c\nd"}`, string(out))
}
