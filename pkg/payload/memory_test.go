package payload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStorePutIsIdempotent(t *testing.T) {
	s := NewMemStore()

	h1, err := s.Put([]byte("hello"))
	require.NoError(t, err)
	h2, err := s.Put([]byte("hello"))
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
}

func TestMemStoreGetNotFound(t *testing.T) {
	s := NewMemStore()
	_, err := s.Get("deadbeef")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemStoreRoundTrip(t *testing.T) {
	s := NewMemStore()
	hash, err := s.Put([]byte("row-payload"))
	require.NoError(t, err)

	has, err := s.Has(hash)
	require.NoError(t, err)
	assert.True(t, has)

	data, err := s.Get(hash)
	require.NoError(t, err)
	assert.Equal(t, []byte("row-payload"), data)

	require.NoError(t, s.Delete(hash))
	has, err = s.Has(hash)
	require.NoError(t, err)
	assert.False(t, has)
}
