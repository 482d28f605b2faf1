package cid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSumIsStable(t *testing.T) {
	a, err := Sum([]byte("model"))
	require.NoError(t, err)
	b, err := Sum([]byte("model"))
	require.NoError(t, err)
	c, err := Sum([]byte("other"))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.True(t, Matches(a, []byte("model")))
	// CIDv1 in the default base32 encoding
	assert.Equal(t, byte('b'), a[0])
}

func TestMatches(t *testing.T) {
	data := []byte("glb bytes")
	s, err := Sum(data)
	require.NoError(t, err)

	assert.True(t, Matches(s, data))
	assert.False(t, Matches(s, []byte("glb bytez")))
	assert.False(t, Matches("not-a-cid", data))
}
