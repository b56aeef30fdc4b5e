package cryptoprim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultHMACIsDeterministicAndKeyed(t *testing.T) {
	prim := Default()

	a := prim.HMAC.Sum([]byte("key1"), []byte("body"))
	b := prim.HMAC.Sum([]byte("key1"), []byte("body"))
	require.Equal(t, a, b)
	assert.Len(t, a, 20, "HMAC-SHA1 output must be 20 bytes")

	c := prim.HMAC.Sum([]byte("key2"), []byte("body"))
	assert.NotEqual(t, a, c, "different keys must produce different digests")
}

func TestDefaultCRC32IsDeterministic(t *testing.T) {
	prim := Default()
	a := prim.CRC32.Checksum([]byte("hello world"))
	b := prim.CRC32.Checksum([]byte("hello world"))
	assert.Equal(t, a, b)

	c := prim.CRC32.Checksum([]byte("hello world!"))
	assert.NotEqual(t, a, c)
}

func TestDefaultRandomProducesDistinctOutput(t *testing.T) {
	prim := Default()
	a := make([]byte, 16)
	b := make([]byte, 16)
	n, err := prim.Random.Read(a)
	require.NoError(t, err)
	require.Equal(t, 16, n)
	_, err = prim.Random.Read(b)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
