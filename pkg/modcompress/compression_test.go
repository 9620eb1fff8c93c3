package modcompress

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomData(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	rand.New(rand.NewSource(1)).Read(b)
	return b
}

func TestRoundTrip(t *testing.T) {
	want := randomData(t, 4096)
	for name, c := range registry {
		c := c
		t.Run(name, func(t *testing.T) {
			encoded, err := c.Encode(want)
			require.NoError(t, err)

			got, err := c.Decode(encoded)
			require.NoError(t, err)
			assert.Equal(t, want, got)
			assert.Equal(t, name, c.Name())
		})
	}
}

func TestByName(t *testing.T) {
	c, err := ByName("zstd")
	require.NoError(t, err)
	assert.Equal(t, "zstd", c.Name())

	_, err = ByName("does-not-exist")
	assert.Error(t, err)
}
