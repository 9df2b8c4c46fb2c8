package store

import (
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSealer(t *testing.T) *Sealer {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	sealer, err := NewSealer(base64.StdEncoding.EncodeToString(key))
	require.NoError(t, err)
	require.NotNil(t, sealer)
	return sealer
}

func TestSealer_RoundTrip(t *testing.T) {
	sealer := newTestSealer(t)

	sealed, err := sealer.Seal("super-secret-access-token")
	require.NoError(t, err)
	assert.NotEqual(t, "super-secret-access-token", sealed)

	opened, err := sealer.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "super-secret-access-token", opened)
}

func TestSealer_UniqueNonces(t *testing.T) {
	sealer := newTestSealer(t)

	first, err := sealer.Seal("token")
	require.NoError(t, err)
	second, err := sealer.Seal("token")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestSealer_TamperedCiphertext(t *testing.T) {
	sealer := newTestSealer(t)

	sealed, err := sealer.Seal("token")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(sealed)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff

	_, err = sealer.Open(base64.StdEncoding.EncodeToString(raw))
	assert.Error(t, err)
}

func TestSealer_WrongKey(t *testing.T) {
	sealed, err := newTestSealer(t).Seal("token")
	require.NoError(t, err)

	_, err = newTestSealer(t).Open(sealed)
	assert.Error(t, err)
}

func TestNewSealer_Validation(t *testing.T) {
	sealer, err := NewSealer("")
	require.NoError(t, err)
	assert.Nil(t, sealer)

	_, err = NewSealer("not base64!!!")
	assert.Error(t, err)

	_, err = NewSealer(base64.StdEncoding.EncodeToString(make([]byte, 16)))
	assert.Error(t, err)
}

func TestNilSealer_Passthrough(t *testing.T) {
	var sealer *Sealer

	sealed, err := sealer.Seal("token")
	require.NoError(t, err)
	assert.Equal(t, "token", sealed)

	opened, err := sealer.Open("token")
	require.NoError(t, err)
	assert.Equal(t, "token", opened)
}
