package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	a, err := New(make([]byte, 32))
	require.NoError(t, err)

	ct, err := a.EncryptToString("hunter2")
	require.NoError(t, err)
	assert.NotContains(t, ct, "hunter2")

	pt, err := a.DecryptString(ct)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", pt)
}

func TestNonceVariesPerEncryption(t *testing.T) {
	a, err := New(make([]byte, 32))
	require.NoError(t, err)

	c1, err := a.EncryptToString("same input")
	require.NoError(t, err)
	c2, err := a.EncryptToString("same input")
	require.NoError(t, err)
	assert.NotEqual(t, c1, c2)
}

func TestDecryptRejectsTampering(t *testing.T) {
	a, err := New(make([]byte, 32))
	require.NoError(t, err)

	ct, err := a.EncryptToString("secret")
	require.NoError(t, err)

	tampered := []byte(ct)
	tampered[len(tampered)-1] ^= 1
	_, err = a.DecryptString(string(tampered))
	assert.Error(t, err)
}

func TestDecryptRejectsShortInput(t *testing.T) {
	a, err := New(make([]byte, 16))
	require.NoError(t, err)

	_, err = a.DecryptString("AAAA")
	assert.Error(t, err)

	_, err = a.DecryptString("!!! not base64 !!!")
	assert.Error(t, err)
}

func TestNewRejectsBadKeySize(t *testing.T) {
	_, err := New(make([]byte, 7))
	assert.Error(t, err)
}
