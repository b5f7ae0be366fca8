package codec

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func testKey(fill byte) []byte {
	return bytes.Repeat([]byte{fill}, KeySize)
}

func TestHashIsDeterministicAndKeyed(t *testing.T) {
	a, err := New(testKey(1))
	require.NoError(t, err)
	b, err := New(testKey(2))
	require.NoError(t, err)

	h1 := a.Hash("13800000000")
	require.Equal(t, h1, a.Hash("13800000000"))
	require.Len(t, h1, 64)
	require.NotEqual(t, h1, a.Hash("13800000001"))
	require.NotEqual(t, h1, b.Hash("13800000000"))
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := New(testKey(7))
	require.NoError(t, err)

	for _, phone := range []string{"13800000000", "+8613912345678", ""} {
		ct, err := c.Encrypt(phone)
		require.NoError(t, err)

		got, err := c.Decrypt(ct)
		require.NoError(t, err)
		require.Equal(t, phone, got)
	}
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	c, err := New(testKey(7))
	require.NoError(t, err)

	first, err := c.Encrypt("13800000000")
	require.NoError(t, err)
	second, err := c.Encrypt("13800000000")
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestDecryptRejectsTamperingAndWrongKey(t *testing.T) {
	c, err := New(testKey(7))
	require.NoError(t, err)
	other, err := New(testKey(8))
	require.NoError(t, err)

	ct, err := c.Encrypt("13800000000")
	require.NoError(t, err)

	tampered := append([]byte(nil), ct...)
	tampered[len(tampered)-1] ^= 0xff
	_, err = c.Decrypt(tampered)
	require.True(t, errors.Is(err, ErrDecrypt))

	_, err = other.Decrypt(ct)
	require.ErrorIs(t, err, ErrDecrypt)

	_, err = c.Decrypt([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrDecrypt)
}

func TestNewRejectsBadKeySize(t *testing.T) {
	_, err := New([]byte("short"))
	require.ErrorIs(t, err, ErrKeySize)
}
