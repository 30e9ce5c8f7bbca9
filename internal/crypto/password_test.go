package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasher_RoundTrip(t *testing.T) {
	h := NewHasher(1000) // low iteration count to keep the test fast

	res, err := h.Hash("s3cret-passw0rd")
	require.NoError(t, err)
	assert.Equal(t, AlgorithmPBKDF2SHA256, res.Algorithm)
	assert.Equal(t, 1000, res.Iterations)
	assert.Len(t, res.Salt, saltLength)
	assert.Len(t, res.Hash, keyLength)

	assert.True(t, h.Verify("s3cret-passw0rd", res))
	assert.False(t, h.Verify("s3cret-passw0rd ", res))
	assert.False(t, h.Verify("", res))
}

func TestHasher_FreshSaltPerHash(t *testing.T) {
	h := NewHasher(1000)

	a, err := h.Hash("same-password")
	require.NoError(t, err)
	b, err := h.Hash("same-password")
	require.NoError(t, err)

	assert.NotEqual(t, a.Salt, b.Salt)
	assert.NotEqual(t, a.Hash, b.Hash)
	assert.True(t, h.Verify("same-password", a))
	assert.True(t, h.Verify("same-password", b))
}

func TestHasher_VerifyHonorsStoredParameters(t *testing.T) {
	// A hash created with one iteration count must verify under a hasher
	// configured with another; the stored parameters win.
	old := NewHasher(1000)
	res, err := old.Hash("migrated")
	require.NoError(t, err)

	current := NewHasher(2000)
	assert.True(t, current.Verify("migrated", res))
}

func TestHasher_VerifyRejectsUnknownAlgorithm(t *testing.T) {
	h := NewHasher(1000)
	res, err := h.Hash("pw")
	require.NoError(t, err)

	res.Algorithm = "md5"
	assert.False(t, h.Verify("pw", res))
}

func TestHashResult_EncodeDecode(t *testing.T) {
	h := NewHasher(1000)
	res, err := h.Hash("encode-me")
	require.NoError(t, err)

	decoded, err := DecodeHash(res.Encode())
	require.NoError(t, err)
	assert.Equal(t, res, decoded)

	_, err = DecodeHash("not-a-hash")
	require.Error(t, err)
	_, err = DecodeHash("pbkdf2-sha256$0$AAAA$AAAA")
	require.Error(t, err)
}

func TestNewHasher_DefaultsOnNonPositiveIterations(t *testing.T) {
	assert.Equal(t, DefaultIterations, NewHasher(0).iterations)
	assert.Equal(t, DefaultIterations, NewHasher(-5).iterations)
}
