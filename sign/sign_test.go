package sign

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerifyEd25519(t *testing.T) {
	privKey, pubKey := GenED25519Keys()
	data := []byte("block")
	sig := SignEd25519(privKey, data)

	ok, err := VerifySignEd25519(pubKey, data, sig)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifySignEd25519(pubKey, []byte("other"), sig)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = VerifySignEd25519(pubKey, data, sig[:10])
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = VerifySignEd25519(pubKey[:5], data, sig)
	assert.ErrorIs(t, err, ErrInvalidPublicKey)
}

func TestHasherIsDeterministic(t *testing.T) {
	a := new(Hasher).WriteString("node0").WriteUint64(3).Sum()
	b := new(Hasher).WriteString("node0").WriteUint64(3).Sum()
	c := new(Hasher).WriteString("node0").WriteUint64(4).Sum()
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.False(t, a.IsZero())
	assert.True(t, Digest{}.IsZero())
	assert.Len(t, a.String(), 2*DigestSize)
}

func TestHasherLengthPrefix(t *testing.T) {
	// "ab"+"c" and "a"+"bc" must not collide.
	a := new(Hasher).WriteString("ab").WriteString("c").Sum()
	b := new(Hasher).WriteString("a").WriteString("bc").Sum()
	assert.NotEqual(t, a, b)
}

func TestSignatureService(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	privKey, pubKey := GenED25519Keys()
	service := NewSignatureService(ctx, privKey)
	digest := Hash([]byte("vote"))

	sig, err := service.RequestSignature(ctx, digest)
	require.NoError(t, err)
	ok, err := VerifySignEd25519(pubKey, digest[:], sig)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSignatureServiceStopped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	privKey, _ := GenED25519Keys()
	service := NewSignatureService(ctx, privKey)
	cancel()
	time.Sleep(10 * time.Millisecond)

	_, err := service.RequestSignature(ctx, Hash([]byte("vote")))
	assert.ErrorIs(t, err, context.Canceled)
}
