package keys

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hearsay-net/hearsay/internal/wire"
)

func TestSignAndVerifySeal(t *testing.T) {
	mb, err := GenerateKey()
	require.NoError(t, err)

	kr, err := NewKeyring(map[string]string{"alice.": mb})
	require.NoError(t, err)
	require.True(t, kr.Has("alice."))
	require.False(t, kr.Has("bob."))

	root := []byte("0123456789abcdef0123456789abcdef")
	sealed := wire.SealHash("alice.", time.Now(), root)

	sig, err := kr.Sign("alice.", sealed)
	require.NoError(t, err)

	pub, err := kr.PublicKey("alice.")
	require.NoError(t, err)
	require.NoError(t, Verify(pub, sealed, sig))

	// A different sealed hash must not verify.
	other := wire.SealHash("bob.", time.Now(), root)
	require.Error(t, Verify(pub, other, sig))
}

func TestSignUnknownName(t *testing.T) {
	kr, err := NewKeyring(nil)
	require.NoError(t, err)

	_, err = kr.Sign("nobody.", []byte{1, 2, 3})
	require.ErrorIs(t, err, ErrNoSigner)
}

func TestKeyRoundTrip(t *testing.T) {
	mb, err := GenerateKey()
	require.NoError(t, err)

	priv, err := ParseKey(mb)
	require.NoError(t, err)
	require.Equal(t, mb, priv.Multibase())

	_, err = ParseKey("not a key")
	require.Error(t, err)
}
