package crypto

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestED25519Bytes(t *testing.T) {
	for i := 0; i < 100; i++ {
		// private key testing
		privateKey, err := NewEd25519PrivateKey()
		require.NoError(t, err)
		privateKey2, err := NewPrivateKeyFromBytes(privateKey.Bytes())
		require.NoError(t, err)
		require.True(t, privateKey.Equals(privateKey2))
		// public key testing
		pubKey := privateKey.PublicKey()
		pubKey2, err := NewPublicKeyFromBytes(pubKey.Bytes())
		require.NoError(t, err)
		require.True(t, pubKey.Equals(pubKey2))
		// address testing
		address := pubKey.Address()
		require.True(t, address.Equals(NewAddressFromBytes(address.Bytes())))
	}
}

func TestED25519SignAndVerify(t *testing.T) {
	for i := 0; i < 100; i++ {
		pk, err := NewEd25519PrivateKey()
		require.NoError(t, err)
		pubKey := pk.PublicKey()
		msg := make([]byte, 100)
		_, err = rand.Read(msg)
		require.NoError(t, err)
		signature := pk.Sign(msg)
		require.True(t, pubKey.VerifyBytes(msg, signature))
		_, err = rand.Read(msg)
		require.NoError(t, err)
		require.False(t, pubKey.VerifyBytes(msg, signature))
		// truncated signatures never verify
		require.False(t, pubKey.VerifyBytes(msg, signature[:10]))
	}
}
