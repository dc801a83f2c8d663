package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalSigner(t *testing.T) {
	edKey, err := NewEd25519PrivateKey()
	require.NoError(t, err)
	blsKey, err := NewBLS12381PrivateKey()
	require.NoError(t, err)
	unknown, err := NewEd25519PrivateKey()
	require.NoError(t, err)
	signer, msg := NewLocalSigner(edKey, blsKey), []byte("block hash")
	tests := []struct {
		name    string
		detail  string
		key     PrivateKeyI
		unknown bool
	}{
		{
			name:   "ed25519",
			detail: "an ed25519 key signs and the verifier accepts",
			key:    edKey,
		},
		{
			name:   "bls",
			detail: "a bls key signs and the verifier accepts",
			key:    blsKey,
		},
		{
			name:    "unknown account",
			detail:  "an address without a key cannot sign",
			key:     unknown,
			unknown: true,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			sig, e := signer.Sign(msg, test.key.PublicKey().Address())
			if test.unknown {
				require.ErrorIs(t, e, ErrKeyNotFound, test.detail)
				return
			}
			require.NoError(t, e, test.detail)
			require.True(t, Verifier{}.Verify(msg, sig, test.key.PublicKey()), test.detail)
			require.False(t, Verifier{}.Verify([]byte("other"), sig, test.key.PublicKey()), test.detail)
			require.False(t, Verifier{}.Verify(msg, nil, test.key.PublicKey()), test.detail)
		})
	}
}

func TestLocalSignerFromKeystore(t *testing.T) {
	key, err := NewBLS12381PrivateKey()
	require.NoError(t, err)
	ks := NewKeystoreInMemory()
	_, err = ks.ImportRaw(key.Bytes(), "password", "alpha")
	require.NoError(t, err)
	address := key.PublicKey().Address()
	signer, err := NewLocalSignerFromKeystore(ks, "password", address)
	require.NoError(t, err)
	sig, err := signer.Sign([]byte("msg"), address)
	require.NoError(t, err)
	require.True(t, key.PublicKey().VerifyBytes([]byte("msg"), sig))
	_, err = NewLocalSignerFromKeystore(ks, "wrong", address)
	require.Error(t, err)
}
