package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestHashAndString(t *testing.T) {
	// generate arbitrary data
	msg := make([]byte, 100)
	_, err := rand.Read(msg)
	require.NoError(t, err)
	// hash the data using the hasher
	hasher := Hasher()
	_, err = hasher.Write(msg)
	require.NoError(t, err)
	byHasher := hasher.Sum(nil)
	// hash the data directly
	hash := Hash(msg)
	// check equivalence
	require.Equal(t, hash, byHasher)
	// ensure size is correct
	require.Len(t, hash, HashSize)
	// validate string
	require.Equal(t, hex.EncodeToString(hash), HashString(msg))
}

func TestMerkleRoot(t *testing.T) {
	a, b, c := []byte("a"), []byte("b"), []byte("c")
	tests := []struct {
		name     string
		detail   string
		items    [][]byte
		expected []byte
	}{
		{
			name:     "empty",
			detail:   "no items yields the zero hash",
			items:    nil,
			expected: ZeroHash,
		},
		{
			name:     "single",
			detail:   "a single item is its own hash",
			items:    [][]byte{a},
			expected: Hash(a),
		},
		{
			name:     "pair",
			detail:   "two items hash their concatenated leaves",
			items:    [][]byte{a, b},
			expected: Hash(append(Hash(a), Hash(b)...)),
		},
		{
			name:     "odd",
			detail:   "an odd leaf is paired with itself",
			items:    [][]byte{a, b, c},
			expected: Hash(append(Hash(append(Hash(a), Hash(b)...)), Hash(append(Hash(c), Hash(c)...))...)),
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.expected, MerkleRoot(test.items), test.detail)
		})
	}
}

func TestHashMany(t *testing.T) {
	require.Equal(t, Hash([]byte("abc")), HashMany([]byte("a"), []byte("bc")))
}
