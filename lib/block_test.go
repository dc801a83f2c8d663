package lib

import (
	"testing"

	"github.com/canopy-network/dbft/lib/crypto"
	"github.com/stretchr/testify/require"
)

func newTestHeader(txHashes []HexBytes) *Header {
	return &Header{
		Version:      BlockVersion,
		PrevHash:     crypto.Hash([]byte("prev")),
		Index:        100,
		Timestamp:    1700000000000,
		Nonce:        42,
		PrimaryIndex: 0,
		MerkleRoot:   TxMerkleRoot(txHashes),
	}
}

func TestHeaderEncoding(t *testing.T) {
	h := newTestHeader(nil)
	got, err := NewHeaderFromBytes(h.Bytes())
	require.NoError(t, err)
	require.Equal(t, h, got)
	require.Equal(t, h.Hash(), got.Hash())
	// any field changes the hash
	got.Nonce++
	require.NotEqual(t, h.Hash(), got.Hash())
}

func TestBlockCheck(t *testing.T) {
	txs := []HexBytes{crypto.Hash([]byte("a")), crypto.Hash([]byte("b"))}
	tests := []struct {
		name   string
		detail string
		block  *Block
		error  ErrorI
	}{
		{
			name:   "nil block",
			detail: "a nil block is rejected",
			error:  ErrNilBlock(),
		},
		{
			name:   "nil header",
			detail: "a block without a header is rejected",
			block:  &Block{},
			error:  ErrNilBlockHeader(),
		},
		{
			name:   "short prev hash",
			detail: "the previous hash must be a full hash",
			block:  &Block{Header: &Header{PrevHash: []byte{1}, MerkleRoot: crypto.ZeroHash}},
			error:  ErrWrongLengthBlockHash(),
		},
		{
			name:   "wrong merkle root",
			detail: "the merkle root must cover the listed transactions",
			block:  &Block{Header: newTestHeader(txs), TxHashes: txs[:1]},
			error:  ErrInvalidProposal("merkle root doesn't cover the transactions"),
		},
		{
			name:   "valid",
			detail: "a well formed block passes",
			block:  &Block{Header: newTestHeader(txs), TxHashes: txs},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.error, test.block.Check(), test.detail)
		})
	}
}

func TestWitness(t *testing.T) {
	tests := []struct {
		name    string
		detail  string
		bls     bool
		signers []uint8
		forge   bool
		valid   bool
	}{
		{
			name:    "bls quorum",
			detail:  "three of four bls signatures aggregate into a valid witness",
			bls:     true,
			signers: []uint8{0, 2, 3},
			valid:   true,
		},
		{
			name:    "ed25519 quorum",
			detail:  "three of four ed25519 signatures are listed in bitmap order",
			signers: []uint8{3, 1, 0},
			valid:   true,
		},
		{
			name:    "below quorum",
			detail:  "two of four signatures is not enough",
			bls:     true,
			signers: []uint8{0, 1},
		},
		{
			name:    "forged bls",
			detail:  "a signature over another message breaks the aggregate",
			bls:     true,
			signers: []uint8{0, 1, 2},
			forge:   true,
		},
		{
			name:    "forged ed25519",
			detail:  "a signature over another message is detected",
			signers: []uint8{0, 1, 2},
			forge:   true,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			keys := newTestKeys(t, 4, test.bls)
			vs := newTestValidatorSet(t, keys)
			msg := CommitSignBytes(DefaultNetworkMagic, crypto.Hash([]byte("header")))
			var sigs []CommitSignature
			for i, index := range test.signers {
				toSign := msg
				if test.forge && i == 0 {
					toSign = []byte("something else")
				}
				sigs = append(sigs, CommitSignature{Index: index, Signature: keys[index].Sign(toSign)})
			}
			w, err := NewWitness(vs, sigs)
			require.NoError(t, err)
			// survive the codec
			decoded, err := NewWitnessFromBytes(w.Bytes())
			require.NoError(t, err)
			require.Equal(t, w, decoded)
			if test.valid {
				require.NoError(t, decoded.Verify(vs, msg), test.detail)
				require.Len(t, decoded.Signers(), len(test.signers))
			} else {
				require.Error(t, decoded.Verify(vs, msg), test.detail)
			}
		})
	}
}

func TestNewWitnessRejects(t *testing.T) {
	keys := newTestKeys(t, 4, false)
	vs := newTestValidatorSet(t, keys)
	_, err := NewWitness(vs, []CommitSignature{{Index: 9, Signature: []byte{1}}})
	require.Equal(t, ErrInvalidValidatorIndex(9), err)
	_, err = NewWitness(vs, []CommitSignature{{Index: 1}})
	require.Equal(t, ErrEmptySignature(), err)
	// duplicates by index are dropped
	w, err := NewWitness(vs, []CommitSignature{{Index: 1, Signature: []byte{1}}, {Index: 1, Signature: []byte{2}}})
	require.NoError(t, err)
	require.Equal(t, []uint8{1}, w.Signers())
	require.Len(t, w.Signatures, 1)
}

func TestBlockEncoding(t *testing.T) {
	keys := newTestKeys(t, 4, true)
	vs := newTestValidatorSet(t, keys)
	txs := []HexBytes{crypto.Hash([]byte("a"))}
	block := &Block{Header: newTestHeader(txs), TxHashes: txs}
	msg := CommitSignBytes(DefaultNetworkMagic, block.Hash())
	var sigs []CommitSignature
	for i := 0; i < 3; i++ {
		sigs = append(sigs, CommitSignature{Index: uint8(i), Signature: keys[i].Sign(msg)})
	}
	w, err := NewWitness(vs, sigs)
	require.NoError(t, err)
	block.Witness = w
	got, err := NewBlockFromBytes(block.Bytes())
	require.NoError(t, err)
	require.Equal(t, block, got)
	require.NoError(t, got.Check())
	require.NoError(t, got.Witness.Verify(vs, CommitSignBytes(DefaultNetworkMagic, got.Hash())))
	// a missing header can't decode
	_, err = NewBlockFromBytes(nil)
	require.Equal(t, ErrNilBlockHeader(), err)
}

func TestCommitSignBytes(t *testing.T) {
	require.Equal(t, []byte{0x33, 0x4F, 0x45, 0x4E, 0xAA}, CommitSignBytes(DefaultNetworkMagic, []byte{0xAA}))
}
