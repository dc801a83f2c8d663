package lib

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/canopy-network/dbft/lib/crypto"
)

/* This file defines the agreed unit of the ledger: a header, the referenced transactions and the commit witness */

const (
	BlockVersion = uint32(0)
)

// Header is the part of a block every validator signs (via its hash) in the commit phase
type Header struct {
	Version      uint32   `json:"version"`
	PrevHash     HexBytes `json:"prevHash"`
	Index        uint32   `json:"index"`
	Timestamp    uint64   `json:"timestamp"` // unix milliseconds
	Nonce        uint64   `json:"nonce"`
	PrimaryIndex uint8    `json:"primaryIndex"`
	MerkleRoot   HexBytes `json:"merkleRoot"`
}

// Bytes() returns the canonical encoding of the header
func (x *Header) Bytes() []byte {
	return NewProtoWriter().
		Uint(1, uint64(x.Version)).
		Bytes(2, x.PrevHash).
		Uint(3, uint64(x.Index)).
		Uint(4, x.Timestamp).
		Uint(5, x.Nonce).
		Uint(6, uint64(x.PrimaryIndex)).
		Bytes(7, x.MerkleRoot).
		Out()
}

// Hash() returns the hash of the canonical header encoding
func (x *Header) Hash() []byte { return crypto.Hash(x.Bytes()) }

// Check() validates the structure of the header
func (x *Header) Check() ErrorI {
	if x == nil {
		return ErrNilBlockHeader()
	}
	if len(x.PrevHash) != crypto.HashSize || len(x.MerkleRoot) != crypto.HashSize {
		return ErrWrongLengthBlockHash()
	}
	return nil
}

// NewHeaderFromBytes() decodes a canonical header
func NewHeaderFromBytes(bz []byte) (*Header, ErrorI) {
	x := new(Header)
	err := ReadProtoFields(bz, func(f ProtoField) (e ErrorI) {
		switch f.Num {
		case 1:
			x.Version, e = f.Uint32()
		case 2:
			x.PrevHash = f.CopyBytes()
		case 3:
			x.Index, e = f.Uint32()
		case 4:
			x.Timestamp = f.Varint
		case 5:
			x.Nonce = f.Varint
		case 6:
			x.PrimaryIndex, e = f.Uint8()
		case 7:
			x.MerkleRoot = f.CopyBytes()
		}
		return
	})
	return x, err
}

// CommitSignBytes() is the message a validator signs when committing: networkMagic || headerHash
func CommitSignBytes(networkMagic uint32, headerHash []byte) []byte {
	out := make([]byte, 4, 4+len(headerHash))
	binary.LittleEndian.PutUint32(out, networkMagic)
	return append(out, headerHash...)
}

// Block is an agreed header plus the referenced transactions and the quorum witness
type Block struct {
	Header   *Header    `json:"header"`
	TxHashes []HexBytes `json:"txHashes"`
	Witness  *Witness   `json:"witness"`
}

// Hash() returns the header hash, the identity of the block
func (x *Block) Hash() []byte {
	if x == nil || x.Header == nil {
		return nil
	}
	return x.Header.Hash()
}

// Check() validates the structure of the block and that the merkle root covers the transactions
func (x *Block) Check() ErrorI {
	if x == nil {
		return ErrNilBlock()
	}
	if err := x.Header.Check(); err != nil {
		return err
	}
	if !bytes.Equal(x.Header.MerkleRoot, TxMerkleRoot(x.TxHashes)) {
		return ErrInvalidProposal("merkle root doesn't cover the transactions")
	}
	return nil
}

// Bytes() returns the canonical encoding of the block
func (x *Block) Bytes() []byte {
	w := NewProtoWriter().Message(1, x.Header.Bytes())
	for _, h := range x.TxHashes {
		w.Message(2, h)
	}
	if x.Witness != nil {
		w.Message(3, x.Witness.Bytes())
	}
	return w.Out()
}

// NewBlockFromBytes() decodes a canonical block
func NewBlockFromBytes(bz []byte) (*Block, ErrorI) {
	x := new(Block)
	err := ReadProtoFields(bz, func(f ProtoField) (e ErrorI) {
		switch f.Num {
		case 1:
			x.Header, e = NewHeaderFromBytes(f.Bytes)
		case 2:
			x.TxHashes = append(x.TxHashes, f.CopyBytes())
		case 3:
			x.Witness, e = NewWitnessFromBytes(f.Bytes)
		}
		return
	})
	if err != nil {
		return nil, err
	}
	if x.Header == nil {
		return nil, ErrNilBlockHeader()
	}
	return x, nil
}

// TxMerkleRoot() returns the merkle root of a list of transaction hashes
func TxMerkleRoot(txHashes []HexBytes) []byte {
	items := make([][]byte, len(txHashes))
	for i, h := range txHashes {
		items[i] = h
	}
	return crypto.MerkleRoot(items)
}

// CommitSignature is one validator's signature over the commit sign bytes of a header
type CommitSignature struct {
	Index     uint8    `json:"index"`
	Signature HexBytes `json:"signature"`
}

// Witness proves that a quorum of the committee signed the block header
// With an all-BLS committee the signatures are aggregated into one; otherwise they're listed in bitmap order
type Witness struct {
	Bitmap             HexBytes   `json:"bitmap"`
	AggregateSignature HexBytes   `json:"aggregateSignature,omitempty"`
	Signatures         []HexBytes `json:"signatures,omitempty"`
}

// NewWitness() builds the witness from commit signatures; duplicates by index are dropped
func NewWitness(vs *ValidatorSet, sigs []CommitSignature) (*Witness, ErrorI) {
	sorted := make([]CommitSignature, 0, len(sigs))
	seen := make(map[uint8]struct{})
	for _, s := range sigs {
		if !vs.IsValidIndex(s.Index) {
			return nil, ErrInvalidValidatorIndex(s.Index)
		}
		if len(s.Signature) == 0 {
			return nil, ErrEmptySignature()
		}
		if _, found := seen[s.Index]; found {
			continue
		}
		seen[s.Index] = struct{}{}
		sorted = append(sorted, s)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })
	w := &Witness{Bitmap: make([]byte, (vs.N()+7)/8)}
	for _, s := range sorted {
		w.Bitmap[s.Index/8] |= 1 << (s.Index & 7)
	}
	if mpk, ok := vs.MultiKey(); ok {
		for _, s := range sorted {
			if err := mpk.AddSigner(s.Signature, int(s.Index)); err != nil {
				return nil, ErrAggregateSignature(err)
			}
		}
		agg, err := mpk.AggregateSignatures()
		if err != nil {
			return nil, ErrAggregateSignature(err)
		}
		w.AggregateSignature = agg
		return w, nil
	}
	for _, s := range sorted {
		w.Signatures = append(w.Signatures, s.Signature)
	}
	return w, nil
}

// Signers() returns the validator indices set in the bitmap, ascending
func (x *Witness) Signers() (signers []uint8) {
	for i := 0; i < len(x.Bitmap)*8 && i <= MaxValidators; i++ {
		if x.Bitmap[i/8]&(1<<(i&7)) != 0 {
			signers = append(signers, uint8(i))
		}
	}
	return
}

// Verify() checks that at least m validators of the set signed the message
func (x *Witness) Verify(vs *ValidatorSet, msg []byte) ErrorI {
	if x == nil {
		return ErrInvalidWitness("nil witness")
	}
	if len(x.Bitmap) != (vs.N()+7)/8 {
		return ErrInvalidWitness("bitmap size doesn't match the validator set")
	}
	signers := x.Signers()
	if len(signers) < vs.M() {
		return ErrInvalidWitness(fmt.Sprintf("%d signers is below the quorum of %d", len(signers), vs.M()))
	}
	for _, i := range signers {
		if !vs.IsValidIndex(i) {
			return ErrInvalidWitness(fmt.Sprintf("signer %d is outside the validator set", i))
		}
	}
	if len(x.AggregateSignature) != 0 {
		mpk, ok := vs.MultiKey()
		if !ok {
			return ErrInvalidWitness("aggregate signature over a non-bls validator set")
		}
		if err := mpk.SetBitmap(x.Bitmap); err != nil {
			return ErrInvalidWitness(err.Error())
		}
		if !mpk.VerifyBytes(msg, x.AggregateSignature) {
			return ErrInvalidWitness("aggregate signature doesn't verify")
		}
		return nil
	}
	if len(x.Signatures) != len(signers) {
		return ErrInvalidWitness("signature count doesn't match the bitmap")
	}
	for i, index := range signers {
		v, err := vs.GetValidator(index)
		if err != nil {
			return err
		}
		if !v.PublicKey.VerifyBytes(msg, x.Signatures[i]) {
			return ErrInvalidWitness(fmt.Sprintf("signature of validator %d doesn't verify", index))
		}
	}
	return nil
}

// Bytes() returns the canonical encoding of the witness
func (x *Witness) Bytes() []byte {
	w := NewProtoWriter().Bytes(1, x.Bitmap).Bytes(2, x.AggregateSignature)
	for _, s := range x.Signatures {
		w.Message(3, s)
	}
	return w.Out()
}

// NewWitnessFromBytes() decodes a canonical witness
func NewWitnessFromBytes(bz []byte) (*Witness, ErrorI) {
	x := new(Witness)
	err := ReadProtoFields(bz, func(f ProtoField) ErrorI {
		switch f.Num {
		case 1:
			x.Bitmap = f.CopyBytes()
		case 2:
			x.AggregateSignature = f.CopyBytes()
		case 3:
			x.Signatures = append(x.Signatures, f.CopyBytes())
		}
		return nil
	})
	return x, err
}
