package bft

import (
	"time"

	"github.com/canopy-network/dbft/lib"
	"github.com/canopy-network/dbft/lib/crypto"
)

// LedgerI is the block assembly collaborator
type LedgerI interface {
	// CurrentHeight() returns the index of the next block to agree on
	CurrentHeight() uint32
	// PreviousBlockHash() returns the hash of the latest persisted block
	PreviousBlockHash() []byte
	// AssembleBlock() combines the agreed header, its transactions and the commit signatures into a block
	AssembleBlock(header *lib.Header, txHashes []lib.HexBytes, sigs []lib.CommitSignature) (*lib.Block, lib.ErrorI)
}

// MempoolI is the transaction source of the primary and the availability check of the backups
type MempoolI interface {
	SelectTransactions(limit int) [][]byte
	Contains(hash []byte) bool
}

// SignerI signs on behalf of a validator account without exposing the key
type SignerI interface {
	Sign(msg []byte, account crypto.AddressI) ([]byte, error)
}

// VerifierI checks a signature against a public key
type VerifierI interface {
	Verify(msg, sig []byte, publicKey crypto.PublicKeyI) bool
}

// BroadcasterI sends a payload to every other validator; fire and forget
type BroadcasterI interface {
	Broadcast(p *Payload)
}

// ViolationReporterI is told about peers that broke the protocol
type ViolationReporterI interface {
	ReportViolation(validatorIndex uint8, err lib.ErrorI)
}

// RoundStoreI persists the engine's round state so a restarted node never commits to a different block
type RoundStoreI interface {
	SaveRoundState(height uint32, state []byte) lib.ErrorI
	LoadRoundState(height uint32) ([]byte, lib.ErrorI) // nil, nil when nothing is stored
}

// Collaborators are the external capabilities the engine consumes
// Reporter and Store are optional
type Collaborators struct {
	Ledger   LedgerI
	Mempool  MempoolI
	Signer   SignerI
	Verifier VerifierI
	Network  BroadcasterI
	Reporter ViolationReporterI
	Store    RoundStoreI
}

func (c Collaborators) check() lib.ErrorI {
	switch {
	case c.Ledger == nil:
		return lib.ErrInvalidConfig("missing ledger")
	case c.Mempool == nil:
		return lib.ErrInvalidConfig("missing mempool")
	case c.Signer == nil:
		return lib.ErrInvalidConfig("missing signer")
	case c.Verifier == nil:
		return lib.ErrInvalidConfig("missing verifier")
	case c.Network == nil:
		return lib.ErrInvalidConfig("missing network")
	}
	return nil
}

// BlockAgreed is emitted once per height when m commits for the same block were collected
// The consumer persists the block and then calls Engine.AcknowledgeBlock
type BlockAgreed struct {
	Block         *lib.Block
	ViewNumber    uint8
	RoundDuration time.Duration
}
