package controller

import (
	"bytes"
	"sync"

	"github.com/canopy-network/dbft/bft"
	"github.com/canopy-network/dbft/lib"
	"github.com/canopy-network/dbft/lib/crypto"
	"github.com/canopy-network/dbft/store"
)

var _ bft.LedgerI = &Ledger{}

// Ledger is the chain of finalized blocks of one node: it tells the engine where agreement resumes, assembles agreed
// blocks and appends them to the store
type Ledger struct {
	store        *store.Store
	validators   *lib.ValidatorSet
	networkMagic uint32
	height       uint32 // height of the latest finalized block
	lastHash     []byte // hash of the latest finalized block; the zero hash at genesis
	mu           sync.RWMutex
}

// NewLedger() loads the tip of the chain from the store
func NewLedger(s *store.Store, vs *lib.ValidatorSet, networkMagic uint32) (*Ledger, lib.ErrorI) {
	l := &Ledger{store: s, validators: vs, networkMagic: networkMagic, lastHash: crypto.ZeroHash}
	height, err := s.LatestHeight()
	if err != nil {
		return nil, err
	}
	if height != 0 {
		tip, e := s.GetBlockByHeight(height)
		if e != nil {
			return nil, e
		}
		l.height, l.lastHash = height, tip.Hash()
	}
	return l, nil
}

// CurrentHeight() returns the index of the next block to agree on
func (l *Ledger) CurrentHeight() uint32 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.height + 1
}

// PreviousBlockHash() returns the hash of the latest finalized block
func (l *Ledger) PreviousBlockHash() []byte {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return bytes.Clone(l.lastHash)
}

// AssembleBlock() aggregates the commit signatures into a witness and checks it proves the header
func (l *Ledger) AssembleBlock(header *lib.Header, txHashes []lib.HexBytes, sigs []lib.CommitSignature) (*lib.Block, lib.ErrorI) {
	w, err := lib.NewWitness(l.validators, sigs)
	if err != nil {
		return nil, err
	}
	b := &lib.Block{Header: header, TxHashes: txHashes, Witness: w}
	if err = b.Check(); err != nil {
		return nil, err
	}
	if err = w.Verify(l.validators, lib.CommitSignBytes(l.networkMagic, header.Hash())); err != nil {
		return nil, err
	}
	return b, nil
}

// Commit() appends an agreed block to the chain; it must extend the tip
func (l *Ledger) Commit(b *lib.Block) lib.ErrorI {
	if err := b.Check(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if b.Header.Index != l.height+1 {
		return ErrNonSequentialBlock(l.height+1, b.Header.Index)
	}
	if !bytes.Equal(b.Header.PrevHash, l.lastHash) {
		return ErrMismatchPrevHash(l.lastHash, b.Header.PrevHash)
	}
	if err := b.Witness.Verify(l.validators, lib.CommitSignBytes(l.networkMagic, b.Hash())); err != nil {
		return err
	}
	if err := l.store.IndexBlock(b); err != nil {
		return err
	}
	l.height, l.lastHash = b.Header.Index, b.Hash()
	return nil
}

// Height() returns the height of the latest finalized block
func (l *Ledger) Height() uint32 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.height
}

// Store() exposes the block store for queries
func (l *Ledger) Store() *store.Store { return l.store }
