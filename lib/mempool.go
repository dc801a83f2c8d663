package lib

import (
	"container/list"
	"sync"

	"github.com/canopy-network/dbft/lib/crypto"
)

/* This file defines and implements a mempool that maintains an ordered list of 'pending to be included' transactions in memory */

var _ MempoolI = &FeeMempool{} // MempoolI interface enforcement for FeeMempool implementation

// MempoolI is a model for a pre-block, in-memory, transaction store
type MempoolI interface {
	AddTransaction(tx []byte, fee uint64) (hash []byte, err ErrorI) // insert new unconfirmed transaction
	Contains(hash []byte) bool                                      // whether the mempool has this transaction already (de-duplicated by hash)
	GetTransaction(hash []byte) ([]byte, bool)                      // retrieve the transaction bytes by hash
	SelectTransactions(limit int) [][]byte                          // hashes from the highest fee to lowest, capped by count
	RemoveTransactions(hashes ...[]byte)                            // delete transactions included in a block
	Clear()                                                         // reset the entire store
	TxCount() int                                                   // number of transactions in the pool
	TxsBytes() int                                                  // collective number of bytes in the pool
}

// FeeMempool is a MempoolI implementation that prioritizes transactions with the highest fees
// Equal fees keep arrival order
type FeeMempool struct {
	l        sync.RWMutex             // for thread safety
	pool     *list.List               // ordered by fee descending
	byHash   map[string]*list.Element // O(1) de-duplication and lookup
	txsBytes int                      // collective number of bytes in the pool
	config   MempoolConfig            // user configuration of the pool
}

// MempoolTx is a wrapper over transaction bytes that maintains the fee and hash associated with the bytes
type MempoolTx struct {
	Tx   []byte // transaction bytes
	Hash []byte // hash of the transaction bytes
	Fee  uint64 // fee associated with the transaction
}

// NewMempool() creates a new FeeMempool instance of a MempoolI
func NewMempool(config MempoolConfig) *FeeMempool {
	return &FeeMempool{
		pool:   list.New(),
		byHash: make(map[string]*list.Element),
		config: config,
	}
}

// AddTransaction() inserts a new unconfirmed transaction in fee order and returns its hash
func (f *FeeMempool) AddTransaction(tx []byte, fee uint64) (hash []byte, err ErrorI) {
	// lock the mempool for thread safety
	f.l.Lock()
	// when the function finishes unlock the mempool
	defer f.l.Unlock()
	// ensure the size of the transaction doesn't exceed the individual limit
	if uint32(len(tx)) > f.config.IndividualMaxTxSize {
		return nil, ErrMaxTxSize()
	}
	hash = crypto.Hash(tx)
	key := BytesToString(hash)
	// check for a duplicate
	if _, found := f.byHash[key]; found {
		return nil, ErrDuplicateTransaction()
	}
	// check the limits; a full pool rejects rather than evicting
	if uint32(f.pool.Len()+1) > f.config.MaxTransactionCount || uint64(f.txsBytes+len(tx)) > f.config.MaxTotalBytes {
		return nil, ErrMempoolFull()
	}
	item := MempoolTx{Tx: tx, Hash: hash, Fee: fee}
	// find the first element with a strictly lower fee and insert before it
	var e *list.Element
	for cur := f.pool.Front(); cur != nil; cur = cur.Next() {
		if cur.Value.(MempoolTx).Fee < fee {
			e = f.pool.InsertBefore(item, cur)
			break
		}
	}
	if e == nil {
		e = f.pool.PushBack(item)
	}
	f.byHash[key] = e
	f.txsBytes += len(tx)
	return hash, nil
}

// Contains() checks if a transaction with the given hash exists in the mempool
func (f *FeeMempool) Contains(hash []byte) bool {
	f.l.RLock()
	defer f.l.RUnlock()
	_, contains := f.byHash[BytesToString(hash)]
	return contains
}

// GetTransaction() returns the transaction bytes for a hash
func (f *FeeMempool) GetTransaction(hash []byte) ([]byte, bool) {
	f.l.RLock()
	defer f.l.RUnlock()
	e, found := f.byHash[BytesToString(hash)]
	if !found {
		return nil, false
	}
	return e.Value.(MempoolTx).Tx, true
}

// SelectTransactions() returns up to `limit` transaction hashes from the highest fee to the lowest
func (f *FeeMempool) SelectTransactions(limit int) (hashes [][]byte) {
	f.l.RLock()
	defer f.l.RUnlock()
	for e := f.pool.Front(); e != nil && len(hashes) < limit; e = e.Next() {
		hashes = append(hashes, e.Value.(MempoolTx).Hash)
	}
	return
}

// RemoveTransactions() deletes the transactions, typically after their block was persisted
func (f *FeeMempool) RemoveTransactions(hashes ...[]byte) {
	f.l.Lock()
	defer f.l.Unlock()
	for _, h := range hashes {
		key := BytesToString(h)
		e, found := f.byHash[key]
		if !found {
			continue
		}
		f.txsBytes -= len(e.Value.(MempoolTx).Tx)
		f.pool.Remove(e)
		delete(f.byHash, key)
	}
}

// Clear() empties the mempool and resets its state
func (f *FeeMempool) Clear() {
	f.l.Lock()
	defer f.l.Unlock()
	f.pool, f.byHash, f.txsBytes = list.New(), make(map[string]*list.Element), 0
}

// TxCount() returns the current number of transactions in the mempool
func (f *FeeMempool) TxCount() int {
	f.l.RLock()
	defer f.l.RUnlock()
	return f.pool.Len()
}

// TxsBytes() returns the collective size of the transactions in the mempool
func (f *FeeMempool) TxsBytes() int {
	f.l.RLock()
	defer f.l.RUnlock()
	return f.txsBytes
}
