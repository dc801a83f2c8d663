package store

import (
	"errors"
	"path/filepath"
	"time"

	"github.com/canopy-network/dbft/bft"
	"github.com/canopy-network/dbft/lib"
	"github.com/dgraph-io/badger/v4"
)

var (
	blockPrefix      = lib.JoinLenPrefix([]byte("b/")) // prefix designated for finalized blocks by height
	blockHashPrefix  = lib.JoinLenPrefix([]byte("h/")) // prefix designated for the block hash -> height index
	roundStatePrefix = lib.JoinLenPrefix([]byte("r/")) // prefix designated for the engine's persisted round state by height
	latestHeightKey  = lib.JoinLenPrefix([]byte("l/")) // key of the height of the latest finalized block

	_ bft.RoundStoreI = &Store{} // enforce the round store interface
)

/*
The Store is a thin persistence layer over a single BadgerDB instance with two concerns:

1. Blocks: finalized blocks are indexed by height and by hash, and the latest height is kept under
   its own key so a restarting node knows which height to resume agreement at.

2. Round state: before the engine broadcasts a Commit it saves the round it committed to. A node
   that crashes and restarts at the same height loads it back and never signs a different block.
   Round states of finalized heights are pruned when the block is indexed.

Every write happens in a single badger transaction so a block and its indexes are never partially
visible.
*/

type Store struct {
	db      *badger.DB   // underlying database
	metrics *lib.Metrics // telemetry
	log     lib.LoggerI  // logger
}

// New() creates a new instance of a Store either in memory or an actual disk DB
func New(config lib.Config, metrics *lib.Metrics, l lib.LoggerI) (*Store, lib.ErrorI) {
	if config.StoreConfig.InMemory {
		return NewStoreInMemory(l)
	}
	return NewStore(filepath.Join(config.DataDirPath, config.DBName), metrics, l)
}

// NewStore() creates a new instance of a disk DB
func NewStore(path string, metrics *lib.Metrics, l lib.LoggerI) (*Store, lib.ErrorI) {
	db, err := badger.Open(badger.DefaultOptions(path).
		WithSyncWrites(true). // a saved round state must survive a crash
		WithNumVersionsToKeep(1).
		WithLogger(newBadgerLogger(l)))
	if err != nil {
		return nil, lib.ErrOpenDB(err)
	}
	return NewStoreWithDB(db, metrics, l), nil
}

// NewStoreInMemory() creates a new instance of a mem DB
func NewStoreInMemory(l lib.LoggerI) (*Store, lib.ErrorI) {
	db, err := badger.Open(badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(newBadgerLogger(l)).
		WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, lib.ErrOpenDB(err)
	}
	return NewStoreWithDB(db, nil, l), nil
}

// NewStoreWithDB() returns a Store object given a DB and a logger
func NewStoreWithDB(db *badger.DB, metrics *lib.Metrics, l lib.LoggerI) *Store {
	if l == nil {
		l = lib.NewNullLogger()
	}
	return &Store{db: db, metrics: metrics, log: l}
}

// IndexBlock() saves a finalized block under its height and hash, advances the latest height and
// prunes the round states the block finalized
func (s *Store) IndexBlock(b *lib.Block) lib.ErrorI {
	if err := b.Check(); err != nil {
		return err
	}
	start, height := time.Now(), b.Header.Index
	err := s.db.Update(func(txn *badger.Txn) error {
		latest, err := getLatestHeight(txn)
		if err != nil {
			return err
		}
		if err = txn.Set(heightKey(blockPrefix, height), b.Bytes()); err != nil {
			return err
		}
		if err = txn.Set(lib.Append(blockHashPrefix, b.Hash()), lib.Uint32ToBigEndian(height)); err != nil {
			return err
		}
		if height > latest {
			if err = txn.Set(latestHeightKey, lib.Uint32ToBigEndian(height)); err != nil {
				return err
			}
		}
		return pruneRoundStates(txn, height)
	})
	if err != nil {
		return lib.ErrStoreSet(err)
	}
	s.metrics.UpdateNodeMetrics(height, time.Since(start))
	s.log.Debugf("Indexed block %d (%s)", height, lib.BytesToTruncatedString(b.Hash()))
	return nil
}

// GetBlockByHeight() returns the finalized block at the height
func (s *Store) GetBlockByHeight(height uint32) (*lib.Block, lib.ErrorI) {
	bz, err := s.get(heightKey(blockPrefix, height))
	if err != nil {
		return nil, err
	}
	if bz == nil {
		return nil, lib.ErrBlockMissing(height)
	}
	return lib.NewBlockFromBytes(bz)
}

// GetBlockByHash() returns the finalized block with the hash
func (s *Store) GetBlockByHash(hash []byte) (*lib.Block, lib.ErrorI) {
	bz, err := s.get(lib.Append(blockHashPrefix, hash))
	if err != nil {
		return nil, err
	}
	if len(bz) != 4 {
		return nil, lib.ErrBlockMissing(0)
	}
	return s.GetBlockByHeight(lib.BigEndianToUint32(bz))
}

// LatestHeight() returns the height of the latest finalized block; 0 when nothing was finalized yet
func (s *Store) LatestHeight() (height uint32, err lib.ErrorI) {
	if e := s.db.View(func(txn *badger.Txn) (e error) {
		height, e = getLatestHeight(txn)
		return
	}); e != nil {
		return 0, lib.ErrStoreGet(e)
	}
	return
}

// SaveRoundState() persists the encoded round of a height, replacing any earlier one
func (s *Store) SaveRoundState(height uint32, state []byte) lib.ErrorI {
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(heightKey(roundStatePrefix, height), state)
	}); err != nil {
		return lib.ErrStoreSet(err)
	}
	return nil
}

// LoadRoundState() returns the encoded round of a height; nil when none was saved
func (s *Store) LoadRoundState(height uint32) ([]byte, lib.ErrorI) {
	return s.get(heightKey(roundStatePrefix, height))
}

// Close() closes the underlying database
func (s *Store) Close() lib.ErrorI {
	if err := s.db.Close(); err != nil {
		return lib.ErrCloseDB(err)
	}
	return nil
}

// get() retrieves a copy of the value at the key; nil when the key doesn't exist
func (s *Store) get(key []byte) (value []byte, err lib.ErrorI) {
	if e := s.db.View(func(txn *badger.Txn) error {
		item, e := txn.Get(key)
		if e != nil {
			if errors.Is(e, badger.ErrKeyNotFound) {
				return nil
			}
			return e
		}
		value, e = item.ValueCopy(nil)
		return e
	}); e != nil {
		return nil, lib.ErrStoreGet(e)
	}
	return
}

func getLatestHeight(txn *badger.Txn) (uint32, error) {
	item, err := txn.Get(latestHeightKey)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, err
	}
	bz, err := item.ValueCopy(nil)
	if err != nil {
		return 0, err
	}
	return lib.BigEndianToUint32(bz), nil
}

// pruneRoundStates() deletes the round states of every height up to and including the finalized one
// Heights are big endian so the iteration stops at the first later height
func pruneRoundStates(txn *badger.Txn, finalized uint32) error {
	it := txn.NewIterator(badger.IteratorOptions{Prefix: roundStatePrefix})
	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		key := it.Item().KeyCopy(nil)
		if lib.BigEndianToUint32(key[len(roundStatePrefix):]) > finalized {
			break
		}
		keys = append(keys, key)
	}
	it.Close()
	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func heightKey(prefix []byte, height uint32) []byte {
	return lib.Append(prefix, lib.Uint32ToBigEndian(height))
}
