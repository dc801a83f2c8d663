package store

import (
	"testing"

	"github.com/canopy-network/dbft/lib"
	"github.com/canopy-network/dbft/lib/crypto"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	s, err := NewStoreInMemory(lib.NewNullLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testBlock(height uint32, txs ...string) *lib.Block {
	var txHashes []lib.HexBytes
	for _, tx := range txs {
		txHashes = append(txHashes, crypto.Hash([]byte(tx)))
	}
	return &lib.Block{
		Header: &lib.Header{
			PrevHash:   crypto.Hash(lib.Uint32ToBigEndian(height - 1)),
			Index:      height,
			Timestamp:  uint64(height) * 1000,
			MerkleRoot: lib.TxMerkleRoot(txHashes),
		},
		TxHashes: txHashes,
	}
}

func TestIndexBlock(t *testing.T) {
	s := testStore(t)
	height, err := s.LatestHeight()
	require.NoError(t, err)
	require.Zero(t, height)
	for _, b := range []*lib.Block{testBlock(1), testBlock(2, "a", "b"), testBlock(3, "c")} {
		require.NoError(t, s.IndexBlock(b))
	}
	height, err = s.LatestHeight()
	require.NoError(t, err)
	require.Equal(t, uint32(3), height)
	expected := testBlock(2, "a", "b")
	got, err := s.GetBlockByHeight(2)
	require.NoError(t, err)
	require.Equal(t, expected.Bytes(), got.Bytes())
	got, err = s.GetBlockByHash(expected.Hash())
	require.NoError(t, err)
	require.Equal(t, expected.Bytes(), got.Bytes())
	// re-indexing an old block never moves the latest height backward
	require.NoError(t, s.IndexBlock(testBlock(1)))
	height, err = s.LatestHeight()
	require.NoError(t, err)
	require.Equal(t, uint32(3), height)
}

func TestBlockMissing(t *testing.T) {
	tests := []struct {
		name   string
		detail string
		get    func(s *Store) (*lib.Block, lib.ErrorI)
	}{
		{
			name:   "by height",
			detail: "nothing was indexed at height 7",
			get:    func(s *Store) (*lib.Block, lib.ErrorI) { return s.GetBlockByHeight(7) },
		},
		{
			name:   "by hash",
			detail: "no block has this hash",
			get:    func(s *Store) (*lib.Block, lib.ErrorI) { return s.GetBlockByHash(crypto.Hash([]byte("unknown"))) },
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			s := testStore(t)
			require.NoError(t, s.IndexBlock(testBlock(1)))
			_, err := test.get(s)
			require.Error(t, err)
			require.Equal(t, lib.CodeBlockMissing, err.Code())
		})
	}
}

func TestIndexInvalidBlock(t *testing.T) {
	s := testStore(t)
	b := testBlock(1, "a")
	b.TxHashes = nil
	require.Error(t, s.IndexBlock(b))
	_, err := s.GetBlockByHeight(1)
	require.Error(t, err)
}

func TestRoundState(t *testing.T) {
	s := testStore(t)
	state, err := s.LoadRoundState(5)
	require.NoError(t, err)
	require.Nil(t, state)
	require.NoError(t, s.SaveRoundState(5, []byte("first")))
	require.NoError(t, s.SaveRoundState(5, []byte("second")))
	require.NoError(t, s.SaveRoundState(6, []byte("next")))
	state, err = s.LoadRoundState(5)
	require.NoError(t, err)
	require.Equal(t, []byte("second"), state)
	// finalizing height 5 prunes its round and keeps the later one
	require.NoError(t, s.IndexBlock(testBlock(5)))
	state, err = s.LoadRoundState(5)
	require.NoError(t, err)
	require.Nil(t, state)
	state, err = s.LoadRoundState(6)
	require.NoError(t, err)
	require.Equal(t, []byte("next"), state)
}

func TestStoreOnDisk(t *testing.T) {
	config := lib.DefaultConfig()
	config.DataDirPath = t.TempDir()
	s, err := New(config, nil, lib.NewNullLogger())
	require.NoError(t, err)
	require.NoError(t, s.IndexBlock(testBlock(1)))
	require.NoError(t, s.SaveRoundState(2, []byte("round")))
	require.NoError(t, s.Close())
	// everything survives a restart
	s, err = New(config, nil, lib.NewNullLogger())
	require.NoError(t, err)
	defer s.Close()
	height, err := s.LatestHeight()
	require.NoError(t, err)
	require.Equal(t, uint32(1), height)
	state, err := s.LoadRoundState(2)
	require.NoError(t, err)
	require.Equal(t, []byte("round"), state)
}
