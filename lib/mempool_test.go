package lib

import (
	"testing"

	"github.com/canopy-network/dbft/lib/crypto"
	"github.com/stretchr/testify/require"
)

func TestAddTransactionFeeOrdering(t *testing.T) {
	mempool := NewMempool(DefaultMempoolConfig())
	for _, tx := range []struct {
		bz  string
		fee uint64
	}{{"b", 1000}, {"c", 1000}, {"a", 1001}, {"e", 1}, {"d", 1000}} {
		_, err := mempool.AddTransaction([]byte(tx.bz), tx.fee)
		require.NoError(t, err)
	}
	result := ""
	for _, h := range mempool.SelectTransactions(10) {
		tx, found := mempool.GetTransaction(h)
		require.True(t, found)
		result += string(tx)
	}
	require.Equal(t, "abcde", result)
	require.Len(t, mempool.SelectTransactions(2), 2)
	require.Equal(t, 5, mempool.TxCount())
	require.Equal(t, 5, mempool.TxsBytes())
}

func TestMempoolLimits(t *testing.T) {
	tests := []struct {
		name   string
		detail string
		config MempoolConfig
		txs    [][]byte
		error  ErrorI
	}{
		{
			name:   "too large",
			detail: "a transaction above the individual limit is rejected",
			config: MempoolConfig{MaxTotalBytes: 100, MaxTransactionCount: 10, IndividualMaxTxSize: 2},
			txs:    [][]byte{[]byte("abc")},
			error:  ErrMaxTxSize(),
		},
		{
			name:   "duplicate",
			detail: "the same bytes can't be added twice",
			config: DefaultMempoolConfig(),
			txs:    [][]byte{[]byte("a"), []byte("a")},
			error:  ErrDuplicateTransaction(),
		},
		{
			name:   "count",
			detail: "the pool rejects once the count limit is reached",
			config: MempoolConfig{MaxTotalBytes: 100, MaxTransactionCount: 1, IndividualMaxTxSize: 10},
			txs:    [][]byte{[]byte("a"), []byte("b")},
			error:  ErrMempoolFull(),
		},
		{
			name:   "bytes",
			detail: "the pool rejects once the byte limit is reached",
			config: MempoolConfig{MaxTotalBytes: 3, MaxTransactionCount: 10, IndividualMaxTxSize: 2},
			txs:    [][]byte{[]byte("ab"), []byte("cd")},
			error:  ErrMempoolFull(),
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			mempool := NewMempool(test.config)
			var err ErrorI
			for _, tx := range test.txs {
				if _, err = mempool.AddTransaction(tx, 0); err != nil {
					break
				}
			}
			require.Equal(t, test.error, err, test.detail)
		})
	}
}

func TestMempoolRemove(t *testing.T) {
	mempool := NewMempool(DefaultMempoolConfig())
	h1, err := mempool.AddTransaction([]byte("one"), 1)
	require.NoError(t, err)
	h2, err := mempool.AddTransaction([]byte("two"), 2)
	require.NoError(t, err)
	require.True(t, mempool.Contains(h1))
	mempool.RemoveTransactions(h1, crypto.Hash([]byte("unknown")))
	require.False(t, mempool.Contains(h1))
	require.True(t, mempool.Contains(h2))
	require.Equal(t, 3, mempool.TxsBytes())
	mempool.Clear()
	require.Zero(t, mempool.TxCount())
	require.Zero(t, mempool.TxsBytes())
}
