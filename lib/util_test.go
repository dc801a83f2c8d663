package lib

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeDuplicator(t *testing.T) {
	d := NewDeDuplicator[string](3)
	require.False(t, d.Found("a"))
	require.True(t, d.Found("a"))
	require.False(t, d.Found("b"))
	require.False(t, d.Found("c"))
	require.Equal(t, 3, d.Len())
	// the limit is reached so the set is forgotten before adding
	require.False(t, d.Found("d"))
	require.Equal(t, 1, d.Len())
	require.False(t, d.Found("a"))
	d.Delete("a")
	require.False(t, d.Found("a"))
	d.Reset()
	require.Zero(t, d.Len())
}

func TestHexBytesJSON(t *testing.T) {
	x := HexBytes{0xde, 0xad}
	bz, err := json.Marshal(x)
	require.NoError(t, err)
	require.Equal(t, `"dead"`, string(bz))
	var got HexBytes
	require.NoError(t, json.Unmarshal(bz, &got))
	require.Equal(t, x, got)
	_, e := NewHexBytesFromString("zz")
	require.Error(t, e)
}

func TestBigEndianAndPrefix(t *testing.T) {
	require.Equal(t, uint32(101), BigEndianToUint32(Uint32ToBigEndian(101)))
	require.Equal(t, []byte{1, 'a', 2, 'b', 'c'}, JoinLenPrefix([]byte("a"), []byte("bc")))
	require.Equal(t, []int{1, 2}, TruncateSlice([]int{1, 2, 3}, 2))
	require.Equal(t, []int{1}, TruncateSlice([]int{1}, 2))
}

func TestAppendDoesNotAlias(t *testing.T) {
	a := make([]byte, 1, 8)
	got := Append(a, []byte{2})
	got[0] = 9
	require.Equal(t, []byte{0}, a)
	require.Equal(t, [][]byte{{1}, {2}}, HexBytesToBytes([]HexBytes{{1}, {2}}))
}
