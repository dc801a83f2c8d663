package p2p

import (
	"testing"

	"github.com/canopy-network/dbft/lib"
	"github.com/stretchr/testify/require"
)

func TestPeerSetAddGetDel(t *testing.T) {
	ps := NewPeerSet()
	require.NoError(t, ps.Add(1, new(testReceiver)))
	err := ps.Add(1, new(testReceiver))
	require.Error(t, err)
	require.Equal(t, lib.CodePeerAlreadyExists, err.Code())
	got, err := ps.GetPeerInfo(1)
	require.NoError(t, err)
	require.Equal(t, PeerInfo{Index: 1, Connected: true}, got)
	require.NoError(t, ps.Remove(1))
	require.Error(t, ps.Remove(1))
	_, err = ps.GetPeerInfo(1)
	require.Error(t, err)
}

func TestChangeReputation(t *testing.T) {
	tests := []struct {
		name          string
		detail        string
		deltas        []int32
		expectedRep   int32
		expectedMuted bool
	}{
		{
			name:        "capped",
			detail:      "reputation never exceeds the maximum",
			deltas:      []int32{MaxPeerReputation, 5},
			expectedRep: MaxPeerReputation,
		},
		{
			name:        "at minimum",
			detail:      "a peer exactly at the minimum is still heard",
			deltas:      []int32{MinimumPeerReputation},
			expectedRep: MinimumPeerReputation,
		},
		{
			name:          "muted",
			detail:        "three violations push a fresh peer below the minimum",
			deltas:        []int32{ViolationPenalty, ViolationPenalty, ViolationPenalty},
			expectedRep:   3 * ViolationPenalty,
			expectedMuted: true,
		},
		{
			name:        "unmuted",
			detail:      "a muted peer is heard again once its reputation recovers",
			deltas:      []int32{ViolationPenalty, ViolationPenalty, ViolationPenalty, -ViolationPenalty},
			expectedRep: 2 * ViolationPenalty,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			ps := NewPeerSet()
			require.NoError(t, ps.Add(0, new(testReceiver)))
			for _, d := range test.deltas {
				ps.ChangeReputation(0, d)
			}
			got, err := ps.GetPeerInfo(0)
			require.NoError(t, err)
			require.Equal(t, test.expectedRep, got.Reputation)
			require.Equal(t, test.expectedMuted, got.Muted)
		})
	}
}

func TestGetAllInfos(t *testing.T) {
	ps := NewPeerSet()
	for _, i := range []uint8{3, 0, 2} {
		require.NoError(t, ps.Add(i, new(testReceiver)))
	}
	require.NoError(t, ps.SetConnected(2, false))
	require.Equal(t, []PeerInfo{
		{Index: 0, Connected: true},
		{Index: 2},
		{Index: 3, Connected: true},
	}, ps.GetAllInfos())
}
