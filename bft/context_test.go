package bft

import (
	"testing"

	"github.com/canopy-network/dbft/lib"
	"github.com/canopy-network/dbft/lib/crypto"
	"github.com/stretchr/testify/require"
)

func newTestContext(t *testing.T, n, myIndex int) (*Context, []crypto.PrivateKeyI) {
	var keys []crypto.PrivateKeyI
	var publicKeys []crypto.PublicKeyI
	for i := 0; i < n; i++ {
		pk, err := crypto.NewEd25519PrivateKey()
		require.NoError(t, err)
		keys, publicKeys = append(keys, pk), append(publicKeys, pk.PublicKey())
	}
	vs, err := lib.NewValidatorSet(publicKeys)
	require.NoError(t, err)
	return NewContext(vs, myIndex, nil), keys
}

func signed(key crypto.PrivateKeyI, index uint8, height uint32, view uint8, msg Message) *Payload {
	p := NewPayload(testMagic, height, view, index, msg)
	p.Witness = key.Sign(p.SignBytes())
	return p
}

func TestStartRound(t *testing.T) {
	c, _ := newTestContext(t, 4, 1)
	prevHash := crypto.Hash([]byte("parent"))
	c.StartRound(testHeight, prevHash)
	snapshot := c.Snapshot()
	require.Equal(t, testHeight, snapshot.BlockIndex)
	require.Equal(t, uint8(0), snapshot.ViewNumber)
	require.Equal(t, WaitingForPrepareRequest, snapshot.Phase)
	require.Equal(t, uint8(0), snapshot.PrimaryIndex)
	require.Equal(t, 1, snapshot.MyIndex)
	require.False(t, c.IsPrimary())
	require.Zero(t, c.PrepareResponseCount())
	require.Zero(t, c.CommitCount())
	require.Zero(t, c.CountFailed())
	require.Nil(t, c.MyCommit())
}

func TestChangeViewMonotonic(t *testing.T) {
	tests := []struct {
		name        string
		detail      string
		from        uint8
		to          uint8
		expectedErr bool
	}{
		{name: "next view", detail: "moving one view forward is allowed", from: 0, to: 1},
		{name: "skip views", detail: "an agreement may skip several views", from: 1, to: 5},
		{name: "same view", detail: "the current view can't be entered again", from: 2, to: 2, expectedErr: true},
		{name: "lower view", detail: "views never decrease", from: 3, to: 1, expectedErr: true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c, _ := newTestContext(t, 4, 0)
			c.StartRound(testHeight, crypto.Hash(nil))
			if test.from != 0 {
				require.NoError(t, c.ChangeView(test.from, ReasonTimeout))
			}
			err := c.ChangeView(test.to, ReasonTxNotFound)
			if test.expectedErr {
				require.Error(t, err)
				require.Equal(t, lib.CodeWrongView, err.Code())
				require.Equal(t, test.from, c.ViewNumber())
				return
			}
			require.NoError(t, err)
			require.Equal(t, test.to, c.ViewNumber())
			require.Equal(t, ReasonTxNotFound, c.Snapshot().ChangeViewReason)
			require.Equal(t, c.Validators().PrimaryIndex(testHeight, test.to), c.PrimaryIndex())
		})
	}
}

func TestCommitSurvivesViewChange(t *testing.T) {
	c, keys := newTestContext(t, 4, 2)
	c.StartRound(testHeight, crypto.Hash(nil))
	commit := signed(keys[2], 2, testHeight, 0, &Commit{Signature: []byte("sig")})
	c.Lock()
	c.round.Commits[2], c.round.MyCommit, c.round.CommitSent = commit, commit, true
	c.Unlock()
	require.NoError(t, c.ChangeView(1, ReasonTimeout))
	require.Equal(t, commit, c.MyCommit())
	require.Equal(t, WaitingForCommits, c.Phase())
	// commits of view 0 aren't counted at view 1
	require.Zero(t, c.CommitCount())
	// restarting the same height keeps the commit
	c.StartRound(testHeight, crypto.Hash(nil))
	require.Equal(t, commit, c.MyCommit())
	require.True(t, c.Snapshot().CommitSent)
	// a new height forgets it
	c.StartRound(testHeight+1, crypto.Hash(nil))
	require.Nil(t, c.MyCommit())
}

func TestCountFailed(t *testing.T) {
	c, _ := newTestContext(t, 4, 0)
	c.StartRound(testHeight, crypto.Hash(nil))
	c.StartRound(testHeight+2, crypto.Hash(nil))
	// nobody but the local node was heard from since height 99
	require.Equal(t, 3, c.CountFailed())
	c.Lock()
	c.updateLastSeen(1, testHeight+1)
	c.updateLastSeen(2, testHeight+2)
	// a lower height never moves last seen backward
	c.updateLastSeen(2, testHeight)
	c.Unlock()
	require.Equal(t, 1, c.CountFailed())
}

func TestMoreThanFNodesCommittedOrLost(t *testing.T) {
	c, keys := newTestContext(t, 4, 0)
	c.StartRound(testHeight, crypto.Hash(nil))
	c.Lock()
	defer c.Unlock()
	require.False(t, c.moreThanFNodesCommittedOrLost())
	c.round.Commits[1] = signed(keys[1], 1, testHeight, 0, &Commit{Signature: []byte("a")})
	require.False(t, c.moreThanFNodesCommittedOrLost(), "f = 1")
	c.round.Commits[2] = signed(keys[2], 2, testHeight, 0, &Commit{Signature: []byte("b")})
	require.True(t, c.moreThanFNodesCommittedOrLost())
}

func TestShouldRespondRecovery(t *testing.T) {
	tests := []struct {
		name       string
		detail     string
		n          int
		requester  uint8
		responders []int
	}{
		{
			name:       "four validators",
			detail:     "f = 1 so the two validators after the requester respond",
			n:          4,
			requester:  3,
			responders: []int{0, 1},
		},
		{
			name:       "seven validators",
			detail:     "f = 2 so the three validators after the requester respond",
			n:          7,
			requester:  1,
			responders: []int{2, 3, 4},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var got []int
			for i := 0; i < test.n; i++ {
				c, _ := newTestContext(t, test.n, i)
				c.StartRound(testHeight, crypto.Hash(nil))
				if c.shouldRespondRecovery(test.requester) {
					got = append(got, i)
				}
			}
			require.Equal(t, test.responders, got)
		})
	}
}

func TestChangeViewCount(t *testing.T) {
	c, keys := newTestContext(t, 4, 0)
	c.StartRound(testHeight, crypto.Hash(nil))
	c.Lock()
	c.round.ChangeViews[1] = signed(keys[1], 1, testHeight, 0, &ChangeView{Reason: ReasonTimeout})
	c.round.ChangeViews[2] = signed(keys[2], 2, testHeight, 1, &ChangeView{Reason: ReasonTimeout})
	c.Unlock()
	require.Equal(t, 2, c.ChangeViewCount(1))
	require.Equal(t, 1, c.ChangeViewCount(2))
	require.Equal(t, 0, c.ChangeViewCount(3))
}

func TestRoundStatePersistence(t *testing.T) {
	c, keys := newTestContext(t, 4, 1)
	c.StartRound(testHeight, crypto.Hash([]byte("parent")))
	request := &PrepareRequest{Version: lib.BlockVersion, PrevHash: crypto.Hash([]byte("parent")), Timestamp: 1, Nonce: 2}
	requestPayload := signed(keys[0], 0, testHeight, 0, request)
	response := signed(keys[1], 1, testHeight, 0, &PrepareResponse{PreparationHash: requestPayload.Hash()})
	commit := signed(keys[1], 1, testHeight, 0, &Commit{Signature: []byte("sig")})
	c.Lock()
	c.acceptPrepareRequest(requestPayload, request)
	c.round.PrepareResponses[1] = response
	c.round.Commits[1], c.round.MyCommit, c.round.CommitSent = commit, commit, true
	bz := c.persistable().Bytes()
	c.Unlock()
	// a fresh context of the same node restores the round
	restored, _ := newTestContext(t, 4, 1)
	restored.validators = c.validators
	restored.StartRound(testHeight, crypto.Hash([]byte("parent")))
	s, err := newRoundStateFromBytes(bz)
	require.NoError(t, err)
	restored.Lock()
	require.NoError(t, restored.restore(s))
	require.True(t, restored.round.PrepareResponseSent)
	require.Equal(t, requestPayload.Hash(), restored.round.PrepareRequest.Hash())
	require.True(t, restored.seen.Has(seenKey(commit)))
	restored.Unlock()
	require.Equal(t, commit.Bytes(), restored.MyCommit().Bytes())
	require.Equal(t, 2, restored.PrepareResponseCount())
	// a state of another height is refused
	restored.StartRound(testHeight+1, crypto.Hash(nil))
	restored.Lock()
	defer restored.Unlock()
	require.Error(t, restored.restore(s))
}
