package rpc

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/canopy-network/dbft/bft"
	"github.com/canopy-network/dbft/controller"
	"github.com/canopy-network/dbft/lib"
	"github.com/canopy-network/dbft/lib/crypto"
	"github.com/stretchr/testify/require"
)

// newTestServer serves a four validator, one observer node over httptest
func newTestServer(t *testing.T) (*controller.Node, *Client, string) {
	var keys []crypto.PrivateKeyI
	for i := 0; i < 4; i++ {
		k, err := crypto.NewEd25519PrivateKey()
		require.NoError(t, err)
		keys = append(keys, k)
	}
	config := lib.DefaultConfig()
	config.InMemory, config.BlockTimeMS, config.ViewTimeoutMS = true, 100, 500
	n, err := controller.NewNode(config, keys, 1, nil, lib.NewNullLogger())
	require.NoError(t, err)
	ts := httptest.NewServer(NewServer(n, config, lib.NewNullLogger()).Handler())
	t.Cleanup(ts.Close)
	return n, NewClient(ts.URL, ""), ts.URL
}

// runTestNode runs the node until the test ends
func runTestNode(t *testing.T, n *controller.Node) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("node didn't stop")
		}
	})
}

func TestStatusBeforeStart(t *testing.T) {
	n, client, _ := newTestServer(t)
	defer n.Close()
	version, err := client.Version()
	require.NoError(t, err)
	require.Equal(t, SoftwareVersion, *version)
	members, err := client.Members()
	require.NoError(t, err)
	require.Len(t, members, 5)
	for i, m := range members {
		require.Equal(t, i, m.Member)
		require.Equal(t, bft.StateInitial, m.State)
		require.Zero(t, m.Height)
	}
	require.Equal(t, -1, members[4].ValidatorIndex, "the observer has no validator index")
	vs, err := client.ValidatorSet()
	require.NoError(t, err)
	require.Equal(t, n.Validators.PublicKeys(), vs.PublicKeys())
	round, err := client.Round(0)
	require.NoError(t, err)
	require.Equal(t, bft.Initial, round.Phase)
	peers, err := client.PeerInfo()
	require.NoError(t, err)
	require.Len(t, peers, 5)
	config, err := client.Config()
	require.NoError(t, err)
	require.Equal(t, n.Config.ViewTimeoutMS, config.ViewTimeoutMS)
}

func TestBadRequests(t *testing.T) {
	n, _, url := newTestServer(t)
	defer n.Close()
	tests := []struct {
		name   string
		detail string
		path   string
		body   string
	}{
		{name: "unknown member", detail: "the member index is out of range", path: RoundRoutePath, body: `{"member":9}`},
		{name: "negative member", detail: "the member index is negative", path: StatisticsRoutePath, body: `{"member":-1}`},
		{name: "malformed json", detail: "the body isn't json", path: HeightRoutePath, body: `{member`},
		{name: "missing block", detail: "nothing is finalized at the height", path: BlockByHeightRoutePath, body: `{"member":0,"height":7}`},
		{name: "bad hash", detail: "the hash isn't hex", path: BlockByHashRoutePath, body: `{"member":0,"hash":"zz"}`},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			resp, err := http.Post(url+test.path, ApplicationJSON, bytes.NewBufferString(test.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestTransactionAndPending(t *testing.T) {
	n, client, _ := newTestServer(t)
	defer n.Close()
	hash, err := client.Transaction([]byte("tx"), 5)
	require.NoError(t, err)
	require.Equal(t, lib.HexBytes(crypto.Hash([]byte("tx"))), hash)
	for member := range n.Controllers {
		pending, e := client.Pending(member)
		require.NoError(t, e)
		require.Equal(t, 1, pending.TotalCount)
		require.Equal(t, []lib.HexBytes{hash}, pending.Hashes)
	}
	// a duplicate is refused by the mempool
	_, err = client.Transaction([]byte("tx"), 5)
	require.Error(t, err)
}

func TestBlocksWhileRunning(t *testing.T) {
	n, client, _ := newTestServer(t)
	runTestNode(t, n)
	require.Eventually(t, func() bool {
		members, err := client.Members()
		if err != nil {
			return false
		}
		for _, m := range members {
			if m.Height < 2 {
				return false
			}
		}
		return true
	}, 20*time.Second, 20*time.Millisecond)
	height, err := client.Height(4)
	require.NoError(t, err)
	require.GreaterOrEqual(t, height, uint32(2))
	first, err := client.BlockByHeight(4, 1)
	require.NoError(t, err)
	require.Equal(t, uint32(1), first.Header.Index)
	require.NoError(t, first.Witness.Verify(n.Validators, lib.CommitSignBytes(n.Config.NetworkMagic, first.Hash())))
	byHash, err := client.BlockByHash(0, lib.BytesToString(first.Hash()))
	require.NoError(t, err)
	require.Equal(t, first.Hash(), byHash.Hash())
	latest, err := client.BlockByHeight(4, 0)
	require.NoError(t, err)
	require.GreaterOrEqual(t, latest.Header.Index, uint32(2))
	stats, err := client.Statistics(0)
	require.NoError(t, err)
	require.Positive(t, stats.BlocksCommitted)
	require.Positive(t, stats.AverageRoundDuration)
}
