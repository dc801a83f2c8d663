package controller

import (
	"context"

	"github.com/canopy-network/dbft/lib"
	"github.com/canopy-network/dbft/lib/crypto"
	"github.com/canopy-network/dbft/p2p"
	"golang.org/x/sync/errgroup"
)

// Node runs a whole committee in one process: every validator and observer is a Controller attached to a shared
// LocalNetwork
type Node struct {
	Config      lib.Config
	Validators  *lib.ValidatorSet
	Network     *p2p.LocalNetwork
	Controllers []*Controller // validators in committee order, then observers
	Metrics     *lib.Metrics
	log         lib.LoggerI
}

// NewNode() builds the committee of the validator keys plus `observers` non-voting members
func NewNode(c lib.Config, keys []crypto.PrivateKeyI, observers int, metrics *lib.Metrics, l lib.LoggerI) (*Node, lib.ErrorI) {
	if l == nil {
		l = lib.NewNullLogger()
	}
	if len(keys)+observers > 255 {
		return nil, lib.ErrInvalidConfig("a node runs at most 255 members")
	}
	var publicKeys []crypto.PublicKeyI
	for _, k := range keys {
		publicKeys = append(publicKeys, k.PublicKey())
	}
	vs, err := lib.NewValidatorSet(publicKeys)
	if err != nil {
		return nil, err
	}
	keys = append([]crypto.PrivateKeyI(nil), keys...)
	for i := 0; i < observers; i++ {
		k, e := crypto.NewEd25519PrivateKey()
		if e != nil {
			return nil, lib.ErrKeystore(e)
		}
		keys = append(keys, k)
	}
	n := &Node{Config: c, Validators: vs, Network: p2p.NewLocalNetwork(metrics, l), Metrics: metrics, log: l}
	for i, k := range keys {
		member, e := New(c, vs, k, uint8(i), n.Network, metrics, l)
		if e != nil {
			n.Close()
			return nil, e
		}
		n.Controllers = append(n.Controllers, member)
	}
	return n, nil
}

// Run() runs every member until the context is cancelled or one of them fails; a failure stops the others
func (n *Node) Run(ctx context.Context) error {
	n.Metrics.Start()
	defer n.Metrics.Stop()
	g, ctx := errgroup.WithContext(ctx)
	for _, member := range n.Controllers {
		member := member
		g.Go(func() error { return member.Run(ctx) })
	}
	return g.Wait()
}

// SubmitTransaction() hands a transaction to every member's mempool
func (n *Node) SubmitTransaction(tx []byte, fee uint64) (hash []byte, err lib.ErrorI) {
	for _, member := range n.Controllers {
		if hash, err = member.SubmitTransaction(tx, fee); err != nil {
			return nil, err
		}
	}
	return
}

// Controller() returns the member at the network index
func (n *Node) Controller(index int) (*Controller, lib.ErrorI) {
	if index < 0 || index >= len(n.Controllers) {
		return nil, lib.ErrInvalidArgument()
	}
	return n.Controllers[index], nil
}

// Close() releases the stores of a node that never ran
func (n *Node) Close() {
	for _, member := range n.Controllers {
		if err := member.Store.Close(); err != nil {
			n.log.Error(err.Error())
		}
	}
}
