package controller

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/canopy-network/dbft/bft"
	"github.com/canopy-network/dbft/lib"
	"github.com/canopy-network/dbft/lib/crypto"
	"github.com/canopy-network/dbft/p2p"
	"github.com/canopy-network/dbft/store"
)

// Controller acts as the 'manager' of the modules of one committee member: the consensus engine, the ledger it
// agrees on, the mempool it proposes from and the store both persist to
type Controller struct {
	Engine    *bft.Engine
	Ledger    *Ledger
	Store     *store.Store
	Mempool   *lib.FeeMempool
	Endpoint  *p2p.Endpoint
	PublicKey crypto.PublicKeyI
	Config    lib.Config
	metrics   *lib.Metrics
	log       lib.LoggerI
}

// New() creates the member, restoring the chain from its store and attaching the engine to the network
// Keys outside the validator set produce an observer; `busIndex` is the member's address on the network
func New(c lib.Config, vs *lib.ValidatorSet, key crypto.PrivateKeyI, busIndex uint8, network *p2p.LocalNetwork,
	metrics *lib.Metrics, l lib.LoggerI) (*Controller, lib.ErrorI) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	db, err := store.New(memberStoreConfig(c, busIndex), metrics, l)
	if err != nil {
		return nil, err
	}
	ledger, err := NewLedger(db, vs, c.NetworkMagic)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	controller := &Controller{
		Ledger:    ledger,
		Store:     db,
		Mempool:   lib.NewMempool(c.MempoolConfig),
		PublicKey: key.PublicKey(),
		Config:    c,
		metrics:   metrics,
		log:       l,
	}
	// the engine and the endpoint reference each other; the proxy breaks the cycle
	receiver := new(receiverProxy)
	if controller.Endpoint, err = network.Join(busIndex, receiver); err != nil {
		_ = db.Close()
		return nil, err
	}
	controller.Engine, err = bft.NewEngine(c.ConsensusConfig, vs, key.PublicKey(), bft.Collaborators{
		Ledger:   ledger,
		Mempool:  controller.Mempool,
		Signer:   crypto.NewLocalSigner(key),
		Verifier: crypto.Verifier{},
		Network:  controller.Endpoint,
		Reporter: controller.Endpoint,
		Store:    db,
	}, metrics, l)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	receiver.engine = controller.Engine
	return controller, nil
}

// Run() starts the engine and consumes agreed blocks until the context is cancelled or persistence fails for good
func (c *Controller) Run(ctx context.Context) error {
	defer func() {
		c.Engine.Stop()
		if err := c.Store.Close(); err != nil {
			c.log.Error(err.Error())
		}
	}()
	if err := c.Engine.Start(ctx); err != nil {
		return err
	}
	return c.consumeBlocks(ctx)
}

// SubmitTransaction() adds a transaction to the mempool of the member
func (c *Controller) SubmitTransaction(tx []byte, fee uint64) ([]byte, lib.ErrorI) {
	return c.Mempool.AddTransaction(tx, fee)
}

// IsObserver() returns true if the member doesn't vote
func (c *Controller) IsObserver() bool { return c.Engine.MyIndex() < 0 }

// memberStoreConfig() gives each member of a shared process its own database directory
func memberStoreConfig(c lib.Config, busIndex uint8) lib.Config {
	c.DataDirPath = filepath.Join(c.DataDirPath, fmt.Sprintf("node-%d", busIndex))
	return c
}

// receiverProxy forwards network payloads to the engine once it's constructed
type receiverProxy struct{ engine *bft.Engine }

func (r *receiverProxy) Receive(p *bft.Payload) lib.ErrorI {
	if r.engine == nil {
		return lib.ErrNotStarted()
	}
	return r.engine.Receive(p)
}
