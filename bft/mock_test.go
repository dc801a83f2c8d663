package bft

import (
	"errors"
	"sync"
	"testing"

	"github.com/canopy-network/dbft/lib"
	"github.com/canopy-network/dbft/lib/crypto"
	"github.com/stretchr/testify/require"
)

const (
	testHeight = uint32(100)
	testMagic  = lib.DefaultNetworkMagic
)

// testCluster is a committee of engines whose broadcasts are delivered by hand
// The engines aren't started: events are applied synchronously through the same handlers the event loop uses
type testCluster struct {
	keys     []crypto.PrivateKeyI
	vs       *lib.ValidatorSet
	engines  []*Engine
	networks []*testNetwork
	ledgers  []*testLedger
	mempool  *testMempool
	stores   []*testStore
	reporter *testReporter
}

func newTestConfig(n int) lib.ConsensusConfig {
	config := lib.DefaultConsensusConfig()
	config.ValidatorCount = n
	// timers never fire during a test
	config.ViewTimeoutMS = 60_000
	config.BlockTimeMS = 60_000
	config.RecoveryOnStart = false
	return config
}

func newTestCluster(t *testing.T, n int) *testCluster {
	c := &testCluster{mempool: newTestMempool(), reporter: new(testReporter)}
	var publicKeys []crypto.PublicKeyI
	for i := 0; i < n; i++ {
		pk, err := crypto.NewEd25519PrivateKey()
		require.NoError(t, err)
		c.keys, publicKeys = append(c.keys, pk), append(publicKeys, pk.PublicKey())
	}
	vs, err := lib.NewValidatorSet(publicKeys)
	require.NoError(t, err)
	c.vs = vs
	for i := 0; i < n; i++ {
		network, ledger, store := new(testNetwork), newTestLedger(vs, testHeight), newTestStore()
		e, err := NewEngine(newTestConfig(n), vs, c.keys[i].PublicKey(), Collaborators{
			Ledger:   ledger,
			Mempool:  c.mempool,
			Signer:   crypto.NewLocalSigner(c.keys[i]),
			Verifier: crypto.Verifier{},
			Network:  network,
			Reporter: c.reporter,
			Store:    store,
		}, nil, lib.NewNullLogger())
		require.NoError(t, err)
		c.engines, c.networks, c.ledgers, c.stores = append(c.engines, e), append(c.networks, network), append(c.ledgers, ledger), append(c.stores, store)
	}
	t.Cleanup(c.stopTimers)
	return c
}

// begin() starts the current height of every engine
func (c *testCluster) begin() {
	for _, e := range c.engines {
		c.do(e, func() { e.begin(e.c.Ledger.CurrentHeight()) })
	}
}

// do() runs fn under the lock of the engine, like the event loop
func (c *testCluster) do(e *Engine, fn func()) {
	e.ctx.Lock()
	defer e.ctx.Unlock()
	fn()
}

// deliver() applies a payload to an engine as if it came over the wire
func (c *testCluster) deliver(t *testing.T, to int, p *Payload) (err lib.ErrorI) {
	wire, decodeErr := NewPayloadFromBytes(p.Bytes())
	require.NoError(t, decodeErr)
	e := c.engines[to]
	c.do(e, func() {
		if err = e.handle(wire); err != nil {
			e.drop(wire, err)
		}
	})
	return
}

// flush() delivers every pending broadcast to every other engine until the cluster is quiet
// Engines listed in `down` neither send nor receive
func (c *testCluster) flush(t *testing.T, down ...int) {
	isDown := func(i int) bool {
		for _, d := range down {
			if d == i {
				return true
			}
		}
		return false
	}
	for progress := true; progress; {
		progress = false
		for from, network := range c.networks {
			outgoing := network.drain()
			if isDown(from) {
				continue
			}
			for _, p := range outgoing {
				progress = true
				for to := range c.engines {
					if to == from || isDown(to) {
						continue
					}
					_ = c.deliver(t, to, p)
				}
			}
		}
	}
}

// expire() fires a running timer of the engine
func (c *testCluster) expire(t *testing.T, e *Engine, typ TimerType) {
	e.ctx.timers.mu.Lock()
	rt, ok := e.ctx.timers.timers[typ]
	e.ctx.timers.mu.Unlock()
	require.True(t, ok, "timer %s isn't running", typ)
	c.do(e, func() { e.onTimer(TimerEvent{Type: typ, Generation: rt.generation}) })
}

// payload() signs a message as validator `from`
func (c *testCluster) payload(from int, height uint32, view uint8, msg Message) *Payload {
	p := NewPayload(testMagic, height, view, uint8(from), msg)
	p.Witness = c.keys[from].Sign(p.SignBytes())
	return p
}

func (c *testCluster) stopTimers() {
	for _, e := range c.engines {
		e.ctx.timers.StopAll()
	}
}

// agreed() returns the block an engine delivered, if any
func agreed(e *Engine) *BlockAgreed {
	select {
	case b := <-e.blocks:
		return &b
	default:
		return nil
	}
}

type testNetwork struct {
	mu   sync.Mutex
	sent []*Payload
	all  []*Payload
}

func (n *testNetwork) Broadcast(p *Payload) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent, n.all = append(n.sent, p), append(n.all, p)
}

func (n *testNetwork) drain() (out []*Payload) {
	n.mu.Lock()
	defer n.mu.Unlock()
	out, n.sent = n.sent, nil
	return
}

// ofType() returns every payload ever broadcast with the type
func (n *testNetwork) ofType(t MessageType) (out []*Payload) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, p := range n.all {
		if p.Type == t {
			out = append(out, p)
		}
	}
	return
}

type testLedger struct {
	vs     *lib.ValidatorSet
	height uint32
	blocks []*lib.Block
}

func newTestLedger(vs *lib.ValidatorSet, height uint32) *testLedger {
	return &testLedger{vs: vs, height: height}
}

func (l *testLedger) CurrentHeight() uint32     { return l.height }
func (l *testLedger) PreviousBlockHash() []byte { return crypto.Hash(lib.Uint32ToBigEndian(l.height - 1)) }
func (l *testLedger) AssembleBlock(header *lib.Header, txHashes []lib.HexBytes, sigs []lib.CommitSignature) (*lib.Block, lib.ErrorI) {
	w, err := lib.NewWitness(l.vs, sigs)
	if err != nil {
		return nil, err
	}
	b := &lib.Block{Header: header, TxHashes: txHashes, Witness: w}
	l.blocks = append(l.blocks, b)
	return b, nil
}

type testMempool struct {
	mu  sync.Mutex
	txs [][]byte
}

func newTestMempool(txs ...[]byte) *testMempool { return &testMempool{txs: txs} }

func (m *testMempool) add(tx []byte) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := crypto.Hash(tx)
	m.txs = append(m.txs, h)
	return h
}

func (m *testMempool) SelectTransactions(limit int) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return lib.TruncateSlice(append([][]byte(nil), m.txs...), limit)
}

func (m *testMempool) Contains(hash []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.txs {
		if string(h) == string(hash) {
			return true
		}
	}
	return false
}

type testStore struct {
	mu    sync.Mutex
	state map[uint32][]byte
	fail  bool
}

func newTestStore() *testStore { return &testStore{state: make(map[uint32][]byte)} }

func (s *testStore) SaveRoundState(height uint32, state []byte) lib.ErrorI {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return lib.ErrStoreSet(errors.New("disk full"))
	}
	s.state[height] = state
	return nil
}

func (s *testStore) LoadRoundState(height uint32) ([]byte, lib.ErrorI) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state[height], nil
}

type testReporter struct {
	mu         sync.Mutex
	violations map[uint8]int
}

func (r *testReporter) ReportViolation(index uint8, _ lib.ErrorI) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.violations == nil {
		r.violations = make(map[uint8]int)
	}
	r.violations[index]++
}

func (r *testReporter) count(index uint8) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.violations[index]
}
