package bft

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/canopy-network/dbft/lib"
	"github.com/canopy-network/dbft/lib/crypto"
)

const (
	inboxSize       = 1000 // inbound payloads buffered before Receive() reports back pressure
	timerQueueSize  = 16
	observerLabel   = 255 // metric label of a node outside the committee
	extensionFactor = 2   // a valid preparation or commit extends the running timer by factor * timeout / m
)

// Engine is the dBFT state machine of one node
// Every inbound payload, timer expiry and block acknowledgement is applied by a single goroutine while holding
// the Context lock, so handlers never interleave
type Engine struct {
	config  lib.ConsensusConfig
	ctx     *Context
	c       Collaborators
	self    crypto.PublicKeyI
	myIndex int   // -1 when observing
	label   uint8 // validator index used as the metrics label

	inbox  chan *Payload
	timerC chan TimerEvent
	acks   chan uint32
	blocks chan BlockAgreed
	stop   chan struct{}
	done   chan struct{}

	mu       sync.Mutex // guards the lifecycle flags
	started  bool
	stopped  bool
	stopOnce sync.Once

	lastAgreedAt time.Time // paces the view 0 primary
	replaying    bool      // set while the payloads of a RecoveryMessage are applied

	metrics *lib.Metrics
	log     lib.LoggerI
}

// NewEngine() creates the engine of the node holding `self`; a key outside the committee makes the node an observer
// that follows rounds and assembles agreed blocks without ever signing
func NewEngine(config lib.ConsensusConfig, vs *lib.ValidatorSet, self crypto.PublicKeyI, c Collaborators, m *lib.Metrics, l lib.LoggerI) (*Engine, lib.ErrorI) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if vs == nil {
		return nil, lib.ErrNoValidators()
	}
	if vs.N() != config.ValidatorCount {
		return nil, lib.ErrInvalidConfig(fmt.Sprintf("validator set has %d members, config expects %d", vs.N(), config.ValidatorCount))
	}
	if err := c.check(); err != nil {
		return nil, err
	}
	if l == nil {
		l = lib.NewNullLogger()
	}
	myIndex, label, prefix := -1, uint8(observerLabel), "observer"
	if self != nil {
		if i, ok := vs.IndexOf(self); ok {
			myIndex, label, prefix = int(i), i, fmt.Sprintf("v%d", i)
		}
	}
	e := &Engine{
		config:  config,
		c:       c,
		self:    self,
		myIndex: myIndex,
		label:   label,
		inbox:   make(chan *Payload, inboxSize),
		timerC:  make(chan TimerEvent, timerQueueSize),
		acks:    make(chan uint32, 4),
		blocks:  make(chan BlockAgreed, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		metrics: m,
		log:     l.WithPrefix(prefix).WithPrefix("bft"),
	}
	e.ctx = NewContext(vs, myIndex, NewTimers(e.fire))
	return e, nil
}

// Start() begins agreement on the ledger's current height and runs the event loop until Stop() or ctx is done
func (e *Engine) Start(ctx context.Context) lib.ErrorI {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return lib.ErrEngineStopped()
	}
	if e.started {
		return lib.ErrAlreadyStarted()
	}
	e.started = true
	e.ctx.Lock()
	e.begin(e.c.Ledger.CurrentHeight())
	if e.config.RecoveryOnStart && e.myIndex >= 0 {
		e.requestRecovery()
	}
	e.ctx.Unlock()
	go e.run(ctx)
	return nil
}

// Stop() halts the engine; timers are cancelled and later calls are rejected. Safe to call more than once
func (e *Engine) Stop() {
	e.halt()
	e.mu.Lock()
	started := e.started
	e.mu.Unlock()
	if started {
		<-e.done
	}
}

// Receive() queues a payload from the network; it never blocks
func (e *Engine) Receive(p *Payload) lib.ErrorI {
	if err := e.checkRunning(); err != nil {
		return err
	}
	if p == nil {
		return lib.ErrMalformedMessage("nil payload")
	}
	select {
	case e.inbox <- p:
		return nil
	default:
		return lib.ErrInboxFull()
	}
}

// AcknowledgeBlock() tells the engine the agreed block of the height was persisted; the next height starts
func (e *Engine) AcknowledgeBlock(height uint32) lib.ErrorI {
	if err := e.checkRunning(); err != nil {
		return err
	}
	select {
	case e.acks <- height:
		return nil
	case <-e.stop:
		return lib.ErrEngineStopped()
	}
}

// Blocks() delivers one BlockAgreed per height
func (e *Engine) Blocks() <-chan BlockAgreed { return e.blocks }

// Context() exposes the consensus context for read-only inspection
func (e *Engine) Context() *Context { return e.ctx }

// Snapshot() returns a consistent copy of the round
func (e *Engine) Snapshot() RoundSnapshot { return e.ctx.Snapshot() }

// Statistics() returns the running statistics
func (e *Engine) Statistics() StatisticsSnapshot { return e.ctx.Statistics() }

// MyIndex() returns the validator index of the node or -1
func (e *Engine) MyIndex() int { return e.myIndex }

// State() summarizes the lifecycle and the role of the node in the current round
func (e *Engine) State() EngineState {
	e.mu.Lock()
	started, stopped := e.started, e.stopped
	e.mu.Unlock()
	switch {
	case stopped:
		return StateStopped
	case !started:
		return StateInitial
	}
	e.ctx.RLock()
	defer e.ctx.RUnlock()
	r := e.ctx.round
	switch {
	case r == nil, r.Phase == BlockCommitted:
		return StateStarted
	case r.CommitSent:
		return StateCommitSent
	case r.Phase == ViewChanging || e.ctx.viewChanging():
		return StateViewChanging
	case e.ctx.isPrimary():
		if r.PrepareRequest != nil {
			return StateRequestSent
		}
		return StatePrimary
	case r.PrepareResponseSent:
		return StateResponseSent
	default:
		return StateBackup
	}
}

// run() is the event loop
func (e *Engine) run(ctx context.Context) {
	defer close(e.done)
	defer lib.CatchPanic(e.log)
	for {
		select {
		// INBOUND PAYLOAD
		case p := <-e.inbox:
			e.step(func() { e.process(p) })

		// TIMER EXPIRED
		// - stale expiries of stopped or restarted timers are discarded by generation
		case ev := <-e.timerC:
			e.step(func() { e.onTimer(ev) })

		// BLOCK PERSISTED
		// - the consumer of Blocks() stored the agreed block, move to the next height
		case height := <-e.acks:
			e.step(func() { e.onAcknowledge(height) })

		case <-ctx.Done():
			e.halt()
			return
		case <-e.stop:
			return
		}
	}
}

// step() applies one event under the context lock
func (e *Engine) step(fn func()) {
	e.ctx.Lock()
	defer e.ctx.Unlock()
	if r := e.ctx.round; r != nil && r.Phase == Stopped {
		return
	}
	fn()
}

// fire() is called by the timers from their own goroutine
func (e *Engine) fire(ev TimerEvent) {
	select {
	case e.timerC <- ev:
	case <-e.stop:
	}
}

func (e *Engine) halt() {
	e.stopOnce.Do(func() {
		e.mu.Lock()
		e.stopped = true
		e.mu.Unlock()
		close(e.stop)
		e.ctx.Lock()
		defer e.ctx.Unlock()
		e.ctx.timers.StopAll()
		if e.ctx.round != nil {
			e.ctx.round.Phase = Stopped
		}
		e.log.Info("Engine stopped")
	})
}

func (e *Engine) checkRunning() lib.ErrorI {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.stopped:
		return lib.ErrEngineStopped()
	case !e.started:
		return lib.ErrNotStarted()
	}
	return nil
}

// begin() starts a height: the round is reset, a persisted commit of the height is restored and the timers armed
func (e *Engine) begin(height uint32) {
	e.ctx.startRound(height, e.c.Ledger.PreviousBlockHash())
	e.restoreRound()
	r := e.ctx.round
	e.log.Infof("Starting height %d (primary %d)", r.BlockIndex, r.PrimaryIndex)
	e.initializeView()
}

// restoreRound() reloads the round state saved before the local commit was broadcast
func (e *Engine) restoreRound() {
	if e.c.Store == nil || e.myIndex < 0 {
		return
	}
	r := e.ctx.round
	bz, err := e.c.Store.LoadRoundState(r.BlockIndex)
	if err != nil {
		e.log.Errorf("Failed to load the round state of height %d: %s", r.BlockIndex, err.Error())
		return
	}
	if bz == nil {
		return
	}
	s, err := newRoundStateFromBytes(bz)
	if err != nil {
		e.log.Errorf("Discarding corrupt round state of height %d: %s", r.BlockIndex, err.Error())
		return
	}
	if err = e.ctx.restore(s); err != nil {
		e.log.Errorf("Failed to restore the round state of height %d: %s", r.BlockIndex, err.Error())
		return
	}
	if r.MyCommit != nil {
		e.log.Infof("Restored own commit of height %d view %d", r.BlockIndex, r.ViewNumber)
		e.broadcast(r.MyCommit)
	}
}

// initializeView() arms the timers of the current view
func (e *Engine) initializeView() {
	r := e.ctx.round
	e.metrics.UpdateRound(e.label, r.BlockIndex, r.ViewNumber)
	if e.myIndex < 0 {
		return
	}
	switch {
	case r.CommitSent:
		e.ctx.timers.Start(TimerCommit, e.timeoutFor(r.ViewNumber))
	case e.ctx.isPrimary():
		var delay time.Duration
		if r.ViewNumber == 0 {
			delay = e.config.BlockTime()
			if !e.lastAgreedAt.IsZero() {
				delay -= time.Since(e.lastAgreedAt)
			}
			if delay < 0 {
				delay = 0
			}
		}
		e.ctx.timers.Start(TimerPrepareRequest, delay)
	default:
		e.ctx.timers.Start(TimerPrepareRequest, e.timeoutFor(r.ViewNumber))
	}
}

// onTimer() handles an expiry
func (e *Engine) onTimer(ev TimerEvent) {
	r := e.ctx.round
	if r == nil || r.Phase == BlockCommitted || !e.ctx.timers.Accept(ev) {
		return
	}
	switch ev.Type {
	case TimerPrepareRequest:
		if e.ctx.isPrimary() && r.PrepareRequest == nil && !r.CommitSent {
			e.sendPrepareRequest()
			return
		}
		e.timeout(ev.Type)
	default:
		e.timeout(ev.Type)
	}
}

// timeout() reacts to a view that made no progress in time
// A node that already committed never changes view; it re-broadcasts its state instead
func (e *Engine) timeout(t TimerType) {
	r := e.ctx.round
	e.ctx.stats.Timeouts++
	e.metrics.IncTimeout(e.label, t.String())
	e.log.Warnf("Timeout %s at height %d view %d", t, r.BlockIndex, r.ViewNumber)
	if r.CommitSent {
		e.sendRecoveryMessage()
		e.ctx.timers.Start(TimerCommit, e.timeoutFor(r.ViewNumber))
		return
	}
	e.requestChangeView(ReasonTimeout)
}

// extendTimers() gives slow peers more time once the round is visibly progressing
func (e *Engine) extendTimers() {
	by := extensionFactor * e.timeoutFor(e.ctx.round.ViewNumber) / time.Duration(e.ctx.validators.M())
	e.ctx.timers.Extend(TimerPrepareResponse, by)
	e.ctx.timers.Extend(TimerCommit, by)
}

func (e *Engine) timeoutFor(view uint8) time.Duration {
	return CalculateTimeout(e.config.ViewTimeout(), view)
}

// process() applies an inbound payload and accounts for the ones that were dropped
func (e *Engine) process(p *Payload) {
	if err := e.handle(p); err != nil {
		e.drop(p, err)
	}
}

// handle() authenticates a payload and dispatches it by type
// The payload is remembered as seen only once a handler accepted it, so a copy rejected early may be replayed by
// recovery later
func (e *Engine) handle(p *Payload) lib.ErrorI {
	r := e.ctx.round
	switch {
	case p == nil:
		return lib.ErrMalformedMessage("nil payload")
	case r == nil:
		return lib.ErrNotStarted()
	case r.Phase == Stopped:
		return lib.ErrEngineStopped()
	case p.NetworkMagic != e.config.NetworkMagic:
		return lib.ErrWrongNetwork(e.config.NetworkMagic, p.NetworkMagic)
	}
	validator, err := e.ctx.validators.GetValidator(p.ValidatorIndex)
	if err != nil {
		return err
	}
	key := seenKey(p)
	if e.ctx.seen.Has(key) {
		return lib.ErrDuplicateMessage()
	}
	if len(p.Witness) == 0 {
		return lib.ErrEmptySignature()
	}
	if !e.c.Verifier.Verify(p.SignBytes(), p.Witness, validator.PublicKey) {
		return lib.ErrInvalidSignature()
	}
	msg, err := p.Message()
	if err != nil {
		return err
	}
	e.ctx.updateLastSeen(p.ValidatorIndex, p.BlockIndex)
	if p.BlockIndex != r.BlockIndex {
		return lib.ErrWrongHeight(r.BlockIndex, p.BlockIndex)
	}
	// own payloads come back through recovery messages
	if int(p.ValidatorIndex) == e.myIndex {
		return nil
	}
	switch m := msg.(type) {
	case *PrepareRequest:
		err = e.onPrepareRequest(p, m)
	case *PrepareResponse:
		err = e.onPrepareResponse(p, m)
	case *Commit:
		err = e.onCommit(p, m)
	case *ChangeView:
		err = e.onChangeView(p, m)
	case *RecoveryRequest:
		err = e.onRecoveryRequest(p, m)
	case *RecoveryMessage:
		err = e.onRecoveryMessage(p, m)
	default:
		err = lib.ErrUnknownMessageType(uint8(p.Type))
	}
	if err != nil {
		return err
	}
	e.ctx.seen.Found(key)
	return nil
}

// drop() accounts for a rejected payload; protocol violations are reported against the sender
func (e *Engine) drop(p *Payload, err lib.ErrorI) {
	e.ctx.stats.DroppedMessages++
	reason := "other"
	switch {
	case lib.IsProtocolViolation(err):
		reason = "violation"
	case lib.IsStateError(err):
		reason = "state"
	case lib.IsRecoveryInapplicable(err):
		reason = "inapplicable"
	case lib.IsPolicyRejection(err):
		reason = "policy"
	}
	e.metrics.IncDropped(e.label, reason)
	if p == nil {
		return
	}
	if lib.IsProtocolViolation(err) && err.Code() != lib.CodeDuplicateMessage {
		e.log.Warnf("Dropped %s: %s", p, err.Error())
		e.reportViolation(p.ValidatorIndex, err)
		return
	}
	e.log.Debugf("Dropped %s: %s", p, err.Error())
}

func (e *Engine) reportViolation(index uint8, err lib.ErrorI) {
	e.metrics.IncViolation(index)
	if e.c.Reporter != nil {
		e.c.Reporter.ReportViolation(index, err)
	}
}

// makePayload() signs a message for the current round
func (e *Engine) makePayload(msg Message) (*Payload, lib.ErrorI) {
	return e.makePayloadAt(e.ctx.round.ViewNumber, msg)
}

func (e *Engine) makePayloadAt(view uint8, msg Message) (*Payload, lib.ErrorI) {
	if e.myIndex < 0 {
		return nil, lib.ErrNotValidator()
	}
	p := NewPayload(e.config.NetworkMagic, e.ctx.round.BlockIndex, view, uint8(e.myIndex), msg)
	sig, err := e.c.Signer.Sign(p.SignBytes(), e.self.Address())
	if err != nil {
		return nil, lib.ErrSign(err)
	}
	p.Witness = sig
	e.ctx.seen.Found(seenKey(p))
	return p, nil
}

func (e *Engine) broadcast(p *Payload) {
	e.log.Debugf("Broadcasting %s", p)
	e.c.Network.Broadcast(p)
}

func nowMillis() uint64 { return uint64(time.Now().UnixMilli()) }
