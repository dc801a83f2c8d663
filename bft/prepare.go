package bft

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/canopy-network/dbft/lib"
)

// PREPARE PHASE
// The primary proposes a block by broadcasting a PrepareRequest. Backups that accept the proposal endorse it with a
// PrepareResponse carrying its preparation hash. Once m preparations for the same hash are collected the node commits.

// sendPrepareRequest() builds the proposal of the local primary from the mempool and broadcasts it
func (e *Engine) sendPrepareRequest() {
	r := e.ctx.round
	selected := e.c.Mempool.SelectTransactions(e.config.MaxTransactionsPerBlock)
	txHashes := make([]lib.HexBytes, 0, len(selected))
	for _, h := range selected {
		txHashes = append(txHashes, h)
	}
	request := &PrepareRequest{
		Version:   lib.BlockVersion,
		PrevHash:  r.PrevHash,
		Timestamp: nowMillis(),
		Nonce:     newNonce(),
		TxHashes:  txHashes,
	}
	p, err := e.makePayload(request)
	if err != nil {
		e.log.Errorf("Failed to create the prepare request: %s", err.Error())
		return
	}
	e.ctx.acceptPrepareRequest(p, request)
	e.log.Infof("Proposing block %d at view %d with %d txs", r.BlockIndex, r.ViewNumber, len(txHashes))
	e.broadcast(p)
	e.metrics.IncProposal(e.label)
	e.ctx.timers.Stop(TimerPrepareRequest)
	e.ctx.timers.Start(TimerPrepareResponse, e.timeoutFor(r.ViewNumber))
	e.checkPreparations()
}

// onPrepareRequest() handles the proposal of the primary
func (e *Engine) onPrepareRequest(p *Payload, m *PrepareRequest) lib.ErrorI {
	r := e.ctx.round
	switch {
	case r.CommitSent:
		return lib.ErrCommitSent()
	case p.ViewNumber != r.ViewNumber:
		return lib.ErrWrongView(r.ViewNumber, p.ViewNumber)
	case p.ValidatorIndex != r.PrimaryIndex:
		return lib.ErrWrongPrimary(r.PrimaryIndex, p.ValidatorIndex)
	case r.PrepareRequest != nil:
		return lib.ErrDuplicatePrepareRequest()
	case e.ctx.notAcceptingPayloadsDueToViewChanging():
		return lib.ErrViewChanging()
	}
	if reason, err := e.validateProposal(m); err != nil {
		e.log.Warnf("Rejecting proposal of validator %d: %s", p.ValidatorIndex, err.Error())
		e.requestChangeView(reason)
		return err
	}
	e.ctx.acceptPrepareRequest(p, m)
	e.verifyPendingCommits()
	e.log.Infof("Received proposal for block %d at view %d with %d txs", r.BlockIndex, r.ViewNumber, len(m.TxHashes))
	if e.myIndex >= 0 {
		e.ctx.timers.Stop(TimerPrepareRequest)
		e.ctx.timers.Start(TimerPrepareResponse, e.timeoutFor(r.ViewNumber))
		if !r.PrepareResponseSent {
			e.sendPrepareResponse()
		}
	}
	e.checkPreparations()
	return nil
}

// validateProposal() checks a proposal before the node endorses it; the reason is used for the ChangeView
func (e *Engine) validateProposal(m *PrepareRequest) (ChangeViewReason, lib.ErrorI) {
	r := e.ctx.round
	if m.Version != lib.BlockVersion {
		return ReasonBlockRejectedByPolicy, lib.ErrInvalidProposal(fmt.Sprintf("unsupported block version %d", m.Version))
	}
	if !bytes.Equal(m.PrevHash, r.PrevHash) {
		return ReasonBlockRejectedByPolicy, lib.ErrInvalidProposal("previous block hash doesn't match the ledger")
	}
	if maxTimestamp := uint64(time.Now().Add(e.config.MaxBlockTimeDrift()).UnixMilli()); m.Timestamp > maxTimestamp {
		return ReasonBlockRejectedByPolicy, lib.ErrInvalidProposal("timestamp is too far in the future")
	}
	if err := m.Header(r.BlockIndex, r.PrimaryIndex).Check(); err != nil {
		return ReasonBlockRejectedByPolicy, lib.ErrInvalidProposal(err.Error())
	}
	if len(m.TxHashes) > e.config.MaxTransactionsPerBlock {
		return ReasonTxRejectedByPolicy, lib.ErrInvalidProposal(fmt.Sprintf("%d txs exceed the limit of %d", len(m.TxHashes), e.config.MaxTransactionsPerBlock))
	}
	unique := make(map[string]struct{}, len(m.TxHashes))
	for _, h := range m.TxHashes {
		key := lib.BytesToString(h)
		if _, found := unique[key]; found {
			return ReasonTxInvalid, lib.ErrInvalidProposal("duplicate transaction " + key)
		}
		unique[key] = struct{}{}
		if !e.c.Mempool.Contains(h) {
			return ReasonTxNotFound, lib.ErrInvalidProposal("unknown transaction " + key)
		}
	}
	return 0, nil
}

// sendPrepareResponse() endorses the accepted proposal
func (e *Engine) sendPrepareResponse() {
	r := e.ctx.round
	p, err := e.makePayload(&PrepareResponse{PreparationHash: r.PrepareRequest.Hash()})
	if err != nil {
		e.log.Errorf("Failed to create the prepare response: %s", err.Error())
		return
	}
	r.PrepareResponses[p.ValidatorIndex] = p
	r.PrepareResponseSent = true
	e.broadcast(p)
}

// onPrepareResponse() handles the endorsement of a backup
// A response may arrive before the request; it's kept and re-checked when the request is accepted
func (e *Engine) onPrepareResponse(p *Payload, m *PrepareResponse) lib.ErrorI {
	r := e.ctx.round
	switch {
	case p.ViewNumber != r.ViewNumber:
		return lib.ErrWrongView(r.ViewNumber, p.ViewNumber)
	case p.ValidatorIndex == r.PrimaryIndex:
		return lib.ErrMalformedMessage("the primary doesn't send prepare responses")
	case r.PrepareResponses[p.ValidatorIndex] != nil:
		return lib.ErrDuplicateMessage()
	case e.ctx.notAcceptingPayloadsDueToViewChanging():
		return lib.ErrViewChanging()
	case r.PrepareRequest != nil && !bytes.Equal(m.PreparationHash, r.PrepareRequest.Hash()):
		return lib.ErrMismatchPreparationHash()
	}
	r.PrepareResponses[p.ValidatorIndex] = p
	e.extendTimers()
	e.checkPreparations()
	return nil
}

// checkPreparations() moves to the commit phase once m preparations endorse the proposal
func (e *Engine) checkPreparations() {
	r := e.ctx.round
	if r.PrepareRequest == nil || r.CommitSent || r.Phase == BlockCommitted {
		return
	}
	if e.ctx.preparationCount() < e.ctx.validators.M() {
		return
	}
	r.Phase = WaitingForCommits
	if e.myIndex >= 0 {
		e.sendCommit()
	}
	e.checkCommits()
}

// newNonce() returns a random block nonce
func newNonce() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.BigEndian.Uint64(b[:])
}
