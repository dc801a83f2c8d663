package bft

import (
	"bytes"
	"time"

	"github.com/canopy-network/dbft/lib"
)

// COMMIT PHASE
// Each validator signs the header of the prepared proposal exactly once per height. A Commit survives view changes and
// restarts: it's persisted before it leaves the node, and a node that committed only re-broadcasts its state afterward.
// m commits of the same view make the block final.

// sendCommit() signs the header of the proposal, persists the round and broadcasts the Commit
func (e *Engine) sendCommit() {
	r := e.ctx.round
	sig, signErr := e.c.Signer.Sign(lib.CommitSignBytes(e.config.NetworkMagic, r.Header.Hash()), e.self.Address())
	if signErr != nil {
		e.log.Errorf("Failed to sign the commit: %s", lib.ErrSign(signErr).Error())
		return
	}
	p, err := e.makePayload(&Commit{Signature: sig})
	if err != nil {
		e.log.Errorf("Failed to create the commit: %s", err.Error())
		return
	}
	r.Commits[p.ValidatorIndex], r.MyCommit, r.CommitSent = p, p, true
	if e.c.Store != nil {
		if err = e.c.Store.SaveRoundState(r.BlockIndex, e.ctx.persistable().Bytes()); err != nil {
			e.log.Errorf("Withholding commit, the round state couldn't be persisted: %s", err.Error())
			delete(r.Commits, p.ValidatorIndex)
			r.MyCommit, r.CommitSent = nil, false
			e.ctx.seen.Delete(seenKey(p))
			return
		}
	}
	e.log.Infof("Committing to block %d at view %d", r.BlockIndex, r.ViewNumber)
	e.broadcast(p)
	e.ctx.timers.StopAll()
	e.ctx.timers.Start(TimerCommit, e.timeoutFor(r.ViewNumber))
}

// onCommit() handles the commit of a peer
// Commits of other views are kept for the height; only those of the current view are verified and counted
func (e *Engine) onCommit(p *Payload, m *Commit) lib.ErrorI {
	r := e.ctx.round
	if len(m.Signature) == 0 {
		return lib.ErrEmptySignature()
	}
	if existing, found := r.Commits[p.ValidatorIndex]; found {
		if bytes.Equal(existing.Hash(), p.Hash()) {
			return lib.ErrDuplicateMessage()
		}
		return lib.ErrConflictingCommit(p.ValidatorIndex)
	}
	if p.ViewNumber == r.ViewNumber && r.Header != nil {
		if err := e.verifyCommit(p); err != nil {
			return err
		}
	}
	r.Commits[p.ValidatorIndex] = p
	e.extendTimers()
	e.checkCommits()
	return nil
}

// verifyCommit() checks the commit signature against the header of the current proposal
func (e *Engine) verifyCommit(p *Payload) lib.ErrorI {
	msg, err := p.Message()
	if err != nil {
		return err
	}
	commit, ok := msg.(*Commit)
	if !ok {
		return lib.ErrMalformedMessage("not a commit")
	}
	v, err := e.ctx.validators.GetValidator(p.ValidatorIndex)
	if err != nil {
		return err
	}
	signBytes := lib.CommitSignBytes(e.config.NetworkMagic, e.ctx.round.Header.Hash())
	if !e.c.Verifier.Verify(signBytes, commit.Signature, v.PublicKey) {
		return lib.ErrInvalidSignature()
	}
	return nil
}

// verifyPendingCommits() checks the commits that arrived before the proposal of their view
func (e *Engine) verifyPendingCommits() {
	r := e.ctx.round
	for _, i := range sortedIndices(r.Commits) {
		p := r.Commits[i]
		if p.ViewNumber != r.ViewNumber || int(i) == e.myIndex {
			continue
		}
		if err := e.verifyCommit(p); err != nil {
			e.log.Warnf("Discarding commit of validator %d: %s", i, err.Error())
			delete(r.Commits, i)
			e.reportViolation(i, err)
		}
	}
}

// checkCommits() finalizes the block once m commits of the current view were collected
func (e *Engine) checkCommits() {
	r := e.ctx.round
	if r.Header == nil || r.Phase == BlockCommitted || r.Phase == Stopped {
		return
	}
	m := e.ctx.validators.M()
	commits := e.ctx.commitsForView()
	if len(commits) < m {
		return
	}
	sigs := make([]lib.CommitSignature, 0, m)
	for _, p := range commits[:m] {
		msg, err := p.Message()
		if err != nil {
			return
		}
		sigs = append(sigs, lib.CommitSignature{Index: p.ValidatorIndex, Signature: msg.(*Commit).Signature})
	}
	block, err := e.c.Ledger.AssembleBlock(r.Header, r.Proposal.TxHashes, sigs)
	if err != nil {
		e.log.Errorf("Failed to assemble block %d: %s", r.BlockIndex, err.Error())
		return
	}
	r.Phase = BlockCommitted
	e.ctx.timers.StopAll()
	e.ctx.lastCommittedHash = r.Header.Hash()
	duration := time.Since(r.StartedAt)
	e.ctx.stats.ObserveRound(duration)
	e.metrics.ObserveBlockCommitted(e.label, duration)
	e.lastAgreedAt = time.Now()
	e.log.Infof("Block %d agreed at view %d in %s, hash %s", r.BlockIndex, r.ViewNumber, duration.Round(time.Millisecond),
		lib.BytesToTruncatedString(e.ctx.lastCommittedHash))
	select {
	case e.blocks <- BlockAgreed{Block: block, ViewNumber: r.ViewNumber, RoundDuration: duration}:
	default:
		e.log.Errorf("Block consumer is behind, block %d wasn't delivered", r.BlockIndex)
	}
}

// onAcknowledge() starts the next height once the agreed block was persisted
func (e *Engine) onAcknowledge(height uint32) {
	r := e.ctx.round
	if r == nil || r.Phase != BlockCommitted || r.BlockIndex != height {
		e.log.Warnf("Ignoring acknowledgement of block %d", height)
		return
	}
	e.begin(height + 1)
}
