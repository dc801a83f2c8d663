package bft

import (
	"math"

	"github.com/canopy-network/dbft/lib"
)

// VIEW CHANGE
// A validator that gives up on the current view broadcasts a ChangeView for view + 1. Once m validators ask for a view
// of at least v, every node moves to v and its primary proposes again. Nodes that already committed never leave their
// view; when more than f validators committed or went silent a view change can no longer gather m votes, so the node
// asks for recovery instead.

// requestChangeView() asks the committee to move to the next view
func (e *Engine) requestChangeView(reason ChangeViewReason) {
	r := e.ctx.round
	if e.myIndex < 0 {
		return
	}
	if r.CommitSent {
		e.sendRecoveryMessage()
		e.ctx.timers.Start(TimerCommit, e.timeoutFor(r.ViewNumber))
		return
	}
	if r.ViewNumber == math.MaxUint8 {
		e.log.Error(lib.ErrViewOverflow(r.ViewNumber).Error())
		e.ctx.timers.Start(TimerViewChange, e.timeoutFor(r.ViewNumber))
		return
	}
	next := r.ViewNumber + 1
	e.ctx.timers.StopAll()
	if e.ctx.moreThanFNodesCommittedOrLost() {
		e.log.Warnf("Not changing view: %d committed and %d lost, requesting recovery", e.ctx.countCommitted(), e.ctx.countFailed())
		r.Phase = Recovery
		e.ctx.timers.Start(TimerRecovery, e.timeoutFor(next))
		e.requestRecovery()
		return
	}
	e.ctx.timers.Start(TimerViewChange, e.timeoutFor(next))
	p, err := e.makePayload(&ChangeView{Timestamp: nowMillis(), Reason: reason})
	if err != nil {
		e.log.Errorf("Failed to create the change view: %s", err.Error())
		return
	}
	r.ChangeViews[p.ValidatorIndex] = p
	r.ChangeViewSent = true
	r.Phase = ViewChanging
	e.log.Infof("Requesting view %d at height %d (%s)", next, r.BlockIndex, reason)
	e.broadcast(p)
	e.checkExpectedView()
}

// onChangeView() handles the vote of a peer to leave its view
// A vote for a view the node already reached means the sender is behind, so it gets a RecoveryMessage
func (e *Engine) onChangeView(p *Payload, _ *ChangeView) lib.ErrorI {
	r := e.ctx.round
	next, err := NewViewNumber(p)
	if err != nil {
		return err
	}
	if next <= r.ViewNumber {
		if !e.replaying {
			e.respondRecovery(p.ValidatorIndex)
		}
		return nil
	}
	if r.CommitSent {
		return lib.ErrCommitSent()
	}
	if existing, found := r.ChangeViews[p.ValidatorIndex]; found {
		if current, _ := NewViewNumber(existing); current >= next {
			return lib.ErrDuplicateMessage()
		}
	}
	r.ChangeViews[p.ValidatorIndex] = p
	e.checkExpectedView()
	return nil
}

// agreedView() returns the lowest view above the current one that m validators asked for
func (e *Engine) agreedView() (uint8, bool) {
	r := e.ctx.round
	for view := int(r.ViewNumber) + 1; view <= math.MaxUint8; view++ {
		count := e.ctx.changeViewCount(uint8(view))
		if count >= e.ctx.validators.M() {
			return uint8(view), true
		}
		if count == 0 {
			break
		}
	}
	return 0, false
}

// checkExpectedView() moves to the lowest view agreed by m validators
func (e *Engine) checkExpectedView() {
	r := e.ctx.round
	view, ok := e.agreedView()
	if !ok {
		return
	}
	reason := ReasonChangeAgreement
	if !r.CommitSent && e.myIndex >= 0 {
		mine, found := r.ChangeViews[uint8(e.myIndex)]
		var current uint8
		if found {
			current, _ = NewViewNumber(mine)
			if msg, err := mine.Message(); err == nil && current >= view {
				reason = msg.(*ChangeView).Reason
			}
		}
		if !found || current < view {
			// join the agreement so nodes that missed a vote still reach m
			if p, err := e.makePayloadAt(view-1, &ChangeView{Timestamp: nowMillis(), Reason: ReasonChangeAgreement}); err == nil {
				r.ChangeViews[p.ValidatorIndex] = p
				e.broadcast(p)
			}
		}
	}
	e.changeView(view, reason)
}

// changeView() applies the agreed view
func (e *Engine) changeView(view uint8, reason ChangeViewReason) {
	if err := e.ctx.changeView(view, reason); err != nil {
		e.log.Errorf("Failed to change view: %s", err.Error())
		return
	}
	r := e.ctx.round
	e.metrics.IncViewChange(e.label)
	e.log.Infof("Changed to view %d at height %d (primary %d, %s)", r.ViewNumber, r.BlockIndex, r.PrimaryIndex, reason)
	e.initializeView()
}
