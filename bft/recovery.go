package bft

import (
	"bytes"

	"github.com/canopy-network/dbft/lib"
)

// RECOVERY
// A node that restarted or fell behind broadcasts a RecoveryRequest. f+1 peers chosen by rotation from the requester's
// index answer with a RecoveryMessage: a compact copy of every signed payload of their round. The receiver rebuilds
// the payloads and applies them through the regular handlers, so each one is authenticated like a live message.

// requestRecovery() asks the responsible peers for their round state
func (e *Engine) requestRecovery() {
	p, err := e.makePayload(&RecoveryRequest{Timestamp: nowMillis()})
	if err != nil {
		e.log.Errorf("Failed to create the recovery request: %s", err.Error())
		return
	}
	e.metrics.IncRecovery(e.label, "request")
	e.log.Infof("Requesting recovery at height %d view %d", p.BlockIndex, p.ViewNumber)
	e.broadcast(p)
}

// onRecoveryRequest() answers when the node is one of the responders of the requester
func (e *Engine) onRecoveryRequest(p *Payload, _ *RecoveryRequest) lib.ErrorI {
	e.respondRecovery(p.ValidatorIndex)
	return nil
}

func (e *Engine) respondRecovery(requester uint8) {
	if !e.ctx.shouldRespondRecovery(requester) {
		return
	}
	e.sendRecoveryMessage()
}

// sendRecoveryMessage() broadcasts a snapshot of the round
func (e *Engine) sendRecoveryMessage() {
	if e.myIndex < 0 {
		return
	}
	p, err := e.makePayload(e.makeRecoveryMessage())
	if err != nil {
		e.log.Errorf("Failed to create the recovery message: %s", err.Error())
		return
	}
	e.ctx.stats.RecoveriesSent++
	e.metrics.IncRecovery(e.label, "sent")
	e.broadcast(p)
}

// makeRecoveryMessage() compacts the signed payloads of the round
// - at most m ChangeViews: the ones that led to the current view, then the pending ones
// - the proposal with every matching preparation, or the most endorsed preparation hash if the proposal is unknown
// - the commits of the height, once the node committed itself
func (e *Engine) makeRecoveryMessage() *RecoveryMessage {
	r, m := e.ctx.round, e.ctx.validators.M()
	x := new(RecoveryMessage)
	included := make(map[uint8]struct{})
	for _, i := range sortedIndices(r.LastChangeViews) {
		if len(x.ChangeViews) == m {
			break
		}
		if c, err := CompactChangeView(r.LastChangeViews[i]); err == nil {
			x.ChangeViews, included[i] = append(x.ChangeViews, c), struct{}{}
		}
	}
	for _, i := range sortedIndices(r.ChangeViews) {
		if len(x.ChangeViews) == m {
			break
		}
		if _, found := included[i]; found {
			continue
		}
		p := r.ChangeViews[i]
		if next, err := NewViewNumber(p); err != nil || next <= r.ViewNumber {
			continue
		}
		if c, err := CompactChangeView(p); err == nil {
			x.ChangeViews = append(x.ChangeViews, c)
		}
	}
	var hash []byte
	if r.PrepareRequest != nil {
		hash = r.PrepareRequest.Hash()
		x.PrepareRequest = r.Proposal
		x.Preparations = append(x.Preparations, &PreparationCompact{ValidatorIndex: r.PrepareRequest.ValidatorIndex, Witness: r.PrepareRequest.Witness})
	} else {
		hash = mostEndorsedHash(r.PrepareResponses)
		x.PreparationHash = hash
	}
	if hash != nil {
		for _, i := range sortedIndices(r.PrepareResponses) {
			p := r.PrepareResponses[i]
			if msg, err := p.Message(); err == nil && bytes.Equal(msg.(*PrepareResponse).PreparationHash, hash) {
				x.Preparations = append(x.Preparations, &PreparationCompact{ValidatorIndex: i, Witness: p.Witness})
			}
		}
	}
	if r.CommitSent {
		for _, i := range sortedIndices(r.Commits) {
			if c, err := CompactCommit(r.Commits[i]); err == nil {
				x.Commits = append(x.Commits, c)
			}
		}
	}
	return x
}

// onRecoveryMessage() replays the payloads of a peer's snapshot that apply to the local round
// Entries that fail authentication or don't apply are skipped; the rest still take effect
func (e *Engine) onRecoveryMessage(p *Payload, m *RecoveryMessage) lib.ErrorI {
	r := e.ctx.round
	e.ctx.stats.RecoveriesReceived++
	e.metrics.IncRecovery(e.label, "received")
	e.replaying = true
	defer func() { e.replaying = false }()
	var applied, skipped int
	replay := func(payloads ...*Payload) {
		for _, q := range payloads {
			if err := e.handle(q); err != nil {
				skipped++
				e.log.Debugf("Skipped recovered %s: %s", q, err.Error())
				// a forged entry is the fault of whoever relayed it
				if lib.IsProtocolViolation(err) && (err.Code() == lib.CodeInvalidSignature || err.Code() == lib.CodeEmptySignature) {
					e.reportViolation(p.ValidatorIndex, err)
				}
				continue
			}
			applied++
		}
	}
	// the view fields are re-read after every step: replayed ChangeViews may move the round
	if p.ViewNumber > r.ViewNumber && !r.CommitSent {
		replay(m.ChangeViewPayloads(p)...)
	}
	if p.ViewNumber == r.ViewNumber && !r.CommitSent && !e.ctx.notAcceptingPayloadsDueToViewChanging() {
		primary := e.ctx.validators.PrimaryIndex(p.BlockIndex, p.ViewNumber)
		if r.PrepareRequest == nil {
			if request := m.PrepareRequestPayload(p, primary); request != nil {
				replay(request)
			}
		}
		replay(m.PrepareResponsePayloads(p, primary)...)
	}
	if p.ViewNumber <= r.ViewNumber {
		replay(m.CommitPayloads(p)...)
	}
	e.log.Infof("Recovery from validator %d: applied %d, skipped %d", p.ValidatorIndex, applied, skipped)
	return nil
}

// mostEndorsedHash() returns the preparation hash carried by most responses; ties go to the lowest validator index
func mostEndorsedHash(responses map[uint8]*Payload) []byte {
	counts := make(map[string]int)
	var best []byte
	for _, i := range sortedIndices(responses) {
		msg, err := responses[i].Message()
		if err != nil {
			continue
		}
		hash := msg.(*PrepareResponse).PreparationHash
		key := lib.BytesToString(hash)
		counts[key]++
		if best == nil || counts[key] > counts[lib.BytesToString(best)] {
			best = hash
		}
	}
	return best
}
