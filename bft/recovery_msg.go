package bft

import (
	"github.com/canopy-network/dbft/lib"
)

// ChangeViewCompact is the signature-only form of a ChangeView payload
type ChangeViewCompact struct {
	ValidatorIndex     uint8            `json:"validatorIndex"`
	OriginalViewNumber uint8            `json:"originalViewNumber"`
	Timestamp          uint64           `json:"timestamp"`
	Reason             ChangeViewReason `json:"reason"`
	Witness            lib.HexBytes     `json:"witness"`
}

// PreparationCompact is the signature-only form of a PrepareRequest or PrepareResponse payload
type PreparationCompact struct {
	ValidatorIndex uint8        `json:"validatorIndex"`
	Witness        lib.HexBytes `json:"witness"`
}

// CommitCompact is the signature-only form of a Commit payload
type CommitCompact struct {
	ViewNumber     uint8        `json:"viewNumber"`
	ValidatorIndex uint8        `json:"validatorIndex"`
	Signature      lib.HexBytes `json:"signature"`
	Witness        lib.HexBytes `json:"witness"`
}

// RecoveryMessage is a snapshot of the sender's round, enough for a peer to replay every message in it
type RecoveryMessage struct {
	ChangeViews     []*ChangeViewCompact  `json:"changeViews"`
	PrepareRequest  *PrepareRequest       `json:"prepareRequest,omitempty"`
	PreparationHash lib.HexBytes          `json:"preparationHash,omitempty"` // only set when the request is unknown
	Preparations    []*PreparationCompact `json:"preparations"`
	Commits         []*CommitCompact      `json:"commits"`
}

func (x *RecoveryMessage) Type() MessageType { return MsgRecoveryMessage }

func (x *RecoveryMessage) Bytes() []byte {
	w := lib.NewProtoWriter()
	for _, c := range x.ChangeViews {
		w.Message(1, lib.NewProtoWriter().
			Uint(1, uint64(c.ValidatorIndex)).
			Uint(2, uint64(c.OriginalViewNumber)).
			Uint(3, c.Timestamp).
			Uint(4, uint64(c.Reason)).
			Bytes(5, c.Witness).
			Out())
	}
	if x.PrepareRequest != nil {
		w.Message(2, x.PrepareRequest.Bytes())
	}
	w.Bytes(3, x.PreparationHash)
	for _, c := range x.Preparations {
		w.Message(4, lib.NewProtoWriter().Uint(1, uint64(c.ValidatorIndex)).Bytes(2, c.Witness).Out())
	}
	for _, c := range x.Commits {
		w.Message(5, lib.NewProtoWriter().
			Uint(1, uint64(c.ViewNumber)).
			Uint(2, uint64(c.ValidatorIndex)).
			Bytes(3, c.Signature).
			Bytes(4, c.Witness).
			Out())
	}
	return w.Out()
}

func newRecoveryMessageFromBytes(bz []byte) (*RecoveryMessage, lib.ErrorI) {
	x := new(RecoveryMessage)
	err := lib.ReadProtoFields(bz, func(f lib.ProtoField) (e lib.ErrorI) {
		switch f.Num {
		case 1:
			c := new(ChangeViewCompact)
			e = lib.ReadProtoFields(f.Bytes, func(g lib.ProtoField) (e lib.ErrorI) {
				switch g.Num {
				case 1:
					c.ValidatorIndex, e = g.Uint8()
				case 2:
					c.OriginalViewNumber, e = g.Uint8()
				case 3:
					c.Timestamp = g.Varint
				case 4:
					var r uint8
					r, e = g.Uint8()
					c.Reason = ChangeViewReason(r)
				case 5:
					c.Witness = g.CopyBytes()
				}
				return
			})
			x.ChangeViews = append(x.ChangeViews, c)
		case 2:
			x.PrepareRequest, e = newPrepareRequestFromBytes(f.Bytes)
		case 3:
			x.PreparationHash = f.CopyBytes()
		case 4:
			c := new(PreparationCompact)
			e = lib.ReadProtoFields(f.Bytes, func(g lib.ProtoField) (e lib.ErrorI) {
				switch g.Num {
				case 1:
					c.ValidatorIndex, e = g.Uint8()
				case 2:
					c.Witness = g.CopyBytes()
				}
				return
			})
			x.Preparations = append(x.Preparations, c)
		case 5:
			c := new(CommitCompact)
			e = lib.ReadProtoFields(f.Bytes, func(g lib.ProtoField) (e lib.ErrorI) {
				switch g.Num {
				case 1:
					c.ViewNumber, e = g.Uint8()
				case 2:
					c.ValidatorIndex, e = g.Uint8()
				case 3:
					c.Signature = g.CopyBytes()
				case 4:
					c.Witness = g.CopyBytes()
				}
				return
			})
			x.Commits = append(x.Commits, c)
		}
		return
	})
	return x, err
}

// CompactChangeView() strips a ChangeView payload down to what a peer needs to rebuild it
func CompactChangeView(p *Payload) (*ChangeViewCompact, lib.ErrorI) {
	msg, err := p.Message()
	if err != nil {
		return nil, err
	}
	cv, ok := msg.(*ChangeView)
	if !ok {
		return nil, lib.ErrMalformedMessage("not a change view")
	}
	return &ChangeViewCompact{
		ValidatorIndex:     p.ValidatorIndex,
		OriginalViewNumber: p.ViewNumber,
		Timestamp:          cv.Timestamp,
		Reason:             cv.Reason,
		Witness:            p.Witness,
	}, nil
}

// CompactCommit() strips a Commit payload down to what a peer needs to rebuild it
func CompactCommit(p *Payload) (*CommitCompact, lib.ErrorI) {
	msg, err := p.Message()
	if err != nil {
		return nil, err
	}
	c, ok := msg.(*Commit)
	if !ok {
		return nil, lib.ErrMalformedMessage("not a commit")
	}
	return &CommitCompact{
		ViewNumber:     p.ViewNumber,
		ValidatorIndex: p.ValidatorIndex,
		Signature:      c.Signature,
		Witness:        p.Witness,
	}, nil
}

// ChangeViewPayloads() rebuilds the embedded ChangeView payloads of a RecoveryMessage payload
func (x *RecoveryMessage) ChangeViewPayloads(rp *Payload) (out []*Payload) {
	for _, c := range x.ChangeViews {
		p := NewPayload(rp.NetworkMagic, rp.BlockIndex, c.OriginalViewNumber, c.ValidatorIndex, &ChangeView{
			Timestamp: c.Timestamp,
			Reason:    c.Reason,
		})
		p.Witness = c.Witness
		out = append(out, p)
	}
	return
}

// PrepareRequestPayload() rebuilds the embedded PrepareRequest; the primary's witness travels in Preparations
func (x *RecoveryMessage) PrepareRequestPayload(rp *Payload, primary uint8) *Payload {
	if x.PrepareRequest == nil {
		return nil
	}
	for _, c := range x.Preparations {
		if c.ValidatorIndex == primary {
			p := NewPayload(rp.NetworkMagic, rp.BlockIndex, rp.ViewNumber, primary, x.PrepareRequest)
			p.Witness = c.Witness
			return p
		}
	}
	return nil
}

// PrepareResponsePayloads() rebuilds the embedded PrepareResponses of every non-primary preparation
func (x *RecoveryMessage) PrepareResponsePayloads(rp *Payload, primary uint8) (out []*Payload) {
	preparationHash := x.PreparationHash
	if request := x.PrepareRequestPayload(rp, primary); request != nil {
		preparationHash = request.Hash()
	}
	if len(preparationHash) == 0 {
		return nil
	}
	for _, c := range x.Preparations {
		if c.ValidatorIndex == primary {
			continue
		}
		p := NewPayload(rp.NetworkMagic, rp.BlockIndex, rp.ViewNumber, c.ValidatorIndex, &PrepareResponse{
			PreparationHash: preparationHash,
		})
		p.Witness = c.Witness
		out = append(out, p)
	}
	return
}

// CommitPayloads() rebuilds the embedded Commit payloads
func (x *RecoveryMessage) CommitPayloads(rp *Payload) (out []*Payload) {
	for _, c := range x.Commits {
		p := NewPayload(rp.NetworkMagic, rp.BlockIndex, c.ViewNumber, c.ValidatorIndex, &Commit{Signature: c.Signature})
		p.Witness = c.Witness
		out = append(out, p)
	}
	return
}
