package bft

import (
	"github.com/canopy-network/dbft/lib"
)

// roundState is the part of a round a validator must not forget across a restart:
// once a Commit is signed the node never signs a different block for the same height
type roundState struct {
	BlockIndex       uint32
	ViewNumber       uint8
	PrepareRequest   *Payload
	PrepareResponses []*Payload
	Commit           *Payload
}

// Bytes() encodes the round state; payloads are stored in their full wire form including witnesses
func (s *roundState) Bytes() []byte {
	w := lib.NewProtoWriter().
		Uint(1, uint64(s.BlockIndex)).
		Uint(2, uint64(s.ViewNumber))
	if s.PrepareRequest != nil {
		w.Message(3, s.PrepareRequest.Bytes())
	}
	for _, p := range s.PrepareResponses {
		w.Message(4, p.Bytes())
	}
	if s.Commit != nil {
		w.Message(5, s.Commit.Bytes())
	}
	return w.Out()
}

func newRoundStateFromBytes(bz []byte) (*roundState, lib.ErrorI) {
	s := new(roundState)
	err := lib.ReadProtoFields(bz, func(f lib.ProtoField) (e lib.ErrorI) {
		switch f.Num {
		case 1:
			s.BlockIndex, e = f.Uint32()
		case 2:
			s.ViewNumber, e = f.Uint8()
		case 3:
			s.PrepareRequest, e = NewPayloadFromBytes(f.Bytes)
		case 4:
			var p *Payload
			if p, e = NewPayloadFromBytes(f.Bytes); e == nil {
				s.PrepareResponses = append(s.PrepareResponses, p)
			}
		case 5:
			s.Commit, e = NewPayloadFromBytes(f.Bytes)
		}
		return
	})
	if err != nil {
		return nil, err
	}
	if s.Commit != nil && s.Commit.Type != MsgCommit {
		return nil, lib.ErrMalformedMessage("persisted commit is not a commit")
	}
	return s, nil
}
