package bft

import (
	"fmt"

	"github.com/canopy-network/dbft/lib"
	"github.com/canopy-network/dbft/lib/crypto"
)

/*
	Wire messages. Every consensus message travels inside a Payload that names the network, the round
	(block index + view), the sender and the body type. The sender signs the canonical encoding of every
	Payload field except the witness, and the signature is carried in Witness.
*/

// Message is the body of a consensus Payload
type Message interface {
	Type() MessageType
	Bytes() []byte
}

// Payload is the signed envelope of every consensus message
type Payload struct {
	NetworkMagic   uint32       `json:"networkMagic"`
	BlockIndex     uint32       `json:"blockIndex"`
	ViewNumber     uint8        `json:"viewNumber"`
	ValidatorIndex uint8        `json:"validatorIndex"`
	Type           MessageType  `json:"type"`
	Data           lib.HexBytes `json:"data"`
	Witness        lib.HexBytes `json:"witness"`

	message Message // decoded Data
}

// NewPayload() wraps a message body in an unsigned payload
func NewPayload(networkMagic, blockIndex uint32, view, validatorIndex uint8, msg Message) *Payload {
	return &Payload{
		NetworkMagic:   networkMagic,
		BlockIndex:     blockIndex,
		ViewNumber:     view,
		ValidatorIndex: validatorIndex,
		Type:           msg.Type(),
		Data:           msg.Bytes(),
		message:        msg,
	}
}

// SignBytes() returns the canonical encoding the sender signs; the witness is excluded
func (p *Payload) SignBytes() []byte {
	return p.writer().Out()
}

// Bytes() returns the full wire encoding including the witness
func (p *Payload) Bytes() []byte {
	return p.writer().Bytes(7, p.Witness).Out()
}

func (p *Payload) writer() *lib.ProtoWriter {
	return lib.NewProtoWriter().
		Uint(1, uint64(p.NetworkMagic)).
		Uint(2, uint64(p.BlockIndex)).
		Uint(3, uint64(p.ViewNumber)).
		Uint(4, uint64(p.ValidatorIndex)).
		Uint(5, uint64(p.Type)).
		Bytes(6, p.Data)
}

// Hash() identifies the signed content of the payload
// The preparation hash of a round is the Hash() of its PrepareRequest payload
func (p *Payload) Hash() []byte { return crypto.Hash(p.SignBytes()) }

// Message() decodes (once) and returns the body
func (p *Payload) Message() (Message, lib.ErrorI) {
	if p.message != nil {
		return p.message, nil
	}
	msg, err := DecodeMessage(p.Type, p.Data)
	if err != nil {
		return nil, err
	}
	p.message = msg
	return msg, nil
}

// NewPayloadFromBytes() decodes a wire payload; the body is decoded lazily by Message()
func NewPayloadFromBytes(bz []byte) (*Payload, lib.ErrorI) {
	p := new(Payload)
	err := lib.ReadProtoFields(bz, func(f lib.ProtoField) (e lib.ErrorI) {
		switch f.Num {
		case 1:
			p.NetworkMagic, e = f.Uint32()
		case 2:
			p.BlockIndex, e = f.Uint32()
		case 3:
			p.ViewNumber, e = f.Uint8()
		case 4:
			p.ValidatorIndex, e = f.Uint8()
		case 5:
			var t uint8
			t, e = f.Uint8()
			p.Type = MessageType(t)
		case 6:
			p.Data = f.CopyBytes()
		case 7:
			p.Witness = f.CopyBytes()
		}
		return
	})
	if err != nil {
		return nil, ErrMalformed(err)
	}
	return p, nil
}

// String() summarizes the payload for logs
func (p *Payload) String() string {
	return fmt.Sprintf("%s(h=%d v=%d i=%d)", p.Type, p.BlockIndex, p.ViewNumber, p.ValidatorIndex)
}

// DecodeMessage() decodes a body by its type
func DecodeMessage(t MessageType, bz []byte) (msg Message, err lib.ErrorI) {
	switch t {
	case MsgChangeView:
		msg, err = newChangeViewFromBytes(bz)
	case MsgPrepareRequest:
		msg, err = newPrepareRequestFromBytes(bz)
	case MsgPrepareResponse:
		msg, err = newPrepareResponseFromBytes(bz)
	case MsgCommit:
		msg, err = newCommitFromBytes(bz)
	case MsgRecoveryRequest:
		msg, err = newRecoveryRequestFromBytes(bz)
	case MsgRecoveryMessage:
		msg, err = newRecoveryMessageFromBytes(bz)
	default:
		return nil, lib.ErrUnknownMessageType(uint8(t))
	}
	if err != nil {
		return nil, ErrMalformed(err)
	}
	return
}

// ErrMalformed() converts a decoding failure into a protocol violation
func ErrMalformed(err lib.ErrorI) lib.ErrorI {
	if lib.IsProtocolViolation(err) {
		return err
	}
	return lib.ErrMalformedMessage(err.Error())
}

// PREPARE REQUEST

// PrepareRequest is the primary's block proposal
type PrepareRequest struct {
	Version   uint32         `json:"version"`
	PrevHash  lib.HexBytes   `json:"prevHash"`
	Timestamp uint64         `json:"timestamp"` // unix milliseconds
	Nonce     uint64         `json:"nonce"`
	TxHashes  []lib.HexBytes `json:"txHashes"`
}

func (x *PrepareRequest) Type() MessageType { return MsgPrepareRequest }

func (x *PrepareRequest) Bytes() []byte {
	w := lib.NewProtoWriter().
		Uint(1, uint64(x.Version)).
		Bytes(2, x.PrevHash).
		Uint(3, x.Timestamp).
		Uint(4, x.Nonce)
	for _, h := range x.TxHashes {
		w.Message(5, h)
	}
	return w.Out()
}

// Header() builds the block header the proposal commits to
func (x *PrepareRequest) Header(blockIndex uint32, primary uint8) *lib.Header {
	return &lib.Header{
		Version:      x.Version,
		PrevHash:     x.PrevHash,
		Index:        blockIndex,
		Timestamp:    x.Timestamp,
		Nonce:        x.Nonce,
		PrimaryIndex: primary,
		MerkleRoot:   lib.TxMerkleRoot(x.TxHashes),
	}
}

func newPrepareRequestFromBytes(bz []byte) (*PrepareRequest, lib.ErrorI) {
	x := new(PrepareRequest)
	err := lib.ReadProtoFields(bz, func(f lib.ProtoField) (e lib.ErrorI) {
		switch f.Num {
		case 1:
			x.Version, e = f.Uint32()
		case 2:
			x.PrevHash = f.CopyBytes()
		case 3:
			x.Timestamp = f.Varint
		case 4:
			x.Nonce = f.Varint
		case 5:
			x.TxHashes = append(x.TxHashes, f.CopyBytes())
		}
		return
	})
	if err != nil {
		return nil, err
	}
	if len(x.PrevHash) != crypto.HashSize {
		return nil, lib.ErrMalformedMessage("prepare request prev hash has the wrong length")
	}
	for _, h := range x.TxHashes {
		if len(h) != crypto.HashSize {
			return nil, lib.ErrMalformedMessage("prepare request tx hash has the wrong length")
		}
	}
	return x, nil
}

// PREPARE RESPONSE

// PrepareResponse endorses the PrepareRequest with the given preparation hash
type PrepareResponse struct {
	PreparationHash lib.HexBytes `json:"preparationHash"`
}

func (x *PrepareResponse) Type() MessageType { return MsgPrepareResponse }

func (x *PrepareResponse) Bytes() []byte {
	return lib.NewProtoWriter().Bytes(1, x.PreparationHash).Out()
}

func newPrepareResponseFromBytes(bz []byte) (*PrepareResponse, lib.ErrorI) {
	x := new(PrepareResponse)
	err := lib.ReadProtoFields(bz, func(f lib.ProtoField) lib.ErrorI {
		if f.Num == 1 {
			x.PreparationHash = f.CopyBytes()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(x.PreparationHash) != crypto.HashSize {
		return nil, lib.ErrMalformedMessage("preparation hash has the wrong length")
	}
	return x, nil
}

// COMMIT

// Commit carries the sender's signature over the commit sign bytes of the proposed header
type Commit struct {
	Signature lib.HexBytes `json:"signature"`
}

func (x *Commit) Type() MessageType { return MsgCommit }

func (x *Commit) Bytes() []byte {
	return lib.NewProtoWriter().Bytes(1, x.Signature).Out()
}

func newCommitFromBytes(bz []byte) (*Commit, lib.ErrorI) {
	x := new(Commit)
	err := lib.ReadProtoFields(bz, func(f lib.ProtoField) lib.ErrorI {
		if f.Num == 1 {
			x.Signature = f.CopyBytes()
		}
		return nil
	})
	return x, err
}

// CHANGE VIEW

// ChangeView is a vote to move from the payload's view to the next one
type ChangeView struct {
	Timestamp uint64           `json:"timestamp"`
	Reason    ChangeViewReason `json:"reason"`
}

func (x *ChangeView) Type() MessageType { return MsgChangeView }

func (x *ChangeView) Bytes() []byte {
	return lib.NewProtoWriter().Uint(1, x.Timestamp).Uint(2, uint64(x.Reason)).Out()
}

// NewViewNumber() returns the view a ChangeView payload votes for
func NewViewNumber(p *Payload) (uint8, lib.ErrorI) {
	if p.ViewNumber == 255 {
		return 0, lib.ErrViewOverflow(p.ViewNumber)
	}
	return p.ViewNumber + 1, nil
}

func newChangeViewFromBytes(bz []byte) (*ChangeView, lib.ErrorI) {
	x := new(ChangeView)
	err := lib.ReadProtoFields(bz, func(f lib.ProtoField) (e lib.ErrorI) {
		switch f.Num {
		case 1:
			x.Timestamp = f.Varint
		case 2:
			var r uint8
			r, e = f.Uint8()
			x.Reason = ChangeViewReason(r)
		}
		return
	})
	return x, err
}

// RECOVERY REQUEST

// RecoveryRequest asks the responsible peers for a RecoveryMessage
type RecoveryRequest struct {
	Timestamp uint64 `json:"timestamp"`
}

func (x *RecoveryRequest) Type() MessageType { return MsgRecoveryRequest }

func (x *RecoveryRequest) Bytes() []byte {
	return lib.NewProtoWriter().Uint(1, x.Timestamp).Out()
}

func newRecoveryRequestFromBytes(bz []byte) (*RecoveryRequest, lib.ErrorI) {
	x := new(RecoveryRequest)
	err := lib.ReadProtoFields(bz, func(f lib.ProtoField) lib.ErrorI {
		if f.Num == 1 {
			x.Timestamp = f.Varint
		}
		return nil
	})
	return x, err
}
