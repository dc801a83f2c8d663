package bft

import "fmt"

// MessageType identifies the body carried by a consensus Payload
type MessageType uint8

const (
	MsgChangeView      MessageType = 0x00
	MsgPrepareRequest  MessageType = 0x20
	MsgPrepareResponse MessageType = 0x21
	MsgCommit          MessageType = 0x30
	MsgRecoveryRequest MessageType = 0x40
	MsgRecoveryMessage MessageType = 0x41
)

func (t MessageType) String() string {
	switch t {
	case MsgChangeView:
		return "ChangeView"
	case MsgPrepareRequest:
		return "PrepareRequest"
	case MsgPrepareResponse:
		return "PrepareResponse"
	case MsgCommit:
		return "Commit"
	case MsgRecoveryRequest:
		return "RecoveryRequest"
	case MsgRecoveryMessage:
		return "RecoveryMessage"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(t))
	}
}

// ChangeViewReason explains why a validator asked to leave the current view
type ChangeViewReason uint8

const (
	ReasonTimeout               ChangeViewReason = 0x00
	ReasonChangeAgreement       ChangeViewReason = 0x01
	ReasonTxNotFound            ChangeViewReason = 0x02
	ReasonTxRejectedByPolicy    ChangeViewReason = 0x03
	ReasonTxInvalid             ChangeViewReason = 0x04
	ReasonBlockRejectedByPolicy ChangeViewReason = 0x05
)

func (r ChangeViewReason) String() string {
	switch r {
	case ReasonTimeout:
		return "Timeout"
	case ReasonChangeAgreement:
		return "ChangeAgreement"
	case ReasonTxNotFound:
		return "TxNotFound"
	case ReasonTxRejectedByPolicy:
		return "TxRejectedByPolicy"
	case ReasonTxInvalid:
		return "TxInvalid"
	case ReasonBlockRejectedByPolicy:
		return "BlockRejectedByPolicy"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(r))
	}
}

// MarshalText() renders the reason name in JSON
func (r ChangeViewReason) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// UnmarshalText() parses a reason name
func (r *ChangeViewReason) UnmarshalText(b []byte) error {
	for c := ReasonTimeout; c <= ReasonBlockRejectedByPolicy; c++ {
		if c.String() == string(b) {
			*r = c
			return nil
		}
	}
	return fmt.Errorf("unknown change view reason %q", b)
}

// Phase is the step of the current round
type Phase uint8

const (
	Initial Phase = iota
	WaitingForPrepareRequest
	WaitingForPrepareResponses
	WaitingForCommits
	BlockCommitted
	ViewChanging
	Recovery
	Stopped
)

func (p Phase) String() string {
	switch p {
	case Initial:
		return "Initial"
	case WaitingForPrepareRequest:
		return "WaitingForPrepareRequest"
	case WaitingForPrepareResponses:
		return "WaitingForPrepareResponses"
	case WaitingForCommits:
		return "WaitingForCommits"
	case BlockCommitted:
		return "BlockCommitted"
	case ViewChanging:
		return "ViewChanging"
	case Recovery:
		return "Recovery"
	case Stopped:
		return "Stopped"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(p))
	}
}

// MarshalText() renders the phase name in JSON
func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText() parses a phase name
func (p *Phase) UnmarshalText(b []byte) error {
	for c := Initial; c <= Stopped; c++ {
		if c.String() == string(b) {
			*p = c
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", b)
}

// EngineState is the coarse role based state of the Engine
type EngineState uint8

const (
	StateInitial EngineState = iota
	StateStarted
	StatePrimary
	StateBackup
	StateRequestSent
	StateResponseSent
	StateCommitSent
	StateViewChanging
	StateStopped
)

func (s EngineState) String() string {
	switch s {
	case StateInitial:
		return "Initial"
	case StateStarted:
		return "Started"
	case StatePrimary:
		return "Primary"
	case StateBackup:
		return "Backup"
	case StateRequestSent:
		return "RequestSent"
	case StateResponseSent:
		return "ResponseSent"
	case StateCommitSent:
		return "CommitSent"
	case StateViewChanging:
		return "ViewChanging"
	case StateStopped:
		return "Stopped"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(s))
	}
}

// MarshalText() renders the state name in JSON
func (s EngineState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText() parses a state name
func (s *EngineState) UnmarshalText(b []byte) error {
	for c := StateInitial; c <= StateStopped; c++ {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown engine state %q", b)
}
