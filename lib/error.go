package lib

import (
	"errors"
	"fmt"
	"math"
)

type ErrorI interface {
	Code() ErrorCode     // Returns the error code
	Module() ErrorModule // Returns the error module
	error                // Implements the built-in error interface
}

var _ ErrorI = &Error{} // Ensures *Error implements ErrorI

type ErrorCode uint32 // Defines a type for error codes

type ErrorModule string // Defines a type for error modules

type Error struct {
	ECode   ErrorCode   `json:"code"`   // Error code
	EModule ErrorModule `json:"module"` // Error module
	Msg     string      `json:"msg"`    // Error message
}

func NewError(code ErrorCode, module ErrorModule, msg string) *Error {
	// Constructs a new Error instance
	return &Error{ECode: code, EModule: module, Msg: msg}
}

// Code() returns the associated error code
func (p *Error) Code() ErrorCode { return p.ECode }

// Module() returns module field
func (p *Error) Module() ErrorModule { return p.EModule }

// String() calls Error()
func (p *Error) String() string { return p.Error() }

// Error() returns a formatted string including module, code and message
func (p *Error) Error() string {
	return fmt.Sprintf("\nModule:  %s\nCode:    %d\nMessage: %s", p.EModule, p.ECode, p.Msg)
}

const (
	NoCode ErrorCode = math.MaxUint32

	// Main Module
	MainModule ErrorModule = "main"

	// Main Module Error Codes
	CodeJSONMarshal          ErrorCode = 2
	CodeJSONUnmarshal        ErrorCode = 3
	CodeUnmarshal            ErrorCode = 4
	CodeMarshal              ErrorCode = 5
	CodeNilBlock             ErrorCode = 9
	CodeNilBlockHeader       ErrorCode = 10
	CodeWrongLengthBlockHash ErrorCode = 13
	CodeNewPubKeyFromBytes   ErrorCode = 23
	CodeWriteFile            ErrorCode = 25
	CodeReadFile             ErrorCode = 26
	CodeInvalidArgument      ErrorCode = 27
	CodeNoValidators         ErrorCode = 29
	CodeInvalidConfig        ErrorCode = 32
	CodeMempoolFull          ErrorCode = 33
	CodeMaxTxSize            ErrorCode = 34
	CodeDuplicateTransaction ErrorCode = 35
	CodeInvalidWitness       ErrorCode = 36
	CodeAggregateSignature   ErrorCode = 37
	CodeNonSequentialBlock   ErrorCode = 38
	CodeMismatchPrevHash     ErrorCode = 39

	// Consensus Module
	ConsensusModule ErrorModule = "consensus"

	// Consensus Module Error Codes

	// protocol violations (dropped, never fatal)
	CodeInvalidValidatorIndex   ErrorCode = 1
	CodeInvalidSignature        ErrorCode = 2
	CodeEmptySignature          ErrorCode = 3
	CodeWrongPrimary            ErrorCode = 4
	CodeDuplicateMessage        ErrorCode = 5
	CodeDuplicatePrepareRequest ErrorCode = 6
	CodeWrongNetwork            ErrorCode = 7
	CodeMismatchPreparationHash ErrorCode = 8
	CodeUnknownMessageType      ErrorCode = 10
	CodeMalformedMessage        ErrorCode = 11
	CodeConflictingCommit       ErrorCode = 12

	// state errors (surfaced to the caller)
	CodeNotStarted     ErrorCode = 20
	CodeAlreadyStarted ErrorCode = 21
	CodeEngineStopped  ErrorCode = 22
	CodeViewOverflow   ErrorCode = 23
	CodeNotValidator   ErrorCode = 24
	CodeCommitSent     ErrorCode = 25
	CodeInboxFull      ErrorCode = 26

	// messages that are valid but do not apply to the local round
	CodeWrongHeight          ErrorCode = 30
	CodeWrongView            ErrorCode = 31
	CodeViewChanging         ErrorCode = 32
	CodeRecoveryInapplicable ErrorCode = 33

	// proposals the local node refuses to endorse; answered with a ChangeView, never blamed on the primary
	CodeInvalidProposal ErrorCode = 40

	// Storage Module
	StorageModule ErrorModule = "store"

	// Storage Module Error Codes
	CodeOpenDB       ErrorCode = 1
	CodeCloseDB      ErrorCode = 2
	CodeStoreSet     ErrorCode = 3
	CodeStoreGet     ErrorCode = 4
	CodeBlockMissing ErrorCode = 5

	// P2P Module
	P2PModule ErrorModule = "p2p"

	// P2P Module Error Codes
	CodePeerAlreadyExists ErrorCode = 1
	CodePeerNotFound      ErrorCode = 2

	// RPC Module
	RPCModule ErrorModule = "rpc"

	// RPC Module Error Codes
	CodeRPCTimeout    ErrorCode = 1
	CodeInvalidParams ErrorCode = 2
	CodeListen        ErrorCode = 3
	CodePostRequest   ErrorCode = 4
	CodeGetRequest    ErrorCode = 5
	CodeHttpStatus    ErrorCode = 6
	CodeReadBody      ErrorCode = 7

	// Crypto Module
	CryptoModule ErrorModule = "crypto"

	// Crypto Module Error Codes
	CodeSign          ErrorCode = 1
	CodeUnknownSigner ErrorCode = 2
	CodeKeystore      ErrorCode = 3
)

// ERROR CLASSIFICATION

// IsProtocolViolation() returns true if the error means a peer sent something it never should have
func IsProtocolViolation(err error) bool {
	return hasCode(err, ConsensusModule, func(c ErrorCode) bool { return c < CodeNotStarted })
}

// IsStateError() returns true if the error means the engine was driven in an invalid order
func IsStateError(err error) bool {
	return hasCode(err, ConsensusModule, func(c ErrorCode) bool { return c >= CodeNotStarted && c < CodeWrongHeight })
}

// IsRecoveryInapplicable() returns true if the message was valid but doesn't apply to the local round
func IsRecoveryInapplicable(err error) bool {
	return hasCode(err, ConsensusModule, func(c ErrorCode) bool { return c >= CodeWrongHeight && c < CodeInvalidProposal })
}

// IsPolicyRejection() returns true if the node declined a well-formed proposal
func IsPolicyRejection(err error) bool {
	return hasCode(err, ConsensusModule, func(c ErrorCode) bool { return c >= CodeInvalidProposal })
}

// IsConfigError() returns true if the error is a fatal configuration problem
func IsConfigError(err error) bool {
	return hasCode(err, MainModule, func(c ErrorCode) bool { return c == CodeInvalidConfig })
}

func hasCode(err error, module ErrorModule, match func(ErrorCode) bool) bool {
	var e ErrorI
	if !errors.As(err, &e) || e == nil {
		return false
	}
	return e.Module() == module && match(e.Code())
}

// MAIN ERRORS

func ErrJSONMarshal(err error) ErrorI {
	return NewError(CodeJSONMarshal, MainModule, fmt.Sprintf("json.marshal() failed with err: %s", err.Error()))
}

func ErrJSONUnmarshal(err error) ErrorI {
	return NewError(CodeJSONUnmarshal, MainModule, fmt.Sprintf("json.unmarshal() failed with err: %s", err.Error()))
}

func ErrUnmarshal(err error) ErrorI {
	return NewError(CodeUnmarshal, MainModule, fmt.Sprintf("unmarshal() failed with err: %s", err.Error()))
}

func ErrMarshal(err error) ErrorI {
	return NewError(CodeMarshal, MainModule, fmt.Sprintf("marshal() failed with err: %s", err.Error()))
}

func ErrNilBlock() ErrorI {
	return NewError(CodeNilBlock, MainModule, "block is nil")
}

func ErrNilBlockHeader() ErrorI {
	return NewError(CodeNilBlockHeader, MainModule, "block.header is nil")
}

func ErrWrongLengthBlockHash() ErrorI {
	return NewError(CodeWrongLengthBlockHash, MainModule, "wrong length block hash")
}

func ErrPubKeyFromBytes(err error) ErrorI {
	return NewError(CodeNewPubKeyFromBytes, MainModule, fmt.Sprintf("publicKeyFromBytes() failed with err: %s", err.Error()))
}

func ErrWriteFile(err error) ErrorI {
	return NewError(CodeWriteFile, MainModule, fmt.Sprintf("os.WriteFile() failed with err: %s", err.Error()))
}

func ErrReadFile(err error) ErrorI {
	return NewError(CodeReadFile, MainModule, fmt.Sprintf("os.ReadFile() failed with err: %s", err.Error()))
}

func ErrInvalidArgument() ErrorI {
	return NewError(CodeInvalidArgument, MainModule, "the argument is invalid")
}

func ErrNoValidators() ErrorI {
	return NewError(CodeNoValidators, MainModule, "there are no validators in the set")
}

func ErrInvalidConfig(reason string) ErrorI {
	return NewError(CodeInvalidConfig, MainModule, fmt.Sprintf("invalid configuration: %s", reason))
}

func ErrMempoolFull() ErrorI {
	return NewError(CodeMempoolFull, MainModule, "the mempool is full")
}

func ErrMaxTxSize() ErrorI {
	return NewError(CodeMaxTxSize, MainModule, "transaction exceeds the max size")
}

func ErrDuplicateTransaction() ErrorI {
	return NewError(CodeDuplicateTransaction, MainModule, "duplicate transaction")
}

func ErrInvalidWitness(reason string) ErrorI {
	return NewError(CodeInvalidWitness, MainModule, fmt.Sprintf("invalid block witness: %s", reason))
}

func ErrAggregateSignature(err error) ErrorI {
	return NewError(CodeAggregateSignature, MainModule, fmt.Sprintf("aggregateSignature() failed with err: %s", err.Error()))
}

// CONSENSUS ERRORS

func ErrInvalidValidatorIndex(index uint8) ErrorI {
	return NewError(CodeInvalidValidatorIndex, ConsensusModule, fmt.Sprintf("invalid validator index: %d", index))
}

func ErrInvalidSignature() ErrorI {
	return NewError(CodeInvalidSignature, ConsensusModule, "invalid signature")
}

func ErrEmptySignature() ErrorI {
	return NewError(CodeEmptySignature, ConsensusModule, "empty signature")
}

func ErrWrongPrimary(expected, got uint8) ErrorI {
	return NewError(CodeWrongPrimary, ConsensusModule, fmt.Sprintf("wrong primary: expected %d, got %d", expected, got))
}

func ErrDuplicateMessage() ErrorI {
	return NewError(CodeDuplicateMessage, ConsensusModule, "duplicate message")
}

func ErrDuplicatePrepareRequest() ErrorI {
	return NewError(CodeDuplicatePrepareRequest, ConsensusModule, "prepare request already received for this view")
}

func ErrWrongNetwork(expected, got uint32) ErrorI {
	return NewError(CodeWrongNetwork, ConsensusModule, fmt.Sprintf("wrong network magic: expected %d, got %d", expected, got))
}

func ErrMismatchPreparationHash() ErrorI {
	return NewError(CodeMismatchPreparationHash, ConsensusModule, "preparation hash doesn't match the prepare request")
}

func ErrInvalidProposal(reason string) ErrorI {
	return NewError(CodeInvalidProposal, ConsensusModule, fmt.Sprintf("invalid proposal: %s", reason))
}

func ErrUnknownMessageType(t uint8) ErrorI {
	return NewError(CodeUnknownMessageType, ConsensusModule, fmt.Sprintf("unknown consensus message type: %d", t))
}

func ErrMalformedMessage(reason string) ErrorI {
	return NewError(CodeMalformedMessage, ConsensusModule, fmt.Sprintf("malformed consensus message: %s", reason))
}

func ErrConflictingCommit(index uint8) ErrorI {
	return NewError(CodeConflictingCommit, ConsensusModule, fmt.Sprintf("validator %d sent a conflicting commit", index))
}

func ErrNotStarted() ErrorI {
	return NewError(CodeNotStarted, ConsensusModule, "consensus engine not started")
}

func ErrAlreadyStarted() ErrorI {
	return NewError(CodeAlreadyStarted, ConsensusModule, "consensus engine already started")
}

func ErrEngineStopped() ErrorI {
	return NewError(CodeEngineStopped, ConsensusModule, "consensus engine is stopped")
}

func ErrViewOverflow(view uint8) ErrorI {
	return NewError(CodeViewOverflow, ConsensusModule, fmt.Sprintf("view number %d can't be advanced further", view))
}

func ErrNotValidator() ErrorI {
	return NewError(CodeNotValidator, ConsensusModule, "self is not a validator")
}

func ErrCommitSent() ErrorI {
	return NewError(CodeCommitSent, ConsensusModule, "commit already sent for this height")
}

func ErrInboxFull() ErrorI {
	return NewError(CodeInboxFull, ConsensusModule, "consensus inbox is full")
}

func ErrWrongHeight(expected, got uint32) ErrorI {
	return NewError(CodeWrongHeight, ConsensusModule, fmt.Sprintf("wrong height: expected %d, got %d", expected, got))
}

func ErrWrongView(expected, got uint8) ErrorI {
	return NewError(CodeWrongView, ConsensusModule, fmt.Sprintf("wrong view: expected %d, got %d", expected, got))
}

func ErrViewChanging() ErrorI {
	return NewError(CodeViewChanging, ConsensusModule, "not accepting payloads while view changing")
}

func ErrRecoveryInapplicable(reason string) ErrorI {
	return NewError(CodeRecoveryInapplicable, ConsensusModule, fmt.Sprintf("recovery inapplicable: %s", reason))
}

// STORAGE ERRORS

func ErrOpenDB(err error) ErrorI {
	return NewError(CodeOpenDB, StorageModule, fmt.Sprintf("openDB() failed with err: %s", err.Error()))
}

func ErrCloseDB(err error) ErrorI {
	return NewError(CodeCloseDB, StorageModule, fmt.Sprintf("closeDB() failed with err: %s", err.Error()))
}

func ErrStoreSet(err error) ErrorI {
	return NewError(CodeStoreSet, StorageModule, fmt.Sprintf("store.set() failed with err: %s", err.Error()))
}

func ErrStoreGet(err error) ErrorI {
	return NewError(CodeStoreGet, StorageModule, fmt.Sprintf("store.get() failed with err: %s", err.Error()))
}

func ErrBlockMissing(height uint32) ErrorI {
	return NewError(CodeBlockMissing, StorageModule, fmt.Sprintf("block at height %d not found", height))
}

// CRYPTO ERRORS

func ErrSign(err error) ErrorI {
	return NewError(CodeSign, CryptoModule, fmt.Sprintf("sign() failed with err: %s", err.Error()))
}

func ErrUnknownSigner(account string) ErrorI {
	return NewError(CodeUnknownSigner, CryptoModule, fmt.Sprintf("no key loaded for account %s", account))
}

func ErrKeystore(err error) ErrorI {
	return NewError(CodeKeystore, CryptoModule, fmt.Sprintf("keystore failed with err: %s", err.Error()))
}
