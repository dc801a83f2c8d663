package rpc

import (
	"github.com/canopy-network/dbft/bft"
	"github.com/canopy-network/dbft/lib"
)

// =====================================================
// Query Request Types
// =====================================================

// memberRequest selects the committee member whose view is queried
type memberRequest struct {
	Member int `json:"member"`
}

type heightRequest struct {
	memberRequest
	Height uint32 `json:"height"`
}

type hashRequest struct {
	memberRequest
	Hash lib.HexBytes `json:"hash"`
}

type txRequest struct {
	Tx  lib.HexBytes `json:"tx"`
	Fee uint64       `json:"fee"`
}

// =====================================================
// Query Response Types
// =====================================================

// MemberStatus summarizes one member of the committee
type MemberStatus struct {
	Member         int             `json:"member"`
	ValidatorIndex int             `json:"validatorIndex"` // -1 for observers
	PublicKey      lib.HexBytes    `json:"publicKey"`
	State          bft.EngineState `json:"state"`
	Height         uint32          `json:"height"` // latest finalized block
	MempoolTxs     int             `json:"mempoolTxs"`
}

type heightResponse struct {
	Height uint32 `json:"height"`
}

type txResponse struct {
	Hash lib.HexBytes `json:"hash"`
}

type pendingResponse struct {
	TotalCount int            `json:"totalCount"`
	TotalBytes int            `json:"totalBytes"`
	Hashes     []lib.HexBytes `json:"hashes"`
}
