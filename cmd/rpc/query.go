package rpc

import (
	"net/http"

	"github.com/canopy-network/dbft/controller"
	"github.com/canopy-network/dbft/lib"
	"github.com/julienschmidt/httprouter"
)

// Version writes the software version
func (s *Server) Version(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	write(w, SoftwareVersion, http.StatusOK)
}

// Transaction submits a transaction to the mempool of every member
func (s *Server) Transaction(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	req := new(txRequest)
	if !unmarshal(w, r, req) {
		return
	}
	hash, err := s.node.SubmitTransaction(req.Tx, req.Fee)
	if err != nil {
		write(w, err, http.StatusBadRequest)
		return
	}
	write(w, txResponse{Hash: hash}, http.StatusOK)
}

// Members responds with a status line for every member of the committee
func (s *Server) Members(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	var members []MemberStatus
	for i, c := range s.node.Controllers {
		members = append(members, MemberStatus{
			Member:         i,
			ValidatorIndex: c.Engine.MyIndex(),
			PublicKey:      c.PublicKey.Bytes(),
			State:          c.Engine.State(),
			Height:         c.Ledger.Height(),
			MempoolTxs:     c.Mempool.TxCount(),
		})
	}
	write(w, members, http.StatusOK)
}

// Height responds with the latest finalized height of the member
func (s *Server) Height(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.memberParams(w, r, func(c *controller.Controller) (any, lib.ErrorI) {
		return heightResponse{Height: c.Ledger.Height()}, nil
	})
}

// Round responds with a snapshot of the round the member is in
func (s *Server) Round(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.memberParams(w, r, func(c *controller.Controller) (any, lib.ErrorI) {
		return c.Engine.Snapshot(), nil
	})
}

// Statistics responds with the running counters of the member
func (s *Server) Statistics(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.memberParams(w, r, func(c *controller.Controller) (any, lib.ErrorI) {
		return c.Engine.Statistics(), nil
	})
}

// ValidatorSet responds with the committee
func (s *Server) ValidatorSet(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	write(w, s.node.Validators, http.StatusOK)
}

// BlockByHeight responds with the finalized block of the member at the height
func (s *Server) BlockByHeight(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	req := new(heightRequest)
	if !unmarshal(w, r, req) {
		return
	}
	s.respond(w, req.Member, func(c *controller.Controller) (any, lib.ErrorI) {
		if req.Height == 0 {
			req.Height = c.Ledger.Height()
		}
		return c.Store.GetBlockByHeight(req.Height)
	})
}

// BlockByHash responds with the finalized block of the member with the hash
func (s *Server) BlockByHash(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	req := new(hashRequest)
	if !unmarshal(w, r, req) {
		return
	}
	s.respond(w, req.Member, func(c *controller.Controller) (any, lib.ErrorI) {
		return c.Store.GetBlockByHash(req.Hash)
	})
}

// Pending responds with the mempool of the member ordered by fee
func (s *Server) Pending(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.memberParams(w, r, func(c *controller.Controller) (any, lib.ErrorI) {
		p := pendingResponse{TotalCount: c.Mempool.TxCount(), TotalBytes: c.Mempool.TxsBytes()}
		for _, h := range c.Mempool.SelectTransactions(p.TotalCount) {
			p.Hashes = append(p.Hashes, h)
		}
		return p, nil
	})
}

// PeerInfo responds with the reputation and connectivity of every member on the bus
func (s *Server) PeerInfo(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	write(w, s.node.Network.GetAllInfos(), http.StatusOK)
}

// Config responds with the node configuration
func (s *Server) Config(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	write(w, s.config, http.StatusOK)
}
