package p2p

import (
	"sort"
	"sync"

	"github.com/canopy-network/dbft/bft"
	"github.com/canopy-network/dbft/lib"
)

const (
	MaxPeerReputation     = 10
	MinimumPeerReputation = -10
	ViolationPenalty      = -4 // reputation lost for every reported protocol violation
)

// ReceiverI is what a peer hands received payloads to; the consensus engine implements it
type ReceiverI interface {
	Receive(p *bft.Payload) lib.ErrorI
}

// PeerSet is the structure that maintains the members of the bus and their reputation
type PeerSet struct {
	m            map[uint8]*Peer // validator index -> Peer
	sync.RWMutex                 // read / write mutex
}

func NewPeerSet() PeerSet {
	return PeerSet{m: make(map[uint8]*Peer)}
}

// Peer is a bus member plus its standing
type Peer struct {
	receiver ReceiverI
	PeerInfo
}

// PeerInfo is a copy of the observable peer state
type PeerInfo struct {
	Index      uint8 `json:"index"`
	Reputation int32 `json:"reputation"`
	Muted      bool  `json:"muted"`     // reputation dropped below the minimum: its broadcasts aren't delivered
	Connected  bool  `json:"connected"` // false while partitioned from the bus
}

// Add() introduces a peer to the set
func (ps *PeerSet) Add(index uint8, r ReceiverI) lib.ErrorI {
	ps.Lock()
	defer ps.Unlock()
	if _, found := ps.m[index]; found {
		return ErrPeerAlreadyExists(index)
	}
	ps.m[index] = &Peer{receiver: r, PeerInfo: PeerInfo{Index: index, Connected: true}}
	return nil
}

// Remove() evicts a peer from the set
func (ps *PeerSet) Remove(index uint8) lib.ErrorI {
	ps.Lock()
	defer ps.Unlock()
	if _, found := ps.m[index]; !found {
		return ErrPeerNotFound(index)
	}
	delete(ps.m, index)
	return nil
}

// ChangeReputation() updates the peer reputation +/- based on the int32 delta
func (ps *PeerSet) ChangeReputation(index uint8, delta int32) {
	ps.Lock()
	defer ps.Unlock()
	peer, found := ps.m[index]
	if !found {
		return
	}
	// update the peers reputation
	peer.Reputation += delta
	// enforce maximum peer reputation
	if peer.Reputation >= MaxPeerReputation {
		peer.Reputation = MaxPeerReputation
	}
	// a peer is heard only while its reputation is at or above the minimum
	peer.Muted = peer.Reputation < MinimumPeerReputation
}

// SetConnected() partitions a peer from the bus or heals the partition
func (ps *PeerSet) SetConnected(index uint8, connected bool) lib.ErrorI {
	ps.Lock()
	defer ps.Unlock()
	peer, found := ps.m[index]
	if !found {
		return ErrPeerNotFound(index)
	}
	peer.Connected = connected
	return nil
}

// GetPeerInfo() returns a copy of the peer state
func (ps *PeerSet) GetPeerInfo(index uint8) (PeerInfo, lib.ErrorI) {
	ps.RLock()
	defer ps.RUnlock()
	peer, found := ps.m[index]
	if !found {
		return PeerInfo{}, ErrPeerNotFound(index)
	}
	return peer.PeerInfo, nil
}

// GetAllInfos() returns a copy of every peer state ordered by index
func (ps *PeerSet) GetAllInfos() (res []PeerInfo) {
	ps.RLock()
	defer ps.RUnlock()
	for _, peer := range ps.m {
		res = append(res, peer.PeerInfo)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Index < res[j].Index })
	return
}

// recipients() returns the receivers a payload from the sender reaches; none when the sender is muted or partitioned
func (ps *PeerSet) recipients(from uint8) (out []*Peer) {
	ps.RLock()
	defer ps.RUnlock()
	sender, found := ps.m[from]
	if !found || sender.Muted || !sender.Connected {
		return nil
	}
	for index, peer := range ps.m {
		if index == from || !peer.Connected {
			continue
		}
		out = append(out, peer)
	}
	return
}
