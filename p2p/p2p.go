package p2p

import (
	"github.com/canopy-network/dbft/bft"
	"github.com/canopy-network/dbft/lib"
)

/*
	LocalNetwork is an in-process broadcast bus between the engines of one committee.
	Every payload is serialized once and each recipient decodes its own copy, so engines never share
	payload memory and everything they see went through the wire codec.
	Delivery is fire and forget: a full inbox or a stopped engine drops the payload for that recipient.
	Violations reported by the engines lower the reputation of the offender; a peer that falls below the
	minimum reputation is muted and its broadcasts are no longer delivered.
*/

var (
	_ bft.BroadcasterI       = &Endpoint{}
	_ bft.ViolationReporterI = &Endpoint{}
)

type LocalNetwork struct {
	PeerSet              // members of the bus
	metrics *lib.Metrics // telemetry
	log     lib.LoggerI  // logger
}

// NewLocalNetwork() creates an empty bus
func NewLocalNetwork(metrics *lib.Metrics, l lib.LoggerI) *LocalNetwork {
	if l == nil {
		l = lib.NewNullLogger()
	}
	return &LocalNetwork{PeerSet: NewPeerSet(), metrics: metrics, log: l.WithPrefix("p2p")}
}

// Join() adds a receiver under a validator index and returns the endpoint the engine broadcasts and reports through
func (n *LocalNetwork) Join(index uint8, r ReceiverI) (*Endpoint, lib.ErrorI) {
	if err := n.Add(index, r); err != nil {
		return nil, err
	}
	return &Endpoint{network: n, index: index}, nil
}

// Partition() disconnects a peer from the bus; it neither sends nor receives until healed
func (n *LocalNetwork) Partition(index uint8) lib.ErrorI { return n.SetConnected(index, false) }

// Heal() reconnects a partitioned peer
func (n *LocalNetwork) Heal(index uint8) lib.ErrorI { return n.SetConnected(index, true) }

// broadcast() delivers a payload of the sender to every other connected peer
func (n *LocalNetwork) broadcast(from uint8, p *bft.Payload) {
	recipients := n.recipients(from)
	if len(recipients) == 0 {
		return
	}
	n.metrics.IncBroadcast()
	bz := p.Bytes()
	for _, peer := range recipients {
		wire, err := bft.NewPayloadFromBytes(bz)
		if err != nil {
			n.log.Errorf("Unable to decode %s from %d: %s", p, from, err.Error())
			return
		}
		if err = peer.receiver.Receive(wire); err != nil {
			n.log.Debugf("Peer %d dropped %s from %d: %s", peer.Index, p, from, err.Error())
		}
	}
}

// Endpoint is the attachment of one validator to the bus
type Endpoint struct {
	network *LocalNetwork
	index   uint8
}

// Broadcast() sends the payload to every other peer
func (e *Endpoint) Broadcast(p *bft.Payload) { e.network.broadcast(e.index, p) }

// ReportViolation() penalizes the offending validator
func (e *Endpoint) ReportViolation(validatorIndex uint8, err lib.ErrorI) {
	e.network.log.Warnf("Peer %d reported a violation by %d: %s", e.index, validatorIndex, err.Error())
	e.network.ChangeReputation(validatorIndex, ViolationPenalty)
}

// Index() returns the validator index of the endpoint
func (e *Endpoint) Index() uint8 { return e.index }
