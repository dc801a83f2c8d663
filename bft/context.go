package bft

import (
	"bytes"
	"sort"
	"sync"
	"time"

	"github.com/canopy-network/dbft/lib"
	"github.com/canopy-network/dbft/lib/crypto"
)

// seenPayloadLimit bounds the accepted-payload cache of a height
const seenPayloadLimit = 10_000

// Round is the state of one block agreement attempt, keyed by (BlockIndex, ViewNumber)
// Commits and ChangeViews live for the whole height; everything else is reset on a view change
type Round struct {
	BlockIndex    uint32
	ViewNumber    uint8
	Phase         Phase
	StartedAt     time.Time // when the height started
	ViewStartedAt time.Time
	PrimaryIndex  uint8
	PrevHash      []byte

	PrepareRequest   *Payload           // at most one, from the primary of the view
	Proposal         *PrepareRequest    // decoded PrepareRequest
	Header           *lib.Header        // the header the proposal commits to
	PrepareResponses map[uint8]*Payload // validator index -> PrepareResponse of this view
	Commits          map[uint8]*Payload // validator index -> Commit of any view of this height
	ChangeViews      map[uint8]*Payload // validator index -> latest ChangeView of this height
	LastChangeViews  map[uint8]*Payload // the ChangeViews that moved the round into the current view
	MyCommit         *Payload

	PrepareResponseSent bool
	CommitSent          bool
	ChangeViewSent      bool
	ChangeViewReason    ChangeViewReason // why the round left its previous view
}

func newRound(blockIndex uint32, prevHash []byte) *Round {
	now := time.Now()
	return &Round{
		BlockIndex:       blockIndex,
		Phase:            WaitingForPrepareRequest,
		StartedAt:        now,
		ViewStartedAt:    now,
		PrevHash:         prevHash,
		PrepareResponses: make(map[uint8]*Payload),
		Commits:          make(map[uint8]*Payload),
		ChangeViews:      make(map[uint8]*Payload),
		LastChangeViews:  make(map[uint8]*Payload),
	}
}

// Context is the mutable consensus state of a node: the live Round, the timers, liveness tracking and statistics
// Exported methods take the lock themselves; unexported ones expect the caller to hold it
type Context struct {
	sync.RWMutex
	validators        *lib.ValidatorSet
	myIndex           int // -1 when the node only observes
	round             *Round
	timers            *Timers
	lastSeen          []int64 // validator index -> highest block index heard from
	lastCommittedHash []byte
	seen              *lib.DeDuplicator[string]
	stats             Statistics
}

// NewContext() creates the context; myIndex is -1 for a non-validating node
func NewContext(validators *lib.ValidatorSet, myIndex int, timers *Timers) *Context {
	if timers == nil {
		timers = NewTimers(nil)
	}
	return &Context{
		validators: validators,
		myIndex:    myIndex,
		timers:     timers,
		seen:       lib.NewDeDuplicator[string](seenPayloadLimit),
	}
}

// StartRound() begins agreement on a block index at view 0
// Restarting the height the node already committed for keeps the commit
func (c *Context) StartRound(blockIndex uint32, prevHash []byte) {
	c.Lock()
	defer c.Unlock()
	c.startRound(blockIndex, prevHash)
}

// ChangeView() moves to a higher view of the same height for the reason; lower or equal views are rejected
func (c *Context) ChangeView(view uint8, reason ChangeViewReason) lib.ErrorI {
	c.Lock()
	defer c.Unlock()
	return c.changeView(view, reason)
}

// Timers() returns the round timers
func (c *Context) Timers() *Timers { return c.timers }

// Validators() returns the committee
func (c *Context) Validators() *lib.ValidatorSet { return c.validators }

// MyIndex() returns the local validator index or -1
func (c *Context) MyIndex() int { return c.myIndex }

// BlockIndex() returns the height being agreed on
func (c *Context) BlockIndex() uint32 {
	c.RLock()
	defer c.RUnlock()
	if c.round == nil {
		return 0
	}
	return c.round.BlockIndex
}

// ViewNumber() returns the current view
func (c *Context) ViewNumber() uint8 {
	c.RLock()
	defer c.RUnlock()
	if c.round == nil {
		return 0
	}
	return c.round.ViewNumber
}

// Phase() returns the current phase
func (c *Context) Phase() Phase {
	c.RLock()
	defer c.RUnlock()
	if c.round == nil {
		return Initial
	}
	return c.round.Phase
}

// PrimaryIndex() returns the primary of the current view
func (c *Context) PrimaryIndex() uint8 {
	c.RLock()
	defer c.RUnlock()
	if c.round == nil {
		return 0
	}
	return c.round.PrimaryIndex
}

// IsPrimary() reports whether the local validator leads the current view
func (c *Context) IsPrimary() bool {
	c.RLock()
	defer c.RUnlock()
	return c.isPrimary()
}

// PrepareResponseCount() returns the number of preparations, counting the primary's request as its response
func (c *Context) PrepareResponseCount() int {
	c.RLock()
	defer c.RUnlock()
	return c.preparationCount()
}

// CommitCount() returns the number of commits for the current view
func (c *Context) CommitCount() int {
	c.RLock()
	defer c.RUnlock()
	return c.commitCountForView()
}

// ChangeViewCount() returns the number of validators asking for at least the view
func (c *Context) ChangeViewCount(view uint8) int {
	c.RLock()
	defer c.RUnlock()
	return c.changeViewCount(view)
}

// CountFailed() returns the number of validators not heard from since the previous height
func (c *Context) CountFailed() int {
	c.RLock()
	defer c.RUnlock()
	return c.countFailed()
}

// MyCommit() returns the local commit of this height, if any
func (c *Context) MyCommit() *Payload {
	c.RLock()
	defer c.RUnlock()
	if c.round == nil {
		return nil
	}
	return c.round.MyCommit
}

// RoundSnapshot is a cloned, read-only view of the context
type RoundSnapshot struct {
	BlockIndex          uint32             `json:"blockIndex"`
	ViewNumber          uint8              `json:"viewNumber"`
	Phase               Phase              `json:"phase"`
	PrimaryIndex        uint8              `json:"primaryIndex"`
	MyIndex             int                `json:"myIndex"`
	StartedAt           time.Time          `json:"startedAt"`
	PreparationHash     lib.HexBytes       `json:"preparationHash,omitempty"`
	BlockHash           lib.HexBytes       `json:"blockHash,omitempty"`
	PrepareResponses    []uint8            `json:"prepareResponses"`
	Commits             []uint8            `json:"commits"`
	ChangeViews         []uint8            `json:"changeViews"`
	PrepareResponseSent bool               `json:"prepareResponseSent"`
	CommitSent          bool               `json:"commitSent"`
	ChangeViewSent      bool               `json:"changeViewSent"`
	ChangeViewReason    ChangeViewReason   `json:"changeViewReason"`
	CountFailed         int                `json:"countFailed"`
	ActiveTimers        []string           `json:"activeTimers"`
	LastCommittedHash   lib.HexBytes       `json:"lastCommittedHash,omitempty"`
	Statistics          StatisticsSnapshot `json:"statistics"`
}

// Snapshot() clones the round state; readers never observe a partially applied transition
func (c *Context) Snapshot() RoundSnapshot {
	c.RLock()
	defer c.RUnlock()
	s := RoundSnapshot{
		MyIndex:           c.myIndex,
		LastCommittedHash: append([]byte(nil), c.lastCommittedHash...),
		Statistics:        c.stats.Snapshot(),
	}
	for _, t := range c.timers.Active() {
		s.ActiveTimers = append(s.ActiveTimers, t.String())
	}
	r := c.round
	if r == nil {
		s.Phase = Initial
		return s
	}
	s.BlockIndex, s.ViewNumber, s.Phase, s.PrimaryIndex, s.StartedAt = r.BlockIndex, r.ViewNumber, r.Phase, r.PrimaryIndex, r.StartedAt
	if r.PrepareRequest != nil {
		s.PreparationHash = r.PrepareRequest.Hash()
		s.BlockHash = r.Header.Hash()
	}
	if r.PrepareRequest != nil {
		s.PrepareResponses = append(s.PrepareResponses, r.PrimaryIndex)
	}
	s.PrepareResponses = append(s.PrepareResponses, sortedIndices(r.PrepareResponses)...)
	sort.Slice(s.PrepareResponses, func(i, j int) bool { return s.PrepareResponses[i] < s.PrepareResponses[j] })
	s.Commits = sortedIndices(r.Commits)
	s.ChangeViews = sortedIndices(r.ChangeViews)
	s.PrepareResponseSent, s.CommitSent, s.ChangeViewSent = r.PrepareResponseSent, r.CommitSent, r.ChangeViewSent
	s.ChangeViewReason = r.ChangeViewReason
	s.CountFailed = c.countFailed()
	return s
}

// Statistics() returns the running statistics
func (c *Context) Statistics() StatisticsSnapshot {
	c.RLock()
	defer c.RUnlock()
	return c.stats.Snapshot()
}

func (c *Context) startRound(blockIndex uint32, prevHash []byte) {
	c.timers.StopAll()
	r := newRound(blockIndex, prevHash)
	if old := c.round; old != nil && old.BlockIndex == blockIndex {
		// a commit is never retracted for its height
		r.Commits, r.ChangeViews = old.Commits, old.ChangeViews
		r.MyCommit, r.CommitSent = old.MyCommit, old.CommitSent
	} else {
		c.seen.Reset()
	}
	r.PrimaryIndex = c.validators.PrimaryIndex(blockIndex, 0)
	c.round = r
	if c.lastSeen == nil {
		c.lastSeen = make([]int64, c.validators.N())
		for i := range c.lastSeen {
			c.lastSeen[i] = int64(blockIndex) - 1
		}
	}
	if c.myIndex >= 0 {
		c.lastSeen[c.myIndex] = int64(blockIndex)
	}
	c.stats.RoundsParticipated++
}

func (c *Context) changeView(view uint8, reason ChangeViewReason) lib.ErrorI {
	r := c.round
	if r == nil {
		return lib.ErrNotStarted()
	}
	if view <= r.ViewNumber {
		return lib.ErrWrongView(r.ViewNumber, view)
	}
	c.timers.StopAll()
	r.LastChangeViews = make(map[uint8]*Payload)
	for i, p := range r.ChangeViews {
		if nv, err := NewViewNumber(p); err == nil && nv >= view {
			r.LastChangeViews[i] = p
		}
	}
	r.ViewNumber, r.ChangeViewReason = view, reason
	r.PrimaryIndex = c.validators.PrimaryIndex(r.BlockIndex, view)
	r.ViewStartedAt = time.Now()
	r.PrepareRequest, r.Proposal, r.Header = nil, nil, nil
	r.PrepareResponses = make(map[uint8]*Payload)
	r.PrepareResponseSent, r.ChangeViewSent = false, false
	r.Phase = WaitingForPrepareRequest
	if r.CommitSent {
		r.Phase = WaitingForCommits
	}
	if c.myIndex >= 0 {
		c.lastSeen[c.myIndex] = int64(r.BlockIndex)
	}
	c.stats.ViewChanges++
	return nil
}

// acceptPrepareRequest() records the proposal and drops the responses that endorse a different one
func (c *Context) acceptPrepareRequest(p *Payload, msg *PrepareRequest) {
	r := c.round
	r.PrepareRequest, r.Proposal = p, msg
	r.Header = msg.Header(r.BlockIndex, r.PrimaryIndex)
	hash := p.Hash()
	for i, resp := range r.PrepareResponses {
		if m, err := resp.Message(); err != nil || !bytes.Equal(m.(*PrepareResponse).PreparationHash, hash) {
			delete(r.PrepareResponses, i)
		}
	}
	switch r.Phase {
	case WaitingForPrepareRequest, ViewChanging, Recovery:
		r.Phase = WaitingForPrepareResponses
	}
}

// restore() reloads a persisted round in which the local node already committed
func (c *Context) restore(s *roundState) lib.ErrorI {
	r := c.round
	if r == nil {
		return lib.ErrNotStarted()
	}
	if s.BlockIndex != r.BlockIndex {
		return lib.ErrWrongHeight(r.BlockIndex, s.BlockIndex)
	}
	r.ViewNumber = s.ViewNumber
	r.PrimaryIndex = c.validators.PrimaryIndex(r.BlockIndex, s.ViewNumber)
	if s.PrepareRequest != nil {
		msg, err := s.PrepareRequest.Message()
		if err != nil {
			return err
		}
		request, ok := msg.(*PrepareRequest)
		if !ok {
			return lib.ErrMalformedMessage("persisted request is not a prepare request")
		}
		c.acceptPrepareRequest(s.PrepareRequest, request)
		c.seen.Found(seenKey(s.PrepareRequest))
	}
	for _, p := range s.PrepareResponses {
		r.PrepareResponses[p.ValidatorIndex] = p
		c.seen.Found(seenKey(p))
		if int(p.ValidatorIndex) == c.myIndex {
			r.PrepareResponseSent = true
		}
	}
	if s.Commit != nil {
		r.Commits[s.Commit.ValidatorIndex] = s.Commit
		r.MyCommit, r.CommitSent = s.Commit, true
		r.Phase = WaitingForCommits
		c.seen.Found(seenKey(s.Commit))
	}
	return nil
}

// persistable() returns the part of the round that must survive a crash
func (c *Context) persistable() *roundState {
	r := c.round
	s := &roundState{BlockIndex: r.BlockIndex, ViewNumber: r.ViewNumber, PrepareRequest: r.PrepareRequest, Commit: r.MyCommit}
	for _, i := range sortedIndices(r.PrepareResponses) {
		s.PrepareResponses = append(s.PrepareResponses, r.PrepareResponses[i])
	}
	return s
}

func (c *Context) isPrimary() bool {
	return c.round != nil && c.myIndex >= 0 && uint8(c.myIndex) == c.round.PrimaryIndex
}

func (c *Context) preparationCount() int {
	r := c.round
	if r == nil {
		return 0
	}
	if r.PrepareRequest == nil {
		return len(r.PrepareResponses)
	}
	count, hash := 1, r.PrepareRequest.Hash()
	for _, p := range r.PrepareResponses {
		if m, err := p.Message(); err == nil && bytes.Equal(m.(*PrepareResponse).PreparationHash, hash) {
			count++
		}
	}
	return count
}

func (c *Context) commitCountForView() int {
	if c.round == nil {
		return 0
	}
	return len(c.commitsForView())
}

// commitsForView() returns the commits of the current view ordered by validator index
func (c *Context) commitsForView() (out []*Payload) {
	r := c.round
	for _, i := range sortedIndices(r.Commits) {
		if p := r.Commits[i]; p.ViewNumber == r.ViewNumber {
			out = append(out, p)
		}
	}
	return
}

func (c *Context) changeViewCount(view uint8) (count int) {
	if c.round == nil {
		return 0
	}
	for _, p := range c.round.ChangeViews {
		if nv, err := NewViewNumber(p); err == nil && nv >= view {
			count++
		}
	}
	return
}

// countFailed() counts validators whose last message is older than the previous height
func (c *Context) countFailed() (count int) {
	if c.round == nil {
		return 0
	}
	for _, seen := range c.lastSeen {
		if seen < int64(c.round.BlockIndex)-1 {
			count++
		}
	}
	return
}

func (c *Context) countCommitted() int {
	if c.round == nil {
		return 0
	}
	return len(c.round.Commits)
}

// moreThanFNodesCommittedOrLost() is true when a view change could no longer gather m votes
func (c *Context) moreThanFNodesCommittedOrLost() bool {
	return c.countCommitted()+c.countFailed() > c.validators.F()
}

// viewChanging() is true once the local node asked for a higher view
func (c *Context) viewChanging() bool {
	r := c.round
	if r == nil || c.myIndex < 0 {
		return false
	}
	p, found := r.ChangeViews[uint8(c.myIndex)]
	if !found {
		return false
	}
	nv, err := NewViewNumber(p)
	return err == nil && nv > r.ViewNumber
}

// notAcceptingPayloadsDueToViewChanging() blocks new preparations while the local node is leaving the view
func (c *Context) notAcceptingPayloadsDueToViewChanging() bool {
	return c.viewChanging() && !c.moreThanFNodesCommittedOrLost()
}

// shouldRespondRecovery() selects f+1 responders per requester: (requester + k) mod n for k in 1..=f+1
// A node that already committed always responds
func (c *Context) shouldRespondRecovery(requester uint8) bool {
	if c.myIndex < 0 {
		return false
	}
	if c.round != nil && c.round.CommitSent {
		return true
	}
	n := c.validators.N()
	for k := 1; k <= c.validators.F()+1; k++ {
		if (int(requester)+k)%n == c.myIndex {
			return true
		}
	}
	return false
}

func (c *Context) updateLastSeen(index uint8, blockIndex uint32) {
	if int(index) < len(c.lastSeen) && int64(blockIndex) > c.lastSeen[index] {
		c.lastSeen[index] = int64(blockIndex)
	}
}

// seenKey() identifies a payload including its witness so a forged copy never shadows the real one
func seenKey(p *Payload) string { return lib.BytesToString(crypto.Hash(p.Bytes())) }

func sortedIndices(m map[uint8]*Payload) []uint8 {
	out := make([]uint8, 0, len(m))
	for i := range m {
		out = append(out, i)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
