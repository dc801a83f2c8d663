package bft

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// TimerType names one of the per-phase countdowns of a round
type TimerType uint8

const (
	TimerPrepareRequest TimerType = iota
	TimerPrepareResponse
	TimerCommit
	TimerViewChange
	TimerRecovery
)

func (t TimerType) String() string {
	switch t {
	case TimerPrepareRequest:
		return "prepare_request"
	case TimerPrepareResponse:
		return "prepare_response"
	case TimerCommit:
		return "commit"
	case TimerViewChange:
		return "view_change"
	case TimerRecovery:
		return "recovery"
	default:
		return fmt.Sprintf("unknown_%d", uint8(t))
	}
}

// CalculateTimeout() returns base * 2^view, saturating at the largest time.Duration instead of overflowing
func CalculateTimeout(base time.Duration, view uint8) time.Duration {
	shift := uint(view)
	if base <= 0 {
		return 0
	}
	if shift >= 63 || base > time.Duration(math.MaxInt64>>shift) {
		return time.Duration(math.MaxInt64)
	}
	return base << shift
}

// TimerEvent is delivered when a timer expires; Generation rejects events from timers that were stopped or restarted
type TimerEvent struct {
	Type       TimerType
	Generation uint64
}

// Timers is the set of named round timers
// A stopped or restarted timer never delivers its old event: every start bumps the generation and the
// owner only accepts events whose generation is still current
type Timers struct {
	mu      sync.Mutex
	timers  map[TimerType]*roundTimer
	gen     uint64
	fire    func(TimerEvent)
	started map[TimerType]time.Time
}

type roundTimer struct {
	t          *time.Timer
	generation uint64
	duration   time.Duration
}

// NewTimers() creates the timer set; fire is called from the timer goroutine on expiry
func NewTimers(fire func(TimerEvent)) *Timers {
	return &Timers{
		timers:  make(map[TimerType]*roundTimer),
		fire:    fire,
		started: make(map[TimerType]time.Time),
	}
}

// Start() (re)starts a timer for the duration
func (t *Timers) Start(typ TimerType, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.start(typ, d)
}

// Extend() pushes the deadline of a running timer back; a stopped timer stays stopped
func (t *Timers) Extend(typ TimerType, by time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rt, ok := t.timers[typ]
	if !ok {
		return false
	}
	remaining := rt.duration - time.Since(t.started[typ])
	if remaining < 0 {
		remaining = 0
	}
	if remaining > time.Duration(math.MaxInt64)-by {
		remaining = time.Duration(math.MaxInt64) - by
	}
	t.start(typ, remaining+by)
	return true
}

func (t *Timers) start(typ TimerType, d time.Duration) {
	t.stop(typ)
	t.gen++
	event := TimerEvent{Type: typ, Generation: t.gen}
	rt := &roundTimer{generation: t.gen, duration: d}
	if t.fire != nil {
		rt.t = time.AfterFunc(d, func() { t.fire(event) })
	}
	t.timers[typ] = rt
	t.started[typ] = time.Now()
}

// Stop() stops a single timer
func (t *Timers) Stop(typ TimerType) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stop(typ)
}

// StopAll() stops every timer
func (t *Timers) StopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for typ := range t.timers {
		t.stop(typ)
	}
}

// IsActive() reports whether a timer is running
func (t *Timers) IsActive(typ TimerType) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.timers[typ]
	return ok
}

// Elapsed() returns how long ago a running timer was started
func (t *Timers) Elapsed(typ TimerType) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.timers[typ]; !ok {
		return 0, false
	}
	return time.Since(t.started[typ]), true
}

// Accept() consumes an expiry event; false means the timer was stopped or restarted since
func (t *Timers) Accept(ev TimerEvent) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rt, ok := t.timers[ev.Type]
	if !ok || rt.generation != ev.Generation {
		return false
	}
	delete(t.timers, ev.Type)
	return true
}

// Active() returns the running timers
func (t *Timers) Active() (active []TimerType) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for typ := TimerPrepareRequest; typ <= TimerRecovery; typ++ {
		if _, ok := t.timers[typ]; ok {
			active = append(active, typ)
		}
	}
	return
}

func (t *Timers) stop(typ TimerType) {
	rt, ok := t.timers[typ]
	if !ok {
		return
	}
	if rt.t != nil {
		rt.t.Stop()
	}
	delete(t.timers, typ)
}
