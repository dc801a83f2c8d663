package bft

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCalculateTimeout(t *testing.T) {
	tests := []struct {
		name     string
		detail   string
		base     time.Duration
		view     uint8
		expected time.Duration
	}{
		{name: "view 0", detail: "the base timeout", base: time.Second, view: 0, expected: time.Second},
		{name: "view 3", detail: "doubles with every view", base: time.Second, view: 3, expected: 8 * time.Second},
		{name: "view 16", detail: "keeps doubling past 15 views", base: time.Second, view: 16, expected: 65536 * time.Second},
		{name: "last view", detail: "the highest view saturates", base: time.Millisecond, view: 255, expected: time.Duration(math.MaxInt64)},
		{name: "saturates", detail: "a huge base saturates instead of overflowing", base: time.Duration(math.MaxInt64 / 2), view: 15, expected: time.Duration(math.MaxInt64)},
		{name: "zero base", detail: "a zero base stays zero", base: 0, view: 4, expected: 0},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.expected, CalculateTimeout(test.base, test.view))
		})
	}
	// every view doubles the timeout of the one before it until the duration saturates, and never shrinks it
	for view := uint8(0); view < 255; view++ {
		prev, next := CalculateTimeout(time.Second, view), CalculateTimeout(time.Second, view+1)
		if next == time.Duration(math.MaxInt64) {
			require.GreaterOrEqual(t, next, prev, "view %d", view+1)
			continue
		}
		require.Equal(t, 2*prev, next, "view %d", view+1)
	}
}

func TestTimerFires(t *testing.T) {
	fired := make(chan TimerEvent, 1)
	timers := NewTimers(func(ev TimerEvent) { fired <- ev })
	timers.Start(TimerPrepareResponse, 10*time.Millisecond)
	select {
	case ev := <-fired:
		require.Equal(t, TimerPrepareResponse, ev.Type)
		require.True(t, timers.Accept(ev))
		require.False(t, timers.IsActive(TimerPrepareResponse))
		require.False(t, timers.Accept(ev), "an event is consumed once")
	case <-time.After(time.Second):
		t.Fatal("timer didn't fire")
	}
}

func TestTimerGeneration(t *testing.T) {
	timers := NewTimers(nil)
	timers.Start(TimerCommit, time.Hour)
	stale := TimerEvent{Type: TimerCommit, Generation: timers.timers[TimerCommit].generation}
	// restarting invalidates the event of the previous start
	timers.Start(TimerCommit, time.Hour)
	require.False(t, timers.Accept(stale))
	current := TimerEvent{Type: TimerCommit, Generation: timers.timers[TimerCommit].generation}
	timers.Stop(TimerCommit)
	require.False(t, timers.Accept(current), "stopped timers never deliver")
	timers.Start(TimerViewChange, time.Hour)
	timers.Start(TimerRecovery, time.Hour)
	require.Equal(t, []TimerType{TimerViewChange, TimerRecovery}, timers.Active())
	timers.StopAll()
	require.Empty(t, timers.Active())
}

func TestTimerExtend(t *testing.T) {
	timers := NewTimers(nil)
	require.False(t, timers.Extend(TimerPrepareResponse, time.Second), "stopped timers stay stopped")
	timers.Start(TimerPrepareResponse, time.Second)
	before := timers.timers[TimerPrepareResponse].generation
	require.True(t, timers.Extend(TimerPrepareResponse, time.Second))
	rt := timers.timers[TimerPrepareResponse]
	require.NotEqual(t, before, rt.generation)
	require.Greater(t, rt.duration, time.Second)
	require.LessOrEqual(t, rt.duration, 2*time.Second)
	elapsed, ok := timers.Elapsed(TimerPrepareResponse)
	require.True(t, ok)
	require.Less(t, elapsed, time.Second)
}
