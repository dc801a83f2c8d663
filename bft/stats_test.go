package bft

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStatistics(t *testing.T) {
	tests := []struct {
		name         string
		detail       string
		rounds       []time.Duration
		expectedMean time.Duration
		expectedStd  time.Duration
	}{
		{name: "no rounds", detail: "nothing observed yet"},
		{name: "single round", detail: "one sample has no deviation", rounds: []time.Duration{time.Second}, expectedMean: time.Second},
		{
			name:         "three rounds",
			detail:       "the sample standard deviation of 1s 2s 3s is 1s",
			rounds:       []time.Duration{time.Second, 2 * time.Second, 3 * time.Second},
			expectedMean: 2 * time.Second,
			expectedStd:  time.Second,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			s := new(Statistics)
			for _, d := range test.rounds {
				s.ObserveRound(d)
			}
			snap := s.Snapshot()
			require.Equal(t, uint64(len(test.rounds)), snap.BlocksCommitted)
			require.InDelta(t, float64(test.expectedMean), float64(snap.AverageRoundDuration), float64(time.Microsecond))
			require.InDelta(t, float64(test.expectedStd), float64(snap.RoundDurationStdDev), float64(time.Microsecond))
		})
	}
}

func TestStatisticsWindow(t *testing.T) {
	s := new(Statistics)
	// old slow rounds fall out of the window
	for i := 0; i < roundDurationWindow; i++ {
		s.ObserveRound(time.Minute)
	}
	for i := 0; i < roundDurationWindow; i++ {
		s.ObserveRound(time.Second)
	}
	snap := s.Snapshot()
	require.Equal(t, uint64(2*roundDurationWindow), snap.BlocksCommitted)
	require.Len(t, s.durations, roundDurationWindow)
	require.InDelta(t, float64(time.Second), float64(snap.AverageRoundDuration), float64(time.Microsecond))
	require.Zero(t, snap.RoundDurationStdDev)
}
