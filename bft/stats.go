package bft

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// roundDurationWindow is the number of recent rounds the duration statistics cover
const roundDurationWindow = 100

// Statistics are the running counters operators observe about the local engine
type Statistics struct {
	RoundsParticipated uint64
	BlocksCommitted    uint64
	ViewChanges        uint64
	Timeouts           uint64
	RecoveriesSent     uint64
	RecoveriesReceived uint64
	DroppedMessages    uint64
	durations          []float64 // seconds, most recent last
}

// StatisticsSnapshot is a copy of the statistics with the derived duration figures
type StatisticsSnapshot struct {
	RoundsParticipated   uint64        `json:"roundsParticipated"`
	BlocksCommitted      uint64        `json:"blocksCommitted"`
	ViewChanges          uint64        `json:"viewChanges"`
	Timeouts             uint64        `json:"timeouts"`
	RecoveriesSent       uint64        `json:"recoveriesSent"`
	RecoveriesReceived   uint64        `json:"recoveriesReceived"`
	DroppedMessages      uint64        `json:"droppedMessages"`
	AverageRoundDuration time.Duration `json:"averageRoundDuration"`
	RoundDurationStdDev  time.Duration `json:"roundDurationStdDev"`
}

// ObserveRound() records the duration of an agreed round
func (s *Statistics) ObserveRound(d time.Duration) {
	s.BlocksCommitted++
	s.durations = append(s.durations, d.Seconds())
	if len(s.durations) > roundDurationWindow {
		s.durations = s.durations[len(s.durations)-roundDurationWindow:]
	}
}

// Snapshot() copies the counters and computes the mean and standard deviation of recent rounds
func (s *Statistics) Snapshot() StatisticsSnapshot {
	snap := StatisticsSnapshot{
		RoundsParticipated: s.RoundsParticipated,
		BlocksCommitted:    s.BlocksCommitted,
		ViewChanges:        s.ViewChanges,
		Timeouts:           s.Timeouts,
		RecoveriesSent:     s.RecoveriesSent,
		RecoveriesReceived: s.RecoveriesReceived,
		DroppedMessages:    s.DroppedMessages,
	}
	if len(s.durations) > 0 {
		mean, std := stat.MeanStdDev(s.durations, nil)
		if len(s.durations) == 1 {
			std = 0
		}
		snap.AverageRoundDuration = secondsToDuration(mean)
		snap.RoundDurationStdDev = secondsToDuration(std)
	}
	return snap
}

func secondsToDuration(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }
