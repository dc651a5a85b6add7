package core

// STATS_SUMSQ_BASE scales the sum-of-squares accumulator so it stays
// inside 32 bits for realistic sleep intervals. The host divides it
// back out when computing variance.
const STATS_SUMSQ_BASE = 256

// SleepStats accumulates idle sleep telemetry between host polls.
// Updated from task context only.
type SleepStats struct {
	count uint32
	sum   uint32
	sumSq uint32
}

// Note records one sleep interval. The sum of squares saturates
// rather than wrapping when intervals are implausibly long.
func (s *SleepStats) Note(ticks uint32) {
	s.count++
	s.sum += ticks
	var nextSumSq uint32
	if ticks <= 0xffff {
		nextSumSq = s.sumSq + (ticks*ticks+STATS_SUMSQ_BASE-1)/STATS_SUMSQ_BASE
	} else if ticks <= 0xfffff {
		nextSumSq = s.sumSq + ((ticks+STATS_SUMSQ_BASE-1)/STATS_SUMSQ_BASE)*ticks
	} else {
		nextSumSq = 0xffffffff
	}
	if nextSumSq < s.sumSq {
		nextSumSq = 0xffffffff
	}
	s.sumSq = nextSumSq
}

// Snapshot returns the accumulated count, sum and scaled sum of
// squares.
func (s *SleepStats) Snapshot() (count, sum, sumSq uint32) {
	return s.count, s.sum, s.sumSq
}

// Reset clears the accumulators.
func (s *SleepStats) Reset() {
	s.count = 0
	s.sum = 0
	s.sumSq = 0
}
