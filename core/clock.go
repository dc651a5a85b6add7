package core

// ClockFreq is the rate of the free running hardware clock in Hz. All
// deadline math in the firmware is done in ticks of this clock.
const ClockFreq = 1000000

// Clock readers installed by the active target at startup. ReadClock64
// serves uptime reporting where the hardware exposes a wide counter.
var (
	ReadClock   = func() uint32 { return 0 }
	ReadClock64 = func() uint64 { return uint64(ReadClock()) }
)

// TimerFromUS converts microseconds to clock ticks
func TimerFromUS(us uint32) uint32 {
	return us * (ClockFreq / 1000000)
}

// TimerToUS converts clock ticks to microseconds
func TimerToUS(ticks uint32) uint32 {
	return ticks / (ClockFreq / 1000000)
}

// TimerIsBefore reports whether time1 is before time2. Always use this
// to compare clock values as plain comparisons fail when the counter
// rolls over. Valid while the true separation of the two readings is
// under 2^31 ticks.
func TimerIsBefore(time1, time2 uint32) bool {
	return int32(time1-time2) < 0
}
