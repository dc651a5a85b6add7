package core

import (
	"sync/atomic"

	"metron/protocol"
)

var (
	cmdStats *SleepStats
	cmdPulse *SyncPulse
)

// InitCommands registers the protocol surface against the global
// registry. Registration order fixes the bootstrap IDs the host
// relies on: identify_response is 0 and identify is 1.
func InitCommands(stats *SleepStats, pulse *SyncPulse) {
	cmdStats = stats
	cmdPulse = pulse

	// Bootstrap messages - must be first
	RegisterResponse("identify_response", "offset=%u data=%*s")       // ID 0
	RegisterCommand("identify", "offset=%u count=%c", handleIdentify) // ID 1

	RegisterCommand("get_clock", "", handleGetClock)
	RegisterCommand("get_uptime", "", handleGetUptime)
	RegisterCommand("get_stats", "", handleGetStats)
	RegisterCommand("reset_stats", "", handleResetStats)
	RegisterCommand("get_trace", "", handleGetTrace)
	RegisterCommand("start_sync_pulse", "interval=%u count=%u", handleStartSyncPulse)
	RegisterCommand("stop_sync_pulse", "", handleStopSyncPulse)
	RegisterCommand("reset", "", handleReset)

	// Responses (MCU to host)
	RegisterResponse("clock", "clock=%u")
	RegisterResponse("uptime", "high=%u clock=%u")
	RegisterResponse("stats", "count=%u sum=%u sumsq=%u")
	RegisterResponse("trace_event", "kind=%c clock=%u value=%u")
	RegisterResponse("trace_done", "count=%u")
	RegisterResponse("pulse_done", "count=%u")
	RegisterResponse("fault", "reason=%*s")

	RegisterConstant("CLOCK_FREQ", uint32(ClockFreq))
	RegisterConstant("STATS_SUMSQ_BASE", uint32(STATS_SUMSQ_BASE))

	if pulse != nil {
		pulse.SetDoneHandler(func(count uint32) {
			SendResponse("pulse_done", func(out protocol.OutputBuffer) {
				protocol.EncodeVLQUint(out, count)
			})
		})
	}
}

// handleIdentify serves chunks of the data dictionary
func handleIdentify(data *[]byte) error {
	offset, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	count, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	chunk := GlobalDictionary().Chunk(offset, uint8(count))
	SendResponse("identify_response", func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, offset)
		protocol.EncodeVLQBytes(out, chunk)
	})
	return nil
}

func handleGetClock(data *[]byte) error {
	clock := ReadClock()
	SendResponse("clock", func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, clock)
	})
	return nil
}

func handleGetUptime(data *[]byte) error {
	uptime := ReadClock64()
	SendResponse("uptime", func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, uint32(uptime>>32))
		protocol.EncodeVLQUint(out, uint32(uptime))
	})
	return nil
}

func handleGetStats(data *[]byte) error {
	count, sum, sumSq := cmdStats.Snapshot()
	SendResponse("stats", func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, count)
		protocol.EncodeVLQUint(out, sum)
		protocol.EncodeVLQUint(out, sumSq)
	})
	return nil
}

func handleResetStats(data *[]byte) error {
	cmdStats.Reset()
	return nil
}

// handleGetTrace streams the dispatch trace ring, oldest first
func handleGetTrace(data *[]byte) error {
	events := TraceSnapshot()
	for _, evt := range events {
		SendResponse("trace_event", func(out protocol.OutputBuffer) {
			protocol.EncodeVLQUint(out, uint32(evt.Kind))
			protocol.EncodeVLQUint(out, evt.Clock)
			protocol.EncodeVLQUint(out, evt.Value)
		})
	}
	SendResponse("trace_done", func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, uint32(len(events)))
	})
	return nil
}

func handleStartSyncPulse(data *[]byte) error {
	interval, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	count, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	return cmdPulse.Start(interval, count)
}

func handleStopSyncPulse(data *[]byte) error {
	cmdPulse.Stop()
	return nil
}

// handleReset arms a deferred reset. The reset itself runs from the
// main loop after the ACK has gone out, so the host sees the command
// confirmed.
func handleReset(data *[]byte) error {
	atomic.StoreUint32(&resetPending, 1)
	return nil
}

// Global link for outgoing responses, set by the target main
var globalLink *protocol.Link

// SetGlobalLink installs the link responses are sent through
func SetGlobalLink(link *protocol.Link) {
	globalLink = link
}

// SendResponse encodes a registered response message to the host.
// Unknown names panic; responses are registered at init and a missing
// one is a firmware bug.
func SendResponse(name string, args func(out protocol.OutputBuffer)) {
	if globalLink == nil {
		return
	}
	cmd, ok := globalRegistry.LookupName(name)
	if !ok {
		panic("response not registered: " + name)
	}
	globalLink.SendCommand(cmd.ID, args)
}

// SendFault reports a fatal shutdown reason to the host. Called from
// the fault path with interrupts masked.
func SendFault(reason string) {
	SendResponse("fault", func(out protocol.OutputBuffer) {
		protocol.EncodeVLQBytes(out, []byte(reason))
	})
}

var (
	resetPending uint32
	resetHandler func()
)

// SetResetHandler installs the platform reset hook
func SetResetHandler(fn func()) {
	resetHandler = fn
}

// CheckPendingReset performs a host requested reset once the main loop
// has flushed pending output.
func CheckPendingReset() {
	if atomic.LoadUint32(&resetPending) != 0 && resetHandler != nil {
		resetHandler()
	}
}
