//go:build rp2040

package main

import (
	"machine"
	"runtime/interrupt"
	"time"

	"device/rp"

	"metron/core"
	"metron/protocol"
	"metron/targets/pio"
)

var (
	rxFifo *protocol.FifoBuffer
	txBuf  *protocol.ScratchOutput
	link   *protocol.Link

	board      rpBoard
	timers     *core.TimerList
	dispatcher *core.Dispatcher
)

func main() {
	// Clear any watchdog state a previous reset left behind
	machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0})

	InitUSB()
	InitClock()

	timers = core.NewTimerList()
	timers.SetKick(timerKick)

	dispatcher = core.NewDispatcher(&board, timers, core.DefaultConfig())
	dispatcher.SetFaultHandler(fault)
	stats := &core.SleepStats{}
	dispatcher.SetSleepRecorder(stats.Note)

	core.RegisterTask(dispatcher.TimerTask)
	core.RegisterShutdown(dispatcher.ShutdownReset)

	// The sync pulse runs on a PIO state machine when one is free,
	// plain GPIO otherwise. The onboard LED makes slow pulses visible.
	pulsePin := machine.LED
	var backend core.PulseBackend
	if sw, err := pio.NewSquareWave(pulsePin); err == nil {
		backend = sw
	} else {
		pulsePin.Configure(machine.PinConfig{Mode: machine.PinOutput})
		backend = &pinPulse{pin: pulsePin}
	}
	pulse := core.NewSyncPulse(timers, backend)

	core.InitCommands(stats, pulse)
	// Compress the dictionary now rather than on the first identify
	core.GlobalDictionary().Build()

	rxFifo = protocol.NewFifoBuffer(256)
	txBuf = protocol.NewScratchOutput()
	link = protocol.NewLink(txBuf, core.DispatchCommand)
	// Acks must reach the host before the response that follows them
	link.SetFlush(func() { writeUSB(txBuf) })
	link.SetResetHandler(hostReset)
	core.SetGlobalLink(link)

	core.SetResetHandler(watchdogReset)

	intr := interrupt.New(rp.IRQ_TIMER_IRQ_0, timerInterrupt)
	intr.Enable()
	timerKick()

	mainLoop()
}

// timerInterrupt services ALARM0: acknowledge, dispatch due timers,
// arm the next deadline.
func timerInterrupt(interrupt.Interrupt) {
	board.MaskIRQ()
	timerIntr.Set(alarmBit)
	next := dispatcher.DispatchMany()
	armAlarm(next)
	board.UnmaskIRQ()
}

// mainLoop polls the CDC endpoint, runs queued tasks and flushes
// responses. Timer handlers run in interrupt context, never here.
func mainLoop() {
	var lastPeriodic uint32
	for {
		pumpUSB(rxFifo)
		if rxFifo.Available() > 0 {
			data := rxFifo.Data()
			in := protocol.NewSliceInput(data)
			link.Receive(in)
			if consumed := len(data) - in.Available(); consumed > 0 {
				rxFifo.Pop(consumed)
			}
		}

		core.RunTasks()
		writeUSB(txBuf)
		// Reset only after the ack has gone out
		core.CheckPendingReset()

		if now := readTime(); now-lastPeriodic >= core.TimerFromUS(1000) {
			lastPeriodic = now
			board.MaskIRQ()
			dispatcher.Periodic()
			board.UnmaskIRQ()
		}

		time.Sleep(10 * time.Microsecond)
	}
}

// hostReset clears session state when the host restarts its sequence
// numbering.
func hostReset() {
	txBuf.Reset()
}

// fault quiesces dispatch, reports reason to the host and reboots
// through the watchdog. Called from timer context; never returns.
func fault(reason string) {
	core.RunShutdowns()
	timerInte.ClearBits(alarmBit)
	core.SendFault(reason)
	writeUSB(txBuf)
	// Let the endpoint drain before the reboot
	end := readTime() + core.TimerFromUS(50000)
	for core.TimerIsBefore(readTime(), end) {
	}
	watchdogReset()
}

// watchdogReset reboots through the watchdog, which re-enumerates USB
// more reliably than a plain system reset.
func watchdogReset() {
	machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 1})
	machine.Watchdog.Start()
	for {
	}
}
