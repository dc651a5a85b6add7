//go:build rp2040

package main

import (
	"device/arm"
	"machine"
	"runtime/interrupt"
)

// rpBoard adapts the RP2040 to the dispatcher's hardware interface.
// Mask and unmask always pair up, so one saved state is enough.
type rpBoard struct {
	irqState interrupt.State
}

func (b *rpBoard) ReadTime() uint32 {
	return readTime()
}

func (b *rpBoard) MaskIRQ() {
	b.irqState = interrupt.Disable()
}

func (b *rpBoard) UnmaskIRQ() {
	interrupt.Restore(b.irqState)
}

// WaitForIRQ sleeps until an interrupt is pending, opens a brief
// window for its handler to run, and returns masked again. WFI wakes
// on a pending interrupt even while delivery is masked.
func (b *rpBoard) WaitForIRQ() {
	arm.Asm("wfi")
	interrupt.Restore(b.irqState)
	b.irqState = interrupt.Disable()
}

// pinPulse is a plain GPIO edge generator, the fallback when no PIO
// state machine is free. Edge placement then includes interrupt
// latency jitter.
type pinPulse struct {
	pin   machine.Pin
	level bool
}

func (p *pinPulse) Fire() {
	p.level = !p.level
	p.pin.Set(p.level)
}
