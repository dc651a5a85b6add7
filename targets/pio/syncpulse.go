//go:build rp2040

// Package pio drives RP2040 programmable IO so waveform edges do not
// depend on interrupt latency.
package pio

import (
	"machine"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"
)

// pulseProgram is the one bit level follower: each FIFO word drives
// the output pin to its bit 0. Raw opcodes, pioasm output for:
//
//	.wrap_target
//	    pull block
//	    out pins, 1
//	.wrap
var pulseProgram = []uint16{
	0x80a0, // pull block
	0x6001, // out pins, 1
}

// No jumps in the program, any load address works
const pulseProgramOrigin = 0

// SquareWave toggles a pin through a PIO state machine. The state
// machine applies a queued level within a couple of system clock
// cycles of the FIFO write.
type SquareWave struct {
	pio   *rp2pio.PIO
	sm    rp2pio.StateMachine
	pin   machine.Pin
	level uint32
}

// NewSquareWave claims a state machine on PIO0 and points it at pin.
func NewSquareWave(pin machine.Pin) (*SquareWave, error) {
	s := &SquareWave{
		pio: rp2pio.PIO0,
		pin: pin,
	}
	s.sm = s.pio.StateMachine(0)
	s.sm.TryClaim()

	offset, err := s.pio.AddProgram(pulseProgram, pulseProgramOrigin)
	if err != nil {
		return nil, err
	}

	s.pin.Configure(machine.PinConfig{Mode: s.pio.PinMode()})

	cfg := rp2pio.DefaultStateMachineConfig()
	cfg.SetOutPins(s.pin, 1)
	cfg.SetOutShift(true, false, 32)
	cfg.SetWrap(offset+uint8(len(pulseProgram))-1, offset)
	// Full system clock, the program only waits on the FIFO
	cfg.SetClkDivIntFrac(1, 0)

	s.sm.Init(offset, cfg)
	s.sm.SetPindirsConsecutive(s.pin, 1, true)
	s.sm.SetPinsConsecutive(s.pin, 1, false)
	s.sm.SetEnabled(true)

	return s, nil
}

// Fire drives the next edge. Runs in timer context; when the FIFO is
// full the edge is dropped rather than stalling dispatch.
func (s *SquareWave) Fire() {
	s.level ^= 1
	if s.sm.IsTxFIFOFull() {
		return
	}
	s.sm.TxPut(s.level)
}
