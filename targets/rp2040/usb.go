//go:build rp2040

package main

import (
	"machine"

	"metron/protocol"
)

// InitUSB configures the CDC serial endpoint. On the RP2040
// machine.Serial is USB CDC; the descriptors come from the TinyGo
// runtime.
func InitUSB() {
	machine.Serial.Configure(machine.UARTConfig{})
}

// pumpUSB moves pending CDC bytes into the receive fifo. Runs from
// the main loop and never blocks.
func pumpUSB(fifo *protocol.FifoBuffer) {
	for machine.Serial.Buffered() > 0 {
		b, err := machine.Serial.ReadByte()
		if err != nil {
			return
		}
		if fifo.Write([]byte{b}) == 0 {
			// Fifo full, drain it first
			return
		}
	}
}

// writeUSB drains the transmit buffer to the CDC endpoint. Partial
// writes are retried; on a dead endpoint the data is dropped and the
// host's retransmit recovers the stream.
func writeUSB(out *protocol.ScratchOutput) {
	data := out.Result()
	if len(data) == 0 {
		return
	}
	written := 0
	for written < len(data) {
		n, err := machine.Serial.Write(data[written:])
		if err != nil || n == 0 {
			break
		}
		written += n
	}
	out.Reset()
}
