// Package protocol implements the framed serial protocol between the
// firmware and its host: length-prefixed frames carrying VLQ encoded
// commands, protected by a CRC16 and a trailing sync byte, with a four
// bit sequence number for acknowledgement.
package protocol

// Wire framing constants
const (
	FrameLenMin = 5  // header plus trailer, an empty (ack) frame
	FrameLenMax = 64 // largest frame either side may send

	headerLen  = 2
	trailerLen = 3

	posLen = 0
	posSeq = 1

	SeqMask  = 0x0f
	SeqDest  = 0x10
	SyncByte = 0x7e
)

// scratchMax sizes the MCU output scratch buffer. Several responses
// can be batched between flushes.
const scratchMax = 512
