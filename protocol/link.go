package protocol

import "bytes"

// DispatchFunc routes one decoded command to its handler. The data
// slice is advanced past the arguments the handler consumes.
type DispatchFunc func(cmdID uint16, data *[]byte) error

// Link is the MCU side of the wire protocol. It validates incoming
// frames, acknowledges them, routes the contained commands, and
// encodes outgoing responses. Everything runs from the firmware main
// loop, so no locking is needed.
type Link struct {
	output   OutputBuffer
	dispatch DispatchFunc
	flush    func()
	onReset  func()

	synced  bool
	nextSeq uint8
}

// NewLink wires a link to its output buffer and command dispatcher
func NewLink(output OutputBuffer, dispatch DispatchFunc) *Link {
	return &Link{
		output:   output,
		dispatch: dispatch,
		synced:   true,
		nextSeq:  SeqDest,
	}
}

// SetFlush installs the hook that pushes buffered output to the wire
// immediately. Acks must reach the host before the responses they
// unblock.
func (l *Link) SetFlush(fn func()) {
	l.flush = fn
}

// SetResetHandler installs the hook run when the host restarts its
// sequence numbering, which signals a reconnect.
func (l *Link) SetResetHandler(fn func()) {
	l.onReset = fn
}

// Receive drains input, acknowledging every valid frame and running
// the commands of in-sequence ones. Garbage desynchronizes the link
// until the next sync byte.
func (l *Link) Receive(input InputBuffer) {
	data := input.Data()
	for len(data) > 0 {
		if !l.synced {
			idx := bytes.IndexByte(data, SyncByte)
			if idx < 0 {
				data = nil
				break
			}
			data = data[idx+1:]
			l.synced = true
			l.sendAck()
			continue
		}
		if data[0] == SyncByte {
			data = data[1:]
			continue
		}

		seq, payload, rest, status := nextFrame(data)
		if status == scanNeedMore {
			break
		}
		if status == scanDesync {
			l.synced = false
			continue
		}
		data = rest

		if seq == SeqDest && l.nextSeq != SeqDest {
			// Host restarted - follow it back to the initial sequence
			l.nextSeq = SeqDest
			if l.onReset != nil {
				l.onReset()
			}
		}
		if seq == l.nextSeq {
			l.nextSeq = ((seq + 1) & SeqMask) | SeqDest
			l.runFrame(payload)
		}
		// Out of sequence frames are not run but still acked; the
		// carried sequence tells the host what to resend.
		l.sendAck()
	}

	consumed := input.Available() - len(data)
	if consumed > 0 {
		input.Pop(consumed)
	}
}

// runFrame decodes and dispatches the commands packed in one frame. A
// handler panic desynchronizes the link instead of taking down the
// firmware.
func (l *Link) runFrame(frame []byte) {
	defer func() {
		if recover() != nil {
			l.synced = false
		}
	}()
	for len(frame) > 0 {
		cmdID, err := DecodeVLQUint(&frame)
		if err != nil {
			l.synced = false
			return
		}
		if err := l.dispatch(uint16(cmdID), &frame); err != nil {
			return
		}
	}
}

// sendAck emits an ack carrying the next expected sequence. After a
// mismatch the same message acts as a nak.
func (l *Link) sendAck() {
	l.output.Output(appendFrame(nil, l.nextSeq, nil))
	if l.flush != nil {
		l.flush()
	}
}

// SendCommand encodes a response frame carrying cmdID and its
// arguments. Responses reuse the current sequence; only received
// frames advance it.
func (l *Link) SendCommand(cmdID uint16, args func(out OutputBuffer)) {
	start := l.output.CurPosition()
	l.output.Output([]byte{0, l.nextSeq})
	EncodeVLQUint(l.output, uint32(cmdID))
	if args != nil {
		args(l.output)
	}
	l.output.Update(start, uint8(len(l.output.DataSince(start))+trailerLen))
	crc := CRC16(l.output.DataSince(start))
	l.output.Output([]byte{byte(crc >> 8), byte(crc), SyncByte})
}
