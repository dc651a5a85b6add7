package protocol

// scanStatus reports the outcome of a frame extraction attempt.
type scanStatus uint8

const (
	scanFrame    scanStatus = iota // valid frame extracted
	scanNeedMore                   // wait for more bytes
	scanDesync                     // framing violated, resynchronize
)

// nextFrame tries to extract one frame from the head of data. On
// scanFrame it returns the sequence byte, the payload between header
// and trailer, and the remaining bytes. The payload aliases data.
func nextFrame(data []byte) (seq uint8, payload, rest []byte, status scanStatus) {
	if len(data) < FrameLenMin {
		return 0, nil, data, scanNeedMore
	}
	n := int(data[posLen])
	if n < FrameLenMin || n > FrameLenMax {
		return 0, nil, data, scanDesync
	}
	seq = data[posSeq]
	if seq&^uint8(SeqMask) != SeqDest {
		return 0, nil, data, scanDesync
	}
	if len(data) < n {
		return 0, nil, data, scanNeedMore
	}
	if data[n-1] != SyncByte {
		return 0, nil, data, scanDesync
	}
	wantCRC := uint16(data[n-3])<<8 | uint16(data[n-2])
	if CRC16(data[:n-3]) != wantCRC {
		return 0, nil, data, scanDesync
	}
	return seq, data[headerLen : n-trailerLen], data[n:], scanFrame
}

// appendFrame appends one complete frame carrying payload with the
// given sequence byte. An empty payload produces an ack frame.
func appendFrame(dst []byte, seq uint8, payload []byte) []byte {
	start := len(dst)
	n := headerLen + len(payload) + trailerLen
	dst = append(dst, byte(n), seq)
	dst = append(dst, payload...)
	crc := CRC16(dst[start:])
	return append(dst, byte(crc>>8), byte(crc), SyncByte)
}
