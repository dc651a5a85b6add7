package protocol

import "errors"

var errVLQTruncated = errors.New("truncated VLQ value")

// EncodeVLQInt writes v in the variable length quantity encoding: a
// big endian series of 7 bit groups with the high bit marking
// continuation. Small magnitudes, positive or slightly negative, fit
// in one byte.
func EncodeVLQInt(out OutputBuffer, v int32) {
	if !(-(1<<26) <= v && v < (3<<26)) {
		out.Output([]byte{byte((v>>28)&0x7f) | 0x80})
	}
	if !(-(1<<19) <= v && v < (3<<19)) {
		out.Output([]byte{byte((v>>21)&0x7f) | 0x80})
	}
	if !(-(1<<12) <= v && v < (3<<12)) {
		out.Output([]byte{byte((v>>14)&0x7f) | 0x80})
	}
	if !(-(1<<5) <= v && v < (3<<5)) {
		out.Output([]byte{byte((v>>7)&0x7f) | 0x80})
	}
	out.Output([]byte{byte(v & 0x7f)})
}

// EncodeVLQUint writes v as a VLQ
func EncodeVLQUint(out OutputBuffer, v uint32) {
	EncodeVLQInt(out, int32(v))
}

// DecodeVLQInt reads one VLQ value, advancing data past the consumed
// bytes.
func DecodeVLQInt(data *[]byte) (int32, error) {
	if len(*data) == 0 {
		return 0, errVLQTruncated
	}
	c := uint32((*data)[0])
	*data = (*data)[1:]

	v := c & 0x7f
	if c&0x60 == 0x60 {
		// Leading byte of a small negative value - sign extend
		v |= ^uint32(0x1f)
	}
	for c&0x80 != 0 {
		if len(*data) == 0 {
			return 0, errVLQTruncated
		}
		c = uint32((*data)[0])
		*data = (*data)[1:]
		v = v<<7 | c&0x7f
	}
	return int32(v), nil
}

// DecodeVLQUint reads one VLQ value as unsigned
func DecodeVLQUint(data *[]byte) (uint32, error) {
	v, err := DecodeVLQInt(data)
	return uint32(v), err
}

// EncodeVLQBytes writes a length prefixed byte block
func EncodeVLQBytes(out OutputBuffer, data []byte) {
	EncodeVLQUint(out, uint32(len(data)))
	out.Output(data)
}

// DecodeVLQBytes reads a length prefixed byte block. The result
// aliases the input.
func DecodeVLQBytes(data *[]byte) ([]byte, error) {
	n, err := DecodeVLQUint(data)
	if err != nil {
		return nil, err
	}
	if uint32(len(*data)) < n {
		return nil, errVLQTruncated
	}
	block := (*data)[:n]
	*data = (*data)[n:]
	return block, nil
}
