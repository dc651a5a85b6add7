package protocol

// CRC16 computes the frame checksum, the usual CCITT variant done
// bytewise without a lookup table. A table would cost 512 bytes of
// flash for a handful of cycles.
func CRC16(data []byte) uint16 {
	crc := uint16(0xffff)
	for _, b := range data {
		b = b ^ uint8(crc&0xff)
		b = b ^ (b << 4)
		b16 := uint16(b)
		crc = (b16<<8 | crc>>8) ^ (b16 >> 4) ^ (b16 << 3)
	}
	return crc
}
