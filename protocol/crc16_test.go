package protocol

import "testing"

func TestCRC16KnownValues(t *testing.T) {
	// Check values computed with the reference bit-at-a-time form
	// (poly 0x8408 reflected, init 0xffff, no final xor).
	tests := []struct {
		name string
		data []byte
		want uint16
	}{
		{"empty", []byte{}, 0xffff},
		{"zero byte", []byte{0x00}, 0x0f87},
		{"ascii one", []byte{0x31}, 0x2f8d},
		{"check string", []byte("123456789"), 0x6f91},
	}

	for _, tt := range tests {
		got := CRC16(tt.data)
		if got != tt.want {
			t.Errorf("CRC16(%s): expected 0x%04x, got 0x%04x", tt.name, tt.want, got)
		}
	}
}

func TestCRC16Consistency(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05}

	crc1 := CRC16(data)
	crc2 := CRC16(data)

	if crc1 != crc2 {
		t.Errorf("Expected consistent CRC, got 0x%04x and 0x%04x", crc1, crc2)
	}
}

func TestCRC16Different(t *testing.T) {
	crc1 := CRC16([]byte{0x01, 0x02, 0x03})
	crc2 := CRC16([]byte{0x01, 0x02, 0x04})

	if crc1 == crc2 {
		t.Error("Expected different CRCs for different data")
	}

	// A single flipped bit must change the checksum.
	crc3 := CRC16([]byte{0x01, 0x02, 0x02})
	if crc1 == crc3 {
		t.Error("Expected single bit flip to change CRC")
	}
}
