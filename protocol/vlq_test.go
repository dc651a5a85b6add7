package protocol

import (
	"bytes"
	"testing"
)

func TestVLQEncodeDecodeInt(t *testing.T) {
	testCases := []int32{
		0,
		1,
		-1,
		31,
		-32,
		95,
		96,
		-33,
		127,
		-127,
		128,
		-128,
		255,
		-255,
		1000,
		-1000,
		65535,
		-65535,
		1000000,
		-1000000,
		1<<31 - 1,
		-(1 << 31),
	}

	for _, expected := range testCases {
		output := NewScratchOutput()
		EncodeVLQInt(output, expected)
		encoded := output.Result()

		data := encoded
		decoded, err := DecodeVLQInt(&data)
		if err != nil {
			t.Errorf("Failed to decode VLQ for value %d: %v", expected, err)
			continue
		}

		if decoded != expected {
			t.Errorf("VLQ mismatch: expected %d, got %d (encoded as %v)", expected, decoded, encoded)
		}

		if len(data) != 0 {
			t.Errorf("VLQ decode didn't consume all bytes for value %d: %d bytes remaining", expected, len(data))
		}
	}
}

func TestVLQEncodeDecodeUint(t *testing.T) {
	testCases := []uint32{
		0,
		1,
		127,
		128,
		255,
		1000,
		65535,
		1000000,
		0xC0000000,
		0xFFFFFFFF,
	}

	for _, expected := range testCases {
		output := NewScratchOutput()
		EncodeVLQUint(output, expected)
		encoded := output.Result()

		data := encoded
		decoded, err := DecodeVLQUint(&data)
		if err != nil {
			t.Errorf("Failed to decode VLQ for value %d: %v", expected, err)
			continue
		}

		if decoded != expected {
			t.Errorf("VLQ mismatch: expected %d, got %d (encoded as %v)", expected, decoded, encoded)
		}
	}
}

// TestVLQWireFormat pins the exact byte sequences so both ends of the
// wire stay compatible.
func TestVLQWireFormat(t *testing.T) {
	testCases := []struct {
		value    int32
		expected []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{95, []byte{0x5f}},
		{-1, []byte{0x7f}},
		{-32, []byte{0x60}},
		{96, []byte{0x80, 0x60}},
		{-33, []byte{0xff, 0x5f}},
		{-1073741824, []byte{0xfc, 0x80, 0x80, 0x80, 0x00}},
	}

	for _, tc := range testCases {
		output := NewScratchOutput()
		EncodeVLQInt(output, tc.value)
		if got := output.Result(); !bytes.Equal(got, tc.expected) {
			t.Errorf("Encoding of %d: expected % x, got % x", tc.value, tc.expected, got)
		}
	}
}

func TestVLQBytes(t *testing.T) {
	testCases := [][]byte{
		{},
		{0x01},
		{0x01, 0x02, 0x03},
		{0xFF, 0xFE, 0xFD},
		make([]byte, 50),
	}

	for i, expected := range testCases {
		output := NewScratchOutput()
		EncodeVLQBytes(output, expected)
		encoded := output.Result()

		data := encoded
		decoded, err := DecodeVLQBytes(&data)
		if err != nil {
			t.Errorf("Test case %d: Failed to decode bytes: %v", i, err)
			continue
		}

		if !bytes.Equal(decoded, expected) {
			t.Errorf("Test case %d: expected % x, got % x", i, expected, decoded)
		}

		if len(data) != 0 {
			t.Errorf("Test case %d: %d bytes left over", i, len(data))
		}
	}
}

func TestVLQTruncated(t *testing.T) {
	// Continuation bit set but nothing follows
	data := []byte{0x80}
	if _, err := DecodeVLQInt(&data); err == nil {
		t.Error("Expected error decoding truncated VLQ")
	}

	// Empty input
	data = nil
	if _, err := DecodeVLQInt(&data); err == nil {
		t.Error("Expected error decoding empty input")
	}

	// Byte block shorter than its length prefix
	data = []byte{0x05, 0x01, 0x02}
	if _, err := DecodeVLQBytes(&data); err == nil {
		t.Error("Expected error decoding short byte block")
	}
}
