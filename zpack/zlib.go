// Package zpack writes zlib streams made of stored DEFLATE blocks.
// The firmware image cannot afford a real deflate encoder; framing the
// identify dictionary uncompressed inside a zlib envelope keeps
// standard inflaters on the host happy at near zero code cost.
package zpack

import (
	"bytes"
	"hash"
	"hash/adler32"
	"io"
)

// storedBlockMax is the payload limit of one stored DEFLATE block.
const storedBlockMax = 0xffff

// Writer accumulates input and emits it as a zlib stream of stored
// blocks on Close.
type Writer struct {
	out   io.Writer
	buf   []byte
	adler hash.Hash32
}

// NewWriter returns a Writer emitting to w
func NewWriter(w io.Writer) *Writer {
	return &Writer{out: w, adler: adler32.New()}
}

// Write buffers p until Close
func (w *Writer) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	w.adler.Write(p)
	return len(p), nil
}

// Close emits the zlib header, the buffered data as stored blocks and
// the adler32 trailer.
func (w *Writer) Close() error {
	if _, err := w.out.Write([]byte{0x78, 0x9c}); err != nil {
		return err
	}
	data := w.buf
	for {
		n := len(data)
		final := byte(1)
		if n > storedBlockMax {
			n = storedBlockMax
			final = 0
		}
		nlen := ^uint16(n)
		hdr := []byte{final, byte(n), byte(n >> 8), byte(nlen), byte(nlen >> 8)}
		if _, err := w.out.Write(hdr); err != nil {
			return err
		}
		if _, err := w.out.Write(data[:n]); err != nil {
			return err
		}
		data = data[n:]
		if final == 1 {
			break
		}
	}
	sum := w.adler.Sum32()
	_, err := w.out.Write([]byte{byte(sum >> 24), byte(sum >> 16), byte(sum >> 8), byte(sum)})
	return err
}

// Compress returns input as a complete zlib stream
func Compress(input []byte) []byte {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.Write(input)
	if err := w.Close(); err != nil {
		return nil
	}
	return buf.Bytes()
}
