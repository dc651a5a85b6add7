package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// HostLink drives the wire protocol from the host side: it sends
// commands, waits for the firmware's acks, and hands response
// payloads to the caller. A background goroutine owns all reads from
// the port.
type HostLink struct {
	port io.ReadWriteCloser

	mu  sync.Mutex // guards seq and port writes
	seq uint8

	synced bool // owned by the read loop

	acks      chan uint8
	responses chan []byte

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewHostLink starts a link over port and begins reading from it.
func NewHostLink(port io.ReadWriteCloser) *HostLink {
	h := &HostLink{
		port:      port,
		seq:       SeqDest,
		synced:    true,
		acks:      make(chan uint8, 1),
		responses: make(chan []byte, 16),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go h.readLoop()
	return h
}

// SendCommand frames cmdID with its arguments, writes it to the port
// and waits for the matching ack.
func (h *HostLink) SendCommand(cmdID uint16, args func(out OutputBuffer), timeout time.Duration) error {
	h.mu.Lock()
	scratch := NewScratchOutput()
	EncodeVLQUint(scratch, uint32(cmdID))
	if args != nil {
		args(scratch)
	}
	payload := scratch.Result()
	if headerLen+len(payload)+trailerLen > FrameLenMax {
		h.mu.Unlock()
		return fmt.Errorf("command %d payload too long: %d bytes", cmdID, len(payload))
	}
	seq := h.seq
	_, err := h.port.Write(appendFrame(nil, seq, payload))
	h.mu.Unlock()
	if err != nil {
		return fmt.Errorf("write command: %w", err)
	}

	// The ack carries the next sequence the firmware expects
	want := ((seq + 1) & SeqMask) | SeqDest
	select {
	case got := <-h.acks:
		if got != want {
			return fmt.Errorf("ack sequence 0x%02x, want 0x%02x", got, want)
		}
		h.mu.Lock()
		h.seq = want
		h.mu.Unlock()
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("no ack within %v", timeout)
	case <-h.stop:
		return errors.New("link closed")
	}
}

// ReceiveResponse returns the next response payload, command ID still
// in front.
func (h *HostLink) ReceiveResponse(timeout time.Duration) ([]byte, error) {
	select {
	case msg := <-h.responses:
		return msg, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("no response within %v", timeout)
	case <-h.stop:
		return nil, errors.New("link closed")
	}
}

// Close stops the read loop and closes the port.
func (h *HostLink) Close() error {
	h.stopOnce.Do(func() { close(h.stop) })
	err := h.port.Close()
	<-h.done
	return err
}

// readLoop accumulates port data and splits it into frames
func (h *HostLink) readLoop() {
	defer close(h.done)
	var pending []byte
	buf := make([]byte, 256)
	for {
		select {
		case <-h.stop:
			return
		default:
		}
		n, err := h.port.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			pending = h.drain(pending)
		}
		if err != nil {
			return
		}
	}
}

// drain extracts complete frames and returns the unconsumed tail.
// Empty frames are acks; everything else is a response payload.
func (h *HostLink) drain(data []byte) []byte {
	for len(data) > 0 {
		if !h.synced {
			idx := bytes.IndexByte(data, SyncByte)
			if idx < 0 {
				return nil
			}
			data = data[idx+1:]
			h.synced = true
			continue
		}
		if data[0] == SyncByte {
			data = data[1:]
			continue
		}

		seq, payload, rest, status := nextFrame(data)
		if status == scanNeedMore {
			return data
		}
		if status == scanDesync {
			h.synced = false
			continue
		}
		data = rest

		if len(payload) == 0 {
			select {
			case h.acks <- seq:
			default:
			}
			continue
		}
		msg := make([]byte, len(payload))
		copy(msg, payload)
		select {
		case h.responses <- msg:
		default:
			// Consumer lagging - drop the oldest response
			select {
			case <-h.responses:
			default:
			}
			h.responses <- msg
		}
	}
	return data
}
