// Package monitor drives a board over its serial link: dictionary
// retrieval, clock and statistics queries, trace dumps and sync
// pulse control.
package monitor

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"metron/host/serial"
	"metron/protocol"
)

const (
	// identify and identify_response have fixed IDs so the host can
	// bootstrap before it knows the dictionary.
	identifyID         = 1
	identifyResponseID = 0

	identifyChunk = 40
	cmdTimeout    = 2 * time.Second
)

// Monitor is a connection to a running board. Methods are not safe
// for concurrent use.
type Monitor struct {
	link *protocol.HostLink

	dict *Dictionary
	raw  []byte

	commands  map[string]uint16
	responses map[uint16]string

	pulseCount  uint32
	pulseSeen   bool
	faultReason string
}

// Dictionary is the parsed identify payload.
type Dictionary struct {
	Version       string                 `json:"version"`
	BuildVersions string                 `json:"build_versions"`
	Config        map[string]interface{} `json:"config"`
	Commands      map[string]int         `json:"commands"`
	Responses     map[string]int         `json:"responses"`
}

// Connect opens device and runs the wire protocol over it.
func Connect(device string) (*Monitor, error) {
	port, err := serial.Open(serial.DefaultConfig(device))
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}
	// Give the board a moment in case it just enumerated
	time.Sleep(100 * time.Millisecond)
	return Attach(port), nil
}

// Attach runs the wire protocol over an already open port. Tests use
// it with in-memory pipes.
func Attach(port io.ReadWriteCloser) *Monitor {
	return &Monitor{link: protocol.NewHostLink(port)}
}

// Close shuts the link down.
func (m *Monitor) Close() error {
	return m.link.Close()
}

// FetchDictionary pulls the compressed dictionary chunk by chunk,
// inflates it and indexes the command tables.
func (m *Monitor) FetchDictionary() error {
	var compressed bytes.Buffer
	offset := uint32(0)
	for {
		chunk, err := m.identify(offset, identifyChunk)
		if err != nil {
			return fmt.Errorf("identify at offset %d: %w", offset, err)
		}
		if len(chunk) == 0 {
			break
		}
		compressed.Write(chunk)
		offset += uint32(len(chunk))
		if len(chunk) < identifyChunk {
			break
		}
	}

	r, err := zlib.NewReader(bytes.NewReader(compressed.Bytes()))
	if err != nil {
		return fmt.Errorf("inflate dictionary: %w", err)
	}
	defer r.Close()
	raw, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("inflate dictionary: %w", err)
	}

	dict := &Dictionary{}
	if err := json.Unmarshal(raw, dict); err != nil {
		return fmt.Errorf("parse dictionary: %w", err)
	}

	m.raw = raw
	m.dict = dict
	m.index()
	return nil
}

// identify requests one dictionary chunk.
func (m *Monitor) identify(offset uint32, count uint8) ([]byte, error) {
	err := m.link.SendCommand(identifyID, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, offset)
		protocol.EncodeVLQUint(out, uint32(count))
	}, cmdTimeout)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(cmdTimeout)
	for {
		payload, err := m.link.ReceiveResponse(time.Until(deadline))
		if err != nil {
			return nil, err
		}
		p := payload
		id, err := protocol.DecodeVLQUint(&p)
		if err != nil || id != identifyResponseID {
			continue
		}
		respOffset, err := protocol.DecodeVLQUint(&p)
		if err != nil {
			return nil, fmt.Errorf("identify response: %w", err)
		}
		if respOffset != offset {
			// Duplicate from an earlier request
			continue
		}
		data, err := protocol.DecodeVLQBytes(&p)
		if err != nil {
			return nil, fmt.Errorf("identify response: %w", err)
		}
		return data, nil
	}
}

// index builds the name lookup tables from the dictionary. Keys have
// the form "name arg=%u ..."; the name is the first token.
func (m *Monitor) index() {
	m.commands = make(map[string]uint16, len(m.dict.Commands))
	for proto, id := range m.dict.Commands {
		m.commands[protoName(proto)] = uint16(id)
	}
	m.responses = make(map[uint16]string, len(m.dict.Responses))
	for proto, id := range m.dict.Responses {
		m.responses[uint16(id)] = protoName(proto)
	}
}

func protoName(proto string) string {
	if sp := strings.IndexByte(proto, ' '); sp >= 0 {
		return proto[:sp]
	}
	return proto
}

// Dictionary returns the parsed dictionary, nil before FetchDictionary.
func (m *Monitor) Dictionary() *Dictionary {
	return m.dict
}

// RawDictionary returns the inflated dictionary JSON.
func (m *Monitor) RawDictionary() []byte {
	return m.raw
}

// FaultReason returns the last fault the board reported.
func (m *Monitor) FaultReason() string {
	return m.faultReason
}

// Send sends a named command with VLQ-encoded arguments.
func (m *Monitor) Send(name string, args func(out protocol.OutputBuffer)) error {
	if m.commands == nil {
		return fmt.Errorf("dictionary not loaded")
	}
	id, ok := m.commands[name]
	if !ok {
		return fmt.Errorf("unknown command: %s", name)
	}
	return m.link.SendCommand(id, args, cmdTimeout)
}

// nextResponse decodes the next response frame, skipping frames that
// do not parse. A fault report aborts the wait.
func (m *Monitor) nextResponse(deadline time.Time) (string, []byte, error) {
	for {
		payload, err := m.link.ReceiveResponse(time.Until(deadline))
		if err != nil {
			return "", nil, err
		}
		name, rest, err := m.decodeName(payload)
		if err != nil {
			continue
		}
		if name == "fault" {
			reason, _ := protocol.DecodeVLQBytes(&rest)
			m.faultReason = string(reason)
			return "", nil, fmt.Errorf("board fault: %s", m.faultReason)
		}
		return name, rest, nil
	}
}

func (m *Monitor) decodeName(payload []byte) (string, []byte, error) {
	p := payload
	id, err := protocol.DecodeVLQUint(&p)
	if err != nil {
		return "", nil, err
	}
	name, ok := m.responses[uint16(id)]
	if !ok {
		return "", nil, fmt.Errorf("unknown response ID %d", id)
	}
	return name, p, nil
}

// waitFor returns the payload of the next response named want.
// A pulse_done arriving in the meantime is noted for WaitPulseDone.
func (m *Monitor) waitFor(want string, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		name, rest, err := m.nextResponse(deadline)
		if err != nil {
			return nil, err
		}
		if name == want {
			return rest, nil
		}
		if name == "pulse_done" {
			if count, derr := protocol.DecodeVLQUint(&rest); derr == nil {
				m.pulseCount, m.pulseSeen = count, true
			}
		}
	}
}

// GetClock reads the current timer value.
func (m *Monitor) GetClock() (uint32, error) {
	if err := m.Send("get_clock", nil); err != nil {
		return 0, err
	}
	rest, err := m.waitFor("clock", cmdTimeout)
	if err != nil {
		return 0, err
	}
	return protocol.DecodeVLQUint(&rest)
}

// GetUptime reads the 64 bit clock.
func (m *Monitor) GetUptime() (uint64, error) {
	if err := m.Send("get_uptime", nil); err != nil {
		return 0, err
	}
	rest, err := m.waitFor("uptime", cmdTimeout)
	if err != nil {
		return 0, err
	}
	high, err := protocol.DecodeVLQUint(&rest)
	if err != nil {
		return 0, err
	}
	low, err := protocol.DecodeVLQUint(&rest)
	if err != nil {
		return 0, err
	}
	return uint64(high)<<32 | uint64(low), nil
}

// Stats is one sleep statistics report.
type Stats struct {
	Count uint32
	Sum   uint32
	SumSq uint32
}

// GetStats reads the accumulated sleep statistics.
func (m *Monitor) GetStats() (Stats, error) {
	if err := m.Send("get_stats", nil); err != nil {
		return Stats{}, err
	}
	rest, err := m.waitFor("stats", cmdTimeout)
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	if st.Count, err = protocol.DecodeVLQUint(&rest); err != nil {
		return Stats{}, err
	}
	if st.Sum, err = protocol.DecodeVLQUint(&rest); err != nil {
		return Stats{}, err
	}
	if st.SumSq, err = protocol.DecodeVLQUint(&rest); err != nil {
		return Stats{}, err
	}
	return st, nil
}

// ResetStats clears the statistics accumulators.
func (m *Monitor) ResetStats() error {
	return m.Send("reset_stats", nil)
}

// TraceEvent mirrors the firmware's dispatch trace records.
type TraceEvent struct {
	Kind  uint8
	Clock uint32
	Value uint32
}

// DumpTrace drains the firmware's trace ring.
func (m *Monitor) DumpTrace() ([]TraceEvent, error) {
	if err := m.Send("get_trace", nil); err != nil {
		return nil, err
	}
	var events []TraceEvent
	deadline := time.Now().Add(cmdTimeout)
	for {
		name, rest, err := m.nextResponse(deadline)
		if err != nil {
			return nil, err
		}
		switch name {
		case "trace_event":
			kind, e1 := protocol.DecodeVLQUint(&rest)
			clock, e2 := protocol.DecodeVLQUint(&rest)
			value, e3 := protocol.DecodeVLQUint(&rest)
			if e1 != nil || e2 != nil || e3 != nil {
				return nil, fmt.Errorf("malformed trace_event")
			}
			events = append(events, TraceEvent{Kind: uint8(kind), Clock: clock, Value: value})
		case "trace_done":
			return events, nil
		case "pulse_done":
			if count, derr := protocol.DecodeVLQUint(&rest); derr == nil {
				m.pulseCount, m.pulseSeen = count, true
			}
		}
	}
}

// StartPulse starts the square wave generator. interval is in timer
// ticks; count 0 runs until stopped.
func (m *Monitor) StartPulse(interval, count uint32) error {
	return m.Send("start_sync_pulse", func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, interval)
		protocol.EncodeVLQUint(out, count)
	})
}

// StopPulse stops the generator and reports how many edges fired.
func (m *Monitor) StopPulse() (uint32, error) {
	if err := m.Send("stop_sync_pulse", nil); err != nil {
		return 0, err
	}
	return m.WaitPulseDone(cmdTimeout)
}

// WaitPulseDone blocks until the board reports pulse completion.
func (m *Monitor) WaitPulseDone(timeout time.Duration) (uint32, error) {
	if m.pulseSeen {
		m.pulseSeen = false
		return m.pulseCount, nil
	}
	rest, err := m.waitFor("pulse_done", timeout)
	if err != nil {
		return 0, err
	}
	return protocol.DecodeVLQUint(&rest)
}

// Reset asks the board to reboot. The board acks before resetting,
// so the command itself succeeds; the link dies moments later.
func (m *Monitor) Reset() error {
	return m.Send("reset", nil)
}

// Sample is one statistics poll.
type Sample struct {
	When  time.Time
	Clock uint32
	Count uint32
	Sum   uint32
	SumSq uint32
}

// WatchStats polls sleep statistics every interval and hands each
// sample to fn. It stops after samples polls, or when fn returns an
// error; samples 0 polls until fn stops it.
func (m *Monitor) WatchStats(interval time.Duration, samples int, fn func(Sample) error) error {
	for n := 0; samples == 0 || n < samples; n++ {
		if n > 0 {
			time.Sleep(interval)
		}
		clock, err := m.GetClock()
		if err != nil {
			return err
		}
		st, err := m.GetStats()
		if err != nil {
			return err
		}
		s := Sample{When: time.Now(), Clock: clock, Count: st.Count, Sum: st.Sum, SumSq: st.SumSq}
		if err := fn(s); err != nil {
			return err
		}
	}
	return nil
}

// sortedKeys returns m's keys in ascending order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Summary formats a human readable overview of the dictionary.
func (d *Dictionary) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "version: %s\nbuild: %s\n", d.Version, d.BuildVersions)
	b.WriteString("config:\n")
	for _, k := range sortedKeys(d.Config) {
		fmt.Fprintf(&b, "  %s = %v\n", k, d.Config[k])
	}
	fmt.Fprintf(&b, "commands (%d):\n", len(d.Commands))
	for _, k := range sortedKeys(d.Commands) {
		fmt.Fprintf(&b, "  %2d: %s\n", d.Commands[k], k)
	}
	fmt.Fprintf(&b, "responses (%d):\n", len(d.Responses))
	for _, k := range sortedKeys(d.Responses) {
		fmt.Fprintf(&b, "  %2d: %s\n", d.Responses[k], k)
	}
	return b.String()
}
