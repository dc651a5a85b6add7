package monitor

import (
	"net"
	"strings"
	"testing"
	"time"

	"metron/protocol"
	"metron/zpack"
)

// The wire IDs served by the fake dictionary below. They follow the
// firmware's registration order.
const fakeDictJSON = `{"version":"metron-test","build_versions":"tinygo 0.31",` +
	`"config":{"CLOCK_FREQ":1000000,"STATS_SUMSQ_BASE":256,"MCU":"rp2040"},` +
	`"commands":{"identify offset=%u count=%c":1,"get_clock":2,"get_uptime":3,` +
	`"get_stats":4,"reset_stats":5,"get_trace":6,` +
	`"start_sync_pulse interval=%u count=%u":7,"stop_sync_pulse":8,"reset":9},` +
	`"responses":{"identify_response offset=%u data=%*s":0,"clock clock=%u":10,` +
	`"uptime high=%u clock=%u":11,"stats count=%u sum=%u sumsq=%u":12,` +
	`"trace_event kind=%c clock=%u value=%u":13,"trace_done count=%u":14,` +
	`"pulse_done count=%u":15,"fault reason=%*s":16}}`

// fakeFirmware runs the real wire link over a pipe and answers the
// protocol the way a board would.
type fakeFirmware struct {
	conn net.Conn
	link *protocol.Link
	out  *protocol.ScratchOutput
	dict []byte

	clock       uint32
	uptimeHigh  uint32
	statCount   uint32
	statSum     uint32
	statSumSq   uint32
	events      [][3]uint32
	pulseFired  uint32
	faultReason string
}

func newFakeFirmware(conn net.Conn) *fakeFirmware {
	f := &fakeFirmware{
		conn:  conn,
		out:   protocol.NewScratchOutput(),
		dict:  zpack.Compress([]byte(fakeDictJSON)),
		clock: 42000,
	}
	f.link = protocol.NewLink(f.out, f.dispatch)
	f.link.SetFlush(f.flush)
	go f.run()
	return f
}

func (f *fakeFirmware) run() {
	buf := make([]byte, 256)
	for {
		f.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		n, err := f.conn.Read(buf)
		if err != nil {
			return
		}
		in := protocol.NewSliceInput(buf[:n])
		f.link.Receive(in)
		f.flush()
	}
}

func (f *fakeFirmware) flush() {
	if data := f.out.Result(); len(data) > 0 {
		out := append([]byte(nil), data...)
		f.out.Reset()
		f.conn.Write(out)
	}
}

func (f *fakeFirmware) send(id uint16, values ...uint32) {
	f.link.SendCommand(id, func(out protocol.OutputBuffer) {
		for _, v := range values {
			protocol.EncodeVLQUint(out, v)
		}
	})
}

func (f *fakeFirmware) dispatch(cmdID uint16, data *[]byte) error {
	switch cmdID {
	case 1: // identify
		offset, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return err
		}
		count, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return err
		}
		var chunk []byte
		if offset < uint32(len(f.dict)) {
			end := min(offset+count, uint32(len(f.dict)))
			chunk = f.dict[offset:end]
		}
		f.link.SendCommand(0, func(out protocol.OutputBuffer) {
			protocol.EncodeVLQUint(out, offset)
			protocol.EncodeVLQBytes(out, chunk)
		})
	case 2: // get_clock
		if f.faultReason != "" {
			f.link.SendCommand(16, func(out protocol.OutputBuffer) {
				protocol.EncodeVLQBytes(out, []byte(f.faultReason))
			})
			return nil
		}
		f.send(10, f.clock)
	case 3: // get_uptime
		f.send(11, f.uptimeHigh, f.clock)
	case 4: // get_stats
		f.send(12, f.statCount, f.statSum, f.statSumSq)
	case 5: // reset_stats
		f.statCount, f.statSum, f.statSumSq = 0, 0, 0
	case 6: // get_trace
		for _, e := range f.events {
			f.send(13, e[0], e[1], e[2])
		}
		f.send(14, uint32(len(f.events)))
	case 7: // start_sync_pulse
		if _, err := protocol.DecodeVLQUint(data); err != nil {
			return err
		}
		count, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return err
		}
		// A finite run completes immediately in the fake.
		if count > 0 {
			f.pulseFired = count
			f.send(15, count)
		}
	case 8: // stop_sync_pulse
		f.send(15, f.pulseFired)
	case 9: // reset
	}
	return nil
}

func attachFake(t *testing.T) (*Monitor, *fakeFirmware) {
	t.Helper()
	hostConn, mcuConn := net.Pipe()
	fake := newFakeFirmware(mcuConn)
	m := Attach(hostConn)
	t.Cleanup(func() {
		m.Close()
		mcuConn.Close()
	})
	return m, fake
}

func TestFetchDictionary(t *testing.T) {
	m, fake := attachFake(t)

	if err := m.FetchDictionary(); err != nil {
		t.Fatalf("FetchDictionary failed: %v", err)
	}

	dict := m.Dictionary()
	if dict == nil {
		t.Fatal("Dictionary not populated")
	}
	if dict.Version != "metron-test" {
		t.Errorf("Expected version metron-test, got %q", dict.Version)
	}
	if freq, ok := dict.Config["CLOCK_FREQ"].(float64); !ok || freq != 1000000 {
		t.Errorf("Expected CLOCK_FREQ 1000000, got %v", dict.Config["CLOCK_FREQ"])
	}
	if len(dict.Commands) != 9 || len(dict.Responses) != 8 {
		t.Errorf("Expected 9 commands and 8 responses, got %d and %d",
			len(dict.Commands), len(dict.Responses))
	}
	if len(m.RawDictionary()) == 0 {
		t.Error("Expected raw dictionary JSON retained")
	}

	// The fetch walked the chunk protocol, not a single oversized read.
	if len(fake.dict) <= identifyChunk {
		t.Fatalf("Fake dictionary too small to exercise chunking: %d bytes", len(fake.dict))
	}
}

func TestQueries(t *testing.T) {
	m, fake := attachFake(t)
	fake.clock = 123456
	fake.uptimeHigh = 2
	fake.statCount = 5
	fake.statSum = 1000
	fake.statSumSq = 40

	if err := m.FetchDictionary(); err != nil {
		t.Fatalf("FetchDictionary failed: %v", err)
	}

	clock, err := m.GetClock()
	if err != nil || clock != 123456 {
		t.Errorf("Expected clock 123456, got %d (err %v)", clock, err)
	}

	uptime, err := m.GetUptime()
	if err != nil || uptime != (2<<32|123456) {
		t.Errorf("Expected uptime %d, got %d (err %v)", uint64(2<<32|123456), uptime, err)
	}

	st, err := m.GetStats()
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if st.Count != 5 || st.Sum != 1000 || st.SumSq != 40 {
		t.Errorf("Expected stats {5 1000 40}, got %+v", st)
	}

	if err := m.ResetStats(); err != nil {
		t.Fatalf("ResetStats failed: %v", err)
	}
	st, err = m.GetStats()
	if err != nil || st.Count != 0 || st.Sum != 0 || st.SumSq != 0 {
		t.Errorf("Expected cleared stats, got %+v (err %v)", st, err)
	}
}

func TestDumpTrace(t *testing.T) {
	m, fake := attachFake(t)
	fake.events = [][3]uint32{
		{1, 100, 5},
		{3, 200, 250},
	}

	if err := m.FetchDictionary(); err != nil {
		t.Fatalf("FetchDictionary failed: %v", err)
	}

	events, err := m.DumpTrace()
	if err != nil {
		t.Fatalf("DumpTrace failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	if events[0] != (TraceEvent{Kind: 1, Clock: 100, Value: 5}) {
		t.Errorf("Unexpected first event %+v", events[0])
	}
	if events[1] != (TraceEvent{Kind: 3, Clock: 200, Value: 250}) {
		t.Errorf("Unexpected second event %+v", events[1])
	}

	// An empty ring still terminates cleanly.
	fake.events = nil
	events, err = m.DumpTrace()
	if err != nil || len(events) != 0 {
		t.Errorf("Expected empty trace, got %v (err %v)", events, err)
	}
}

func TestPulseCompletion(t *testing.T) {
	m, fake := attachFake(t)
	if err := m.FetchDictionary(); err != nil {
		t.Fatalf("FetchDictionary failed: %v", err)
	}

	// The completion report lands while the monitor is waiting for an
	// unrelated query; WaitPulseDone must pick up the noted count.
	if err := m.StartPulse(1000, 3); err != nil {
		t.Fatalf("StartPulse failed: %v", err)
	}
	if _, err := m.GetClock(); err != nil {
		t.Fatalf("GetClock failed: %v", err)
	}
	count, err := m.WaitPulseDone(100 * time.Millisecond)
	if err != nil || count != 3 {
		t.Errorf("Expected noted completion count 3, got %d (err %v)", count, err)
	}

	// Stopping a free running generator reports the edges so far.
	fake.pulseFired = 7
	count, err = m.StopPulse()
	if err != nil || count != 7 {
		t.Errorf("Expected stop count 7, got %d (err %v)", count, err)
	}
}

func TestFaultAbortsWait(t *testing.T) {
	m, fake := attachFake(t)
	if err := m.FetchDictionary(); err != nil {
		t.Fatalf("FetchDictionary failed: %v", err)
	}

	fake.faultReason = "Rescheduled timer in the past"
	_, err := m.GetClock()
	if err == nil {
		t.Fatal("Expected fault to abort the query")
	}
	if !strings.Contains(err.Error(), "board fault: Rescheduled timer in the past") {
		t.Errorf("Expected fault error, got %v", err)
	}
	if m.FaultReason() != "Rescheduled timer in the past" {
		t.Errorf("Expected fault reason retained, got %q", m.FaultReason())
	}
}

func TestSendValidation(t *testing.T) {
	m, _ := attachFake(t)

	if err := m.Send("get_clock", nil); err == nil {
		t.Error("Expected send before dictionary load to fail")
	}

	if err := m.FetchDictionary(); err != nil {
		t.Fatalf("FetchDictionary failed: %v", err)
	}
	err := m.Send("bogus_command", nil)
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("Expected unknown command error, got %v", err)
	}
}

func TestWatchStats(t *testing.T) {
	m, fake := attachFake(t)
	fake.statCount = 9
	fake.statSum = 900
	if err := m.FetchDictionary(); err != nil {
		t.Fatalf("FetchDictionary failed: %v", err)
	}

	var samples []Sample
	err := m.WatchStats(time.Millisecond, 3, func(s Sample) error {
		samples = append(samples, s)
		return nil
	})
	if err != nil {
		t.Fatalf("WatchStats failed: %v", err)
	}
	if len(samples) != 3 {
		t.Fatalf("Expected 3 samples, got %d", len(samples))
	}
	for i, s := range samples {
		if s.Clock != 42000 {
			t.Errorf("Sample %d: unexpected clock %d", i, s.Clock)
		}
		if s.Count != 9 || s.Sum != 900 {
			t.Errorf("Sample %d: expected count 9 sum 900, got %+v", i, s)
		}
		if s.When.IsZero() {
			t.Errorf("Sample %d: missing timestamp", i)
		}
	}
}

func TestDictionarySummary(t *testing.T) {
	d := &Dictionary{
		Version:       "metron-test",
		BuildVersions: "tinygo",
		Config:        map[string]interface{}{"CLOCK_FREQ": float64(1000000), "MCU": "rp2040"},
		Commands:      map[string]int{"get_clock": 2, "identify offset=%u count=%c": 1},
		Responses:     map[string]int{"clock clock=%u": 10},
	}

	s := d.Summary()
	for _, want := range []string{"version: metron-test", "CLOCK_FREQ", "get_clock", "clock clock=%u"} {
		if !strings.Contains(s, want) {
			t.Errorf("Summary missing %q:\n%s", want, s)
		}
	}

	// Map iteration must not leak into the output ordering.
	if d.Summary() != s {
		t.Error("Expected deterministic summary output")
	}
}
