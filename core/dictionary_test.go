package core

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"io"
	"testing"
)

// decodedDict mirrors the JSON document the host parses out of the
// identify stream.
type decodedDict struct {
	Version       string                 `json:"version"`
	BuildVersions string                 `json:"build_versions"`
	Config        map[string]interface{} `json:"config"`
	Commands      map[string]int         `json:"commands"`
	Responses     map[string]int         `json:"responses"`
}

func decodeDictionary(t *testing.T, d *Dictionary) decodedDict {
	t.Helper()

	// Reassemble through the chunk interface the host uses.
	var packed []byte
	for {
		chunk := d.Chunk(uint32(len(packed)), 40)
		if len(chunk) == 0 {
			break
		}
		packed = append(packed, chunk...)
	}

	r, err := zlib.NewReader(bytes.NewReader(packed))
	if err != nil {
		t.Fatalf("Dictionary stream not valid zlib: %v", err)
	}
	defer r.Close()
	raw, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("Dictionary inflate failed: %v", err)
	}

	var dict decodedDict
	if err := json.Unmarshal(raw, &dict); err != nil {
		t.Fatalf("Dictionary not valid JSON: %v\n%s", err, raw)
	}
	return dict
}

func TestDictionaryDocument(t *testing.T) {
	registry := NewCommandRegistry()
	respID := registry.Register("clock", "clock=%u", nil)
	cmdID := registry.Register("get_clock", "", func(data *[]byte) error { return nil })
	argID := registry.Register("test_cmd", "arg=%u count=%c", func(data *[]byte) error { return nil })

	d := NewDictionary(registry)
	d.SetVersions("metron-test", "tinygo test")
	d.AddConstant("CLOCK_FREQ", uint32(1000000))
	d.AddConstant("MCU", "rp2040")
	d.Build()

	dict := decodeDictionary(t, d)

	if dict.Version != "metron-test" {
		t.Errorf("Expected version metron-test, got %q", dict.Version)
	}
	if dict.BuildVersions != "tinygo test" {
		t.Errorf("Expected build versions preserved, got %q", dict.BuildVersions)
	}

	if got, ok := dict.Config["CLOCK_FREQ"].(float64); !ok || got != 1000000 {
		t.Errorf("Expected CLOCK_FREQ 1000000, got %v", dict.Config["CLOCK_FREQ"])
	}
	if got, ok := dict.Config["MCU"].(string); !ok || got != "rp2040" {
		t.Errorf("Expected MCU rp2040, got %v", dict.Config["MCU"])
	}

	// Commands and responses are keyed by their full prototype; a
	// message without arguments is keyed by name alone.
	if got, ok := dict.Commands["get_clock"]; !ok || got != int(cmdID) {
		t.Errorf("Expected get_clock with ID %d, got %v (present %v)", cmdID, got, ok)
	}
	if got, ok := dict.Commands["test_cmd arg=%u count=%c"]; !ok || got != int(argID) {
		t.Errorf("Expected test_cmd prototype with ID %d, got %v (present %v)", argID, got, ok)
	}
	if got, ok := dict.Responses["clock clock=%u"]; !ok || got != int(respID) {
		t.Errorf("Expected clock response with ID %d, got %v (present %v)", respID, got, ok)
	}

	// Responses never appear in the command table and vice versa.
	if _, ok := dict.Commands["clock clock=%u"]; ok {
		t.Error("Response leaked into command table")
	}
	if _, ok := dict.Responses["get_clock"]; ok {
		t.Error("Command leaked into response table")
	}
}

func TestDictionaryConstantReplace(t *testing.T) {
	d := NewDictionary(NewCommandRegistry())
	d.AddConstant("VALUE", uint32(1))
	d.Build()
	d.AddConstant("VALUE", uint32(2))

	dict := decodeDictionary(t, d)
	if got, ok := dict.Config["VALUE"].(float64); !ok || got != 2 {
		t.Errorf("Expected replaced constant 2, got %v", dict.Config["VALUE"])
	}
}

func TestDictionaryChunks(t *testing.T) {
	d := NewDictionary(NewCommandRegistry())
	d.AddConstant("TEST", uint32(123))
	d.Build()

	full := d.Chunk(0, 255)
	for len(full) > 0 {
		more := d.Chunk(uint32(len(full)), 255)
		if len(more) == 0 {
			break
		}
		full = append(full, more...)
	}

	chunk := d.Chunk(0, 10)
	if len(chunk) != 10 {
		t.Errorf("Expected 10 byte chunk, got %d", len(chunk))
	}
	if !bytes.Equal(chunk, full[:10]) {
		t.Error("Chunk does not match stream head")
	}

	// The final chunk is clipped to the stream length.
	tail := d.Chunk(uint32(len(full)-3), 10)
	if len(tail) != 3 {
		t.Errorf("Expected 3 byte tail, got %d", len(tail))
	}
	if !bytes.Equal(tail, full[len(full)-3:]) {
		t.Error("Tail chunk does not match stream end")
	}

	if got := d.Chunk(uint32(len(full)), 10); got != nil {
		t.Errorf("Expected nil chunk at end of stream, got %d bytes", len(got))
	}
	if got := d.Chunk(uint32(len(full)+100), 10); got != nil {
		t.Errorf("Expected nil chunk past end of stream, got %d bytes", len(got))
	}
}

func TestDictionaryBuildsOnDemand(t *testing.T) {
	// Chunk without an explicit Build still serves the stream.
	d := NewDictionary(NewCommandRegistry())
	d.AddConstant("TEST", uint32(7))

	dict := decodeDictionary(t, d)
	if got, ok := dict.Config["TEST"].(float64); !ok || got != 7 {
		t.Errorf("Expected on demand build with TEST 7, got %v", dict.Config["TEST"])
	}
}
