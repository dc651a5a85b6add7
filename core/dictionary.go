package core

import (
	"sync"

	"metron/zpack"
)

// Constant is one config entry exported through the identify
// dictionary.
type Constant struct {
	Name  string
	Value interface{}
}

// Dictionary assembles the identify data served to the host: firmware
// versions, exported constants and the command and response tables.
// The wire form is a zlib stream of the JSON document.
type Dictionary struct {
	mu            sync.RWMutex
	constants     []Constant
	index         map[string]int
	commandReg    *CommandRegistry
	version       string
	buildVersions string
	cached        []byte
}

var globalDictionary = NewDictionary(globalRegistry)

// NewDictionary creates a dictionary over the given command registry
func NewDictionary(reg *CommandRegistry) *Dictionary {
	return &Dictionary{
		index:         make(map[string]int),
		commandReg:    reg,
		version:       "metron-0.1.0",
		buildVersions: "tinygo",
	}
}

// RegisterConstant exports a constant through the global dictionary.
// Registering an existing name replaces its value.
func RegisterConstant(name string, value interface{}) {
	globalDictionary.AddConstant(name, value)
}

// GlobalDictionary returns the dictionary backing the identify command
func GlobalDictionary() *Dictionary {
	return globalDictionary
}

// AddConstant adds or replaces a constant
func (d *Dictionary) AddConstant(name string, value interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i, ok := d.index[name]; ok {
		d.constants[i].Value = value
	} else {
		d.index[name] = len(d.constants)
		d.constants = append(d.constants, Constant{Name: name, Value: value})
	}
	d.cached = nil
}

// SetVersions sets the firmware and build version strings
func (d *Dictionary) SetVersions(version, buildVersions string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.version = version
	d.buildVersions = buildVersions
	d.cached = nil
}

// Build encodes and caches the dictionary. Call once all commands and
// constants are registered; later registrations rebuild on demand.
func (d *Dictionary) Build() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cached = zpack.Compress(d.encodeJSON())
}

// Chunk returns up to count bytes of the encoded dictionary starting
// at offset. The copy keeps the cache safe from the caller's buffer
// handling.
func (d *Dictionary) Chunk(offset uint32, count uint8) []byte {
	d.mu.Lock()
	if d.cached == nil {
		d.cached = zpack.Compress(d.encodeJSON())
	}
	data := d.cached
	d.mu.Unlock()

	if offset >= uint32(len(data)) {
		return nil
	}
	end := offset + uint32(count)
	if end > uint32(len(data)) {
		end = uint32(len(data))
	}
	chunk := make([]byte, end-offset)
	copy(chunk, data[offset:end])
	return chunk
}

// encodeJSON renders the dictionary document. Caller holds the lock.
// Keys follow the layout the host parser expects: version strings,
// config constants, then the command and response tables.
func (d *Dictionary) encodeJSON() []byte {
	buf := make([]byte, 0, 1024)
	buf = append(buf, `{"version":"`...)
	buf = append(buf, d.version...)
	buf = append(buf, `","build_versions":"`...)
	buf = append(buf, d.buildVersions...)
	buf = append(buf, `","config":{`...)
	for i, c := range d.constants {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, '"')
		buf = append(buf, c.Name...)
		buf = append(buf, `":`...)
		buf = appendConstValue(buf, c.Value)
	}
	buf = append(buf, `},"commands":{`...)
	buf = d.appendEntries(buf, true)
	buf = append(buf, `},"responses":{`...)
	buf = d.appendEntries(buf, false)
	buf = append(buf, `}}`...)
	return buf
}

// appendEntries renders the command table (withHandler) or the
// response table (!withHandler) as JSON members keyed by the message
// prototype.
func (d *Dictionary) appendEntries(buf []byte, withHandler bool) []byte {
	first := true
	for _, cmd := range d.commandReg.Ordered() {
		if (cmd.Handler != nil) != withHandler {
			continue
		}
		if !first {
			buf = append(buf, ',')
		}
		first = false
		buf = append(buf, '"')
		buf = append(buf, cmd.Name...)
		if cmd.Format != "" {
			buf = append(buf, ' ')
			buf = append(buf, cmd.Format...)
		}
		buf = append(buf, `":`...)
		buf = append(buf, itoa(int(cmd.ID))...)
	}
	return buf
}

// appendConstValue renders a constant: strings quoted, numbers bare.
// Constants come from firmware init code and never need escaping.
func appendConstValue(buf []byte, v interface{}) []byte {
	if s, ok := v.(string); ok {
		buf = append(buf, '"')
		buf = append(buf, s...)
		buf = append(buf, '"')
		return buf
	}
	return append(buf, valueToString(v)...)
}
