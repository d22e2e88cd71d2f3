package core

import (
	"bytes"
	"sort"
	"sync"

	"github.com/Knight-Ops/klipper-cl-stepper-mcu/tinycompress"
)

// Constant is a firmware-defined value exposed to the host in the data
// dictionary (pin counts, frequencies, fixed strings).
type Constant struct {
	Name  string
	Value string
}

// Enumeration names a closed set of values the host can reference by index
// (pin names, oid kinds).
type Enumeration struct {
	Name   string
	Values []string
}

// Dictionary assembles the JSON data dictionary served in chunks by
// identify/identify_response, compressed the same way the teacher's does:
// build once after every command/constant is registered, cache the result.
type Dictionary struct {
	mu           sync.RWMutex
	constants    map[string]*Constant
	enumerations map[string]*Enumeration
	registry     *Registry
	version      string
	cached       []byte
}

var globalDictionary = NewDictionary(globalRegistry)

func NewDictionary(reg *Registry) *Dictionary {
	return &Dictionary{
		constants:    make(map[string]*Constant),
		enumerations: make(map[string]*Enumeration),
		registry:     reg,
		version:      "klipper-cl-stepper-mcu-0.1.0",
	}
}

// RegisterConstant adds a constant to the global dictionary.
func RegisterConstant(name, value string) { globalDictionary.addConstant(name, value) }

// RegisterEnumeration adds an enumeration to the global dictionary.
func RegisterEnumeration(name string, values []string) {
	globalDictionary.addEnumeration(name, values)
}

func (d *Dictionary) addConstant(name, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.constants[name] = &Constant{Name: name, Value: value}
	d.cached = nil
}

func (d *Dictionary) addEnumeration(name string, values []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := make([]string, len(values))
	copy(cp, values)
	d.enumerations[name] = &Enumeration{Name: name, Values: cp}
	d.cached = nil
}

// BuildDictionary renders and zlib-compresses the dictionary, caching the
// result. Target bootstrap calls this once after every RegisterCommand/
// RegisterConstant/RegisterEnumeration call has run.
func (d *Dictionary) BuildDictionary() {
	json := d.renderJSON()

	var buf bytes.Buffer
	w := tinycompress.NewWriter(&buf)
	if _, err := w.Write(json); err != nil {
		d.setCached(json)
		return
	}
	if err := w.Close(); err != nil {
		d.setCached(json)
		return
	}
	d.setCached(buf.Bytes())
}

func (d *Dictionary) setCached(data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cached = append([]byte(nil), data...)
}

// Generate returns the cached dictionary; if BuildDictionary was never
// called it returns the uncompressed JSON rendering, without caching it
// (test convenience).
func (d *Dictionary) Generate() []byte {
	d.mu.RLock()
	cached := d.cached
	d.mu.RUnlock()
	if cached != nil {
		return cached
	}
	return d.renderJSON()
}

// GetChunk returns up to count bytes of the dictionary starting at offset,
// the unit identify/identify_response exchange one at a time. Always
// returns a fresh copy: the caller hands it straight to the wire buffer.
func (d *Dictionary) GetChunk(offset uint32, count uint8) []byte {
	data := d.Generate()
	if offset >= uint32(len(data)) {
		return []byte{}
	}
	end := offset + uint32(count)
	if end > uint32(len(data)) {
		end = uint32(len(data))
	}
	chunk := make([]byte, end-offset)
	copy(chunk, data[offset:end])
	return chunk
}

func (d *Dictionary) renderJSON() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var buf bytes.Buffer
	buf.WriteString(`{"version":"`)
	buf.WriteString(d.version)
	buf.WriteString(`","config":{`)

	names := make([]string, 0, len(d.constants))
	for name := range d.constants {
		names = append(names, name)
	}
	sort.Strings(names)
	for i, name := range names {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('"')
		buf.WriteString(name)
		buf.WriteString(`":"`)
		buf.WriteString(d.constants[name].Value)
		buf.WriteByte('"')
	}
	buf.WriteString(`},"commands":{`)

	first := true
	d.registry.each(func(id uint16, name, format string, isCommand bool) {
		if !isCommand {
			return
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		writeDictEntry(&buf, name, format, id)
	})
	buf.WriteString(`},"responses":{`)

	first = true
	d.registry.each(func(id uint16, name, format string, isCommand bool) {
		if isCommand {
			return
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		writeDictEntry(&buf, name, format, id)
	})
	buf.WriteByte('}')

	if len(d.enumerations) > 0 {
		buf.WriteString(`,"enumerations":{`)
		enames := make([]string, 0, len(d.enumerations))
		for name := range d.enumerations {
			enames = append(enames, name)
		}
		sort.Strings(enames)
		for i, name := range enames {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteByte('"')
			buf.WriteString(name)
			buf.WriteString(`":{`)
			values := d.enumerations[name].Values
			firstVal := true
			for idx, v := range values {
				if v == "" {
					continue
				}
				if !firstVal {
					buf.WriteByte(',')
				}
				firstVal = false
				buf.WriteByte('"')
				buf.WriteString(v)
				buf.WriteString(`":`)
				buf.WriteString(itoa(idx))
			}
			buf.WriteByte('}')
		}
		buf.WriteByte('}')
	}

	buf.WriteByte('}')
	return buf.Bytes()
}

// writeDictEntry renders one "name format":id pair, the dictionary line
// Klipper's host parses to learn a command's wire layout.
func writeDictEntry(buf *bytes.Buffer, name, format string, id uint16) {
	buf.WriteByte('"')
	buf.WriteString(name)
	if format != "" {
		buf.WriteByte(' ')
		buf.WriteString(format)
	}
	buf.WriteString(`":`)
	buf.WriteString(itoa(int(id)))
}

// GetGlobalDictionary returns the process-wide Dictionary.
func GetGlobalDictionary() *Dictionary { return globalDictionary }
