package wasm

import (
	"errors"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/tetratelabs/wazero/api"
)

var (
	// ErrNoMemory is returned when the module exports no memory.
	ErrNoMemory = errors.New("module has no memory")

	// ErrOutOfRange is returned for accesses past the end of memory.
	ErrOutOfRange = errors.New("out of range")
)

// Memory provides bounds-checked access to a module's linear memory.
// Every failed access is reported as a *MemoryAccessError and leaves
// memory untouched.
type Memory struct {
	mem api.Memory
}

// NewMemory creates a memory helper. A module without memory yields a
// helper whose accesses all fail with ErrNoMemory.
func NewMemory(module api.Module) *Memory {
	mem := module.Memory()
	// wazero returns a typed nil for modules that define no memory.
	if v := reflect.ValueOf(mem); !v.IsValid() || (v.Kind() == reflect.Ptr && v.IsNil()) {
		mem = nil
	}
	return &Memory{mem: mem}
}

// Size returns the current memory size in bytes.
func (m *Memory) Size() uint32 {
	if m.mem == nil {
		return 0
	}
	return m.mem.Size()
}

// ReadString reads a NUL-terminated string of at most maxLen bytes.
// A string running to the end of memory is returned as is.
func (m *Memory) ReadString(ptr uint32, maxLen uint32) (string, error) {
	if m.mem == nil {
		return "", &MemoryAccessError{Operation: "read_string", Address: ptr, Length: maxLen, Err: ErrNoMemory}
	}

	size := m.mem.Size()
	if ptr > size {
		return "", &MemoryAccessError{Operation: "read_string", Address: ptr, Length: maxLen, Err: ErrOutOfRange}
	}
	if maxLen > size-ptr {
		maxLen = size - ptr
	}

	buf, ok := m.mem.Read(ptr, maxLen)
	if !ok {
		return "", &MemoryAccessError{Operation: "read_string", Address: ptr, Length: maxLen, Err: ErrOutOfRange}
	}

	end := len(buf)
	for i, b := range buf {
		if b == 0 {
			end = i
			break
		}
	}

	return string(buf[:end]), nil
}

// ReadBytes returns a copy of length bytes at ptr.
func (m *Memory) ReadBytes(ptr uint32, length uint32) ([]byte, error) {
	if m.mem == nil {
		return nil, &MemoryAccessError{Operation: "read", Address: ptr, Length: length, Err: ErrNoMemory}
	}

	buf, ok := m.mem.Read(ptr, length)
	if !ok {
		return nil, &MemoryAccessError{Operation: "read", Address: ptr, Length: length, Err: ErrOutOfRange}
	}

	out := make([]byte, len(buf))
	copy(out, buf)
	return out, nil
}

// ReadPath reads exactly length bytes at ptr as UTF-8. Each maximal
// invalid subsequence is replaced with one U+FFFD, matching TextDecoder.
func (m *Memory) ReadPath(ptr uint32, length uint32) (string, error) {
	if m.mem == nil {
		return "", &MemoryAccessError{Operation: "read_path", Address: ptr, Length: length, Err: ErrNoMemory}
	}

	buf, ok := m.mem.Read(ptr, length)
	if !ok {
		return "", &MemoryAccessError{Operation: "read_path", Address: ptr, Length: length, Err: ErrOutOfRange}
	}

	return decodeUTF8(buf), nil
}

func decodeUTF8(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}

	var sb strings.Builder
	sb.Grow(len(b) + 2)
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r == utf8.RuneError && size == 1 {
			size = invalidPrefixLen(b)
		}
		sb.WriteRune(r)
		b = b[size:]
	}
	return sb.String()
}

// invalidPrefixLen returns the length of the maximal subpart starting at
// b[0]: a lead byte followed by the continuation bytes that still form a
// prefix of some valid sequence.
func invalidPrefixLen(b []byte) int {
	var need int
	lo, hi := byte(0x80), byte(0xbf)

	switch c := b[0]; {
	case c >= 0xc2 && c <= 0xdf:
		need = 1
	case c == 0xe0:
		need, lo = 2, 0xa0
	case c == 0xed:
		need, hi = 2, 0x9f
	case c >= 0xe1 && c <= 0xef:
		need = 2
	case c == 0xf0:
		need, lo = 3, 0x90
	case c == 0xf4:
		need, hi = 3, 0x8f
	case c >= 0xf1 && c <= 0xf3:
		need = 3
	default:
		return 1
	}

	n := 1
	for n <= need && n < len(b) && b[n] >= lo && b[n] <= hi {
		n++
		lo, hi = 0x80, 0xbf
	}
	return n
}

// WriteBytesAt copies data to [ptr, ptr+len(data)). Nothing is written
// unless the whole range fits.
func (m *Memory) WriteBytesAt(ptr uint32, data []byte) error {
	length := uint32(len(data))
	if m.mem == nil {
		return &MemoryAccessError{Operation: "write", Address: ptr, Length: length, Err: ErrNoMemory}
	}

	if !m.mem.Write(ptr, data) {
		return &MemoryAccessError{Operation: "write", Address: ptr, Length: length, Err: ErrOutOfRange}
	}

	return nil
}
