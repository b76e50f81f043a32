// Package wasmtest assembles tiny guest modules for exercising host imports.
package wasmtest

import (
	"github.com/Capati/odin-wasm-host/pkg/abi"
)

// Fixed guest memory layout used by StartModule.
const (
	PathAddr   uint32 = 0
	ResultAddr uint32 = 512
)

const (
	valI32   = 0x7f
	funcType = 0x60

	kindFunc   = 0x00
	kindMemory = 0x02

	opEnd      = 0x0b
	opLoop     = 0x03
	opBr       = 0x0c
	opCall     = 0x10
	opLocalGet = 0x20
	opI32Store = 0x36
	opI32Const = 0x41
	blockVoid  = 0x40
)

const (
	sectionType     = 1
	sectionImport   = 2
	sectionFunction = 3
	sectionMemory   = 5
	sectionExport   = 7
	sectionCode     = 10
	sectionData     = 11
)

var header = []byte{
	0x00, 0x61, 0x73, 0x6d, // Magic number: \0asm
	0x01, 0x00, 0x00, 0x00, // Version: 1
}

// Function signatures.
var (
	sigLoad = []byte{funcType, 4, valI32, valI32, valI32, valI32, 1, valI32}
	sigSize = []byte{funcType, 2, valI32, valI32, 1, valI32}
	sigLog  = []byte{funcType, 3, valI32, valI32, valI32, 0}
	sigVoid = []byte{funcType, 0, 0}
)

// EmptyModule is a valid module with no sections.
func EmptyModule() []byte {
	return append([]byte{}, header...)
}

// MemoryModule exports a single page of memory as "memory".
func MemoryModule() []byte {
	return module(
		section(sectionMemory, vec(memoryLimits(1))),
		section(sectionExport, vec(export("memory", kindMemory, 0))),
	)
}

// ImportModule imports every host function from hostModule and re-exports
// thin wrappers: load(path_ptr, path_len, buf_ptr, buf_size) -> i32,
// size(path_ptr, path_len) -> i32 and log(level, ptr, len).
func ImportModule(hostModule string) []byte {
	return importModule(hostModule, true)
}

// ImportModuleNoMemory is ImportModule without a memory section.
func ImportModuleNoMemory(hostModule string) []byte {
	return importModule(hostModule, false)
}

func importModule(hostModule string, withMemory bool) []byte {
	var memory []byte
	exports := [][]byte{
		export("load", kindFunc, 3),
		export("size", kindFunc, 4),
		export("log", kindFunc, 5),
	}
	if withMemory {
		memory = section(sectionMemory, vec(memoryLimits(1)))
		exports = append([][]byte{export("memory", kindMemory, 0)}, exports...)
	}

	return module(
		section(sectionType, vec(sigLoad, sigSize, sigLog)),
		section(sectionImport, vec(
			importFunc(hostModule, abi.FuncLoadFileSync, 0),
			importFunc(hostModule, abi.FuncFileSize, 1),
			importFunc(hostModule, abi.FuncLogMessage, 2),
		)),
		section(sectionFunction, vec(uleb(0), uleb(1), uleb(2))),
		memory,
		section(sectionExport, vec(exports...)),
		section(sectionCode, vec(
			body(localGet(0, 1, 2, 3), call(0)),
			body(localGet(0, 1), call(1)),
			body(localGet(0, 1, 2), call(2)),
		)),
	)
}

// StartModule exports a "_start" that loads path into [bufPtr, bufPtr+bufSize)
// and stores the i32 result at ResultAddr. The path is placed at PathAddr by
// a data segment.
func StartModule(hostModule, path string, bufPtr, bufSize uint32) []byte {
	code := concat(
		i32Const(int32(ResultAddr)),
		i32Const(int32(PathAddr)),
		i32Const(int32(len(path))),
		i32Const(int32(bufPtr)),
		i32Const(int32(bufSize)),
		call(0),
		[]byte{opI32Store, 0x02, 0x00},
	)

	return module(
		section(sectionType, vec(sigLoad, sigVoid)),
		section(sectionImport, vec(importFunc(hostModule, abi.FuncLoadFileSync, 0))),
		section(sectionFunction, vec(uleb(1))),
		section(sectionMemory, vec(memoryLimits(1))),
		section(sectionExport, vec(
			export("memory", kindMemory, 0),
			export("_start", kindFunc, 1),
		)),
		section(sectionCode, vec(body(code))),
		section(sectionData, vec(dataSegment(PathAddr, []byte(path)))),
	)
}

// SpinModule exports "spin", which never returns.
func SpinModule() []byte {
	return module(
		section(sectionType, vec(sigVoid)),
		section(sectionFunction, vec(uleb(0))),
		section(sectionExport, vec(export("spin", kindFunc, 0))),
		section(sectionCode, vec(body([]byte{opLoop, blockVoid, opBr, 0x00, opEnd}))),
	)
}

func module(sections ...[]byte) []byte {
	return concat(append([][]byte{header}, sections...)...)
}

func section(id byte, payload []byte) []byte {
	return concat([]byte{id}, uleb(uint32(len(payload))), payload)
}

func vec(items ...[]byte) []byte {
	return concat(append([][]byte{uleb(uint32(len(items)))}, items...)...)
}

func name(s string) []byte {
	return concat(uleb(uint32(len(s))), []byte(s))
}

func importFunc(module, field string, typeIdx uint32) []byte {
	return concat(name(module), name(field), []byte{kindFunc}, uleb(typeIdx))
}

func export(n string, kind byte, idx uint32) []byte {
	return concat(name(n), []byte{kind}, uleb(idx))
}

func memoryLimits(minPages uint32) []byte {
	return concat([]byte{0x00}, uleb(minPages))
}

// body wraps instructions into a function body with no locals.
func body(instrs ...[]byte) []byte {
	inner := concat(append([][]byte{{0x00}}, append(instrs, []byte{opEnd})...)...)
	return concat(uleb(uint32(len(inner))), inner)
}

func dataSegment(offset uint32, data []byte) []byte {
	return concat([]byte{0x00}, i32Const(int32(offset)), []byte{opEnd}, uleb(uint32(len(data))), data)
}

func localGet(indexes ...uint32) []byte {
	var out []byte
	for _, idx := range indexes {
		out = append(out, opLocalGet)
		out = append(out, uleb(idx)...)
	}
	return out
}

func call(idx uint32) []byte {
	return concat([]byte{opCall}, uleb(idx))
}

func i32Const(v int32) []byte {
	return concat([]byte{opI32Const}, sleb(v))
}

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func sleb(v int32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func concat(parts ...[]byte) []byte {
	var n int
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
