//go:build wasip1

package wasm

import (
	"runtime"
	"unsafe"

	"github.com/Capati/odin-wasm-host/pkg/abi"
)

// NOTE: uint32 is used for pointers and lengths because WebAssembly uses a 32-bit
// linear memory model. All Wasm memory addresses are represented as 32-bit integers.

// go:wasmimport only takes a literal module name, so these bindings link
// against abi.DefaultModule. Hosts running with a different host_module
// need guests that declare their own imports.

//go:wasmimport env js_load_file_sync
func jsLoadFileSync(pathPtr, pathLen, bufPtr uint32, bufSize int32) int32

//go:wasmimport env js_file_size
func jsFileSize(pathPtr, pathLen uint32) int32

//go:wasmimport env log_message
func logMessage(level, ptr, length uint32)

func stringPtr(s string) (uint32, uint32) {
	if len(s) == 0 {
		return 0, 0
	}
	return uint32(uintptr(unsafe.Pointer(unsafe.StringData(s)))), uint32(len(s))
}

func bytesPtr(b []byte) uint32 {
	if len(b) == 0 {
		return 0
	}
	return uint32(uintptr(unsafe.Pointer(&b[0])))
}

// LoadFileInto copies the file at path into buf and returns its length.
// buf is left untouched on error.
func LoadFileInto(path string, buf []byte) (int, error) {
	pathPtr, pathLen := stringPtr(path)

	n := jsLoadFileSync(pathPtr, pathLen, bytesPtr(buf), int32(len(buf)))
	runtime.KeepAlive(buf)
	if n == abi.ResultError {
		size := jsFileSize(pathPtr, pathLen)
		runtime.KeepAlive(path)
		if size > int32(len(buf)) {
			return 0, ErrBufferTooSmall
		}
		return 0, ErrLoadFailed
	}
	runtime.KeepAlive(path)
	return int(n), nil
}

// LoadFile returns the whole file at path.
func LoadFile(path string) ([]byte, error) {
	pathPtr, pathLen := stringPtr(path)

	size := jsFileSize(pathPtr, pathLen)
	runtime.KeepAlive(path)
	if size < 0 {
		return nil, ErrLoadFailed
	}

	buf := make([]byte, size)
	if size == 0 {
		return buf, nil
	}

	n, err := LoadFileInto(path, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// Log sends msg to the host logger.
func Log(level abi.LogLevel, msg string) {
	ptr, length := stringPtr(msg)
	logMessage(uint32(level), ptr, length)
	runtime.KeepAlive(msg)
}
