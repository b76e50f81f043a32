package abi

// Host import ABI shared by the host and guest bindings.
// All pointers and lengths are 32-bit offsets into the guest's linear memory.

// DefaultModule is the import module name the host functions are exported under.
const DefaultModule = "env"

// Host function names
const (
	FuncLoadFileSync = "js_load_file_sync"
	FuncFileSize     = "js_file_size"
	FuncLogMessage   = "log_message"
)

// ResultError is returned by host functions that report a byte count on failure.
const ResultError int32 = -1

// LogLevel is the level argument of log_message.
type LogLevel uint32

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

// String returns the level name.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "debug"
	case LogLevelInfo:
		return "info"
	case LogLevelWarn:
		return "warn"
	case LogLevelError:
		return "error"
	default:
		return "info"
	}
}

// HostFunctions lists every function exported by the host import module.
func HostFunctions() []string {
	return []string{FuncLoadFileSync, FuncFileSize, FuncLogMessage}
}
