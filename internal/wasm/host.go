package wasm

import (
	"context"
	"errors"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/Capati/odin-wasm-host/internal/assets"
	"github.com/Capati/odin-wasm-host/pkg/abi"
)

// HostFunctions implements the imports guests link against.
type HostFunctions struct {
	logger *zap.Logger

	// Used when the call context carries no source.
	source assets.Source
}

// NewHostFunctions creates a new host functions implementation.
// source may be nil if every call binds one with assets.WithSource.
func NewHostFunctions(logger *zap.Logger, source assets.Source) *HostFunctions {
	return &HostFunctions{
		logger: logger.With(zap.String("component", "wasm-host")),
		source: source,
	}
}

// Source returns the default asset source.
func (h *HostFunctions) Source() assets.Source {
	return h.source
}

// Export registers every host function on builder.
func (h *HostFunctions) Export(builder wazero.HostModuleBuilder) wazero.HostModuleBuilder {
	builder.NewFunctionBuilder().
		WithFunc(h.loadFileSync).
		WithParameterNames("path_ptr", "path_len", "buf_ptr", "buf_size").
		WithResultNames("len").
		Export(abi.FuncLoadFileSync)

	builder.NewFunctionBuilder().
		WithFunc(h.fileSize).
		WithParameterNames("path_ptr", "path_len").
		WithResultNames("size").
		Export(abi.FuncFileSize)

	builder.NewFunctionBuilder().
		WithFunc(h.logMessage).
		WithParameterNames("level", "ptr", "length").
		Export(abi.FuncLogMessage)

	return builder
}

func (h *HostFunctions) sourceFor(ctx context.Context) assets.Source {
	if src, ok := assets.SourceFromContext(ctx); ok {
		return src
	}
	return h.source
}

// errNoSource is reported when neither the call nor the host has a source.
var errNoSource = errors.New("no asset source configured")

// fetch reads the path from guest memory and loads it. Failures are logged
// as a *HostFunctionError for fn and reported as ok == false.
func (h *HostFunctions) fetch(ctx context.Context, mod api.Module, fn string, pathPtr, pathLen uint32) (string, []byte, bool) {
	path, err := NewMemory(mod).ReadPath(pathPtr, pathLen)
	if err != nil {
		h.logger.Error("Failed to read path from Wasm memory",
			zap.String("module", mod.Name()),
			zap.Error(&HostFunctionError{FunctionName: fn, Err: err}),
		)
		return "", nil, false
	}

	src := h.sourceFor(ctx)
	if src == nil {
		h.logger.Error("No asset source configured",
			zap.String("path", path),
			zap.Error(&HostFunctionError{FunctionName: fn, Err: errNoSource}),
		)
		return path, nil, false
	}

	data, err := src.Load(ctx, path)
	if err != nil {
		fields := []zap.Field{zap.String("path", path)}
		var statusErr *assets.StatusError
		if errors.As(err, &statusErr) {
			fields = append(fields, zap.Int("status", statusErr.StatusCode))
		} else {
			fields = append(fields, zap.String("source", src.Name()))
		}
		fields = append(fields, zap.Error(&HostFunctionError{FunctionName: fn, Err: err}))
		h.logger.Error("Failed to load file", fields...)
		return path, nil, false
	}

	return path, data, true
}

// loadFileSync copies the resource at path into the guest buffer.
// Signature: js_load_file_sync(path_ptr, path_len, buf_ptr, buf_size) -> i32
// Returns the number of bytes copied, or -1. The buffer is only written
// when the whole resource fits.
func (h *HostFunctions) loadFileSync(ctx context.Context, mod api.Module, pathPtr, pathLen, bufPtr uint32, bufSize int32) int32 {
	path, data, ok := h.fetch(ctx, mod, abi.FuncLoadFileSync, pathPtr, pathLen)
	if !ok {
		return abi.ResultError
	}

	if int64(len(data)) > int64(bufSize) {
		h.logger.Error("File too large",
			zap.String("path", path),
			zap.Int("size", len(data)),
			zap.Int32("buffer_size", bufSize),
		)
		return abi.ResultError
	}

	if err := NewMemory(mod).WriteBytesAt(bufPtr, data); err != nil {
		h.logger.Error("Failed to copy file into Wasm memory",
			zap.String("path", path),
			zap.Error(&HostFunctionError{FunctionName: abi.FuncLoadFileSync, Err: err}),
		)
		return abi.ResultError
	}

	h.logger.Debug("File loaded",
		zap.String("path", path),
		zap.Int("size", len(data)),
	)

	return int32(len(data))
}

// fileSize returns the byte length of the resource at path, or -1.
// Signature: js_file_size(path_ptr, path_len) -> i32
func (h *HostFunctions) fileSize(ctx context.Context, mod api.Module, pathPtr, pathLen uint32) int32 {
	path, data, ok := h.fetch(ctx, mod, abi.FuncFileSize, pathPtr, pathLen)
	if !ok {
		return abi.ResultError
	}

	if int64(len(data)) > int64(^uint32(0)>>1) {
		h.logger.Error("File size does not fit in i32",
			zap.String("path", path),
			zap.Int("size", len(data)),
		)
		return abi.ResultError
	}

	return int32(len(data))
}

// logMessage is called by Wasm modules to log messages.
// Signature: log_message(level, ptr, length)
func (h *HostFunctions) logMessage(ctx context.Context, mod api.Module, level uint32, ptr uint32, length uint32) {
	msg, err := NewMemory(mod).ReadBytes(ptr, length)
	if err != nil {
		h.logger.Error("Failed to read log message from Wasm memory",
			zap.Uint32("ptr", ptr),
			zap.Uint32("length", length),
		)
		return
	}

	field := zap.String("module", mod.Name())

	switch abi.LogLevel(level) {
	case abi.LogLevelDebug:
		h.logger.Debug(string(msg), field)
	case abi.LogLevelWarn:
		h.logger.Warn(string(msg), field)
	case abi.LogLevelError:
		h.logger.Error(string(msg), field)
	default:
		h.logger.Info(string(msg), field)
	}
}
