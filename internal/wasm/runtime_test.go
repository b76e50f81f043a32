package wasm

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestNewRuntime(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime, err := NewRuntime(ctx, logger, nil)
	if err != nil {
		t.Fatalf("Failed to create runtime: %v", err)
	}

	if runtime == nil {
		t.Fatal("Runtime is nil")
	}

	// Cleanup
	if err := runtime.Close(context.Background()); err != nil {
		t.Errorf("Failed to close runtime: %v", err)
	}
}

func TestRuntimeCloseIdempotent(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime, err := NewRuntime(ctx, logger, nil)
	if err != nil {
		t.Fatal(err)
	}

	// Close multiple times should not error.
	if err := runtime.Close(ctx); err != nil {
		t.Errorf("First close failed: %v", err)
	}
	if err := runtime.Close(ctx); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
}

func TestDefaultRuntimeConfig(t *testing.T) {
	config := DefaultRuntimeConfig()

	if config.MemoryPages != 256 {
		t.Errorf("Default memory pages = %d, want 256", config.MemoryPages)
	}

	if config.DebugEnabled {
		t.Error("Debug should be disabled by default")
	}

	if config.MaxInstances != 100 {
		t.Errorf("Default max instances = %d, want 100", config.MaxInstances)
	}

	if config.ExecutionTimeout != 30*time.Second {
		t.Errorf("Default execution timeout = %v, want 30s", config.ExecutionTimeout)
	}

	if config.HostModule != "env" {
		t.Errorf("Default host module = %s, want env", config.HostModule)
	}

	if !config.WASI {
		t.Error("WASI should be enabled by default")
	}
}

func TestRuntimeConfiguration(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	config := &RuntimeConfig{
		MemoryPages:  128,
		DebugEnabled: true,
		MaxInstances: 50,
	}

	runtime, err := NewRuntime(ctx, logger, config)
	if err != nil {
		t.Fatalf("Failed to create runtime: %v", err)
	}

	if runtime.Config().MemoryPages != 128 {
		t.Errorf("Memory pages not set correctly")
	}

	if runtime.Config().HostModule != "env" {
		t.Errorf("Host module = %s, want env", runtime.Config().HostModule)
	}

	runtime.Close(ctx)
}

func TestRuntimeContextCancellation(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx, cancel := context.WithCancel(context.Background())

	runtime, err := NewRuntime(ctx, logger, nil)
	if err != nil {
		t.Fatal(err)
	}

	// Cancel context.
	cancel()

	// Close with cancelled context.
	err = runtime.Close(ctx)
	// wazero should handle cancelled context gracefully
	if err != nil && err != context.Canceled {
		t.Errorf("Unexpected error when closing with cancelled context: %v", err)
	}
}

func TestRuntimeModuleCache(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime, err := NewRuntime(ctx, logger, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer runtime.Close(ctx)

	// Test storing and retrieving compiled modules.
	module := &CompiledModule{
		Name:       "test-module",
		Source:     "test",
		SizeBytes:  1024,
		CompiledAt: time.Now().Unix(),
	}

	runtime.StoreCompiledModule(module)

	retrieved, ok := runtime.GetCompiledModule("test-module")
	if !ok {
		t.Fatal("Failed to retrieve module from cache")
	}

	if retrieved.Name != "test-module" {
		t.Errorf("Retrieved wrong module: %s", retrieved.Name)
	}
}

func TestRuntimeInstanceTracking(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime, err := NewRuntime(ctx, logger, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer runtime.Close(ctx)

	// Test storing and retrieving instances.
	instance := &Instance{ID: "test-instance", Name: "test-module"}

	runtime.StoreInstance(instance)

	retrieved, ok := runtime.GetInstance("test-instance")
	if !ok {
		t.Fatal("Failed to retrieve instance from tracking")
	}

	if retrieved != instance {
		t.Errorf("Retrieved wrong instance")
	}

	if n := runtime.InstanceCount(); n != 1 {
		t.Errorf("InstanceCount() = %d, want 1", n)
	}

	// Test deletion.
	runtime.DeleteInstance("test-instance")

	_, ok = runtime.GetInstance("test-instance")
	if ok {
		t.Error("Instance should have been deleted")
	}
}

func TestRuntimeIsClosed(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime, err := NewRuntime(ctx, logger, nil)
	if err != nil {
		t.Fatal(err)
	}

	if runtime.IsClosed() {
		t.Error("Runtime should not be closed initially")
	}

	runtime.Close(ctx)

	if !runtime.IsClosed() {
		t.Error("Runtime should be closed after Close()")
	}
}

func TestCompilationError(t *testing.T) {
	err := &CompilationError{
		ModuleName: "test",
		Err:        &testError{},
	}

	expected := "failed to compile Wasm module 'test': test error"
	if err.Error() != expected {
		t.Errorf("Error message = %s, want %s", err.Error(), expected)
	}
}

func TestInstantiationError(t *testing.T) {
	err := &InstantiationError{
		ModuleName: "test",
		InstanceID: "inst-1",
		Err:        &testError{},
	}

	expected := "failed to instantiate module 'test' (instance: inst-1): test error"
	if err.Error() != expected {
		t.Errorf("Error message = %s, want %s", err.Error(), expected)
	}
}

func TestModuleNotFoundError(t *testing.T) {
	err := &ModuleNotFoundError{ModuleName: "test"}

	expected := "module 'test' not found in cache"
	if err.Error() != expected {
		t.Errorf("Error message = %s, want %s", err.Error(), expected)
	}
}

func TestFunctionNotFoundError(t *testing.T) {
	err := &FunctionNotFoundError{
		ModuleName:   "test",
		FunctionName: "main",
	}

	expected := "function 'main' not found in module 'test'"
	if err.Error() != expected {
		t.Errorf("Error message = %s, want %s", err.Error(), expected)
	}
}

func TestCompiledModuleCacheDir(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	config := DefaultRuntimeConfig()
	config.CacheDir = t.TempDir()

	runtime, err := NewRuntime(ctx, logger, config)
	if err != nil {
		t.Fatalf("Failed to create runtime with cache dir: %v", err)
	}

	if runtime.compilationCache == nil {
		t.Error("Compilation cache should be set when CacheDir is configured")
	}

	if err := runtime.Close(ctx); err != nil {
		t.Errorf("Failed to close runtime: %v", err)
	}
}

func TestTimeoutError(t *testing.T) {
	err := &TimeoutError{Duration: 2 * time.Second}

	expected := "Wasm execution timed out after 2s"
	if err.Error() != expected {
		t.Errorf("Error message = %s, want %s", err.Error(), expected)
	}
}

func TestTooManyInstancesError(t *testing.T) {
	err := &TooManyInstancesError{Limit: 3}

	expected := "instance limit of 3 reached"
	if err.Error() != expected {
		t.Errorf("Error message = %s, want %s", err.Error(), expected)
	}
}

func TestExitError(t *testing.T) {
	err := &ExitError{InstanceID: "inst-1", Code: 2}

	expected := "instance 'inst-1' exited with code 2"
	if err.Error() != expected {
		t.Errorf("Error message = %s, want %s", err.Error(), expected)
	}
}

func TestMemoryAccessErrorUnwrap(t *testing.T) {
	err := &MemoryAccessError{Operation: "read", Address: 10, Length: 4, Err: ErrOutOfRange}

	if !errors.Is(err, ErrOutOfRange) {
		t.Error("MemoryAccessError should unwrap to ErrOutOfRange")
	}
}

// testError is a simple error for testing.
type testError struct{}

func (e *testError) Error() string {
	return "test error"
}

func TestNewRuntimeKeepsCallerConfig(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	config := DefaultRuntimeConfig()
	config.HostModule = ""
	config.WASI = false

	runtime, err := NewRuntime(ctx, logger, config)
	if err != nil {
		t.Fatal(err)
	}
	defer runtime.Close(ctx)

	if config.HostModule != "" {
		t.Errorf("Caller config modified: HostModule = %q", config.HostModule)
	}
	if runtime.Config().HostModule != "env" {
		t.Errorf("Expected default host module env, got %q", runtime.Config().HostModule)
	}
}

func TestHostFunctionError(t *testing.T) {
	err := &HostFunctionError{FunctionName: "js_load_file_sync", Err: ErrNoMemory}

	if err.Error() != "host function 'js_load_file_sync' failed: module has no memory" {
		t.Errorf("Unexpected error message: %s", err.Error())
	}
	if !errors.Is(err, ErrNoMemory) {
		t.Error("Expected HostFunctionError to unwrap to ErrNoMemory")
	}
}
