package wasm

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/Capati/odin-wasm-host/internal/assets"
)

// Reactor modules export this instead of running a _start.
const initializeFunction = "_initialize"

// InstanceManager creates and manages module instances.
// There should be one per Runtime: it owns the host import module.
type InstanceManager struct {
	runtime   *Runtime
	logger    *zap.Logger
	hostFuncs *HostFunctions

	hostOnce sync.Once
	hostErr  error

	slots *semaphore.Weighted
	limit int
	seq   atomic.Uint64
}

// NewInstanceManager creates a new instance manager.
func NewInstanceManager(runtime *Runtime, hostFuncs *HostFunctions, logger *zap.Logger) *InstanceManager {
	limit := runtime.config.MaxInstances
	if limit <= 0 {
		limit = DefaultRuntimeConfig().MaxInstances
	}

	return &InstanceManager{
		runtime:   runtime,
		hostFuncs: hostFuncs,
		slots:     semaphore.NewWeighted(int64(limit)),
		limit:     limit,
		logger:    logger.With(zap.String("component", "wasm-instance")),
	}
}

// HostFunctions returns the host function implementation.
func (m *InstanceManager) HostFunctions() *HostFunctions {
	return m.hostFuncs
}

// InstanceConfig holds configuration for creating instances.
type InstanceConfig struct {
	// Module name to instantiate.
	ModuleName string

	// Instance ID (if empty, one is generated).
	InstanceID string

	// Asset source bound to every call. Nil uses the host default.
	Source assets.Source

	// Functions run during instantiation. _initialize is always run
	// afterwards when exported.
	StartFunctions []string

	// Guest arguments, argv[0] first.
	Args []string

	// Read-only host directory mounted at "/" for WASI file access.
	FSRoot string

	Stdout io.Writer
	Stderr io.Writer
}

// Instance represents an instantiated Wasm module.
type Instance struct {
	// wazero module instance.
	module api.Module

	// Instance metadata.
	ID        string
	Name      string
	CreatedAt int64

	// Exported functions (cached for performance).
	exports map[string]api.Function

	source  assets.Source
	timeout time.Duration
	trace   bool
	logger  *zap.Logger

	closeOnce sync.Once
	closeErr  error
	onClose   func()
}

// Instantiate creates a new instance from a compiled module.
// Host functions are exported to the Wasm module.
func (m *InstanceManager) Instantiate(ctx context.Context, config *InstanceConfig) (*Instance, error) {
	if m.runtime.IsClosed() {
		return nil, fmt.Errorf("failed to instantiate module '%s': runtime closed", config.ModuleName)
	}

	compiled, ok := m.runtime.GetCompiledModule(config.ModuleName)
	if !ok {
		return nil, &ModuleNotFoundError{ModuleName: config.ModuleName}
	}

	if err := m.ensureHostModule(ctx); err != nil {
		return nil, err
	}

	if !m.slots.TryAcquire(1) {
		return nil, &TooManyInstancesError{Limit: m.limit}
	}

	instanceID := config.InstanceID
	if instanceID == "" {
		instanceID = m.generateInstanceID()
	}

	m.logger.Info("Instantiating Wasm module",
		zap.String("module", config.ModuleName),
		zap.String("instance_id", instanceID),
	)

	moduleConfig := wazero.NewModuleConfig().
		WithName(instanceID).
		WithStartFunctions(config.StartFunctions...).
		WithSysWalltime().
		WithSysNanotime().
		WithRandSource(rand.Reader)

	if len(config.Args) > 0 {
		moduleConfig = moduleConfig.WithArgs(config.Args...)
	} else {
		moduleConfig = moduleConfig.WithArgs(config.ModuleName)
	}
	if config.Stdout != nil {
		moduleConfig = moduleConfig.WithStdout(config.Stdout)
	}
	if config.Stderr != nil {
		moduleConfig = moduleConfig.WithStderr(config.Stderr)
	}
	if config.FSRoot != "" {
		moduleConfig = moduleConfig.WithFSConfig(wazero.NewFSConfig().WithReadOnlyDirMount(config.FSRoot, "/"))
	}

	callCtx := ctx
	if config.Source != nil {
		callCtx = assets.WithSource(ctx, config.Source)
	}

	module, err := m.runtime.runtime.InstantiateModule(callCtx, compiled.Module, moduleConfig)
	if err != nil {
		m.slots.Release(1)
		return nil, &InstantiationError{
			ModuleName: config.ModuleName,
			InstanceID: instanceID,
			Err:        err,
		}
	}

	instance := &Instance{
		module:    module,
		ID:        instanceID,
		Name:      config.ModuleName,
		CreatedAt: time.Now().Unix(),
		exports:   cacheExportedFunctions(module),
		source:    config.Source,
		timeout:   m.runtime.config.ExecutionTimeout,
		trace:     m.runtime.config.DebugEnabled,
		logger:    m.logger.With(zap.String("instance_id", instanceID)),
	}
	instance.onClose = func() {
		m.runtime.DeleteInstance(instanceID)
		m.slots.Release(1)
	}

	m.runtime.StoreInstance(instance)

	if instance.HasFunction(initializeFunction) {
		if _, err := instance.Call(ctx, initializeFunction); err != nil {
			_ = instance.Close(ctx)
			return nil, &InstantiationError{
				ModuleName: config.ModuleName,
				InstanceID: instanceID,
				Err:        err,
			}
		}
	}

	m.logger.Info("Module instantiated successfully",
		zap.String("instance_id", instanceID),
		zap.Int("exported_functions", len(instance.exports)),
	)

	return instance, nil
}

// ensureHostModule instantiates the host import module once per manager.
func (m *InstanceManager) ensureHostModule(ctx context.Context) error {
	m.hostOnce.Do(func() {
		name := m.runtime.config.HostModule

		if m.runtime.runtime.Module(name) != nil {
			m.logger.Debug("Host module already instantiated", zap.String("module", name))
			return
		}

		builder := m.hostFuncs.Export(m.runtime.runtime.NewHostModuleBuilder(name))
		if _, err := builder.Instantiate(ctx); err != nil {
			m.hostErr = &InstantiationError{
				ModuleName: name,
				InstanceID: name,
				Err:        err,
			}
			return
		}

		m.logger.Debug("Host module instantiated", zap.String("module", name))
	})

	return m.hostErr
}

func (m *InstanceManager) generateInstanceID() string {
	return fmt.Sprintf("inst-%d-%d", time.Now().UnixNano(), m.seq.Add(1))
}

// Call invokes an exported function with the runtime execution timeout.
// A guest that calls proc_exit(0) returns no results and no error.
func (i *Instance) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	fn, ok := i.exports[name]
	if !ok {
		return nil, &FunctionNotFoundError{ModuleName: i.Name, FunctionName: name}
	}

	if i.source != nil {
		ctx = assets.WithSource(ctx, i.source)
	}

	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	if i.trace {
		i.logger.Debug("Calling function",
			zap.String("function", name),
			zap.Uint64s("params", params),
		)
	}

	start := time.Now()
	results, err := fn.Call(ctx, params...)

	if i.trace {
		i.logger.Debug("Function call finished",
			zap.String("function", name),
			zap.Uint64s("results", results),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
	}

	if err == nil {
		return results, nil
	}

	var exitErr *sys.ExitError
	if !errors.As(err, &exitErr) {
		return nil, fmt.Errorf("call to '%s' failed: %w", name, err)
	}

	switch exitErr.ExitCode() {
	case 0:
		return nil, nil
	case sys.ExitCodeDeadlineExceeded:
		return nil, &TimeoutError{Duration: i.timeout}
	case sys.ExitCodeContextCanceled:
		return nil, fmt.Errorf("call to '%s' canceled: %w", name, context.Canceled)
	default:
		return nil, &ExitError{InstanceID: i.ID, Code: exitErr.ExitCode()}
	}
}

// HasFunction reports whether the instance exports name.
func (i *Instance) HasFunction(name string) bool {
	_, ok := i.exports[name]
	return ok
}

// Exports returns the exported function names, sorted.
func (i *Instance) Exports() []string {
	names := make([]string, 0, len(i.exports))
	for name := range i.exports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Memory returns a helper over the instance's linear memory.
func (i *Instance) Memory() *Memory {
	return NewMemory(i.module)
}

// Module returns the underlying wazero module.
func (i *Instance) Module() api.Module {
	return i.module
}

// Close closes the instance and releases resources.
// Safe to call multiple times.
func (i *Instance) Close(ctx context.Context) error {
	i.closeOnce.Do(func() {
		if i.module != nil {
			i.closeErr = i.module.Close(ctx)
		}
		if i.onClose != nil {
			i.onClose()
		}
	})
	return i.closeErr
}

// cacheExportedFunctions caches references to exported functions.
func cacheExportedFunctions(module api.Module) map[string]api.Function {
	exports := make(map[string]api.Function)

	for name := range module.ExportedFunctionDefinitions() {
		if fn := module.ExportedFunction(name); fn != nil {
			exports[name] = fn
		}
	}

	return exports
}
