package bundle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/Capati/odin-wasm-host/internal/assets"
	"github.com/Capati/odin-wasm-host/internal/wasm"
)

// Manager manages bundle lifecycle.
type Manager struct {
	paths       []string
	runtime     *wasm.Runtime
	loader      *Loader
	registry    *Registry
	instanceMgr *wasm.InstanceManager
	logger      *zap.Logger

	mu     sync.RWMutex
	loaded bool
}

// NewManager creates a new bundle manager. instanceMgr must be the
// runtime's only instance manager.
func NewManager(
	paths []string,
	runtime *wasm.Runtime,
	instanceMgr *wasm.InstanceManager,
	fs afero.Fs,
	assetOpts assets.Options,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		paths:       paths,
		runtime:     runtime,
		loader:      NewLoader(runtime, fs, assetOpts, logger),
		registry:    NewRegistry(logger),
		instanceMgr: instanceMgr,
		logger:      logger.With(zap.String("component", "bundle-manager")),
	}
}

// LoadAll discovers and loads all bundles from configured paths.
func (m *Manager) LoadAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loaded {
		return fmt.Errorf("bundles already loaded")
	}

	m.logger.Info("Loading bundles",
		zap.Strings("paths", m.paths),
	)

	bundles, err := m.loader.DiscoverBundles(ctx, m.paths)
	if err != nil {
		var noBundles *NoBundlesFoundError
		if errors.As(err, &noBundles) {
			m.logger.Warn("No bundles found in configured paths",
				zap.Strings("paths", m.paths),
				zap.NamedError("cause", noBundles.Err),
			)
			m.loaded = true
			return nil
		}
		return err
	}

	for _, bundle := range bundles {
		if err := m.registry.Register(bundle); err != nil {
			m.logger.Error("Failed to register bundle",
				zap.String("name", bundle.Manifest.Name),
				zap.Error(err),
			)
			continue
		}
	}

	m.loaded = true

	m.logger.Info("Bundles loaded successfully",
		zap.Int("count", m.registry.Count()),
	)

	return nil
}

// Add loads the bundle in dir and registers it.
func (m *Manager) Add(ctx context.Context, dir string) (*Bundle, error) {
	bundle, err := m.loader.LoadBundle(ctx, dir)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.registry.Register(bundle); err != nil {
		return nil, err
	}
	return bundle, nil
}

// GetBundle retrieves a bundle by name.
func (m *Manager) GetBundle(name string) (*Bundle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bundle, ok := m.registry.Get(name)
	if !ok {
		return nil, &BundleNotFoundError{BundleName: name}
	}

	return bundle, nil
}

// RunOption customizes a bundle instance.
type RunOption func(*wasm.InstanceConfig)

// WithOutput sets the guest's stdout and stderr.
func WithOutput(stdout, stderr io.Writer) RunOption {
	return func(c *wasm.InstanceConfig) {
		c.Stdout = stdout
		c.Stderr = stderr
	}
}

// WithArgs appends guest arguments after those in the manifest.
func WithArgs(args ...string) RunOption {
	return func(c *wasm.InstanceConfig) {
		c.Args = append(c.Args, args...)
	}
}

// Instantiate creates a new instance of a bundle. Asset loads try the
// bundle's own source first, then the host default source.
func (m *Manager) Instantiate(ctx context.Context, bundleName string, opts ...RunOption) (*wasm.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bundle, ok := m.registry.Get(bundleName)
	if !ok {
		return nil, &BundleNotFoundError{BundleName: bundleName}
	}

	source := bundle.Source
	if def := m.instanceMgr.HostFunctions().Source(); def != nil {
		source = assets.NewChainSource(bundle.Source, def)
	}

	config := &wasm.InstanceConfig{
		ModuleName: bundle.Compiled.Name,
		// InstanceID will be auto-generated
		Source: source,
		Args:   append([]string{bundle.Manifest.Name}, bundle.Manifest.Args...),
	}
	if bundle.Manifest.Assets.Mount && bundle.Manifest.Assets.BaseURL == "" {
		config.FSRoot = bundle.Manifest.AssetsDir()
	}
	for _, opt := range opts {
		opt(config)
	}

	return m.instanceMgr.Instantiate(ctx, config)
}

// Run instantiates a bundle, calls its entry point and closes the instance.
func (m *Manager) Run(ctx context.Context, bundleName string, opts ...RunOption) error {
	instance, err := m.Instantiate(ctx, bundleName, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := instance.Close(ctx); err != nil {
			m.logger.Warn("Failed to close instance",
				zap.String("instance_id", instance.ID),
				zap.Error(err),
			)
		}
	}()

	bundle, err := m.GetBundle(bundleName)
	if err != nil {
		return err
	}

	m.logger.Info("Running bundle",
		zap.String("name", bundleName),
		zap.String("entry", bundle.Entry()),
		zap.String("instance_id", instance.ID),
	)

	if _, err := instance.Call(ctx, bundle.Entry()); err != nil {
		return fmt.Errorf("bundle '%s' failed: %w", bundleName, err)
	}

	return nil
}

// Shutdown gracefully shuts down all bundles.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down bundle manager")

	// Runtime close handles instance cleanup
	if err := m.runtime.Close(ctx); err != nil {
		m.logger.Error("Failed to shutdown runtime", zap.Error(err))
		return err
	}

	m.logger.Info("Bundle manager shutdown complete")
	return nil
}

// Registry returns the bundle registry (for testing/inspection).
func (m *Manager) Registry() *Registry {
	return m.registry
}

// IsLoaded returns whether bundles have been loaded.
func (m *Manager) IsLoaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loaded
}
