// Package host wires the Wasm runtime, asset sources and bundles into the
// process that runs guest programs.
package host

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/Capati/odin-wasm-host/internal/assets"
	"github.com/Capati/odin-wasm-host/internal/bundle"
	"github.com/Capati/odin-wasm-host/internal/config"
	"github.com/Capati/odin-wasm-host/internal/wasm"
)

// Host owns the Wasm runtime, the default asset source and the loaded
// bundles.
type Host struct {
	cfg    *config.Config
	logger *zap.Logger
	fs     afero.Fs

	wasmRuntime *wasm.Runtime
	loader      *wasm.ModuleLoader
	instanceMgr *wasm.InstanceManager
	bundles     *bundle.Manager
	source      assets.Source
}

// New builds a host from cfg. Bundles are not loaded until LoadBundles or
// Run needs them.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Host, error) {
	// Initialize Wasm runtime.
	wasmConfig := &wasm.RuntimeConfig{
		MemoryPages:      cfg.Wasm.MemoryPages,
		DebugEnabled:     cfg.Wasm.Debug,
		CacheDir:         cfg.Wasm.CacheDir,
		MaxInstances:     cfg.Wasm.MaxInstances,
		ExecutionTimeout: time.Duration(cfg.Wasm.ExecutionTimeout) * time.Second,
		HostModule:       cfg.Wasm.HostModule,
		WASI:             cfg.Wasm.WASI,
	}

	wasmRuntime, err := wasm.NewRuntime(ctx, logger, wasmConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Wasm runtime: %w", err)
	}

	assetOpts := AssetOptions(cfg)

	source, err := assets.New(assetOpts, logger)
	if err != nil {
		_ = wasmRuntime.Close(ctx)
		return nil, fmt.Errorf("failed to create asset source: %w", err)
	}

	fs := afero.NewOsFs()
	hostFuncs := wasm.NewHostFunctions(logger, source)
	instanceMgr := wasm.NewInstanceManager(wasmRuntime, hostFuncs, logger)

	logger.Info("Host initialized",
		zap.Uint32("wasm_memory_pages", cfg.Wasm.MemoryPages),
		zap.String("wasm_cache_dir", cfg.Wasm.CacheDir),
		zap.String("assets", source.Name()),
	)

	return &Host{
		cfg:         cfg,
		logger:      logger,
		fs:          fs,
		wasmRuntime: wasmRuntime,
		loader:      wasm.NewModuleLoader(wasmRuntime, logger),
		instanceMgr: instanceMgr,
		bundles:     bundle.NewManager(cfg.BundlePaths, wasmRuntime, instanceMgr, fs, assetOpts, logger),
		source:      source,
	}, nil
}

// AssetOptions converts the assets section of cfg.
func AssetOptions(cfg *config.Config) assets.Options {
	return assets.Options{
		BaseURL:            cfg.Assets.BaseURL,
		RootDir:            cfg.Assets.RootDir,
		Timeout:            time.Duration(cfg.Assets.Timeout) * time.Second,
		MaxFileSize:        cfg.Assets.MaxFileSize,
		Headers:            cfg.Assets.Headers,
		Cache:              cfg.Assets.Cache.Enabled,
		CacheMaxBytes:      cfg.Assets.Cache.MaxBytes,
		CacheMaxEntryBytes: cfg.Assets.Cache.MaxEntryBytes,
	}
}

// Bundles returns the bundle manager.
func (h *Host) Bundles() *bundle.Manager {
	return h.bundles
}

// Source returns the default asset source.
func (h *Host) Source() assets.Source {
	return h.source
}

// LoadBundles loads the bundles under the configured paths once.
func (h *Host) LoadBundles(ctx context.Context) error {
	if h.bundles.IsLoaded() {
		return nil
	}
	return h.bundles.LoadAll(ctx)
}

// Run runs target, which is a .wasm file, a bundle directory or the name
// of a bundle under the configured paths.
func (h *Host) Run(ctx context.Context, target string, opts ...bundle.RunOption) error {
	if strings.HasSuffix(target, ".wasm") {
		return h.RunModule(ctx, target, "", opts...)
	}

	if ok, _ := afero.Exists(h.fs, filepath.Join(target, bundle.ManifestFile)); ok {
		b, err := h.bundles.Add(ctx, target)
		if err != nil {
			return err
		}
		return h.RunBundle(ctx, b.Name(), opts...)
	}

	if err := h.LoadBundles(ctx); err != nil {
		return err
	}
	return h.RunBundle(ctx, target, opts...)
}

// RunBundle runs a loaded bundle's entry point.
func (h *Host) RunBundle(ctx context.Context, name string, opts ...bundle.RunOption) error {
	return h.bundles.Run(ctx, name, opts...)
}

// RunModule compiles and runs a bare Wasm file. entry defaults to _start.
// Assets resolve through the default source.
func (h *Host) RunModule(ctx context.Context, path, entry string, opts ...bundle.RunOption) error {
	if entry == "" {
		entry = bundle.DefaultEntry
	}

	compiled, err := h.loader.LoadModule(ctx, &wasm.FileModuleSource{Fs: h.fs, Path: path})
	if err != nil {
		return err
	}

	config := &wasm.InstanceConfig{
		ModuleName: compiled.Name,
		Args:       []string{filepath.Base(path)},
	}
	for _, opt := range opts {
		opt(config)
	}

	instance, err := h.instanceMgr.Instantiate(ctx, config)
	if err != nil {
		return err
	}
	defer func() {
		if err := instance.Close(ctx); err != nil {
			h.logger.Warn("Failed to close instance", zap.String("instance_id", instance.ID), zap.Error(err))
		}
	}()

	h.logger.Info("Running module",
		zap.String("path", path),
		zap.String("entry", entry),
		zap.String("instance_id", instance.ID),
	)

	if _, err := instance.Call(ctx, entry); err != nil {
		return fmt.Errorf("module '%s' failed: %w", path, err)
	}

	return nil
}

// Fetch loads path through the default source, as a guest would.
func (h *Host) Fetch(ctx context.Context, path string) ([]byte, error) {
	return h.source.Load(ctx, path)
}

// Close gracefully shuts down the host.
func (h *Host) Close(ctx context.Context) error {
	h.logger.Info("Shutting down host")

	// Shutdown closes the Wasm runtime.
	if err := h.bundles.Shutdown(ctx); err != nil {
		h.logger.Error("Failed to shutdown Wasm runtime", zap.Error(err))
		return err
	}

	h.logger.Info("Host shutdown complete")
	return nil
}
