package bundle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Capati/odin-wasm-host/internal/assets"
	"github.com/Capati/odin-wasm-host/internal/wasm"
)

// Loader handles loading bundles from disk.
type Loader struct {
	runtime      *wasm.Runtime
	moduleLoader *wasm.ModuleLoader
	fs           afero.Fs
	assetOpts    assets.Options
	logger       *zap.Logger
}

// NewLoader creates a new bundle loader reading from fs. assetOpts supplies
// limits, headers and cache settings for each bundle's asset source; its
// BaseURL and RootDir are taken from the manifest.
func NewLoader(runtime *wasm.Runtime, fs afero.Fs, assetOpts assets.Options, logger *zap.Logger) *Loader {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Loader{
		runtime:      runtime,
		moduleLoader: wasm.NewModuleLoader(runtime, logger),
		fs:           fs,
		assetOpts:    assetOpts,
		logger:       logger.With(zap.String("component", "bundle-loader")),
	}
}

// LoadBundle loads a single bundle from a directory.
func (l *Loader) LoadBundle(ctx context.Context, dir string) (*Bundle, error) {
	l.logger.Debug("Loading bundle", zap.String("dir", dir))

	manifest, err := ParseManifest(l.fs, dir)
	if err != nil {
		return nil, err
	}

	l.logger.Info("Loading bundle",
		zap.String("name", manifest.Name),
		zap.String("version", manifest.Version),
		zap.String("entry", manifest.Entry),
	)

	// Compile Wasm module (uses internal caching)
	compiled, err := l.moduleLoader.LoadModule(ctx, &wasm.FileModuleSource{
		Fs:   l.fs,
		Path: manifest.WasmPath(),
	})
	if err != nil {
		return nil, &BundleLoadError{
			BundleName: manifest.Name,
			Err:        err,
		}
	}

	source, err := l.assetSource(manifest)
	if err != nil {
		return nil, &BundleLoadError{
			BundleName: manifest.Name,
			Err:        err,
		}
	}

	bundle := &Bundle{
		Manifest: manifest,
		Compiled: compiled,
		Source:   source,
		LoadedAt: time.Now(),
	}

	l.logger.Info("Bundle loaded successfully",
		zap.String("name", manifest.Name),
		zap.Int64("size_bytes", compiled.SizeBytes),
		zap.String("assets", source.Name()),
	)

	return bundle, nil
}

// assetSource builds the source serving the bundle's assets.
func (l *Loader) assetSource(m *Manifest) (assets.Source, error) {
	if m.Assets.BaseURL != "" {
		opts := l.assetOpts
		opts.BaseURL = m.Assets.BaseURL
		return assets.New(opts, l.logger)
	}

	dir := m.AssetsDir()
	root := afero.NewReadOnlyFs(afero.NewBasePathFs(l.fs, dir))

	var src assets.Source = assets.NewFsSource(dir, root, l.assetOpts.MaxFileSize)
	if l.assetOpts.Cache {
		src = assets.NewCachedSource(src, l.assetOpts.CacheMaxBytes, l.assetOpts.CacheMaxEntryBytes, l.logger)
	}
	return src, nil
}

// DiscoverBundles scans directories for bundles. A path that itself holds a
// manifest is loaded as a bundle, otherwise each subdirectory is tried.
func (l *Loader) DiscoverBundles(ctx context.Context, paths []string) ([]*Bundle, error) {
	var bundles []*Bundle
	var errs error

	for _, basePath := range paths {
		l.logger.Debug("Scanning bundle directory", zap.String("path", basePath))

		if ok, _ := afero.Exists(l.fs, filepath.Join(basePath, ManifestFile)); ok {
			bundle, err := l.LoadBundle(ctx, basePath)
			if err != nil {
				l.logger.Error("Failed to load bundle",
					zap.String("dir", basePath),
					zap.Error(err),
				)
				errs = multierr.Append(errs, err)
				continue
			}
			bundles = append(bundles, bundle)
			continue
		}

		entries, err := afero.ReadDir(l.fs, basePath)
		if err != nil {
			if os.IsNotExist(err) {
				l.logger.Warn("Bundle path does not exist", zap.String("path", basePath))
				continue
			}
			return nil, fmt.Errorf("failed to read directory '%s': %w", basePath, err)
		}

		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}

			bundleDir := filepath.Join(basePath, entry.Name())

			bundle, err := l.LoadBundle(ctx, bundleDir)
			if err != nil {
				l.logger.Error("Failed to load bundle",
					zap.String("dir", bundleDir),
					zap.Error(err),
				)
				errs = multierr.Append(errs, err)
				continue
			}

			bundles = append(bundles, bundle)
		}
	}

	if len(bundles) > 0 && errs != nil {
		l.logger.Warn("Some bundles failed to load",
			zap.Int("loaded", len(bundles)),
			zap.Int("failed", len(multierr.Errors(errs))),
		)
	}

	if len(bundles) == 0 {
		return nil, &NoBundlesFoundError{Paths: paths, Err: errs}
	}

	return bundles, nil
}
