package bundle

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/Capati/odin-wasm-host/internal/assets"
	"github.com/Capati/odin-wasm-host/internal/wasm"
	"github.com/Capati/odin-wasm-host/internal/wasm/wasmtest"
)

const validManifest = `name: triangle
version: 1.0.0
description: Spinning triangle
wasm:
  file: triangle.wasm
author: someone
license: MIT
`

// writeBundle creates dir/manifest.yaml, the Wasm file and extra files.
func writeBundle(t *testing.T, fs afero.Fs, dir, manifest, wasmFile string, wasmBytes []byte, files map[string]string) {
	t.Helper()

	if err := afero.WriteFile(fs, filepath.Join(dir, ManifestFile), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	if wasmFile != "" {
		if err := afero.WriteFile(fs, filepath.Join(dir, wasmFile), wasmBytes, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	for name, content := range files {
		if err := afero.WriteFile(fs, filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func newTestRuntime(t *testing.T) *wasm.Runtime {
	t.Helper()

	ctx := context.Background()
	runtime, err := wasm.NewRuntime(ctx, zap.NewNop(), wasm.DefaultRuntimeConfig())
	if err != nil {
		t.Fatalf("Failed to create runtime: %v", err)
	}
	t.Cleanup(func() { _ = runtime.Close(ctx) })
	return runtime
}

func newTestManager(t *testing.T, fs afero.Fs, paths []string, defaultSrc assets.Source) *Manager {
	t.Helper()

	logger := zap.NewNop()
	runtime := newTestRuntime(t)
	instanceMgr := wasm.NewInstanceManager(runtime, wasm.NewHostFunctions(logger, defaultSrc), logger)
	return NewManager(paths, runtime, instanceMgr, fs, assets.Options{MaxFileSize: 1 << 20}, logger)
}

func emptyWasm() []byte {
	return wasmtest.EmptyModule()
}
