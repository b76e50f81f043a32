package bundle

import (
	"errors"
	"testing"

	"github.com/spf13/afero"
)

func TestParseManifest_Valid(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeBundle(t, fs, "/bundles/triangle", validManifest, "triangle.wasm", emptyWasm(), nil)

	manifest, err := ParseManifest(fs, "/bundles/triangle")
	if err != nil {
		t.Fatalf("ParseManifest() failed: %v", err)
	}

	if manifest.Name != "triangle" {
		t.Errorf("expected Name 'triangle', got '%s'", manifest.Name)
	}

	if manifest.Version != "1.0.0" {
		t.Errorf("expected Version '1.0.0', got '%s'", manifest.Version)
	}

	if manifest.Wasm.File != "triangle.wasm" {
		t.Errorf("expected Wasm.File 'triangle.wasm', got '%s'", manifest.Wasm.File)
	}

	if manifest.Entry != DefaultEntry {
		t.Errorf("expected default Entry '%s', got '%s'", DefaultEntry, manifest.Entry)
	}

	if manifest.WasmPath() != "/bundles/triangle/triangle.wasm" {
		t.Errorf("unexpected WasmPath: %s", manifest.WasmPath())
	}

	if manifest.AssetsDir() != "/bundles/triangle" {
		t.Errorf("AssetsDir should default to the bundle dir, got %s", manifest.AssetsDir())
	}
}

func TestParseManifest_CustomEntryAndAssets(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeBundle(t, fs, "/b", `name: demo
version: 0.1.0
wasm:
  file: demo.wasm
entry: run
args: [--fullscreen]
assets:
  dir: assets
  mount: true
`, "demo.wasm", emptyWasm(), nil)

	manifest, err := ParseManifest(fs, "/b")
	if err != nil {
		t.Fatalf("ParseManifest() failed: %v", err)
	}

	if manifest.Entry != "run" {
		t.Errorf("expected Entry 'run', got '%s'", manifest.Entry)
	}
	if len(manifest.Args) != 1 || manifest.Args[0] != "--fullscreen" {
		t.Errorf("unexpected Args: %v", manifest.Args)
	}
	if manifest.AssetsDir() != "/b/assets" {
		t.Errorf("unexpected AssetsDir: %s", manifest.AssetsDir())
	}
	if !manifest.Assets.Mount {
		t.Error("expected Assets.Mount")
	}
}

func TestParseManifest_NotFound(t *testing.T) {
	_, err := ParseManifest(afero.NewMemMapFs(), "/bundles/nonexistent")
	if err == nil {
		t.Fatal("ParseManifest() should fail for nonexistent directory")
	}

	var notFound *ManifestNotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("expected ManifestNotFoundError, got %T", err)
	}
}

func TestParseManifest_InvalidYAML(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeBundle(t, fs, "/b", "name: [unterminated\n", "", nil, nil)

	_, err := ParseManifest(fs, "/b")

	var parseErr *ManifestParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ManifestParseError, got %T (%v)", err, err)
	}
	if parseErr.Path != "/b/manifest.yaml" {
		t.Errorf("unexpected Path: %s", parseErr.Path)
	}
}

func TestParseManifest_ValidationErrors(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		field    string
	}{
		{
			name:     "missing name",
			manifest: "version: 1.0.0\nwasm:\n  file: a.wasm\n",
			field:    "name",
		},
		{
			name:     "missing version",
			manifest: "name: a\nwasm:\n  file: a.wasm\n",
			field:    "version",
		},
		{
			name:     "missing wasm file",
			manifest: "name: a\nversion: 1.0.0\n",
			field:    "wasm.file",
		},
		{
			name:     "entry with spaces",
			manifest: "name: a\nversion: 1.0.0\nentry: not valid\nwasm:\n  file: a.wasm\n",
			field:    "entry",
		},
		{
			name:     "relative base url",
			manifest: "name: a\nversion: 1.0.0\nwasm:\n  file: a.wasm\nassets:\n  base_url: assets/\n",
			field:    "assets.base_url",
		},
		{
			name:     "non-http base url",
			manifest: "name: a\nversion: 1.0.0\nwasm:\n  file: a.wasm\nassets:\n  base_url: ftp://example.com/\n",
			field:    "assets.base_url",
		},
		{
			name:     "name with slash",
			manifest: "name: a/b\nversion: 1.0.0\nwasm:\n  file: a.wasm\n",
			field:    "name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			writeBundle(t, fs, "/b", tt.manifest, "a.wasm", emptyWasm(), nil)

			_, err := ParseManifest(fs, "/b")

			var validationErr *ManifestValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("expected ManifestValidationError, got %T (%v)", err, err)
			}
			if validationErr.Field != tt.field {
				t.Errorf("expected Field '%s', got '%s'", tt.field, validationErr.Field)
			}
		})
	}
}

func TestParseManifest_WasmNotFound(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeBundle(t, fs, "/b", validManifest, "", nil, nil)

	_, err := ParseManifest(fs, "/b")

	var wasmErr *WasmNotFoundError
	if !errors.As(err, &wasmErr) {
		t.Fatalf("expected WasmNotFoundError, got %T (%v)", err, err)
	}
	if wasmErr.WasmFile != "triangle.wasm" {
		t.Errorf("unexpected WasmFile: %s", wasmErr.WasmFile)
	}
}

func TestManifestValidationError_Message(t *testing.T) {
	err := &ManifestValidationError{Path: "/b/manifest.yaml", Field: "name", Message: "name is required"}

	expected := "manifest validation failed at '/b/manifest.yaml': name is required (field: name)"
	if err.Error() != expected {
		t.Errorf("Error() = %s, want %s", err.Error(), expected)
	}
}
