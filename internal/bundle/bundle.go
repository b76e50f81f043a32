// Package bundle loads guest applications packaged as a Wasm module, a
// manifest and their assets.
package bundle

import (
	"time"

	"github.com/Capati/odin-wasm-host/internal/assets"
	"github.com/Capati/odin-wasm-host/internal/wasm"
)

// Bundle represents a loaded bundle with its manifest and compiled Wasm module.
type Bundle struct {
	// Manifest is the parsed bundle metadata
	Manifest *Manifest

	// Compiled is the compiled Wasm module
	Compiled *wasm.CompiledModule

	// Source serves the bundle's own assets
	Source assets.Source

	// LoadedAt is the timestamp when the bundle was loaded
	LoadedAt time.Time
}

// Name returns the bundle name.
func (b *Bundle) Name() string {
	return b.Manifest.Name
}

// Version returns the bundle version.
func (b *Bundle) Version() string {
	return b.Manifest.Version
}

// Entry returns the exported function run calls.
func (b *Bundle) Entry() string {
	return b.Manifest.Entry
}

// Imports returns the host imports the module links against.
func (b *Bundle) Imports() []string {
	return b.Compiled.Imports()
}
