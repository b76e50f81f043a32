package bundle

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// ManifestFile is the manifest name inside a bundle directory.
const ManifestFile = "manifest.yaml"

// DefaultEntry is called when the manifest names no entry point.
const DefaultEntry = "_start"

// Manifest represents the bundle manifest.yaml structure.
type Manifest struct {
	Name        string       `yaml:"name" json:"name" validate:"required,max=64,excludesall=/\\" jsonschema:"required,description=Unique bundle name"`
	Version     string       `yaml:"version" json:"version" validate:"required" jsonschema:"required"`
	Description string       `yaml:"description,omitempty" json:"description,omitempty"`
	Wasm        WasmConfig   `yaml:"wasm" json:"wasm" jsonschema:"required"`
	Entry       string       `yaml:"entry,omitempty" json:"entry,omitempty" validate:"omitempty,export_name" jsonschema:"default=_start,description=Exported function called by run"`
	Args        []string     `yaml:"args,omitempty" json:"args,omitempty" jsonschema:"description=Guest arguments after argv[0]"`
	Assets      AssetsConfig `yaml:"assets,omitempty" json:"assets,omitempty"`
	Author      string       `yaml:"author,omitempty" json:"author,omitempty"`
	License     string       `yaml:"license,omitempty" json:"license,omitempty"`

	// Internal fields
	dir string // Directory containing manifest
}

// WasmConfig holds Wasm module configuration.
type WasmConfig struct {
	File string `yaml:"file" json:"file" validate:"required" jsonschema:"required,description=Wasm file relative to the bundle directory"`
	Size int    `yaml:"size,omitempty" json:"size,omitempty" validate:"gte=0" jsonschema:"description=Expected size in KB"`
}

// AssetsConfig describes where js_load_file_sync resolves paths for this bundle.
type AssetsConfig struct {
	Dir     string `yaml:"dir,omitempty" json:"dir,omitempty" jsonschema:"default=.,description=Asset directory relative to the bundle directory"`
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty" validate:"omitempty,http_url" jsonschema:"format=uri,description=HTTP base URL; takes precedence over dir"`
	Mount   bool   `yaml:"mount,omitempty" json:"mount,omitempty" jsonschema:"description=Mount the asset directory read-only at / for WASI file access"`
}

var exportNamePattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$.]*$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	// Report fields by their manifest keys.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("export_name", func(fl validator.FieldLevel) bool {
		return exportNamePattern.MatchString(fl.Field().String())
	})

	return v
}

// ParseManifest reads and parses manifest.yaml from a directory.
func ParseManifest(fs afero.Fs, dir string) (*Manifest, error) {
	manifestPath := filepath.Join(dir, ManifestFile)

	data, err := afero.ReadFile(fs, manifestPath)
	if err != nil {
		return nil, &ManifestNotFoundError{
			Path: manifestPath,
			Err:  err,
		}
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &ManifestParseError{
			Path: manifestPath,
			Err:  err,
		}
	}

	m.dir = dir
	if m.Entry == "" {
		m.Entry = DefaultEntry
	}

	if err := m.Validate(fs); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate checks manifest fields and that the Wasm file exists.
func (m *Manifest) Validate(fs afero.Fs) error {
	if err := validate.Struct(m); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
			return &ManifestValidationError{Path: m.Path(), Message: err.Error()}
		}

		fe := fieldErrs[0]
		field := strings.TrimPrefix(fe.Namespace(), "Manifest.")
		return &ManifestValidationError{
			Path:    m.Path(),
			Field:   field,
			Message: validationMessage(field, fe),
		}
	}

	if exists, _ := afero.Exists(fs, m.WasmPath()); !exists {
		return &WasmNotFoundError{
			ManifestPath: m.Path(),
			WasmFile:     m.Wasm.File,
		}
	}

	return nil
}

func validationMessage(field string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "http_url":
		return fmt.Sprintf("%s must be an absolute http(s) URL", field)
	case "export_name":
		return fmt.Sprintf("%s must be a plain export name", field)
	default:
		return fmt.Sprintf("%s failed '%s' validation", field, fe.Tag())
	}
}

// Path returns the manifest file path.
func (m *Manifest) Path() string {
	return filepath.Join(m.dir, ManifestFile)
}

// WasmPath returns the path to the Wasm file.
func (m *Manifest) WasmPath() string {
	return filepath.Join(m.dir, m.Wasm.File)
}

// AssetsDir returns the asset directory, the bundle directory by default.
func (m *Manifest) AssetsDir() string {
	if filepath.IsAbs(m.Assets.Dir) {
		return m.Assets.Dir
	}
	return filepath.Join(m.dir, m.Assets.Dir)
}

// Dir returns the directory containing the manifest.
func (m *Manifest) Dir() string {
	return m.dir
}
