package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. ODIN_HOST_WASM_MEMORY_PAGES.
const EnvPrefix = "ODIN_HOST"

// Config is the host configuration.
type Config struct {
	BundlePaths []string     `mapstructure:"bundle_paths"`
	LogLevel    string       `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	Wasm        WasmConfig   `mapstructure:"wasm"`
	Assets      AssetsConfig `mapstructure:"assets"`
}

// WasmConfig holds Wasm runtime configuration.
type WasmConfig struct {
	// Memory limit per module (in pages, 64KB each).
	MemoryPages uint32 `mapstructure:"memory_pages" validate:"min=1,max=65536"`
	// Enable debug logging.
	Debug bool `mapstructure:"debug"`
	// Compilation cache directory. Empty keeps compiled code in memory only.
	CacheDir string `mapstructure:"cache_dir"`
	// Maximum concurrent instances.
	MaxInstances int `mapstructure:"max_instances" validate:"min=1"`
	// Guest call timeout (seconds).
	ExecutionTimeout int `mapstructure:"execution_timeout" validate:"min=1"`
	// Import module name the host functions are exported under.
	HostModule string `mapstructure:"host_module" validate:"required"`
	// Instantiate WASI preview1 for guests built against it.
	WASI bool `mapstructure:"wasi"`
}

// AssetsConfig configures where js_load_file_sync reads from.
type AssetsConfig struct {
	// BaseURL switches the default source to HTTP when set.
	BaseURL string `mapstructure:"base_url" validate:"omitempty,url"`
	// RootDir is served when BaseURL is empty.
	RootDir string `mapstructure:"root_dir"`
	// Request timeout (seconds).
	Timeout int `mapstructure:"timeout" validate:"min=1"`
	// MaxFileSize caps a single fetched resource (bytes).
	MaxFileSize int64 `mapstructure:"max_file_size" validate:"gt=0"`
	// Headers are added to every HTTP request.
	Headers map[string]string `mapstructure:"headers"`
	Cache   CacheConfig       `mapstructure:"cache"`
}

// CacheConfig configures the in-memory asset cache.
type CacheConfig struct {
	Enabled       bool  `mapstructure:"enabled"`
	MaxBytes      int64 `mapstructure:"max_bytes" validate:"gte=0"`
	MaxEntryBytes int64 `mapstructure:"max_entry_bytes" validate:"gte=0"`
}

// flagKeys maps CLI flag names to config keys.
var flagKeys = map[string]string{
	"log-level":     "log_level",
	"bundle-path":   "bundle_paths",
	"base-url":      "assets.base_url",
	"root-dir":      "assets.root_dir",
	"memory-pages":  "wasm.memory_pages",
	"host-module":   "wasm.host_module",
	"wasi":          "wasm.wasi",
	"cache-dir":     "wasm.cache_dir",
	"timeout":       "wasm.execution_timeout",
	"max-file-size": "assets.max_file_size",
}

// Load reads configuration from defaults, an optional config file, the
// environment and the given flags, in increasing order of precedence.
// flags may be nil.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, &LoadError{Path: configPath, Err: err}
		}
	}

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &LoadError{Path: configPath, Err: err}
	}

	if flags != nil {
		if noCache, err := flags.GetBool("no-cache"); err == nil && noCache {
			cfg.Assets.Cache.Enabled = false
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bundle_paths", []string{"./bundles"})
	v.SetDefault("log_level", "info")

	// Wasm defaults
	v.SetDefault("wasm.memory_pages", 256) // 16MB
	v.SetDefault("wasm.debug", false)
	v.SetDefault("wasm.cache_dir", "")
	v.SetDefault("wasm.max_instances", 100)
	v.SetDefault("wasm.execution_timeout", 30)
	v.SetDefault("wasm.host_module", "env")
	v.SetDefault("wasm.wasi", true)

	// Asset defaults
	v.SetDefault("assets.base_url", "")
	v.SetDefault("assets.root_dir", ".")
	v.SetDefault("assets.timeout", 30)
	v.SetDefault("assets.max_file_size", 64<<20)
	v.SetDefault("assets.headers", map[string]string{})
	v.SetDefault("assets.cache.enabled", true)
	v.SetDefault("assets.cache.max_bytes", 256<<20)
	v.SetDefault("assets.cache.max_entry_bytes", 32<<20)
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", name, err)
		}
	}
	return nil
}

var validate = validator.New()

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &ValidationError{
				Field:   verrs[0].Namespace(),
				Tag:     verrs[0].Tag(),
				Value:   verrs[0].Value(),
				Details: verrs,
			}
		}
		return err
	}
	return nil
}
