package assets

import (
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Options describes a source built by New.
type Options struct {
	// BaseURL selects an HTTP source when set.
	BaseURL string
	// RootDir is used when BaseURL is empty. Relative paths are resolved
	// against BaseDir.
	RootDir string
	BaseDir string

	Timeout     time.Duration
	MaxFileSize int64
	Headers     map[string]string

	Cache              bool
	CacheMaxBytes      int64
	CacheMaxEntryBytes int64
}

// New builds the source described by opts.
func New(opts Options, logger *zap.Logger) (Source, error) {
	var src Source

	if opts.BaseURL != "" {
		httpSrc, err := NewHTTPSource(opts.BaseURL, logger,
			WithTimeout(opts.Timeout),
			WithMaxSize(opts.MaxFileSize),
			WithHeaders(opts.Headers),
		)
		if err != nil {
			return nil, err
		}
		src = httpSrc
	} else {
		root := opts.RootDir
		if root == "" {
			root = "."
		}
		if !filepath.IsAbs(root) && opts.BaseDir != "" {
			root = filepath.Join(opts.BaseDir, root)
		}
		src = NewDirSource(root, opts.MaxFileSize)
	}

	if opts.Cache {
		src = NewCachedSource(src, opts.CacheMaxBytes, opts.CacheMaxEntryBytes, logger)
	}

	logger.Debug("Asset source created", zap.String("source", src.Name()))

	return src, nil
}
