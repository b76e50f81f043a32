// Package assets provides the sources js_load_file_sync reads resources from.
package assets

import (
	"context"
	"errors"
	"io/fs"
)

// Source fetches a resource by path.
type Source interface {
	// Load returns the full content of the resource at path.
	Load(ctx context.Context, path string) ([]byte, error)

	// Name identifies the source in logs.
	Name() string
}

// contextKey is a private type for context keys.
type contextKey struct {
	name string
}

var sourceKey = &contextKey{name: "asset_source"}

// WithSource binds a source to the context of a guest call.
func WithSource(ctx context.Context, src Source) context.Context {
	return context.WithValue(ctx, sourceKey, src)
}

// SourceFromContext returns the source bound with WithSource.
func SourceFromContext(ctx context.Context) (Source, bool) {
	src, ok := ctx.Value(sourceKey).(Source)
	return src, ok && src != nil
}

// IsNotFound reports whether err means the resource does not exist in a
// source. A URL rejected by a directory source counts as a miss.
func IsNotFound(err error) bool {
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, ErrURLPath) {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == 404 || statusErr.StatusCode == 410
	}
	var notFound *NotFoundError
	return errors.As(err, &notFound)
}
