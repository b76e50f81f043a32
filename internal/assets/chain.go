package assets

import (
	"context"
	"strings"

	"go.uber.org/multierr"
)

// ChainSource tries each source in order. A source is skipped only when it
// does not have the resource; any other error stops the chain.
type ChainSource struct {
	sources []Source
}

// NewChainSource creates a chain. Nil sources are ignored.
func NewChainSource(sources ...Source) *ChainSource {
	c := &ChainSource{}
	for _, s := range sources {
		if s != nil {
			c.sources = append(c.sources, s)
		}
	}
	return c
}

// Name lists the chained sources.
func (c *ChainSource) Name() string {
	names := make([]string, 0, len(c.sources))
	for _, s := range c.sources {
		names = append(names, s.Name())
	}
	return "chain(" + strings.Join(names, ", ") + ")"
}

// Load returns the first successful load.
func (c *ChainSource) Load(ctx context.Context, path string) ([]byte, error) {
	var misses error
	for _, s := range c.sources {
		data, err := s.Load(ctx, path)
		if err == nil {
			return data, nil
		}
		if !IsNotFound(err) {
			return nil, err
		}
		misses = multierr.Append(misses, err)
	}
	return nil, &NotFoundError{Path: path, Err: misses}
}
