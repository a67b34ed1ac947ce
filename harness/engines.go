package harness

import (
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/weiihann/vcpubench/engine"
	"github.com/weiihann/vcpubench/engine/builtin"
)

// Backend is a resolved engine together with its entry point table.
type Backend struct {
	Name   string
	Engine engine.Engine
	Table  engine.Table
}

// Close releases engine resources, if the engine holds any.
func (b *Backend) Close() error {
	if c, ok := b.Engine.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Factory builds a Backend. image is the code image manifest path, which
// engines that carry their own code ignore.
type Factory func(image string, logger *slog.Logger) (*Backend, error)

var factories = map[string]Factory{
	"builtin": func(string, *slog.Logger) (*Backend, error) {
		e := builtin.New()
		return &Backend{Name: "builtin", Engine: e, Table: e.Table()}, nil
	},
}

// KnownEngines returns the engines compiled into this binary.
func KnownEngines() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveEngine builds the named engine.
func ResolveEngine(name, image string, logger *slog.Logger) (*Backend, error) {
	f, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown engine %q (available: %v)", name, KnownEngines())
	}

	logger.Debug("resolving engine",
		slog.String("engine", name),
		slog.String("image", image),
	)

	b, err := f(image, logger)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", name, err)
	}

	return b, nil
}
