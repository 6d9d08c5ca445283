package engine

import (
	"fmt"
	"plugin"
	"strings"

	"github.com/rbright/vcd/pkg/engineabi"
)

// Library is an opened engine binary.
type Library interface {
	Lookup(symbol string) (any, error)
	Close() error
}

// Loader opens engine binaries by path.
type Loader interface {
	Open(path string) (Library, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(path string) (Library, error)

func (f LoaderFunc) Open(path string) (Library, error) {
	return f(path)
}

// PluginLoader opens Go plugins built with -buildmode=plugin.
type PluginLoader struct{}

func (PluginLoader) Open(path string) (Library, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open plugin %q: %w", path, err)
	}
	return pluginLibrary{p: p}, nil
}

type pluginLibrary struct {
	p *plugin.Plugin
}

func (l pluginLibrary) Lookup(symbol string) (any, error) {
	return l.p.Lookup(symbol)
}

// Close is a no-op: the Go runtime never unmaps a plugin.
func (pluginLibrary) Close() error {
	return nil
}

// SchemeLoader routes "scheme://" paths to dedicated loaders and everything else to Default.
type SchemeLoader struct {
	Default Loader
	Schemes map[string]Loader
}

func (s SchemeLoader) Open(path string) (Library, error) {
	if scheme, _, ok := strings.Cut(path, "://"); ok {
		if loader, exists := s.Schemes[scheme]; exists {
			return loader.Open(path)
		}
		return nil, fmt.Errorf("no loader for engine scheme %q", scheme)
	}
	if s.Default == nil {
		return nil, fmt.Errorf("no default engine loader for %q", path)
	}
	return s.Default.Open(path)
}

// entryPoints holds the three required plugin symbols.
type entryPoints struct {
	getInfo engineabi.GetInfoFunc
	load    engineabi.LoadFunc
	unload  engineabi.UnloadFunc
}

// resolveEntryPoints looks up and type-checks the required symbols.
// Plugins may export the symbols as variables or as plain functions.
func resolveEntryPoints(lib Library) (entryPoints, error) {
	var ep entryPoints

	sym, err := lib.Lookup(engineabi.SymbolGetInfo)
	if err != nil {
		return ep, err
	}
	switch fn := sym.(type) {
	case *engineabi.GetInfoFunc:
		ep.getInfo = *fn
	case engineabi.GetInfoFunc:
		ep.getInfo = fn
	case func() (engineabi.Info, int):
		ep.getInfo = fn
	default:
		return ep, fmt.Errorf("symbol %s has type %T", engineabi.SymbolGetInfo, sym)
	}

	sym, err = lib.Lookup(engineabi.SymbolLoad)
	if err != nil {
		return ep, err
	}
	switch fn := sym.(type) {
	case *engineabi.LoadFunc:
		ep.load = *fn
	case engineabi.LoadFunc:
		ep.load = fn
	case func(*engineabi.DaemonFuncs, *engineabi.EngineFuncs) int:
		ep.load = fn
	default:
		return ep, fmt.Errorf("symbol %s has type %T", engineabi.SymbolLoad, sym)
	}

	sym, err = lib.Lookup(engineabi.SymbolUnload)
	if err != nil {
		return ep, err
	}
	switch fn := sym.(type) {
	case *engineabi.UnloadFunc:
		ep.unload = *fn
	case engineabi.UnloadFunc:
		ep.unload = fn
	case func() int:
		ep.unload = fn
	default:
		return ep, fmt.Errorf("symbol %s has type %T", engineabi.SymbolUnload, sym)
	}

	if ep.getInfo == nil || ep.load == nil || ep.unload == nil {
		return ep, fmt.Errorf("engine entry point is nil")
	}
	return ep, nil
}
