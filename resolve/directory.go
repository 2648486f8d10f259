package resolve

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/ilweave/errors"
	"github.com/wippyai/ilweave/model"
)

var extensions = []string{".dll", ".exe"}

type entry struct {
	module *model.Module
	err    error
}

// Directory resolves assemblies by simple name from a list of directories,
// searched in order. Results, failures included, are cached per name, so an
// assembly is loaded at most once. The cache is safe for concurrent use;
// the modules it hands out are not.
type Directory struct {
	paths []string
	opts  []model.Option
	log   *zap.Logger

	mu    sync.Mutex
	cache map[string]*entry
}

// NewDirectory returns a resolver over paths. opts apply to every module it
// loads; the resolver itself is added so loaded modules resolve their own
// references through it.
func NewDirectory(paths []string, opts ...model.Option) *Directory {
	d := &Directory{
		paths: append([]string(nil), paths...),
		log:   Logger(),
		cache: make(map[string]*entry),
	}
	d.opts = append(append([]model.Option(nil), opts...), model.WithAssemblyResolver(d))
	return d
}

// Paths returns the search directories.
func (d *Directory) Paths() []string { return d.paths }

// Add registers an already loaded module under its assembly name, shadowing
// anything on disk.
func (d *Directory) Add(m *model.Module) error {
	a := m.Assembly()
	if a == nil {
		return errors.InvalidInput(errors.PhaseResolve, "module "+m.Name()+" has no assembly manifest")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache[strings.ToLower(a.Name)] = &entry{module: m}
	return nil
}

// Resolve implements model.AssemblyResolver.
func (d *Directory) Resolve(ctx context.Context, name model.AssemblyName) (*model.Module, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := strings.ToLower(name.Name)

	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.cache[key]; ok {
		return e.module, e.err
	}
	m, err := d.load(ctx, name)
	if ctx.Err() == nil {
		d.cache[key] = &entry{module: m, err: err}
	}
	return m, err
}

func (d *Directory) load(ctx context.Context, name model.AssemblyName) (*model.Module, error) {
	for _, dir := range d.paths {
		for _, ext := range extensions {
			path := filepath.Join(dir, name.Name+ext)
			if _, err := os.Stat(path); err != nil {
				continue
			}
			m, err := model.LoadFile(ctx, path, d.opts...)
			if err != nil {
				return nil, err
			}
			a := m.Assembly()
			if a == nil || !strings.EqualFold(a.Name, name.Name) {
				_ = m.Close()
				d.log.Debug("file does not define the assembly", zap.String("path", path), zap.String("assembly", name.Name))
				continue
			}
			if a.Version != name.Version && name.Version != (model.Version{}) {
				d.log.Debug("assembly version differs",
					zap.String("assembly", name.Name),
					zap.Stringer("want", name.Version),
					zap.Stringer("have", a.Version))
			}
			d.log.Debug("assembly resolved", zap.String("assembly", name.Name), zap.String("path", path))
			return m, nil
		}
	}
	return nil, errors.NotFound(errors.PhaseResolve, "assembly", name.Name)
}

// Close closes every module the resolver loaded.
func (d *Directory) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var first error
	for k, e := range d.cache {
		if e.module != nil {
			if err := e.module.Close(); err != nil && first == nil {
				first = err
			}
		}
		delete(d.cache, k)
	}
	return first
}
