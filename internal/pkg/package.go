// Package pkg resolves the main module of an npm-style package and rewrites
// require targets using the package's browser and react-native override maps.
//
// A Package wraps one package.json. Manifest reads are memoized per Package,
// and facts derived from the manifest (its name and whether it is a haste
// package) live in a shared cache.Store keyed by the manifest path.
package pkg

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/albertocavalcante/pkgres/internal/cache"
	"github.com/albertocavalcante/pkgres/internal/fastfs"
	"github.com/albertocavalcante/pkgres/internal/fastpath"
)

// DefaultProjectManifest is the project-root manifest holding the global
// override table. It is read through the Package's fastfs.Reader.
const DefaultProjectManifest = "./package.json"

// Cache fields for derived facts.
const (
	FieldHaste = "package-haste"
	FieldName  = "package-name"
)

// Target is the outcome of a resolution.
type Target struct {
	// Path is the resolved module. For requires redirected to another
	// package it is that package's name rather than a file path.
	Path string

	// Stub is true when the module is overridden to false and must be
	// treated as empty. Path is empty in that case.
	Stub bool
}

// String returns Path, or "false" for stubs.
func (t Target) String() string {
	if t.Stub {
		return "false"
	}
	return t.Path
}

// MarshalJSON encodes stubs as false and everything else as the path string.
func (t Target) MarshalJSON() ([]byte, error) {
	if t.Stub {
		return []byte("false"), nil
	}
	return json.Marshal(t.Path)
}

// Option configures a Package.
type Option func(*options)

type options struct {
	projectManifest string
	fields          []string
	globalField     string
	logger          *zap.Logger
}

func defaultOptions() options {
	return options{
		projectManifest: DefaultProjectManifest,
		fields:          DefaultOverrideFields,
		globalField:     DefaultGlobalField,
		logger:          zap.NewNop(),
	}
}

// WithProjectManifest sets the path of the project-root manifest.
func WithProjectManifest(path string) Option {
	return func(o *options) { o.projectManifest = path }
}

// WithOverrideFields sets the manifest fields read for overrides, lowest
// precedence first.
func WithOverrideFields(fields ...string) Option {
	return func(o *options) { o.fields = fields }
}

// WithGlobalField sets the project manifest field holding global overrides.
func WithGlobalField(name string) Option {
	return func(o *options) { o.globalField = name }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// read is a settled-once manifest read.
type read struct {
	done     chan struct{}
	manifest *Manifest
	err      error
}

// Package resolves requires for one package.json.
type Package struct {
	path   string
	root   string
	reader fastfs.Reader
	store  *cache.Store
	opts   options

	mu      sync.Mutex
	reading *read
	project *read
}

// New creates a Package for the manifest at manifestPath. reader and store
// are shared with other packages and are not owned by the Package.
func New(manifestPath string, reader fastfs.Reader, store *cache.Store, opts ...Option) *Package {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Package{
		path:   manifestPath,
		root:   fastpath.Dir(manifestPath),
		reader: reader,
		store:  store,
		opts:   o,
	}
}

// Path returns the manifest path.
func (p *Package) Path() string { return p.path }

// Root returns the directory containing the manifest.
func (p *Package) Root() string { return p.root }

// Read returns the parsed manifest. The first call reads the file; later and
// concurrent calls share that result, including failures, until Invalidate.
func (p *Package) Read(ctx context.Context) (*Manifest, error) {
	return p.load(ctx, &p.reading, p.path)
}

// ReadProjectManifest returns the parsed project-root manifest, memoized like
// Read.
func (p *Package) ReadProjectManifest(ctx context.Context) (*Manifest, error) {
	return p.load(ctx, &p.project, p.opts.projectManifest)
}

func (p *Package) load(ctx context.Context, slot **read, path string) (*Manifest, error) {
	p.mu.Lock()
	r := *slot
	if r == nil {
		r = &read{done: make(chan struct{})}
		*slot = r
		go p.fill(context.WithoutCancel(ctx), r, path)
	}
	p.mu.Unlock()

	select {
	case <-r.done:
		return r.manifest, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Package) fill(ctx context.Context, r *read, path string) {
	defer close(r.done)

	p.opts.logger.Debug("reading manifest", zap.String("path", path))
	data, err := p.reader.ReadFile(ctx, path)
	if err != nil {
		r.err = &ManifestReadError{Path: path, Err: err}
		return
	}
	m, err := ParseManifest(data)
	if err != nil {
		r.err = &ManifestParseError{Path: path, Err: err}
		return
	}
	r.manifest = m
}

// Overrides returns the package's own override table merged over extra.
func (p *Package) Overrides(m *Manifest, extra Table) Table {
	return Overrides(m, p.opts.fields, extra)
}

// Main resolves the package's main module. Only the package's own overrides
// apply. A main overridden to false yields a stub Target.
func (p *Package) Main(ctx context.Context) (Target, error) {
	m, err := p.Read(ctx)
	if err != nil {
		return Target{}, err
	}

	main := m.Main()
	r, ok := p.Overrides(m, nil).LookupPath(p.root, main)
	switch {
	case !ok:
		return Target{Path: fastpath.Join(p.root, main)}, nil
	case r.IsStub():
		return Target{Stub: true}, nil
	default:
		return Target{Path: fastpath.Join(p.root, r.Target())}, nil
	}
}

// RedirectRequire applies the package's overrides, layered over the project's
// global overrides, to a require of specifier from inside the package.
//
// Without a matching entry the specifier is returned unchanged. Relative
// replacements are joined with the package root; any other replacement names
// a package or absolute path and is returned as is.
func (p *Package) RedirectRequire(ctx context.Context, specifier string) (Target, error) {
	table, err := p.RequireOverrides(ctx)
	if err != nil {
		return Target{}, err
	}

	r, ok := table.Lookup(p.root, specifier)
	switch {
	case !ok:
		return Target{Path: specifier}, nil
	case r.IsStub():
		return Target{Stub: true}, nil
	case !fastpath.IsRelativeSpecifier(r.Target()):
		return Target{Path: r.Target()}, nil
	default:
		return Target{Path: fastpath.Join(p.root, r.Target())}, nil
	}
}

// RequireOverrides returns the merged table RedirectRequire consults.
func (p *Package) RequireOverrides(ctx context.Context) (Table, error) {
	var m, project *Manifest
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		m, err = p.Read(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		project, err = p.ReadProjectManifest(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var global Table
	if f := project.Field(p.opts.globalField); f.Kind == FieldTable {
		global = f.Table
	} else if f.Kind == FieldSingle {
		p.opts.logger.Debug("ignoring non-object global overrides",
			zap.String("field", p.opts.globalField),
			zap.String("path", p.opts.projectManifest))
	}
	return p.Overrides(m, global), nil
}

// IsHaste reports whether the manifest has a name, which makes the package
// requirable by that name across the project.
func (p *Package) IsHaste(ctx context.Context) (bool, error) {
	return cache.Get(ctx, p.store, p.path, FieldHaste, func(ctx context.Context) (bool, error) {
		m, err := p.Read(ctx)
		if err != nil {
			return false, err
		}
		return m.HasName(), nil
	})
}

// Name returns the manifest's name, or "" when it has none.
func (p *Package) Name(ctx context.Context) (string, error) {
	return cache.Get(ctx, p.store, p.path, FieldName, func(ctx context.Context) (string, error) {
		m, err := p.Read(ctx)
		if err != nil {
			return "", err
		}
		return m.Name(), nil
	})
}

// testHookInvalidate runs between the two steps of Invalidate.
var testHookInvalidate = func() {}

// Invalidate forgets both manifest reads and drops cached facts for the
// manifest, so the next call sees the files as they are now.
//
// The reads are reset first. A fact computed in between comes from a fresh
// read, or it is stored under the old generation and dropped below.
func (p *Package) Invalidate() {
	p.mu.Lock()
	p.reading = nil
	p.project = nil
	p.mu.Unlock()

	testHookInvalidate()
	p.store.Invalidate(p.path)
}
