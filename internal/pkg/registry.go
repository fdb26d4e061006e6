package pkg

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/albertocavalcante/pkgres/internal/cache"
	"github.com/albertocavalcante/pkgres/internal/fastfs"
)

// Registry hands out one Package per manifest path.
type Registry struct {
	mu       sync.Mutex
	packages map[string]*Package

	reader fastfs.Reader
	store  *cache.Store
	opts   []Option
	o      options
}

// NewRegistry creates a registry whose packages share reader and store.
func NewRegistry(reader fastfs.Reader, store *cache.Store, opts ...Option) *Registry {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Registry{
		packages: make(map[string]*Package),
		reader:   reader,
		store:    store,
		opts:     opts,
		o:        o,
	}
}

// Get returns the Package for manifestPath, creating it on first use.
func (r *Registry) Get(manifestPath string) *Package {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.packages[manifestPath]
	if !ok {
		p = New(manifestPath, r.reader, r.store, r.opts...)
		r.packages[manifestPath] = p
	}
	return p
}

// Paths returns the manifest paths of all known packages, sorted.
func (r *Registry) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	paths := make([]string, 0, len(r.packages))
	for p := range r.packages {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Remove forgets the package for manifestPath and drops its cached facts.
func (r *Registry) Remove(manifestPath string) {
	r.mu.Lock()
	p, ok := r.packages[manifestPath]
	delete(r.packages, manifestPath)
	r.mu.Unlock()
	if ok {
		p.Invalidate()
	}
}

// Invalidate reacts to a change of the manifest at path. A change to the
// project manifest invalidates every package, since each one layers the
// project's global overrides.
func (r *Registry) Invalidate(path string) {
	r.mu.Lock()
	var affected []*Package
	if path == r.o.projectManifest {
		for _, p := range r.packages {
			affected = append(affected, p)
		}
	} else if p, ok := r.packages[path]; ok {
		affected = append(affected, p)
	}
	r.mu.Unlock()

	for _, p := range affected {
		p.Invalidate()
	}
	r.o.logger.Debug("invalidated manifest",
		zap.String("path", path),
		zap.Int("packages", len(affected)))
}

// Watch invalidates packages as change events arrive, until ctx is done or
// events is closed. onChange, if set, is called after each invalidation.
func (r *Registry) Watch(ctx context.Context, events <-chan fastfs.Event, onChange func(path string)) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.Invalidate(ev.Path)
			if onChange != nil {
				onChange(ev.Path)
			}
		}
	}
}
