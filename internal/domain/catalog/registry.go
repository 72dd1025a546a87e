package catalog

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrScaleNotFound is returned when a scale id (or id+version) is not
// registered.
var ErrScaleNotFound = errors.New("scale not found")

type versionKey struct {
	id      string
	version int
}

// Registry holds every activated scale version for the lifetime of the
// process. Entries are immutable once registered: republishing an
// instrument requires a new version id, and in-flight invitations keep
// referencing the version that was active when they were created.
type Registry struct {
	mu     sync.RWMutex
	scales map[versionKey]*ValidatedScale
	latest map[string]int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		scales: make(map[versionKey]*ValidatedScale),
		latest: make(map[string]int),
	}
}

// Register adds a validated scale. Registering the same id+version twice is
// an error; versions never mutate in place.
func (r *Registry) Register(vs *ValidatedScale) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := versionKey{id: vs.ID, version: vs.Version}
	if _, exists := r.scales[key]; exists {
		return fmt.Errorf("scale %q version %d is already registered", vs.ID, vs.Version)
	}
	r.scales[key] = vs
	if vs.Version > r.latest[vs.ID] {
		r.latest[vs.ID] = vs.Version
	}
	return nil
}

// Get returns a specific scale version.
func (r *Registry) Get(id string, version int) (*ValidatedScale, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	vs, ok := r.scales[versionKey{id: id, version: version}]
	if !ok {
		return nil, fmt.Errorf("%w: %s v%d", ErrScaleNotFound, id, version)
	}
	return vs, nil
}

// Latest returns the newest registered version of a scale.
func (r *Registry) Latest(id string) (*ValidatedScale, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	version, ok := r.latest[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrScaleNotFound, id)
	}
	return r.scales[versionKey{id: id, version: version}], nil
}

// List returns the latest version of every registered scale, sorted by id.
func (r *Registry) List() []*ValidatedScale {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*ValidatedScale, 0, len(r.latest))
	for id, version := range r.latest {
		out = append(out, r.scales[versionKey{id: id, version: version}])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
