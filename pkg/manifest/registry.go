package manifest

import (
	"sync"

	aegiserrors "github.com/wehubfusion/Aegis/pkg/errors"
)

// Registry stores widget manifests keyed by id, remembering registration order.
type Registry struct {
	mu        sync.RWMutex
	manifests map[string]Manifest
	order     []string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		manifests: make(map[string]Manifest),
	}
}

// Register inserts m or overwrites the manifest with the same id.
// An overwritten manifest keeps its original position in List.
func (r *Registry) Register(m Manifest) error {
	if m.ID == "" {
		return aegiserrors.InvalidManifest("", "id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.manifests[m.ID]; !exists {
		r.order = append(r.order, m.ID)
	}
	r.manifests[m.ID] = m.clone()
	return nil
}

// Unregister removes the manifest for id. It reports whether one was present.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.manifests[id]; !exists {
		return false
	}
	delete(r.manifests, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns the manifest registered for id
func (r *Registry) Get(id string) (Manifest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.manifests[id]
	if !ok {
		return Manifest{}, false
	}
	return m.clone(), true
}

// List returns a snapshot of all manifests in registration order
func (r *Registry) List() []Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Manifest, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.manifests[id].clone())
	}
	return out
}

// Len returns the number of registered manifests
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.manifests)
}

// Resolve returns the dependency-first load order for id, ending with id itself.
// Every dependency must be registered and the graph reachable from id must be acyclic.
func (r *Registry) Resolve(id string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	const (
		unvisited = iota
		visiting
		done
	)
	marks := make(map[string]int)
	order := make([]string, 0)
	var path []string

	var visit func(current string) error
	visit = func(current string) error {
		switch marks[current] {
		case done:
			return nil
		case visiting:
			cycle := append(append([]string{}, path...), current)
			return aegiserrors.CyclicDependency(id, cycle)
		}

		m, ok := r.manifests[current]
		if !ok {
			return aegiserrors.ManifestNotFound(current)
		}

		marks[current] = visiting
		path = append(path, current)
		for _, dep := range m.Dependencies {
			if err := visit(dep); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		marks[current] = done
		order = append(order, current)
		return nil
	}

	if err := visit(id); err != nil {
		return nil, err
	}
	return order, nil
}
