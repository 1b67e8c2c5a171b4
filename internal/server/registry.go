package server

import "sync"

// Registry is the arena of live coordinators, keyed by document id. Each
// document's mutable state is confined to its own coordinator; the registry
// only guards the map itself.
type Registry struct {
	mu   sync.Mutex
	docs map[string]*Coordinator
}

func NewRegistry() *Registry {
	return &Registry{docs: make(map[string]*Coordinator)}
}

func (r *Registry) Get(docID string) (*Coordinator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.docs[docID]
	return c, ok
}

// GetOrCreate returns the coordinator for docID, seeding a new one from
// seed when the document is not yet open. seed runs outside any per-document
// critical section but inside the registry lock, so it should be cheap; the
// hub loads snapshots before calling this.
func (r *Registry) GetOrCreate(docID string, seed func() (string, int)) *Coordinator {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.docs[docID]; ok {
		return c
	}
	text, rev := seed()
	c := NewCoordinator(docID, text, rev)
	r.docs[docID] = c
	return c
}

// Remove drops a closed document from the arena. The caller is responsible
// for having persisted its snapshot first.
func (r *Registry) Remove(docID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.docs, docID)
}
