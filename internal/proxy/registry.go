package proxy

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Registry associates assessment nodes with the proxy that owns their
// session. One registry is shared by every session in the process and passed
// to session construction explicitly.
type Registry struct {
	mu      sync.RWMutex
	proxies map[uuid.UUID]*AssessmentProxy
}

func NewRegistry() *Registry {
	return &Registry{proxies: make(map[uuid.UUID]*AssessmentProxy)}
}

// Register fails when the node already has a proxy
func (r *Registry) Register(node uuid.UUID, p *AssessmentProxy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.proxies[node]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, node)
	}
	r.proxies[node] = p
	return nil
}

// Unregister removes the node and returns its proxy, or nil if it was not
// registered
func (r *Registry) Unregister(node uuid.UUID) *AssessmentProxy {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.proxies[node]
	if !ok {
		return nil
	}
	delete(r.proxies, node)
	return p
}

func (r *Registry) ProxyFor(node uuid.UUID) (*AssessmentProxy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.proxies[node]
	return p, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.proxies)
}
