// Package plugin holds the parser and normalizer registries. The core treats
// both as opaque capabilities selected by the string tag in the dataset
// config.
package plugin

import (
	"fmt"
	"sync"

	"github.com/dwsmith1983/tidemark/pkg/types"
)

// Parser turns a fetched source body into raw rows.
type Parser interface {
	ID() string
	Parse(body []byte, cfg types.DatasetConfig) ([]types.Row, error)
}

// Normalizer shapes parsed rows into the canonical row schema.
type Normalizer interface {
	ID() string
	Normalize(rows []types.Row, cfg types.DatasetConfig) ([]types.Row, error)
}

// Registry maps plugin tags to implementations.
type Registry struct {
	mu          sync.RWMutex
	parsers     map[string]Parser
	normalizers map[string]Normalizer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		parsers:     make(map[string]Parser),
		normalizers: make(map[string]Normalizer),
	}
}

// NewDefaultRegistry creates a registry with the generic plugins registered.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterParser(&CSVParser{})
	r.RegisterNormalizer(&GenericNormalizer{})
	return r
}

// RegisterParser adds a parser under its ID, replacing any previous one.
func (r *Registry) RegisterParser(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[p.ID()] = p
}

// RegisterNormalizer adds a normalizer under its ID, replacing any previous one.
func (r *Registry) RegisterNormalizer(n Normalizer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.normalizers[n.ID()] = n
}

// Parser resolves a parser tag.
func (r *Registry) Parser(id string) (Parser, error) {
	if id == "" {
		return nil, fmt.Errorf("parser plugin tag required")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.parsers[id]
	if !ok {
		return nil, fmt.Errorf("parser plugin %q not registered", id)
	}
	return p, nil
}

// Normalizer resolves a normalizer tag.
func (r *Registry) Normalizer(id string) (Normalizer, error) {
	if id == "" {
		return nil, fmt.Errorf("normalizer plugin tag required")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.normalizers[id]
	if !ok {
		return nil, fmt.Errorf("normalizer plugin %q not registered", id)
	}
	return n, nil
}
