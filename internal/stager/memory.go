package stager

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"sead/internal/sip"
)

// MemoryStager keeps packages in a map.
type MemoryStager struct {
	mu   sync.RWMutex
	sips map[string]*sip.Package
}

// NewMemoryStager returns an empty stager.
func NewMemoryStager() *MemoryStager {
	return &MemoryStager{sips: make(map[string]*sip.Package)}
}

func (m *MemoryStager) Keys(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.sips))
	for id := range m.sips {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStager) Get(_ context.Context, id string) (*sip.Package, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pkg, ok := m.sips[id]
	if !ok {
		return nil, notFound(id)
	}
	return pkg.Clone(), nil
}

func (m *MemoryStager) Add(_ context.Context, pkg *sip.Package) (string, error) {
	id, err := idFor(pkg, m.NewID)
	if err != nil {
		return "", err
	}
	stored, err := prepare(id, pkg)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sips[id]; exists {
		return "", fmt.Errorf("%w: %s", ErrExists, id)
	}
	m.sips[id] = stored
	return id, nil
}

func (m *MemoryStager) Update(_ context.Context, id string, pkg *sip.Package) error {
	stored, err := prepare(id, pkg)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.sips[id] = stored
	m.mu.Unlock()
	return nil
}

func (m *MemoryStager) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.sips, id)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStager) NewID() string {
	return uuid.NewString()
}

// Len reports how many packages are stored.
func (m *MemoryStager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sips)
}
