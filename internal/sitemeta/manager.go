package sitemeta

import (
	"fmt"
	"slices"
	"sync"
)

// Manager manages fence site metadata for one kernel invocation.
type Manager struct {
	mu     sync.RWMutex
	sites  map[uint32]*Site // fence id -> site
	epochs map[int64]uint32 // epoch -> fence id
	issues map[uint32][]string
}

// NewManager creates a new site metadata manager.
func NewManager() *Manager {
	return &Manager{
		sites:  make(map[uint32]*Site),
		epochs: make(map[int64]uint32),
		issues: make(map[uint32][]string),
	}
}

// Get retrieves a site (query).
// Returns nil if the fence id was never seen.
func (m *Manager) Get(fenceID uint32) *Site {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sites[fenceID]
}

// FenceID resolves the site that opened epoch (query).
func (m *Manager) FenceID(epoch int64) (uint32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.epochs[epoch]
	return id, ok
}

// Location returns the source location of the fence that opened epoch
// (query). Sites without a known location are named by their fence id.
func (m *Manager) Location(epoch int64) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.epochs[epoch]
	if !ok {
		return "unknown"
	}
	if s := m.sites[id]; s != nil && s.Location != "" {
		return s.Location
	}
	return fmt.Sprintf("fence#%d", id)
}

// Epochs returns a copy of the epochs opened by a site (query).
func (m *Manager) Epochs(fenceID uint32) []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.sites[fenceID]
	if s == nil {
		return nil
	}
	return slices.Clone(s.Epochs)
}

// GetIssues retrieves binding warnings for a site (query).
func (m *Manager) GetIssues(fenceID uint32) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.issues[fenceID]
}

// Len returns the number of known sites (query).
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sites)
}

// SetLocation stores the source location of a site (command).
func (m *Manager) SetLocation(fenceID uint32, loc string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getOrCreate(fenceID).Location = loc
}

// Bind records that fenceID opened epoch (command).
// Rebinding an epoch to another site keeps the first binding and records an issue.
func (m *Manager) Bind(epoch int64, fenceID uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.epochs[epoch]; ok {
		if prev != fenceID {
			m.issues[fenceID] = append(m.issues[fenceID],
				fmt.Sprintf("epoch %d already bound to fence %d", epoch, prev))
		}
		return
	}
	m.epochs[epoch] = fenceID
	s := m.getOrCreate(fenceID)
	s.Epochs = append(s.Epochs, epoch)
}

// GetOrCreate retrieves a site, creating it if it doesn't exist (command).
func (m *Manager) GetOrCreate(fenceID uint32) *Site {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getOrCreate(fenceID)
}

func (m *Manager) getOrCreate(fenceID uint32) *Site {
	if m.sites[fenceID] == nil {
		m.sites[fenceID] = &Site{FenceID: fenceID}
	}
	return m.sites[fenceID]
}

// Issues returns the binding warnings of every site, ordered by fence id
// (query).
func (m *Manager) Issues() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]uint32, 0, len(m.issues))
	for id := range m.issues {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	var out []string
	for _, id := range ids {
		out = append(out, m.issues[id]...)
	}
	return out
}
