package search

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/slicol/meshwork/pkg/protocol"
)

// Manager tracks the running searches and routes incoming results to them
type Manager struct {
	mu        sync.RWMutex
	searches  map[int32]*FileSearch
	submitter Submitter
}

// NewManager creates a manager that sends searches through submitter
func NewManager(submitter Submitter) *Manager {
	return &Manager{
		searches:  make(map[int32]*FileSearch),
		submitter: submitter,
	}
}

// Start registers s and sends it
func (m *Manager) Start(ctx context.Context, s *FileSearch) error {
	m.mu.Lock()
	m.searches[s.ID()] = s
	m.mu.Unlock()

	log.Printf("🔍 Starting search %d for %q", s.ID(), s.Query())
	return m.submitter.SubmitSearch(ctx, s)
}

// Get returns the search with the given id
func (m *Manager) Get(id int32) (*FileSearch, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.searches[id]
	return s, ok
}

// List returns the running searches ordered by name
func (m *Manager) List() []*FileSearch {
	m.mu.RLock()
	list := make([]*FileSearch, 0, len(m.searches))
	for _, s := range m.searches {
		list = append(list, s)
	}
	m.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].Name() != list[j].Name() {
			return list[i].Name() < list[j].Name()
		}
		return list[i].ID() < list[j].ID()
	})
	return list
}

// Repeat sends the search again under a new id. Cleared callbacks run
// without the manager lock held.
func (m *Manager) Repeat(ctx context.Context, id int32) (*FileSearch, error) {
	s, ok := m.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSearch, id)
	}

	err := s.Repeat(ctx, &rekeyingSubmitter{manager: m, oldID: id})
	log.Printf("🔁 Repeating search %d as %d", id, s.ID())
	return s, err
}

// rekeyingSubmitter moves a repeated search to its new id before it is
// submitted, so results for the new id find it
type rekeyingSubmitter struct {
	manager *Manager
	oldID   int32
}

func (r *rekeyingSubmitter) SubmitSearch(ctx context.Context, s *FileSearch) error {
	m := r.manager
	m.mu.Lock()
	if m.searches[r.oldID] == s {
		delete(m.searches, r.oldID)
	}
	m.searches[s.ID()] = s
	m.mu.Unlock()

	return m.submitter.SubmitSearch(ctx, s)
}

// Remove stops tracking a search; late results for it are dropped
func (m *Manager) Remove(id int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.searches, id)
}

// Deliver hands a SearchResult payload from node to the search it answers
func (m *Manager) Deliver(node protocol.NodeID, info protocol.SearchResultInfo) error {
	s, ok := m.Get(info.SearchID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownSearch, info.SearchID)
	}
	return s.AppendResults(node, info)
}
