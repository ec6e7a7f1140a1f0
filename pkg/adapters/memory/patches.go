package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/aretw0/easel/pkg/domain"
	"github.com/aretw0/easel/pkg/ports"
)

// PatchStore implements ports.PatchStore in memory.
type PatchStore struct {
	mu      sync.RWMutex
	patches map[string]*domain.Patch
	order   map[string]int
	seq     int
}

// NewPatchStore creates a new in-memory patch store.
func NewPatchStore() *PatchStore {
	return &PatchStore{
		patches: make(map[string]*domain.Patch),
		order:   make(map[string]int),
	}
}

func (s *PatchStore) SavePatch(ctx context.Context, patch *domain.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.order[patch.ID]; !ok {
		s.seq++
		s.order[patch.ID] = s.seq
	}
	s.patches[patch.ID] = patch.Clone()
	return nil
}

func (s *PatchStore) GetPatch(ctx context.Context, patchID string) (*domain.Patch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.patches[patchID]
	if !ok {
		return nil, domain.ErrPatchNotFound
	}
	return p.Clone(), nil
}

func (s *PatchStore) ListPatches(ctx context.Context, filter ports.PatchFilter) ([]*domain.Patch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Patch
	for _, p := range s.patches {
		if filter.Matches(p) {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return s.order[out[i].ID] < s.order[out[j].ID]
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
