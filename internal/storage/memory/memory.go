// Package memory implements storage.Store entirely in process memory.
// Grounded on the teacher's pkg/storage/memory clone-on-read/write
// discipline: every returned incident is a deep copy so callers can never
// mutate the store's internal state through a returned pointer.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/LLM-Dev-Ops/incident-manager-sub003/internal/domain"
	"github.com/LLM-Dev-Ops/incident-manager-sub003/internal/storage"
	cberrors "github.com/LLM-Dev-Ops/incident-manager-sub003/pkg/errors"
)

// Store is an in-memory storage.Store implementation.
type Store struct {
	mu          sync.RWMutex
	incidents   map[string]*domain.Incident
	fingerprint map[string]map[string]struct{} // fingerprint -> set of incident ids
}

// New creates an empty in-memory Store.
func New() *Store {
	return &Store{
		incidents:   make(map[string]*domain.Incident),
		fingerprint: make(map[string]map[string]struct{}),
	}
}

func (s *Store) Save(ctx context.Context, incident *domain.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.incidents[incident.ID]; exists {
		return cberrors.New(cberrors.CodeInvalidInput, "incident already exists").WithDetails("id", incident.ID)
	}
	s.incidents[incident.ID] = incident.Clone()
	s.indexFingerprintLocked(incident.Fingerprint, incident.ID)
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*domain.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.incidents[id]
	if !ok {
		return nil, cberrors.NotFound("incident", id)
	}
	return i.Clone(), nil
}

func (s *Store) Update(ctx context.Context, incident *domain.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.incidents[incident.ID]
	if !ok {
		return cberrors.NotFound("incident", incident.ID)
	}
	// last-writer-wins on UpdatedAt
	if incident.UpdatedAt.Before(existing.UpdatedAt) {
		return nil
	}
	if existing.Fingerprint != incident.Fingerprint {
		s.removeFingerprintLocked(existing.Fingerprint, incident.ID)
		s.indexFingerprintLocked(incident.Fingerprint, incident.ID)
	}
	s.incidents[incident.ID] = incident.Clone()
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.incidents[id]
	if !ok {
		return cberrors.NotFound("incident", id)
	}
	s.removeFingerprintLocked(existing.Fingerprint, id)
	delete(s.incidents, id)
	return nil
}

func (s *Store) List(ctx context.Context, filter storage.IncidentFilter, page, pageSize int) ([]*domain.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := s.matchedLocked(filter)
	return paginate(matched, page, pageSize), nil
}

func (s *Store) Count(ctx context.Context, filter storage.IncidentFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.matchedLocked(filter)), nil
}

func (s *Store) FindByFingerprint(ctx context.Context, fingerprint string) ([]*domain.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.fingerprint[fingerprint]
	out := make([]*domain.Incident, 0, len(ids))
	for id := range ids {
		if i, ok := s.incidents[id]; ok {
			out = append(out, i.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}

func (s *Store) Close() error { return nil }

func (s *Store) matchedLocked(filter storage.IncidentFilter) []*domain.Incident {
	out := make([]*domain.Incident, 0, len(s.incidents))
	for _, i := range s.incidents {
		if filter.Matches(i) {
			out = append(out, i.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out
}

func (s *Store) indexFingerprintLocked(fp, id string) {
	if fp == "" {
		return
	}
	set, ok := s.fingerprint[fp]
	if !ok {
		set = make(map[string]struct{})
		s.fingerprint[fp] = set
	}
	set[id] = struct{}{}
}

func (s *Store) removeFingerprintLocked(fp, id string) {
	if set, ok := s.fingerprint[fp]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(s.fingerprint, fp)
		}
	}
}

func paginate(items []*domain.Incident, page, pageSize int) []*domain.Incident {
	if pageSize <= 0 {
		return items
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * pageSize
	if start >= len(items) {
		return []*domain.Incident{}
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
