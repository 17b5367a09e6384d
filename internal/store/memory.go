package store

import (
	"context"
	"sort"
	"sync"

	"github.com/coreadhq/coread-backend/internal/annotation"
)

// MemoryStore is the in-memory Store used in tests and when the server
// runs without a database.
type MemoryStore struct {
	mu          sync.RWMutex
	annotations map[string]Record
	documents   map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		annotations: make(map[string]Record),
		documents:   make(map[string][]byte),
	}
}

func (s *MemoryStore) SaveAnnotation(_ context.Context, docID string, a annotation.Annotation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.annotations[a.ID] = Record{DocumentID: docID, Annotation: a}
	return nil
}

func (s *MemoryStore) GetAnnotation(_ context.Context, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.annotations[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) DeleteAnnotation(_ context.Context, id, authorID string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.annotations[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	if rec.Annotation.AuthorID != authorID {
		return Record{}, ErrForbidden
	}
	delete(s.annotations, id)
	return rec, nil
}

func (s *MemoryStore) ListByDocument(_ context.Context, docID string) ([]annotation.Annotation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []annotation.Annotation
	for _, rec := range s.annotations {
		if rec.DocumentID == docID {
			out = append(out, rec.Annotation)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Page != out[j].Page {
			return out[i].Page < out[j].Page
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) PutDocument(_ context.Context, docID string, content []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(content))
	copy(cp, content)
	s.documents[docID] = cp
	return nil
}

func (s *MemoryStore) GetDocument(_ context.Context, docID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	content, ok := s.documents[docID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(content))
	copy(cp, content)
	return cp, nil
}
