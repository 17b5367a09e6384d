package annotation

import (
	"sort"
	"sync"
)

// Store is the in-memory authoritative cache of annotations for one open
// document. The sync controller is the only writer; everyone else reads
// copies via the snapshot methods.
type Store struct {
	mu   sync.RWMutex
	byID map[string]Annotation
}

func NewStore() *Store {
	return &Store{byID: make(map[string]Annotation)}
}

// Put inserts the annotation, or updates an existing entry last-write-wins
// by UpdatedAt. It reports whether the store changed: a duplicate delivery
// or an update older than the stored value is dropped.
func (s *Store) Put(a Annotation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.byID[a.ID]; ok && !a.UpdatedAt.After(cur.UpdatedAt) {
		return false
	}
	s.byID[a.ID] = a
	return true
}

// Remove deletes by id. Removing an absent id is a no-op.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[id]; !ok {
		return false
	}
	delete(s.byID, id)
	return true
}

func (s *Store) Get(id string) (Annotation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	return a, ok
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Snapshot returns a copy of all annotations ordered by page then id.
func (s *Store) Snapshot() []Annotation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedLocked(nil)
}

// SnapshotVisible applies the local highlight filter: when authors is
// non-empty, highlights by authors outside the set are hidden. Comments
// and bookmarks are always included. The store itself is untouched.
func (s *Store) SnapshotVisible(authors map[string]struct{}) []Annotation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(authors) == 0 {
		return s.sortedLocked(nil)
	}
	keep := func(a Annotation) bool {
		if a.Kind != KindHighlight {
			return true
		}
		_, ok := authors[a.AuthorID]
		return ok
	}
	return s.sortedLocked(keep)
}

// ReplaceAll swaps the full contents for a freshly fetched snapshot,
// used on every (re)connect before incremental events are trusted.
func (s *Store) ReplaceAll(all []Annotation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byID = make(map[string]Annotation, len(all))
	for _, a := range all {
		s.byID[a.ID] = a
	}
}

func (s *Store) sortedLocked(keep func(Annotation) bool) []Annotation {
	out := make([]Annotation, 0, len(s.byID))
	for _, a := range s.byID {
		if keep == nil || keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Page != out[j].Page {
			return out[i].Page < out[j].Page
		}
		return out[i].ID < out[j].ID
	})
	return out
}
